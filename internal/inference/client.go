package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	uploadPath   = "/demo"
	imagesPath   = "/images/"
	fileField    = "file"
	uploadMarker = "uploaded_videos/"
)

var (
	ErrUploadFailed      = errors.New("upload failed")
	ErrMalformedResponse = errors.New("malformed response")
)

// UploadError carries the backend's status code and raw error text.
type UploadError struct {
	StatusCode int
	Message    string
}

func (e *UploadError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

func (e *UploadError) Unwrap() error { return ErrUploadFailed }

type Prediction struct {
	Word        string  `json:"word"`
	Probability float64 `json:"probability"`
}

// PredictionResult keeps the backend's rank order.
type PredictionResult []Prediction

type Result struct {
	Predictions PredictionResult
	SaliencyURL string
	Message     string
}

type Config struct {
	BaseURL string
	// Timeout of zero leaves the transport default in place.
	Timeout time.Duration
}

// Client talks to the lip-reading inference backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

func (c *Client) BaseURL() string { return c.baseURL }

type demoResponse struct {
	Message         string            `json:"message"`
	SaliencyMapsGIF *string           `json:"saliency_maps_gif"`
	Predictions     []json.RawMessage `json:"predictions"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// Upload sends a single multipart request to the backend. There is no retry.
func (c *Client) Upload(ctx context.Context, file io.Reader, filename, contentType string) (*Result, error) {
	ctx, span := otel.Tracer("inference").Start(ctx, "inference.Upload",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("file.name", filename),
		attribute.String("file.content_type", contentType),
	)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition", fileDisposition(fileField, filename))
	partHeader.Set("Content-Type", contentType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Info("uploading to inference backend",
		zap.String("url", req.URL.String()),
		zap.String("file", filename),
		zap.Int("body_bytes", body.Len()),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, &UploadError{Message: err.Error()}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return nil, &UploadError{StatusCode: resp.StatusCode, Message: err.Error()}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		uerr := &UploadError{StatusCode: resp.StatusCode, Message: errorText(respBody, resp.Status)}
		span.SetStatus(codes.Error, uerr.Error())
		return nil, uerr
	}

	result, err := c.parse(respBody)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed response")
		return nil, err
	}

	span.SetAttributes(attribute.Int("predictions.count", len(result.Predictions)))
	return result, nil
}

func (c *Client) parse(body []byte) (*Result, error) {
	var raw demoResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	predictions := make(PredictionResult, 0, len(raw.Predictions))
	for i, entry := range raw.Predictions {
		p, err := parsePrediction(entry)
		if err != nil {
			return nil, fmt.Errorf("%w: prediction %d: %v", ErrMalformedResponse, i, err)
		}
		predictions = append(predictions, p)
	}

	result := &Result{
		Predictions: predictions,
		Message:     raw.Message,
	}
	if raw.SaliencyMapsGIF != nil {
		result.SaliencyURL = SaliencyURL(c.baseURL, *raw.SaliencyMapsGIF)
	}
	return result, nil
}

func parsePrediction(entry json.RawMessage) (Prediction, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(entry, &pair); err != nil {
		return Prediction{}, fmt.Errorf("not a pair: %v", err)
	}
	if len(pair) != 2 {
		return Prediction{}, fmt.Errorf("expected 2 elements, got %d", len(pair))
	}

	var p Prediction
	if err := json.Unmarshal(pair[0], &p.Word); err != nil {
		return Prediction{}, fmt.Errorf("word is not a string")
	}
	if err := json.Unmarshal(pair[1], &p.Probability); err != nil {
		return Prediction{}, fmt.Errorf("probability is not a number")
	}
	if p.Probability < 0 || p.Probability > 1 {
		return Prediction{}, fmt.Errorf("probability %v outside [0,1]", p.Probability)
	}
	return p, nil
}

// SaliencyURL strips everything through the last uploaded_videos/ segment and
// resolves the remainder under the backend's /images/ route. An empty path
// yields an empty reference.
func SaliencyURL(baseURL, path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	path = strings.ReplaceAll(path, "\\", "/")

	if idx := strings.LastIndex(path, "/"+uploadMarker); idx >= 0 {
		path = path[idx+len(uploadMarker)+1:]
	} else if strings.HasPrefix(path, uploadMarker) {
		path = path[len(uploadMarker):]
	}
	path = strings.TrimLeft(path, "/")
	if path == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + imagesPath + path
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func fileDisposition(field, filename string) string {
	return fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(field), quoteEscaper.Replace(filename))
}

func errorText(body []byte, status string) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil {
		switch {
		case e.Error != "" && e.Message != "":
			return e.Message + ": " + e.Error
		case e.Message != "":
			return e.Message
		case e.Error != "":
			return e.Error
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return status
}
