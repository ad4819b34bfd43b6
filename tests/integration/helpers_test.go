package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/kdimtricp/lipreader/internal/api"
	"github.com/kdimtricp/lipreader/internal/capture"
	"github.com/kdimtricp/lipreader/internal/database"
	"github.com/kdimtricp/lipreader/internal/demo"
	"github.com/kdimtricp/lipreader/internal/inference"
	"github.com/kdimtricp/lipreader/internal/intake"
	"github.com/kdimtricp/lipreader/internal/recorder"
	"github.com/kdimtricp/lipreader/internal/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend stands in for the inference service.
type fakeBackend struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	body     string
	received []string
	gate     chan struct{}
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		status: http.StatusOK,
		body:   `{"message":"Video processed successfully","predictions":[["hello",0.5],["world",0.25]],"saliency_maps_gif":"/srv/uploaded_videos/clip_saliency_maps/saliency_maps.gif"}`,
	}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/demo" {
			http.NotFound(w, r)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"message":"No file part"}`)
			return
		}
		data, _ := io.ReadAll(file)
		file.Close()

		b.mu.Lock()
		b.received = append(b.received, string(data))
		status, body, gate := b.status, b.body, b.gate
		b.mu.Unlock()

		if gate != nil {
			<-gate
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *fakeBackend) respondWith(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = status
	b.body = body
}

// hold makes the backend wait before answering until the returned func is called.
func (b *fakeBackend) hold() func() {
	gate := make(chan struct{})
	b.mu.Lock()
	b.gate = gate
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.gate = nil
			b.mu.Unlock()
			close(gate)
		})
	}
}

func (b *fakeBackend) uploads() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.received...)
}

type TestServer struct {
	Server    *httptest.Server
	Backend   *fakeBackend
	DB        *database.DB
	Sessions  *demo.Store
	UploadDir string
	Client    *http.Client
}

type serverOptions struct {
	device   capture.Device
	recorder recorder.Config
}

func setupTestServer(t *testing.T, opts serverOptions) *TestServer {
	t.Helper()

	// templates and static files are resolved from the project root
	t.Chdir(filepath.Join("..", ".."))

	tempDir := t.TempDir()
	uploadDir := filepath.Join(tempDir, "uploads")

	localStorage, err := storage.NewLocalStorage(uploadDir)
	require.NoError(t, err)

	db, err := database.NewDB(context.Background(), database.Config{
		Type:       database.TypeSQLite,
		SQLitePath: filepath.Join(tempDir, "test.db"),
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	backend := newFakeBackend(t)
	logger := zap.NewNop()
	journal := database.NewUploadRepository(db)

	sessions := demo.NewStore(demo.Deps{
		Intake:   intake.New(localStorage, 10*1024*1024, logger),
		Uploader: inference.NewClient(inference.Config{BaseURL: backend.URL}, logger),
		Journal:  journal,
		Device:   opts.device,
		Recorder: opts.recorder,
		Logger:   logger,
	}, time.Hour)
	t.Cleanup(func() { sessions.Close(context.Background()) })

	app := &api.App{
		Sessions:      sessions,
		History:       journal,
		MaxUploadSize: 10 * 1024 * 1024,
		BackendURL:    backend.URL,
		Logger:        logger,
	}

	server := httptest.NewServer(api.NewRouter(app, "./web/static"))
	t.Cleanup(server.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &TestServer{
		Server:    server,
		Backend:   backend,
		DB:        db,
		Sessions:  sessions,
		UploadDir: uploadDir,
		Client:    &http.Client{Jar: jar},
	}
}

func createMultipartUpload(filename, contentType string, content []byte) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="video"; filename="%s"`, filename))
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, bytes.NewReader(content)); err != nil {
		return nil, "", err
	}

	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func (ts *TestServer) post(t *testing.T, path string, body io.Reader, contentType string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.Server.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return ts.send(t, req)
}

func (ts *TestServer) get(t *testing.T, path string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.Server.URL+path, nil)
	require.NoError(t, err)
	return ts.send(t, req)
}

func (ts *TestServer) send(t *testing.T, req *http.Request) (int, string) {
	t.Helper()
	resp, err := ts.Client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func (ts *TestServer) selectFile(t *testing.T, filename, contentType string, content []byte) (int, string) {
	t.Helper()
	body, ct, err := createMultipartUpload(filename, contentType, content)
	require.NoError(t, err)
	return ts.post(t, "/demo/file", body, ct)
}

func (ts *TestServer) state(t *testing.T) demo.State {
	t.Helper()
	status, body := ts.get(t, "/demo/state")
	require.Equal(t, http.StatusOK, status)
	var state demo.State
	require.NoError(t, json.Unmarshal([]byte(body), &state))
	return state
}

func (ts *TestServer) history(t *testing.T) []database.UploadRecord {
	t.Helper()
	status, body := ts.get(t, "/demo/history")
	require.Equal(t, http.StatusOK, status)
	var records []database.UploadRecord
	require.NoError(t, json.Unmarshal([]byte(body), &records))
	return records
}

func countUploadsInDB(t *testing.T, ts *TestServer) int {
	t.Helper()
	var count int
	require.NoError(t, ts.DB.Conn().QueryRow("SELECT COUNT(*) FROM uploads").Scan(&count))
	return count
}

func stagedFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

// fakeCamera returns a capture device backed by a shell script posing as ffmpeg.
func fakeCamera(t *testing.T, script string) capture.Device {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in requires a POSIX shell")
	}
	dir := t.TempDir()
	ffmpeg := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(ffmpeg, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	device := filepath.Join(dir, "video0")
	require.NoError(t, os.WriteFile(device, nil, 0644))

	return capture.NewFFmpegCamera(capture.CameraConfig{
		FFmpegPath: ffmpeg,
		Device:     device,
	}, zap.NewNop())
}

func describe(status int, body string) string {
	return fmt.Sprintf("status %d: %s", status, body)
}
