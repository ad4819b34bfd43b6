package integration

import (
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kdimtricp/lipreader/internal/database"
	"github.com/kdimtricp/lipreader/internal/intake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSelection(t *testing.T) {
	ts := setupTestServer(t, serverOptions{})

	tests := []struct {
		name           string
		filename       string
		contentType    string
		content        []byte
		expectedStatus int
		expectPending  bool
		expectMessage  string
	}{
		{
			name:           "mp4 video",
			filename:       "clip.mp4",
			contentType:    "video/mp4",
			content:        []byte("fake mp4 content"),
			expectedStatus: http.StatusOK,
			expectPending:  true,
			expectMessage:  "Ready to upload: clip.mp4",
		},
		{
			name:           "webm without declared type",
			filename:       "clip.webm",
			contentType:    "application/octet-stream",
			content:        []byte("fake webm content"),
			expectedStatus: http.StatusOK,
			expectPending:  true,
			expectMessage:  "Ready to upload: clip.webm",
		},
		{
			name:           "image rejected",
			filename:       "picture.png",
			contentType:    "image/png",
			content:        []byte("png"),
			expectedStatus: http.StatusUnsupportedMediaType,
			expectMessage:  intake.RejectionMessage,
		},
		{
			name:           "empty video rejected",
			filename:       "empty.mp4",
			contentType:    "video/mp4",
			content:        []byte{},
			expectedStatus: http.StatusBadRequest,
			expectMessage:  "The video is empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts.post(t, "/demo/clear", nil, "")

			status, body := ts.selectFile(t, tt.filename, tt.contentType, tt.content)
			assert.Equal(t, tt.expectedStatus, status, describe(status, body))
			assert.Contains(t, body, tt.expectMessage)

			state := ts.state(t)
			if tt.expectPending {
				require.NotNil(t, state.Pending)
				assert.Equal(t, tt.filename, state.Pending.Name)
				assert.True(t, strings.HasPrefix(state.Pending.ContentType, "video/"))
				assert.Equal(t, 1, stagedFiles(t, ts.UploadDir))
			} else {
				assert.Nil(t, state.Pending)
				assert.Equal(t, 0, stagedFiles(t, ts.UploadDir))
			}
		})
	}
}

func TestRejectedFileKeepsPending(t *testing.T) {
	ts := setupTestServer(t, serverOptions{})

	status, _ := ts.selectFile(t, "clip.mp4", "video/mp4", []byte("video"))
	require.Equal(t, http.StatusOK, status)
	before := ts.state(t).Pending
	require.NotNil(t, before)

	status, _ = ts.selectFile(t, "notes.txt", "text/plain", []byte("text"))
	assert.Equal(t, http.StatusUnsupportedMediaType, status)

	after := ts.state(t).Pending
	require.NotNil(t, after)
	assert.Equal(t, before.ID, after.ID)
}

func TestUploadFlow(t *testing.T) {
	ts := setupTestServer(t, serverOptions{})

	status, body := ts.selectFile(t, "clip.mp4", "video/mp4", []byte("fake mp4 content"))
	require.Equal(t, http.StatusOK, status, body)

	status, body = ts.post(t, "/demo/upload", nil, "")
	require.Equal(t, http.StatusOK, status, body)

	assert.Contains(t, body, "HELLO")
	assert.Contains(t, body, "50.000%")
	assert.Contains(t, body, "WORLD")
	assert.Contains(t, body, "25.000%")
	assert.Less(t, strings.Index(body, "HELLO"), strings.Index(body, "WORLD"))
	assert.Contains(t, body, ts.Backend.URL+"/images/clip_saliency_maps/saliency_maps.gif")

	assert.Equal(t, []string{"fake mp4 content"}, ts.Backend.uploads())

	state := ts.state(t)
	assert.Nil(t, state.Pending)
	assert.False(t, state.IsUploading)
	assert.Equal(t, 0, stagedFiles(t, ts.UploadDir))

	// a second upload without a new file sends nothing
	status, _ = ts.post(t, "/demo/upload", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Len(t, ts.Backend.uploads(), 1)

	// home page shows the last results
	status, page := ts.get(t, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, page, "HELLO")

	assert.Equal(t, 1, countUploadsInDB(t, ts))
	records := ts.history(t)
	require.Len(t, records, 1)
	assert.Equal(t, database.OutcomeSucceeded, records[0].Outcome)
	assert.Equal(t, 2, records[0].PredictionCount)
	assert.Equal(t, "hello", records[0].TopWord)
}

func TestNewSelectionClearsResults(t *testing.T) {
	ts := setupTestServer(t, serverOptions{})

	ts.selectFile(t, "first.mp4", "video/mp4", []byte("first"))
	status, _ := ts.post(t, "/demo/upload", nil, "")
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, ts.state(t).Predictions)

	ts.selectFile(t, "second.mp4", "video/mp4", []byte("second"))

	state := ts.state(t)
	assert.Empty(t, state.Predictions)
	assert.Empty(t, state.SaliencyURL)
	require.NotNil(t, state.Pending)
	assert.Equal(t, "second.mp4", state.Pending.Name)
}

func TestSelectionDuringUploadDiscardsResults(t *testing.T) {
	ts := setupTestServer(t, serverOptions{})
	release := ts.Backend.hold()
	t.Cleanup(release)

	ts.selectFile(t, "a.mp4", "video/mp4", []byte("first"))

	type reply struct {
		status int
		body   string
	}
	done := make(chan reply, 1)
	go func() {
		resp, err := ts.Client.Post(ts.Server.URL+"/demo/upload", "", nil)
		if !assert.NoError(t, err) {
			done <- reply{}
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		done <- reply{resp.StatusCode, string(data)}
	}()
	require.Eventually(t, func() bool { return len(ts.Backend.uploads()) == 1 }, 5*time.Second, 10*time.Millisecond)

	status, body := ts.selectFile(t, "b.mp4", "video/mp4", []byte("second"))
	require.Equal(t, http.StatusOK, status, body)
	release()

	r := <-done
	assert.Equal(t, http.StatusConflict, r.status)
	assert.NotContains(t, r.body, "HELLO")
	assert.Contains(t, r.body, "results discarded")

	_, results := ts.get(t, "/demo/results")
	assert.NotContains(t, results, "HELLO")

	state := ts.state(t)
	require.NotNil(t, state.Pending)
	assert.Equal(t, "b.mp4", state.Pending.Name)
	assert.Empty(t, state.Predictions)
}

func TestUploadFailureKeepsPendingFile(t *testing.T) {
	ts := setupTestServer(t, serverOptions{})
	ts.Backend.respondWith(http.StatusNotFound, `{"message":"No mouth detected in video"}`)

	ts.selectFile(t, "clip.mp4", "video/mp4", []byte("content"))

	status, body := ts.post(t, "/demo/upload", nil, "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body, "No mouth detected in video")

	state := ts.state(t)
	require.NotNil(t, state.Pending)
	assert.Equal(t, "clip.mp4", state.Pending.Name)

	// retrying by hand works once the backend recovers
	ts.Backend.respondWith(http.StatusOK, `{"predictions":[["again",0.9]]}`)
	status, body = ts.post(t, "/demo/upload", nil, "")
	require.Equal(t, http.StatusOK, status, body)
	assert.Contains(t, body, "AGAIN")
	assert.NotContains(t, body, "<img")

	records := ts.history(t)
	require.Len(t, records, 2)
	assert.Equal(t, database.OutcomeSucceeded, records[0].Outcome)
	assert.Equal(t, database.OutcomeFailed, records[1].Outcome)
}

func TestMalformedBackendResponse(t *testing.T) {
	ts := setupTestServer(t, serverOptions{})
	ts.Backend.respondWith(http.StatusOK, `{"predictions":[["hello"]]}`)

	ts.selectFile(t, "clip.mp4", "video/mp4", []byte("content"))

	status, body := ts.post(t, "/demo/upload", nil, "")
	assert.Equal(t, http.StatusBadGateway, status)
	assert.Contains(t, body, "malformed response")
	assert.NotNil(t, ts.state(t).Pending)
}

func TestConcurrentUploadRequests(t *testing.T) {
	ts := setupTestServer(t, serverOptions{})
	ts.selectFile(t, "clip.mp4", "video/mp4", []byte("content"))

	var wg sync.WaitGroup
	statuses := make([]int, 8)
	for i := range statuses {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := ts.Client.Post(ts.Server.URL+"/demo/upload", "", nil)
			if !assert.NoError(t, err) {
				return
			}
			resp.Body.Close()
			statuses[i] = resp.StatusCode
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, s := range statuses {
		if s == http.StatusOK {
			ok++
		} else {
			assert.Contains(t, []int{http.StatusConflict, http.StatusBadRequest}, s)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Len(t, ts.Backend.uploads(), 1)
}

func TestSessionsAreIsolated(t *testing.T) {
	ts := setupTestServer(t, serverOptions{})
	ts.selectFile(t, "mine.mp4", "video/mp4", []byte("mine"))

	other := &TestServer{Server: ts.Server, Client: &http.Client{}}
	assert.Nil(t, other.state(t).Pending)
	assert.NotNil(t, ts.state(t).Pending)
}
