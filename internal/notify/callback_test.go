package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorded struct {
	header http.Header
	body   map[string]any
}

func newCallbackServer(t *testing.T, status int) (*httptest.Server, func() []recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		reqs = append(reqs, recorded{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), reqs...)
	}
}

func TestSend_Payload(t *testing.T) {
	srv, got := newCallbackServer(t, http.StatusOK)
	n := New(time.Second, zap.NewNop(), WithBypassSecret("s3cret"))

	update := Update{BookID: "book-1", Status: "completed"}.
		WithProgress(100).
		WithResult("https://cdn.example.com/a.pdf").
		WithPage(4)
	require.NoError(t, n.Send(context.Background(), srv.URL, update))

	reqs := got()
	require.Len(t, reqs, 1)
	assert.Equal(t, "application/json", reqs[0].header.Get("Content-Type"))
	assert.Equal(t, "s3cret", reqs[0].header.Get(BypassHeader))

	body := reqs[0].body
	assert.Equal(t, "book-1", body["bookId"])
	assert.Equal(t, "completed", body["status"])
	assert.EqualValues(t, 100, body["progress"])
	assert.Equal(t, "https://cdn.example.com/a.pdf", body["translatedFileUrl"])
	assert.Equal(t, "https://cdn.example.com/a.pdf", body["translatedUrl"])
	assert.EqualValues(t, 4, body["pageNumber"])
	assert.NotContains(t, body, "error")
}

func TestSend_OmitsOptionalFields(t *testing.T) {
	srv, got := newCallbackServer(t, http.StatusOK)
	n := New(time.Second, nil)

	update := Update{BookID: "b", Status: "failed", Error: "babeldoc failed: boom"}.WithPage(0)
	require.NoError(t, n.Send(context.Background(), srv.URL, update))

	reqs := got()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].header.Get(BypassHeader))
	body := reqs[0].body
	assert.Equal(t, "babeldoc failed: boom", body["error"])
	assert.NotContains(t, body, "progress")
	assert.NotContains(t, body, "pageNumber")
	assert.NotContains(t, body, "translatedUrl")
}

func TestSend_Non2xxIsError(t *testing.T) {
	srv, _ := newCallbackServer(t, http.StatusInternalServerError)
	n := New(time.Second, nil)

	err := n.Send(context.Background(), srv.URL, Update{BookID: "b", Status: "processing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSend_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	n := New(50*time.Millisecond, nil)
	start := time.Now()
	err := n.Send(context.Background(), srv.URL, Update{BookID: "b", Status: "processing"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestNotify_SwallowsErrors(t *testing.T) {
	n := New(100*time.Millisecond, nil)

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), "http://127.0.0.1:1/unreachable", Update{BookID: "b", Status: "failed"})
	})
}

func TestNotify_EmptyEndpointIsNoop(t *testing.T) {
	srv, got := newCallbackServer(t, http.StatusOK)
	_ = srv
	n := New(time.Second, nil)

	n.Notify(context.Background(), "", Update{BookID: "b", Status: "processing"})
	n.Notify(context.Background(), "   ", Update{BookID: "b", Status: "processing"})
	assert.Empty(t, got())
}
