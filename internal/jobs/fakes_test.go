package jobs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lyun9726/pdf-translate-service/internal/notify"
	"github.com/lyun9726/pdf-translate-service/internal/pdf"
)

type fakeStore struct {
	mu        sync.Mutex
	objects   map[string]string
	existsErr error
	putErr    error
	puts      []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]string{}}
}

func (s *fakeStore) Exists(ctx context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return "", false, s.existsErr
	}
	url, ok := s.objects[key]
	return url, ok, nil
}

func (s *fakeStore) Put(ctx context.Context, key, localPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	url := "https://cdn.test/" + key
	s.objects[key] = url
	s.puts = append(s.puts, key)
	return url, nil
}

type fakePreflight struct{ err error }

func (p fakePreflight) Check(ctx context.Context) error { return p.err }

type fakeLauncher struct {
	mu    sync.Mutex
	tasks []Task
	err   error
}

func (l *fakeLauncher) Launch(ctx context.Context, task Task) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.tasks = append(l.tasks, task)
	return nil
}

func (l *fakeLauncher) Shutdown(ctx context.Context) error { return nil }

type fakeFetcher struct {
	err   error
	pages int
}

func (f *fakeFetcher) Materialize(ctx context.Context, sourceURL string, ws *pdf.Workspace, pageNumber int) (*pdf.SourceFileMeta, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := os.WriteFile(ws.InputPath, []byte("%PDF-1.7 input"), 0o644); err != nil {
		return nil, err
	}
	return &pdf.SourceFileMeta{Name: "input.pdf", Size: 14, Pages: f.pages}, nil
}

type fakeTranslator struct {
	mu       sync.Mutex
	err      error
	noOutput bool
	requests []pdf.TranslateRequest
	budget   time.Duration
	gate     chan struct{}
}

func (t *fakeTranslator) Translate(ctx context.Context, req pdf.TranslateRequest) error {
	t.mu.Lock()
	t.requests = append(t.requests, req)
	if deadline, ok := ctx.Deadline(); ok {
		t.budget = time.Until(deadline)
	}
	t.mu.Unlock()
	if t.gate != nil {
		<-t.gate
	}
	if t.err != nil {
		return t.err
	}
	if t.noOutput {
		return nil
	}
	return os.WriteFile(filepath.Join(req.OutputDir, "input.zh.mono.pdf"), []byte("%PDF-1.7 translated"), 0o644)
}

type recordingNotifier struct {
	mu        sync.Mutex
	endpoints []string
	updates   []notify.Update
}

func (n *recordingNotifier) Notify(ctx context.Context, endpoint string, update notify.Update) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.endpoints = append(n.endpoints, endpoint)
	n.updates = append(n.updates, update)
}

func (n *recordingNotifier) snapshot() []notify.Update {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Update(nil), n.updates...)
}
