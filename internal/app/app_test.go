package app

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"ailearn/pkg/domain"
	"ailearn/pkg/queue"
	"ailearn/pkg/store"
)

type fakeGenerator struct {
	mu       sync.Mutex
	response string
	err      error
	calls    int
	lastUser string
}

func (g *fakeGenerator) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.lastUser = userPrompt
	if g.err != nil {
		return "", g.err
	}
	return g.response, nil
}

type fakeObjects struct {
	data    map[string][]byte
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{data: make(map[string][]byte)}
}

func (f *fakeObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.data[key] = b
	return nil
}

func (f *fakeObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := f.data[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (f *fakeObjects) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.test/" + key, nil
}

func (f *fakeObjects) Delete(_ context.Context, key string) error {
	delete(f.data, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeQueue struct {
	enqueued []string
	err      error
}

func (f *fakeQueue) Enqueue(_ context.Context, documentID string) (queue.JobStatus, error) {
	if f.err != nil {
		return queue.JobStatus{}, f.err
	}
	f.enqueued = append(f.enqueued, documentID)
	return queue.JobStatus{ID: "job-1", DocumentID: documentID}, nil
}

type testEnv struct {
	app     *App
	store   *store.MemoryStore
	gen     *fakeGenerator
	objects *fakeObjects
	jobs    *fakeQueue
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	memStore := store.NewMemoryStore()
	gen := &fakeGenerator{response: "generated answer"}
	objects := newFakeObjects()
	jobs := &fakeQueue{}
	a, err := New(Config{
		Store:     memStore,
		Objects:   objects,
		Jobs:      jobs,
		Generator: gen,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &testEnv{app: a, store: memStore, gen: gen, objects: objects, jobs: jobs}
}

func (e *testEnv) seedReadyDocument(t *testing.T, id, ownerID, title, text string) domain.Document {
	t.Helper()
	doc := domain.Document{
		ID:            id,
		OwnerID:       ownerID,
		Title:         title,
		Status:        domain.StatusReady,
		ExtractedText: text,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.store.SaveDocument(doc); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return doc
}

func TestCreateDocumentUploadsAndEnqueues(t *testing.T) {
	env := newTestEnv(t)
	doc, err := env.app.CreateDocument(context.Background(), "u1", "", "notes.txt", strings.NewReader("hello"), 5, "text/plain")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if doc.Title != "notes" {
		t.Fatalf("expected title from filename, got %q", doc.Title)
	}
	if doc.Status != domain.StatusQueued {
		t.Fatalf("expected queued status, got %q", doc.Status)
	}
	if len(env.jobs.enqueued) != 1 || env.jobs.enqueued[0] != doc.ID {
		t.Fatalf("expected extraction enqueued for %s, got %+v", doc.ID, env.jobs.enqueued)
	}
	if _, ok := env.objects.data[doc.StorageKey]; !ok {
		t.Fatalf("expected object stored at %q", doc.StorageKey)
	}
}

func TestCreateDocumentRejectsBadUploads(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name     string
		filename string
		size     int64
	}{
		{"unsupported extension", "malware.exe", 10},
		{"zero size", "notes.txt", 0},
		{"oversized", "notes.txt", defaultMaxUploadBytes + 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.app.CreateDocument(context.Background(), "u1", "", tc.filename, strings.NewReader("x"), tc.size, "")
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if len(env.jobs.enqueued) != 0 {
		t.Fatalf("expected no jobs enqueued, got %+v", env.jobs.enqueued)
	}
}

func TestDeleteDocumentRemovesObject(t *testing.T) {
	env := newTestEnv(t)
	doc, err := env.app.CreateDocument(context.Background(), "u1", "Notes", "notes.txt", strings.NewReader("hello"), 5, "text/plain")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.app.DeleteDocument(context.Background(), "u1", doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(env.objects.deleted) != 1 || env.objects.deleted[0] != doc.StorageKey {
		t.Fatalf("expected object deleted, got %+v", env.objects.deleted)
	}
	if _, err := env.app.GetDocument("u1", doc.ID); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected document gone, got %v", err)
	}
}

func TestDeleteDocumentDropsConversationLocks(t *testing.T) {
	env := newTestEnv(t)
	doc := env.seedReadyDocument(t, "d1", "u1", "Notes", "some text here")
	if _, err := env.app.Chat(context.Background(), "u1", "d1", "anything about text"); err != nil {
		t.Fatalf("chat: %v", err)
	}

	env.app.convMu.Lock()
	locks := len(env.app.convLocks)
	env.app.convMu.Unlock()
	if locks != 1 {
		t.Fatalf("expected 1 conversation lock, got %d", locks)
	}

	if err := env.app.DeleteDocument(context.Background(), "u1", doc.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	env.app.convMu.Lock()
	locks = len(env.app.convLocks)
	env.app.convMu.Unlock()
	if locks != 0 {
		t.Fatalf("expected conversation locks pruned, got %d", locks)
	}
}

func TestDocumentOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.seedReadyDocument(t, "d1", "u1", "Notes", "some text")

	if _, err := env.app.GetDocument("u2", "d1"); !errors.Is(err, ErrDocumentForbidden) {
		t.Fatalf("expected forbidden for other user, got %v", err)
	}
	if _, err := env.app.GetDocument("u1", "missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestProcessExtractionMarksReady(t *testing.T) {
	env := newTestEnv(t)
	doc, err := env.app.CreateDocument(context.Background(), "u1", "Notes", "notes.txt", strings.NewReader("line one\nline   two"), 18, "text/plain")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := env.app.ProcessExtraction(context.Background(), queue.JobStatus{ID: "j1", DocumentID: doc.ID}); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := env.app.GetDocument("u1", doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusReady {
		t.Fatalf("expected ready, got %q (%s)", got.Status, got.ErrorMessage)
	}
	if got.ExtractedText != "line one line two" {
		t.Fatalf("expected normalized text, got %q", got.ExtractedText)
	}
}

func TestProcessExtractionMarksFailedOnUnreadableFile(t *testing.T) {
	env := newTestEnv(t)
	doc, err := env.app.CreateDocument(context.Background(), "u1", "Broken", "broken.pdf", strings.NewReader("not a real pdf"), 14, "application/pdf")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// unparseable input consumes the job rather than retrying
	if err := env.app.ProcessExtraction(context.Background(), queue.JobStatus{ID: "j1", DocumentID: doc.ID}); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, err := env.app.GetDocument("u1", doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %q", got.Status)
	}
	if got.ErrorMessage == "" {
		t.Fatal("expected error message on failed document")
	}
}

func TestProcessExtractionMissingObjectRetries(t *testing.T) {
	env := newTestEnv(t)
	env.seedReadyDocument(t, "d1", "u1", "Notes", "")
	doc, _, _ := env.store.GetDocument("d1")
	doc.StorageKey = "documents/u1/gone.txt"
	doc.Status = domain.StatusQueued
	if err := env.store.SaveDocument(doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := env.app.ProcessExtraction(context.Background(), queue.JobStatus{ID: "j1", DocumentID: "d1"}); err == nil {
		t.Fatal("expected infrastructure error to propagate for retry")
	}
}

func TestDownloadURL(t *testing.T) {
	env := newTestEnv(t)
	doc, err := env.app.CreateDocument(context.Background(), "u1", "Notes", "notes.txt", strings.NewReader("hello"), 5, "text/plain")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	url, err := env.app.DownloadURL(context.Background(), "u1", doc.ID)
	if err != nil {
		t.Fatalf("download url: %v", err)
	}
	if !strings.Contains(url, doc.StorageKey) {
		t.Fatalf("expected presigned url for %q, got %q", doc.StorageKey, url)
	}
}
