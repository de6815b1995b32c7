package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ailearn/internal/util"
	"ailearn/pkg/ai"
	"ailearn/pkg/domain"
	"ailearn/pkg/extract"
	"ailearn/pkg/queue"
	"ailearn/pkg/storage"
	"ailearn/pkg/store"
	"ailearn/pkg/textproc"
)

const (
	defaultMaxPromptChars = 12000
	defaultMaxUploadBytes = 20 << 20
)

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".html": true,
	".htm":  true,
	".txt":  true,
}

// Enqueuer schedules extraction jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, documentID string) (queue.JobStatus, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL    string
	Store          store.Store
	Objects        storage.ObjectStore
	Jobs           Enqueuer
	Generator      ai.TextGenerator
	ChunkSize      int
	ChunkOverlap   int
	MaxChunks      int
	HistoryWindow  int
	MaxPromptChars int
	MaxUploadBytes int64
}

// App wires storage, object storage, the extraction queue, and the AI
// provider into the document-study operations.
type App struct {
	store          store.Store
	objects        storage.ObjectStore
	jobs           Enqueuer
	generator      ai.TextGenerator
	assembler      *textproc.Assembler
	historyWindow  int
	maxPromptChars int
	maxUploadBytes int64

	convMu    sync.Mutex
	convLocks map[string]*sync.Mutex
}

// New constructs the application. Chunking parameters are validated here so
// misconfiguration fails at startup, not on the first request.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("text generator required")
	}
	assembler, err := textproc.NewAssembler(cfg.ChunkSize, cfg.ChunkOverlap, cfg.MaxChunks)
	if err != nil {
		return nil, err
	}
	historyWindow := cfg.HistoryWindow
	if historyWindow <= 0 {
		historyWindow = textproc.DefaultHistoryWindow
	}
	maxPromptChars := cfg.MaxPromptChars
	if maxPromptChars <= 0 {
		maxPromptChars = defaultMaxPromptChars
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &App{
		store:          dataStore,
		objects:        cfg.Objects,
		jobs:           cfg.Jobs,
		generator:      cfg.Generator,
		assembler:      assembler,
		historyWindow:  historyWindow,
		maxPromptChars: maxPromptChars,
		maxUploadBytes: maxUploadBytes,
		convLocks:      make(map[string]*sync.Mutex),
	}, nil
}

// CreateDocument stores the uploaded file, creates the record, and enqueues
// extraction.
func (a *App) CreateDocument(ctx context.Context, ownerID, title, filename string, r io.Reader, size int64, contentType string) (domain.Document, error) {
	if a.objects == nil || a.jobs == nil {
		return domain.Document{}, fmt.Errorf("uploads not configured")
	}
	filename = strings.TrimSpace(filename)
	ext := strings.ToLower(path.Ext(filename))
	if !allowedExtensions[ext] {
		return domain.Document{}, fmt.Errorf("%w: unsupported file type %q", ErrValidation, ext)
	}
	if size <= 0 || size > a.maxUploadBytes {
		return domain.Document{}, fmt.Errorf("%w: file size out of range", ErrValidation)
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSuffix(filename, ext)
	}
	if title == "" {
		return domain.Document{}, fmt.Errorf("%w: title required", ErrValidation)
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:               util.NewID(),
		OwnerID:          ownerID,
		Title:            title,
		OriginalFilename: filename,
		StorageKey:       storage.DocumentKey(ownerID, uuid.NewString(), filename),
		Status:           domain.StatusQueued,
		SizeBytes:        size,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := a.objects.Put(ctx, doc.StorageKey, r, size, contentType); err != nil {
		return domain.Document{}, fmt.Errorf("store upload: %w", err)
	}
	if err := a.store.SaveDocument(doc); err != nil {
		return domain.Document{}, fmt.Errorf("save document: %w", err)
	}
	if _, err := a.jobs.Enqueue(ctx, doc.ID); err != nil {
		_ = a.store.SetStatus(doc.ID, domain.StatusFailed, "enqueue extraction failed")
		return domain.Document{}, fmt.Errorf("enqueue extraction: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the caller's documents.
func (a *App) ListDocuments(ownerID string) ([]domain.Document, error) {
	docs, err := a.store.ListDocumentsByOwner(ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// GetDocument returns one of the caller's documents.
func (a *App) GetDocument(ownerID, documentID string) (domain.Document, error) {
	return a.loadOwned(ownerID, documentID)
}

// DeleteDocument removes the document, its stored file, and everything
// derived from it.
func (a *App) DeleteDocument(ctx context.Context, ownerID, documentID string) error {
	doc, err := a.loadOwned(ownerID, documentID)
	if err != nil {
		return err
	}
	if a.objects != nil && doc.StorageKey != "" {
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
			util.LoggerFromContext(ctx).Warn("delete object failed", "document_id", doc.ID, "error", err)
		}
	}
	if err := a.store.DeleteDocument(doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	a.dropConversationLocks(doc.ID)
	return nil
}

// DownloadURL returns a short-lived pre-signed URL for the original file.
func (a *App) DownloadURL(ctx context.Context, ownerID, documentID string) (string, error) {
	doc, err := a.loadOwned(ownerID, documentID)
	if err != nil {
		return "", err
	}
	if a.objects == nil || doc.StorageKey == "" {
		return "", fmt.Errorf("%w: no stored file", ErrNotFound)
	}
	url, err := a.objects.PresignGet(ctx, doc.StorageKey, 15*time.Minute)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}

// ProcessExtraction handles one extraction job. Infrastructure errors are
// returned so the queue retries; unparseable files mark the document failed
// and consume the job.
func (a *App) ProcessExtraction(ctx context.Context, job queue.JobStatus) error {
	logger := util.LoggerFromContext(ctx).With("document_id", job.DocumentID)
	doc, ok, err := a.store.GetDocument(job.DocumentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok {
		logger.Warn("extraction job for missing document")
		return nil
	}
	if err := a.store.SetStatus(doc.ID, domain.StatusProcessing, ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	localPath, cleanup, err := a.fetchToTemp(ctx, doc)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := extract.File(localPath, doc.OriginalFilename)
	if err != nil {
		logger.Warn("extraction failed", "error", err)
		_ = a.store.SetStatus(doc.ID, domain.StatusFailed, err.Error())
		return nil
	}
	normalized := textproc.Normalize(result.Text)
	if err := a.store.SetExtractedText(doc.ID, normalized, result.PageCount); err != nil {
		return fmt.Errorf("save extracted text: %w", err)
	}
	if err := a.store.SetStatus(doc.ID, domain.StatusReady, ""); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	logger.Info("extraction complete", "pages", result.PageCount, "chars", len(normalized))
	return nil
}

func (a *App) fetchToTemp(ctx context.Context, doc domain.Document) (string, func(), error) {
	if a.objects == nil {
		return "", nil, fmt.Errorf("object storage not configured")
	}
	obj, err := a.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return "", nil, fmt.Errorf("fetch object: %w", err)
	}
	defer obj.Close()

	tmp, err := os.CreateTemp("", "extract-*"+path.Ext(doc.OriginalFilename))
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, obj); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("download object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", nil, fmt.Errorf("close temp file: %w", err)
	}
	name := tmp.Name()
	return name, func() { os.Remove(name) }, nil
}

func (a *App) loadOwned(ownerID, documentID string) (domain.Document, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return domain.Document{}, fmt.Errorf("%w: document id required", ErrValidation)
	}
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrDocumentNotFound
	}
	if doc.OwnerID != ownerID {
		return domain.Document{}, ErrDocumentForbidden
	}
	return doc, nil
}

func (a *App) loadReady(ownerID, documentID string) (domain.Document, error) {
	doc, err := a.loadOwned(ownerID, documentID)
	if err != nil {
		return domain.Document{}, err
	}
	if doc.Status != domain.StatusReady {
		return domain.Document{}, ErrDocumentNotReady
	}
	return doc, nil
}

// leadingText returns the start of the document bounded by maxPromptChars,
// cut on a rune boundary.
func (a *App) leadingText(text string) string {
	if len(text) <= a.maxPromptChars {
		return text
	}
	cut := a.maxPromptChars
	for cut > 0 && !utf8StartByte(text[cut]) {
		cut--
	}
	return text[:cut]
}

func utf8StartByte(b byte) bool {
	return b&0xC0 != 0x80
}

func (a *App) conversationLock(documentID, userID string) *sync.Mutex {
	key := documentID + "\x00" + userID
	a.convMu.Lock()
	defer a.convMu.Unlock()
	mu, ok := a.convLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		a.convLocks[key] = mu
	}
	return mu
}

// dropConversationLocks removes the per-user locks of a deleted document so
// the lock map does not grow for the process lifetime.
func (a *App) dropConversationLocks(documentID string) {
	prefix := documentID + "\x00"
	a.convMu.Lock()
	defer a.convMu.Unlock()
	for key := range a.convLocks {
		if strings.HasPrefix(key, prefix) {
			delete(a.convLocks, key)
		}
	}
}
