package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"coachdocs/internal/blob"
	"coachdocs/internal/model"
	"coachdocs/internal/repository"
)

var (
	ErrIDRequired      = errors.New("id is required")
	ErrOwnerRequired   = errors.New("coachee id is required")
	ErrTypeRequired    = errors.New("document type is required")
	ErrNotFound        = errors.New("document not found")
	ErrHandleRequired  = errors.New("handle url is required")
	ErrHandleNotFound  = blob.ErrHandleNotFound
	ErrPreviewDisabled = errors.New("preview handles are not configured")
)

// DocumentService defines the use cases for coachee documents.
type DocumentService interface {
	// Upload stores a new document. An empty id is replaced by a generated one, an
	// empty upload date by today and an empty size by the decoded payload size.
	Upload(ctx context.Context, doc *model.Document) (*model.Document, error)

	// Get returns a single document by its ID.
	Get(ctx context.Context, id string) (*model.Document, error)

	// ListByOwner returns the documents of one coachee.
	ListByOwner(ctx context.Context, coacheeID string) ([]model.Document, error)

	// ListByType returns the documents of one category.
	ListByType(ctx context.Context, docType string) ([]model.Document, error)

	// Delete removes a document. Deleting an unknown id succeeds.
	Delete(ctx context.Context, id string) error

	// Preview exposes the inline payload of a document as a resource handle.
	// A nil handle with a nil error means the document has nothing to preview.
	Preview(ctx context.Context, id string) (*blob.Handle, error)

	// ReleasePreview releases a handle returned by Preview.
	ReleasePreview(ctx context.Context, url string) error
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	repo    repository.DocumentRepository
	handles blob.HandleStore
	log     *slog.Logger
	now     func() time.Time
}

// NewDocumentService constructs a new DocumentService. handles may be nil, in
// which case Preview reports ErrPreviewDisabled.
func NewDocumentService(repo repository.DocumentRepository, handles blob.HandleStore, logger *slog.Logger) DocumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentService{
		repo:    repo,
		handles: handles,
		log:     logger.With(slog.String("component", "service")),
		now:     time.Now,
	}
}

func (s *documentService) Upload(ctx context.Context, doc *model.Document) (*model.Document, error) {
	if doc == nil {
		return nil, repository.ErrInvalidRecord
	}
	rec := *doc
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.UploadDate == "" {
		rec.UploadDate = s.now().UTC().Format(time.DateOnly)
	}
	if rec.Size == "" && rec.EncodedPayload != "" {
		if data, err := blob.DecodeToBytes(rec.EncodedPayload); err == nil {
			rec.Size = humanize.Bytes(uint64(len(data)))
		}
	}

	if _, err := s.repo.Put(ctx, &rec); err != nil {
		return nil, fmt.Errorf("store document: %w", err)
	}
	s.log.Info("document_stored", "status", "success", "document_id", rec.ID, "coachee_id", rec.CoacheeID, "type", rec.Type)
	return &rec, nil
}

func (s *documentService) Get(ctx context.Context, id string) (*model.Document, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, found, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return doc, nil
}

func (s *documentService) ListByOwner(ctx context.Context, coacheeID string) ([]model.Document, error) {
	if coacheeID == "" {
		return nil, ErrOwnerRequired
	}
	return s.repo.ListByOwner(ctx, coacheeID)
}

func (s *documentService) ListByType(ctx context.Context, docType string) ([]model.Document, error) {
	if docType == "" {
		return nil, ErrTypeRequired
	}
	return s.repo.ListByType(ctx, docType)
}

func (s *documentService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrIDRequired
	}
	if err := s.repo.Remove(ctx, id); err != nil {
		return err
	}
	s.log.Info("document_removed", "status", "success", "document_id", id)
	return nil
}

func (s *documentService) Preview(ctx context.Context, id string) (*blob.Handle, error) {
	if s.handles == nil {
		return nil, ErrPreviewDisabled
	}
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.EncodedPayload == "" {
		s.log.Info("preview_unavailable", "status", "skipped", "document_id", id, "reason", "no inline payload")
		return nil, nil
	}

	mimeType := blob.MimeOf(doc.EncodedPayload)
	if mimeType == blob.DefaultMimeType {
		mimeType = blob.DefaultDownloadMime
	}
	h, err := blob.CreateDownloadURL(ctx, s.handles, doc.EncodedPayload, mimeType)
	if errors.Is(err, blob.ErrMalformedPayload) {
		// A broken payload only disables the preview.
		s.log.Warn("preview_unavailable", "status", "error", "document_id", id, "error_message", err.Error())
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create handle: %w", err)
	}
	return h, nil
}

func (s *documentService) ReleasePreview(ctx context.Context, url string) error {
	if url == "" {
		return ErrHandleRequired
	}
	if s.handles == nil {
		return ErrPreviewDisabled
	}
	return s.handles.Release(ctx, url)
}
