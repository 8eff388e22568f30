package repository

import (
	"context"
	"errors"

	"coachdocs/internal/model"
)

var (
	// ErrStoreUnavailable means the backing store could not be opened.
	ErrStoreUnavailable = errors.New("document store unavailable")
	// ErrDuplicateKey is returned by Put when the id is already stored.
	ErrDuplicateKey = errors.New("document id already exists")
	// ErrInvalidRecord is returned by Put when a required field is missing.
	ErrInvalidRecord = errors.New("invalid document record")
)

// DocumentRepository is the document store contract.
// There is no update: a revision is Remove followed by Put.
type DocumentRepository interface {
	// Put inserts a new record and returns its id.
	Put(ctx context.Context, doc *model.Document) (string, error)

	// Get returns the record for id. A missing id yields found == false and a nil error.
	Get(ctx context.Context, id string) (doc *model.Document, found bool, err error)

	// ListByOwner returns every record owned by coacheeID in insertion order.
	ListByOwner(ctx context.Context, coacheeID string) ([]model.Document, error)

	// ListByType returns every record tagged with docType in insertion order.
	ListByType(ctx context.Context, docType string) ([]model.Document, error)

	// Remove deletes the record with id. Removing a missing id succeeds.
	Remove(ctx context.Context, id string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Validate reports ErrInvalidRecord when doc lacks an id, owner or name.
func Validate(doc *model.Document) error {
	if doc == nil {
		return errors.Join(ErrInvalidRecord, errors.New("record is nil"))
	}
	var missing []error
	if doc.ID == "" {
		missing = append(missing, errors.New("id is required"))
	}
	if doc.CoacheeID == "" {
		missing = append(missing, errors.New("coacheeId is required"))
	}
	if doc.Name == "" {
		missing = append(missing, errors.New("name is required"))
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidRecord}, missing...)...)
}
