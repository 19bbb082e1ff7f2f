package store

import (
	"context"
	"errors"
	"fmt"
)

// Collection names used by the storefront.
const (
	CollectionGames   = "games"
	CollectionUsers   = "users"
	CollectionRefunds = "refundRequests"
	CollectionReviews = "reviews"
)

// ErrNotFound is returned by Get when no document exists under the given id.
var ErrNotFound = errors.New("document not found")

// Document is a single record in a collection. ID is assigned by the store
// and is not part of Fields.
type Document struct {
	ID     string
	Fields map[string]interface{}
}

// StoreError wraps a failed document operation with its location.
type StoreError struct {
	Op         string
	Collection string
	Key        string
	Err        error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("store: %s %s/%s: %v", e.Op, e.Collection, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// DocumentStore is the thin client contract against the remote document
// database. Operations do not retry; failures propagate to the caller as
// *StoreError (Get additionally wraps ErrNotFound for missing documents).
type DocumentStore interface {
	// Get reads one document by id.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Set writes the document under id. With merge set, existing fields not
	// present in fields are preserved; otherwise the document is replaced.
	Set(ctx context.Context, collection, id string, fields map[string]interface{}, merge bool) error

	// Add creates a document with a store-assigned id and returns it.
	Add(ctx context.Context, collection string, fields map[string]interface{}) (string, error)

	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error

	// Query returns all documents in the collection whose field equals the
	// given value.
	Query(ctx context.Context, collection, field string, equals interface{}) ([]Document, error)

	// List returns every document in the collection.
	List(ctx context.Context, collection string) ([]Document, error)
}

// IsNotFound reports whether err represents a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// String returns the string value of a field, or the empty string when the
// field is absent or not a string.
func (d *Document) String(field string) string {
	if d == nil || d.Fields == nil {
		return ""
	}
	s, _ := d.Fields[field].(string)
	return s
}

// Int returns the integer value of a field, tolerating the float64 shape
// JSON decoding produces.
func (d *Document) Int(field string) int {
	if d == nil || d.Fields == nil {
		return 0
	}
	switch v := d.Fields[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
