// Package store persists the shared configuration document and comment
// threads of each project. Every implementation keys data by project id and
// treats writes as idempotent full overwrites.
package store

import (
	"context"
	"errors"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
)

// ErrUnavailable is returned when the backing cache cannot be reached.
var ErrUnavailable = errors.New("store unavailable")

// Store is the read/write contract of the document reconciler.
type Store interface {
	// GetDocument returns the stored document, or a default-initialized one
	// when the project has none yet.
	GetDocument(ctx context.Context, projectID string) (build.Document, error)
	PutDocument(ctx context.Context, projectID string, doc build.Document) error
	// GetThreads returns the stored comment threads; an empty map when none.
	GetThreads(ctx context.Context, projectID string) (build.Threads, error)
	PutThreads(ctx context.Context, projectID string, threads build.Threads) error
}

// DefaultFunc builds the initial document of a project that has none.
type DefaultFunc func(projectID string) build.Document

// CatalogDefaults returns a DefaultFunc that initializes every project with
// the catalog's default model.
func CatalogDefaults(catalog build.Catalog) DefaultFunc {
	return func(string) build.Document {
		return build.NewDocument(catalog.Default())
	}
}
