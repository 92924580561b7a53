package sessionmock

import (
	"context"
	"sync"

	"github.com/stockway/portal/internal/serviceerr"
	"github.com/stockway/portal/internal/session"
)

type RepositoryOption func(*Repository)

// Repository is an in-memory session.Repository with injectable failures.
type Repository struct {
	mu     sync.Mutex
	record session.Record
	stored bool

	loadErr, storeErr, clearErr error

	Loads, Stores, Clears int
}

func WithRecord(rec session.Record) RepositoryOption {
	return func(r *Repository) {
		r.record = rec
		r.stored = true
	}
}
func WithLoadError(err error) RepositoryOption {
	return func(r *Repository) { r.loadErr = err }
}
func WithStoreError(err error) RepositoryOption {
	return func(r *Repository) { r.storeErr = err }
}
func WithClearError(err error) RepositoryOption {
	return func(r *Repository) { r.clearErr = err }
}

var _ = session.Repository(&Repository{})

func NewInMemRepository(opts ...RepositoryOption) *Repository {
	r := &Repository{}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *Repository) Load(_ context.Context) (session.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Loads++
	if r.loadErr != nil {
		return session.Record{}, r.loadErr
	}
	if !r.stored {
		return session.Record{}, serviceerr.ErrNotFound
	}
	return r.record, nil
}

func (r *Repository) Store(_ context.Context, rec session.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Stores++
	if r.storeErr != nil {
		return r.storeErr
	}
	r.record = rec
	r.stored = true
	return nil
}

func (r *Repository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Clears++
	if r.clearErr != nil {
		return r.clearErr
	}
	r.record = session.Record{}
	r.stored = false
	return nil
}

// Record returns what is currently stored and whether anything is.
func (r *Repository) Record() (session.Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.record, r.stored
}
