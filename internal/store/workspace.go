package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/phillip-england/clubadmin/internal/domains"
)

// SourceFunc builds the remote source for a view.
type SourceFunc func(view domains.View) Source

// Workspace owns the stores of one admin session. Stores are created on
// first use. Views reading the same backend domain are invalidated together.
type Workspace struct {
	catalog *domains.Catalog
	sources SourceFunc
	log     *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

func NewWorkspace(catalog *domains.Catalog, sources SourceFunc, logger *slog.Logger) *Workspace {
	return &Workspace{
		catalog: catalog,
		sources: sources,
		log:     logger,
		stores:  map[string]*Store{},
	}
}

func (w *Workspace) Catalog() *domains.Catalog { return w.catalog }

func (w *Workspace) Store(name string) (*Store, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.stores[name]; ok {
		return s, nil
	}
	view, ok := w.catalog.View(name)
	if !ok {
		return nil, fmt.Errorf("unknown view %q: %w", name, ErrNotFound)
	}
	s := New(view, w.sources(view), w.log)
	s.onChange = func() { w.invalidateSiblings(s) }
	w.stores[name] = s
	return s, nil
}

// Ensure returns the store for name, loading it if it has no data yet.
func (w *Workspace) Ensure(ctx context.Context, name string) (*Store, error) {
	s, err := w.Store(name)
	if err != nil {
		return nil, err
	}
	if s.State() == Loading {
		err := s.Load(ctx)
		if errors.Is(err, ErrStale) {
			if s.State() != Loading {
				return s, nil
			}
			// superseded by an invalidation, fetch once more
			err = s.Load(ctx)
		}
		if err != nil {
			return s, err
		}
	}
	return s, nil
}

// Move sends key from one view's domain to another's.
func (w *Workspace) Move(ctx context.Context, from, key, to string) error {
	src, err := w.Store(from)
	if err != nil {
		return err
	}
	dest, err := w.Store(to)
	if err != nil {
		return err
	}
	return src.Move(ctx, key, dest)
}

func (w *Workspace) invalidateSiblings(changed *Store) {
	w.mu.Lock()
	var siblings []*Store
	for _, s := range w.stores {
		if s != changed && s.view.Source == changed.view.Source {
			siblings = append(siblings, s)
		}
	}
	w.mu.Unlock()
	for _, s := range siblings {
		s.Invalidate()
	}
}
