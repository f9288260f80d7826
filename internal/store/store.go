// Package store holds the per-session state of one console view: the
// fetched records, their columns and the current selection.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/gateway"
	"github.com/phillip-england/clubadmin/internal/records"
)

var (
	// ErrNotFound is shared with the gateway so a local miss and a remote
	// 404 are checked the same way.
	ErrNotFound       = gateway.ErrNotFound
	ErrStale          = errors.New("stale response discarded")
	ErrBusy           = errors.New("another submission is in progress")
	ErrNoConfirmation = errors.New("delete was not confirmed")
)

// Source is the remote side of a view.
type Source interface {
	List(ctx context.Context) ([]records.Record, error)
	Create(ctx context.Context, payload records.Record, files []gateway.File) (records.Record, error)
	Update(ctx context.Context, key string, payload records.Record, files []gateway.File) (records.Record, error)
	SetHighlight(ctx context.Context, key string, on bool) error
	Delete(ctx context.Context, rec records.Record) error
}

type State int

const (
	Loading State = iota
	Listing
	Detail
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Listing:
		return "listing"
	case Detail:
		return "detail"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Store is safe for concurrent use. Remote calls run without the lock held.
type Store struct {
	view domains.View
	src  Source
	log  *slog.Logger

	mu         sync.Mutex
	state      State
	list       []records.Record
	columns    []records.Column
	selected   string
	pending    string
	generation uint64
	submitting bool
	loadedAt   time.Time
	onChange   func()
}

func New(view domains.View, src Source, logger *slog.Logger) *Store {
	return &Store{
		view: view,
		src:  src,
		log:  logger.With("view", view.Name),
	}
}

func (s *Store) View() domains.View { return s.view }

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Load fetches the full list. A response that returns after a newer Load
// (or a local mutation) started is dropped with ErrStale. On failure the
// state is left as it was.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	list, err := s.src.List(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.log.DebugContext(ctx, "discarding stale list", "generation", gen, "current", s.generation)
		return ErrStale
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", s.view.Name, err)
	}
	s.list = list
	s.columns = records.ColumnsFor(s.visibleLocked(), s.view.Columns)
	s.state = Listing
	s.selected = ""
	s.pending = ""
	s.loadedAt = time.Now()
	return nil
}

// Invalidate forces the next visit to reload. In-flight loads become stale.
func (s *Store) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.state = Loading
	s.selected = ""
	s.pending = ""
}

func (s *Store) Select(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Loading {
		return ErrNotFound
	}
	if !slices.ContainsFunc(s.visibleLocked(), func(r records.Record) bool { return r.Key(s.view.IDField) == key }) {
		return ErrNotFound
	}
	s.selected = key
	s.pending = ""
	s.state = Detail
	return nil
}

// Deselect returns to the list and drops any pending confirmation.
func (s *Store) Deselect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deselectLocked()
}

func (s *Store) deselectLocked() {
	if s.state == Detail {
		s.state = Listing
	}
	s.selected = ""
	s.pending = ""
}

// RequestDelete selects key and marks it as awaiting confirmation.
func (s *Store) RequestDelete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(key) < 0 {
		return ErrNotFound
	}
	s.selected = key
	s.pending = key
	s.state = Detail
	return nil
}

func (s *Store) CancelDelete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = ""
}

// Delete removes a confirmed record. A key that is not held locally fails
// with ErrNotFound before any remote call.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	i := s.indexLocked(key)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	if s.pending != key {
		s.mu.Unlock()
		return ErrNoConfirmation
	}
	if err := s.beginLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	rec := s.list[i]
	s.mu.Unlock()

	err := s.src.Delete(ctx, rec)

	s.mu.Lock()
	s.submitting = false
	if err != nil {
		s.pending = ""
		s.mu.Unlock()
		return fmt.Errorf("delete %s %s: %w", s.view.Name, key, err)
	}
	if j := s.indexLocked(key); j >= 0 {
		s.list = slices.Delete(s.list, j, j+1)
	}
	s.generation++
	s.deselectLocked()
	s.mu.Unlock()

	s.changed(ctx)
	if s.view.Reconcile == domains.ReconcileRefetch {
		s.reload(ctx)
	}
	return nil
}

// ToggleHighlight flips the highlight flag of key and returns the new value.
func (s *Store) ToggleHighlight(ctx context.Context, key string) (bool, error) {
	if s.view.HighlightField == "" {
		return false, fmt.Errorf("view %s has no highlight field", s.view.Name)
	}
	s.mu.Lock()
	i := s.indexLocked(key)
	if i < 0 {
		s.mu.Unlock()
		return false, ErrNotFound
	}
	if err := s.beginLocked(); err != nil {
		s.mu.Unlock()
		return false, err
	}
	next := !s.list[i].Bool(s.view.HighlightField)
	s.mu.Unlock()

	err := s.src.SetHighlight(ctx, key, next)

	s.mu.Lock()
	s.submitting = false
	if err != nil {
		s.mu.Unlock()
		return !next, fmt.Errorf("highlight %s %s: %w", s.view.Name, key, err)
	}
	if j := s.indexLocked(key); j >= 0 {
		if patched, perr := s.list[j].Set(s.view.HighlightField, next); perr == nil {
			s.list[j] = patched
		}
	}
	s.generation++
	s.mu.Unlock()

	s.changed(ctx)
	return next, nil
}

// Create submits a new record. On failure the caller still holds its input.
func (s *Store) Create(ctx context.Context, payload records.Record, files []gateway.File) (records.Record, error) {
	s.mu.Lock()
	if err := s.beginLocked(); err != nil {
		s.mu.Unlock()
		return records.Record{}, err
	}
	s.mu.Unlock()

	created, err := s.src.Create(ctx, payload, files)

	s.mu.Lock()
	s.submitting = false
	if err != nil {
		s.mu.Unlock()
		return records.Record{}, fmt.Errorf("create %s: %w", s.view.Name, err)
	}
	refetch := s.view.Reconcile == domains.ReconcileRefetch || created.Key(s.view.IDField) == "" || s.state == Loading
	if !refetch {
		s.list = append(s.list, created)
		if len(s.columns) == 0 {
			s.columns = records.ColumnsFor(s.visibleLocked(), s.view.Columns)
		}
		s.generation++
	}
	s.mu.Unlock()

	s.changed(ctx)
	if refetch {
		s.reload(ctx)
	}
	return created, nil
}

// Update replaces the record at key and keeps the detail view on it.
func (s *Store) Update(ctx context.Context, key string, payload records.Record, files []gateway.File) (records.Record, error) {
	s.mu.Lock()
	if s.indexLocked(key) < 0 {
		s.mu.Unlock()
		return records.Record{}, ErrNotFound
	}
	if err := s.beginLocked(); err != nil {
		s.mu.Unlock()
		return records.Record{}, err
	}
	s.mu.Unlock()

	updated, err := s.src.Update(ctx, key, payload, files)

	s.mu.Lock()
	s.submitting = false
	if err != nil {
		s.mu.Unlock()
		return records.Record{}, fmt.Errorf("update %s %s: %w", s.view.Name, key, err)
	}
	refetch := s.view.Reconcile == domains.ReconcileRefetch
	if j := s.indexLocked(key); j >= 0 && !refetch {
		s.list[j] = updated
		s.generation++
	}
	s.mu.Unlock()

	s.changed(ctx)
	if refetch {
		s.reload(ctx)
		_ = s.Select(key)
	}
	return updated, nil
}

// Move copies key into dest without its identity field, then deletes it
// here. If the delete fails the copy is removed again.
func (s *Store) Move(ctx context.Context, key string, dest *Store) error {
	s.mu.Lock()
	i := s.indexLocked(key)
	if i < 0 {
		s.mu.Unlock()
		return ErrNotFound
	}
	if err := s.beginLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	rec := s.list[i]
	s.mu.Unlock()

	done := func() {
		s.mu.Lock()
		s.submitting = false
		s.mu.Unlock()
	}

	payload := rec.Without(s.view.IDField)
	if s.view.HighlightField != "" {
		payload = payload.Without(s.view.HighlightField)
	}
	copied, err := dest.src.Create(ctx, payload, nil)
	if err != nil {
		done()
		return fmt.Errorf("move %s to %s: copy: %w", key, dest.view.Name, err)
	}

	if err := s.src.Delete(ctx, rec); err != nil {
		done()
		if copied.Key(dest.view.IDField) == "" {
			found, lerr := dest.locateCopy(ctx, payload)
			if lerr != nil {
				s.log.ErrorContext(ctx, "move failed and the copy cannot be identified for removal", "key", key, "dest", dest.view.Name, "error", lerr)
				return fmt.Errorf("move %s to %s: delete: %w", key, dest.view.Name, errors.Join(err, lerr))
			}
			copied = found
		}
		copyKey := copied.Key(dest.view.IDField)
		if cerr := dest.src.Delete(ctx, copied); cerr != nil {
			s.log.ErrorContext(ctx, "move compensation failed", "key", key, "copy", copyKey, "error", cerr)
			return fmt.Errorf("move %s to %s: delete: %w", key, dest.view.Name, errors.Join(err, cerr))
		}
		return fmt.Errorf("move %s to %s: delete: %w", key, dest.view.Name, err)
	}

	s.mu.Lock()
	s.submitting = false
	if j := s.indexLocked(key); j >= 0 {
		s.list = slices.Delete(s.list, j, j+1)
	}
	s.generation++
	s.deselectLocked()
	s.mu.Unlock()

	dest.Invalidate()
	s.changed(ctx)
	return nil
}

// locateCopy finds the record a create produced when the backend answered
// without its key. The newest keyed record carrying every payload field wins.
func (s *Store) locateCopy(ctx context.Context, payload records.Record) (records.Record, error) {
	list, err := s.src.List(ctx)
	if err != nil {
		return records.Record{}, fmt.Errorf("locate copy: %w", err)
	}
	fields := payload.Fields()
	for i := len(list) - 1; i >= 0; i-- {
		rec := list[i]
		if rec.Key(s.view.IDField) == "" {
			continue
		}
		if carries(rec, payload, fields) {
			return rec, nil
		}
	}
	return records.Record{}, fmt.Errorf("locate copy: %w", ErrNotFound)
}

func carries(rec, payload records.Record, fields []string) bool {
	for _, f := range fields {
		path := records.FieldPath(f)
		if !reflect.DeepEqual(rec.Get(path).Value(), payload.Get(path).Value()) {
			return false
		}
	}
	return true
}

// Snapshot is an immutable copy of the store for rendering.
type Snapshot struct {
	View          domains.View
	State         State
	Columns       []records.Column
	Rows          []records.Row
	Selected      records.Record
	HasSelection  bool
	PendingDelete string
	Submitting    bool
	LoadedAt      time.Time
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		View:          s.view,
		State:         s.state,
		Columns:       slices.Clone(s.columns),
		Rows:          records.Rows(s.visibleLocked(), s.columns, s.view.IDField),
		PendingDelete: s.pending,
		Submitting:    s.submitting,
		LoadedAt:      s.loadedAt,
	}
	if i := s.indexLocked(s.selected); s.selected != "" && i >= 0 {
		snap.Selected = s.list[i]
		snap.HasSelection = true
	}
	return snap
}

// Visible returns the records that pass the view filter, in store order.
func (s *Store) Visible() []records.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visibleLocked()
}

// Find returns the locally held record for key.
func (s *Store) Find(key string) (records.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(key); i >= 0 {
		return s.list[i], true
	}
	return records.Record{}, false
}

func (s *Store) visibleLocked() []records.Record {
	out := make([]records.Record, 0, len(s.list))
	for _, r := range s.list {
		if s.view.Keeps(r) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) indexLocked(key string) int {
	if key == "" {
		return -1
	}
	return slices.IndexFunc(s.list, func(r records.Record) bool { return r.Key(s.view.IDField) == key })
}

func (s *Store) beginLocked() error {
	if s.submitting {
		return ErrBusy
	}
	s.submitting = true
	return nil
}

func (s *Store) reload(ctx context.Context) {
	if err := s.Load(ctx); err != nil && !errors.Is(err, ErrStale) {
		s.log.WarnContext(ctx, "reload after mutation failed", "error", err)
		s.Invalidate()
	}
}

func (s *Store) changed(ctx context.Context) {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
	s.log.DebugContext(ctx, "store changed")
}
