package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/gateway"
	"github.com/phillip-england/clubadmin/internal/records"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	mu        sync.Mutex
	idField   string
	list      []records.Record
	next      int
	failNext  error
	deletes   []string
	highlight []bool
	listHook  func()
	// keyless makes Create answer without the new record's key.
	keyless bool
}

func (f *fakeSource) fail() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeSource) List(ctx context.Context) ([]records.Record, error) {
	f.mu.Lock()
	hook := f.listHook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	return append([]records.Record(nil), f.list...), nil
}

func (f *fakeSource) Create(ctx context.Context, payload records.Record, files []gateway.File) (records.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return records.Record{}, err
	}
	f.next++
	rec, err := payload.Set(f.idField, "new-"+string(rune('0'+f.next)))
	if err != nil {
		return records.Record{}, err
	}
	f.list = append(f.list, rec)
	if f.keyless {
		return payload, nil
	}
	return rec, nil
}

func (f *fakeSource) Update(ctx context.Context, key string, payload records.Record, files []gateway.File) (records.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return records.Record{}, err
	}
	return payload.Set(f.idField, key)
}

func (f *fakeSource) SetHighlight(ctx context.Context, key string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.highlight = append(f.highlight, on)
	return nil
}

func (f *fakeSource) Delete(ctx context.Context, rec records.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	key := rec.Key(f.idField)
	f.deletes = append(f.deletes, key)
	for i, r := range f.list {
		if r.Key(f.idField) == key {
			f.list = append(f.list[:i], f.list[i+1:]...)
			return nil
		}
	}
	return gateway.ErrNotFound
}

func view(t *testing.T, name string) domains.View {
	t.Helper()
	cat, err := domains.Load("")
	require.NoError(t, err)
	v, ok := cat.View(name)
	require.True(t, ok)
	return v
}

func members() *fakeSource {
	return &fakeSource{
		idField: "Formid",
		list: []records.Record{
			records.MustParse(`{"Formid":"1","Name":"A","Dob":"2000-01-01","Mobileno":"9876543210","Jcname":"X","highlighted":false}`),
			records.MustParse(`{"Formid":"2","Name":"B","Dob":"2001-02-02","Mobileno":"9876543211","Jcname":"Y","highlighted":true}`),
		},
	}
}

func loaded(t *testing.T, name string, src Source) *Store {
	t.Helper()
	s := New(view(t, name), src, newTestLogger())
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestLoadEntersListing(t *testing.T) {
	s := New(view(t, "registrations"), members(), newTestLogger())
	assert.Equal(t, Loading, s.State())
	require.NoError(t, s.Load(context.Background()))

	snap := s.Snapshot()
	assert.Equal(t, Listing, snap.State)
	require.Len(t, snap.Rows, 2)
	assert.Equal(t, 1, snap.Rows[0].Ordinal)
	assert.Equal(t, []string{"A", "2000-01-01", "9876543210", "X", "false"}, snap.Rows[0].Cells)
}

func TestLoadFailureKeepsState(t *testing.T) {
	src := members()
	src.failNext = errors.New("boom")
	s := New(view(t, "registrations"), src, newTestLogger())
	require.Error(t, s.Load(context.Background()))
	assert.Equal(t, Loading, s.State())

	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.Select("1"))
	src.failNext = errors.New("boom")
	require.Error(t, s.Load(context.Background()))
	assert.Equal(t, Detail, s.State())
}

func TestSelectAndBackKeepList(t *testing.T) {
	s := loaded(t, "registrations", members())
	before := s.Snapshot().Rows

	require.NoError(t, s.Select("2"))
	snap := s.Snapshot()
	assert.Equal(t, Detail, snap.State)
	require.True(t, snap.HasSelection)
	assert.Equal(t, "B", snap.Selected.Text("Name"))

	s.Deselect()
	after := s.Snapshot()
	assert.Equal(t, Listing, after.State)
	assert.False(t, after.HasSelection)
	assert.Equal(t, before, after.Rows)

	assert.ErrorIs(t, s.Select("nope"), ErrNotFound)
}

func TestDeleteRemovesOnceAndSecondDeleteIsNotFound(t *testing.T) {
	src := members()
	s := loaded(t, "registrations", src)
	ctx := context.Background()

	require.NoError(t, s.Select("1"))
	assert.ErrorIs(t, s.Delete(ctx, "1"), ErrNoConfirmation)

	require.NoError(t, s.RequestDelete("1"))
	require.NoError(t, s.Delete(ctx, "1"))

	snap := s.Snapshot()
	assert.Equal(t, Listing, snap.State)
	assert.False(t, snap.HasSelection)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "2", snap.Rows[0].Key)

	assert.ErrorIs(t, s.Delete(ctx, "1"), ErrNotFound)
	assert.ErrorIs(t, s.RequestDelete("1"), ErrNotFound)
	assert.Equal(t, []string{"1"}, src.deletes)
}

func TestDeleteFailureStaysInDetail(t *testing.T) {
	src := members()
	s := loaded(t, "registrations", src)
	require.NoError(t, s.RequestDelete("2"))
	src.failNext = errors.New("down")

	require.Error(t, s.Delete(context.Background(), "2"))
	snap := s.Snapshot()
	assert.Equal(t, Detail, snap.State)
	assert.Len(t, snap.Rows, 2)
	assert.Empty(t, snap.PendingDelete)
}

func TestCancelDelete(t *testing.T) {
	s := loaded(t, "registrations", members())
	require.NoError(t, s.RequestDelete("2"))
	s.CancelDelete()
	assert.ErrorIs(t, s.Delete(context.Background(), "2"), ErrNoConfirmation)
}

func TestToggleHighlightTwiceRestores(t *testing.T) {
	src := members()
	s := loaded(t, "registrations", src)
	ctx := context.Background()

	on, err := s.ToggleHighlight(ctx, "1")
	require.NoError(t, err)
	assert.True(t, on)
	rec, _ := s.Find("1")
	assert.True(t, rec.Bool("highlighted"))

	on, err = s.ToggleHighlight(ctx, "1")
	require.NoError(t, err)
	assert.False(t, on)
	rec, _ = s.Find("1")
	assert.False(t, rec.Bool("highlighted"))
	assert.Equal(t, []bool{true, false}, src.highlight)
}

func TestToggleHighlightFailureLeavesRecord(t *testing.T) {
	src := members()
	s := loaded(t, "registrations", src)
	src.failNext = errors.New("down")

	_, err := s.ToggleHighlight(context.Background(), "2")
	require.Error(t, err)
	rec, _ := s.Find("2")
	assert.True(t, rec.Bool("highlighted"))
}

func TestFilteredViewShowsHighlightedOnly(t *testing.T) {
	s := loaded(t, "members", members())
	rows := s.Snapshot().Rows
	require.Len(t, rows, 1)
	assert.Equal(t, "2", rows[0].Key)
	assert.ErrorIs(t, s.Select("1"), ErrNotFound)
}

func TestCreateAppendsAndBusyGuard(t *testing.T) {
	src := &fakeSource{idField: "id"}
	s := loaded(t, "designations", src)

	rec, err := s.Create(context.Background(), records.MustParse(`{"title":"Chair"}`), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Key("id"))
	assert.Len(t, s.Visible(), 1)

	s.mu.Lock()
	s.submitting = true
	s.mu.Unlock()
	_, err = s.Create(context.Background(), records.MustParse(`{"title":"Vice"}`), nil)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestCreateFailureReturnsError(t *testing.T) {
	src := &fakeSource{idField: "id"}
	s := loaded(t, "designations", src)
	src.failNext = errors.New("nope")

	_, err := s.Create(context.Background(), records.MustParse(`{"title":"Chair"}`), nil)
	require.Error(t, err)
	assert.Empty(t, s.Visible())
}

func TestUpdatePatchesInPlace(t *testing.T) {
	s := loaded(t, "registrations", members())
	require.NoError(t, s.Select("1"))

	_, err := s.Update(context.Background(), "1", records.MustParse(`{"Name":"Ann"}`), nil)
	require.NoError(t, err)
	rec, ok := s.Find("1")
	require.True(t, ok)
	assert.Equal(t, "Ann", rec.Text("Name"))
	assert.Equal(t, "1", s.Visible()[0].Key("Formid"))
}

func TestStaleLoadIsDiscarded(t *testing.T) {
	src := members()
	s := New(view(t, "registrations"), src, newTestLogger())

	release := make(chan struct{})
	entered := make(chan struct{})
	var first atomic.Bool
	src.listHook = func() {
		if first.CompareAndSwap(false, true) {
			close(entered)
			<-release
		}
	}

	errs := make(chan error, 1)
	go func() { errs <- s.Load(context.Background()) }()
	<-entered

	src.mu.Lock()
	src.list = src.list[:1]
	src.mu.Unlock()
	require.NoError(t, s.Load(context.Background()))

	close(release)
	assert.ErrorIs(t, <-errs, ErrStale)
	assert.Len(t, s.Visible(), 1)
}

func TestMoveCompensatesWhenDeleteFails(t *testing.T) {
	regs := members()
	rejected := &fakeSource{idField: "Formid"}
	from := loaded(t, "registrations", regs)
	dest := loaded(t, "rejected", rejected)

	regs.failNext = errors.New("delete failed")
	err := from.Move(context.Background(), "1", dest)
	require.Error(t, err)
	assert.Empty(t, rejected.list)
	assert.Len(t, from.Visible(), 2)

	require.NoError(t, from.Move(context.Background(), "1", dest))
	assert.Len(t, from.Visible(), 1)
	require.Len(t, rejected.list, 1)
	assert.Equal(t, "A", rejected.list[0].Text("Name"))
	assert.False(t, rejected.list[0].Has("highlighted"))
	assert.Equal(t, Loading, dest.State())
}

func TestMoveFindsKeylessCopyToRemove(t *testing.T) {
	regs := members()
	rejected := &fakeSource{idField: "Formid", keyless: true, list: []records.Record{
		records.MustParse(`{"Formid":"r1","Name":"B","Dob":"2001-01-01","Mobileno":"9876543211","Jcname":"Y"}`),
	}}
	from := loaded(t, "registrations", regs)
	dest := loaded(t, "rejected", rejected)

	regs.failNext = errors.New("delete failed")
	err := from.Move(context.Background(), "1", dest)
	require.Error(t, err)
	assert.ErrorContains(t, err, "delete failed")
	assert.Equal(t, []string{"new-1"}, rejected.deletes)
	require.Len(t, rejected.list, 1)
	assert.Equal(t, "r1", rejected.list[0].Key("Formid"))
	assert.Len(t, from.Visible(), 2)
}

func TestMoveReportsUnlocatableCopy(t *testing.T) {
	regs := members()
	rejected := &fakeSource{idField: "Formid", keyless: true}
	from := loaded(t, "registrations", regs)
	dest := loaded(t, "rejected", rejected)

	regs.failNext = errors.New("delete failed")
	rejected.listHook = func() {
		rejected.mu.Lock()
		rejected.failNext = errors.New("list failed")
		rejected.mu.Unlock()
	}
	err := from.Move(context.Background(), "1", dest)
	require.Error(t, err)
	assert.ErrorContains(t, err, "delete failed")
	assert.ErrorContains(t, err, "list failed")
}

func TestEnsureRetriesAfterStaleLoad(t *testing.T) {
	src := members()
	cat, err := domains.Load("")
	require.NoError(t, err)
	ws := NewWorkspace(cat, func(domains.View) Source { return src }, newTestLogger())

	regs, err := ws.Store("registrations")
	require.NoError(t, err)
	var calls atomic.Int32
	src.listHook = func() {
		if calls.Add(1) == 1 {
			regs.Invalidate()
		}
	}

	got, err := ws.Ensure(context.Background(), "registrations")
	require.NoError(t, err)
	assert.Same(t, regs, got)
	assert.Equal(t, Listing, got.State())
	assert.Equal(t, int32(2), calls.Load())
}

func TestWorkspaceInvalidatesSiblings(t *testing.T) {
	src := members()
	cat, err := domains.Load("")
	require.NoError(t, err)
	ws := NewWorkspace(cat, func(domains.View) Source { return src }, newTestLogger())
	ctx := context.Background()

	regs, err := ws.Ensure(ctx, "registrations")
	require.NoError(t, err)
	accepted, err := ws.Ensure(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, Listing, accepted.State())

	_, err = regs.ToggleHighlight(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, Loading, accepted.State())

	_, err = ws.Store("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
