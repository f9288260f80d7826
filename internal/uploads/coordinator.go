// Package uploads runs the two-phase image workflow: files go to the image
// host first, then the record that references them is written to its domain.
// Every step is journaled so partial failures can be cleaned up.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/gateway"
	"github.com/phillip-england/clubadmin/internal/records"
)

// DomainAPI is the record side of a view.
type DomainAPI interface {
	List(ctx context.Context) ([]records.Record, error)
	Create(ctx context.Context, payload records.Record) (records.Record, error)
	Update(ctx context.Context, key string, payload records.Record) (records.Record, error)
	SetHighlight(ctx context.Context, key string, on bool) error
	Delete(ctx context.Context, key string) error
}

// ImageAPI is the file side.
type ImageAPI interface {
	Upload(ctx context.Context, files []gateway.File) ([]string, error)
	Delete(ctx context.Context, filename string) error
}

// Normalizer rewrites a file before upload.
type Normalizer func(gateway.File) (gateway.File, error)

// Coordinator implements store.Source for one view.
type Coordinator struct {
	view      domains.View
	domain    DomainAPI
	images    ImageAPI
	journal   *Journal
	normalize Normalizer
	log       *slog.Logger
}

type Option func(*Coordinator)

func WithNormalizer(n Normalizer) Option {
	return func(c *Coordinator) { c.normalize = n }
}

func NewCoordinator(view domains.View, domain DomainAPI, images ImageAPI, journal *Journal, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		view:    view,
		domain:  domain,
		images:  images,
		journal: journal,
		log:     logger.With("component", "uploads", "view", view.Name),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) List(ctx context.Context) ([]records.Record, error) {
	return c.domain.List(ctx)
}

func (c *Coordinator) SetHighlight(ctx context.Context, key string, on bool) error {
	return c.domain.SetHighlight(ctx, key, on)
}

// Create uploads files, journals them as pending, then creates the record
// with the generated filenames. If the record create fails the uploads are
// deleted again.
func (c *Coordinator) Create(ctx context.Context, payload records.Record, files []gateway.File) (records.Record, error) {
	if len(files) == 0 || !c.view.HasImages() {
		return c.domain.Create(ctx, payload)
	}

	names, ids, err := c.stage(ctx, files)
	if err != nil {
		return records.Record{}, err
	}
	payload, err = c.attach(payload, names, false)
	if err != nil {
		c.rollback(ctx, ids, names, err)
		return records.Record{}, err
	}

	created, err := c.domain.Create(ctx, payload)
	if err != nil {
		c.rollback(ctx, ids, names, err)
		return records.Record{}, err
	}
	c.commit(ctx, ids, created.Key(c.view.IDField))
	return created, nil
}

// Update writes payload. New files are staged like Create. A single image
// field replaces the previous file, which is removed once the record update
// succeeded; a multi image field keeps its files and appends the new ones.
func (c *Coordinator) Update(ctx context.Context, key string, payload records.Record, files []gateway.File) (records.Record, error) {
	if len(files) == 0 || !c.view.HasImages() {
		return c.domain.Update(ctx, key, payload)
	}

	previous := payload.Strings(c.view.ImageField)
	names, ids, err := c.stage(ctx, files)
	if err != nil {
		return records.Record{}, err
	}
	payload, err = c.attach(payload, names, c.view.MultiImage)
	if err != nil {
		c.rollback(ctx, ids, names, err)
		return records.Record{}, err
	}

	updated, err := c.domain.Update(ctx, key, payload)
	if err != nil {
		c.rollback(ctx, ids, names, err)
		return records.Record{}, err
	}
	c.commit(ctx, ids, key)

	if !c.view.MultiImage {
		var stale []string
		for _, name := range previous {
			if !slices.Contains(names, name) {
				stale = append(stale, name)
			}
		}
		c.release(ctx, key, stale)
	}
	return updated, nil
}

// Delete removes the record first and its files only after that succeeded.
// Files the host refuses to delete are journaled as orphaned.
func (c *Coordinator) Delete(ctx context.Context, rec records.Record) error {
	key := rec.Key(c.view.IDField)
	if err := c.domain.Delete(ctx, key); err != nil {
		return err
	}
	if c.view.HasImages() {
		c.release(ctx, key, rec.Strings(c.view.ImageField))
	}
	return nil
}

// Sweep retries the deletion of every orphaned file and reports how many
// were cleaned and how many remain.
func (c *Coordinator) Sweep(ctx context.Context) (cleaned, remaining int, err error) {
	return Sweep(ctx, c.journal, c.images, c.log)
}

// Sweep is the view independent form used by the CLI.
func Sweep(ctx context.Context, journal *Journal, images ImageAPI, logger *slog.Logger) (cleaned, remaining int, err error) {
	entries, err := journal.ByStatus(ctx, StatusOrphaned)
	if err != nil {
		return 0, 0, fmt.Errorf("sweep: %w", err)
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return cleaned, len(entries) - cleaned, ctx.Err()
		}
		derr := images.Delete(ctx, e.Filename)
		if derr != nil && !errors.Is(derr, gateway.ErrNotFound) {
			remaining++
			logger.WarnContext(ctx, "orphan still present", "filename", e.Filename, "attempts", e.Attempts+1, "error", derr)
			if jerr := journal.Attempted(ctx, e.ID, derr); jerr != nil {
				return cleaned, remaining, jerr
			}
			continue
		}
		if err := journal.Mark(ctx, []string{e.ID}, StatusCleaned, "", ""); err != nil {
			return cleaned, remaining, err
		}
		cleaned++
	}
	return cleaned, remaining, nil
}

func (c *Coordinator) stage(ctx context.Context, files []gateway.File) ([]string, []string, error) {
	if !c.view.MultiImage && len(files) > 1 {
		files = files[:1]
	}
	if c.normalize != nil {
		prepared := make([]gateway.File, 0, len(files))
		for _, f := range files {
			nf, err := c.normalize(f)
			if err != nil {
				return nil, nil, fmt.Errorf("prepare %s: %w", f.Name, err)
			}
			prepared = append(prepared, nf)
		}
		files = prepared
	}

	names, err := c.images.Upload(ctx, files)
	if err != nil {
		return nil, nil, err
	}
	if len(names) == 0 {
		return nil, nil, &gateway.ShapeError{Op: "upload images", Err: errors.New("no filenames returned")}
	}
	ids, err := c.journal.Add(ctx, c.view.Name, StatusPending, "", "", names)
	if err != nil {
		c.log.ErrorContext(ctx, "journal unavailable, undoing upload", "error", err)
		c.deleteAll(ctx, names)
		return nil, nil, fmt.Errorf("journal uploads: %w", err)
	}
	return names, ids, nil
}

func (c *Coordinator) attach(payload records.Record, names []string, appendMulti bool) (records.Record, error) {
	if !c.view.MultiImage {
		return payload.Set(c.view.ImageField, names[0])
	}
	all := names
	if appendMulti {
		all = append(payload.Strings(c.view.ImageField), names...)
	}
	return payload.Set(c.view.ImageField, all)
}

func (c *Coordinator) commit(ctx context.Context, ids []string, key string) {
	if err := c.journal.Mark(ctx, ids, StatusCommitted, key, ""); err != nil {
		c.log.WarnContext(ctx, "failed to mark uploads committed", "key", key, "error", err)
	}
}

// rollback deletes files staged for a record that was never written.
func (c *Coordinator) rollback(ctx context.Context, ids, names []string, cause error) {
	c.log.WarnContext(ctx, "record write failed, removing staged uploads", "files", len(names), "error", cause)
	for i, name := range names {
		status, lastErr := StatusCleaned, ""
		if err := c.images.Delete(ctx, name); err != nil && !errors.Is(err, gateway.ErrNotFound) {
			status, lastErr = StatusOrphaned, err.Error()
			c.log.ErrorContext(ctx, "staged upload left orphaned", "filename", name, "error", err)
		}
		if i < len(ids) {
			if err := c.journal.Mark(ctx, ids[i:i+1], status, "", lastErr); err != nil {
				c.log.WarnContext(ctx, "journal update failed", "filename", name, "error", err)
			}
		}
	}
}

// release deletes files that belonged to a record which no longer uses them.
func (c *Coordinator) release(ctx context.Context, key string, names []string) {
	for _, name := range names {
		err := c.images.Delete(ctx, name)
		if err == nil || errors.Is(err, gateway.ErrNotFound) {
			continue
		}
		c.log.WarnContext(ctx, "image delete failed, journaling orphan", "filename", name, "key", key, "error", err)
		if _, jerr := c.journal.Add(ctx, c.view.Name, StatusOrphaned, key, err.Error(), []string{name}); jerr != nil {
			c.log.ErrorContext(ctx, "journal update failed", "filename", name, "error", jerr)
		}
	}
}

func (c *Coordinator) deleteAll(ctx context.Context, names []string) {
	for _, name := range names {
		if err := c.images.Delete(ctx, name); err != nil {
			c.log.ErrorContext(ctx, "image delete failed", "filename", name, "error", err)
		}
	}
}
