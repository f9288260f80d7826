// Package backup snapshots every backend domain into one xz compressed JSON
// document.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ulikunitz/xz"
	"golang.org/x/sync/errgroup"

	"github.com/phillip-england/clubadmin/internal/records"
)

type Snapshot struct {
	TakenAt time.Time                   `json:"takenAt"`
	Domains map[string][]records.Record `json:"domains"`
}

// Lister is anything that can fetch a full domain list.
type Lister interface {
	List(ctx context.Context) ([]records.Record, error)
}

// Take lists every source concurrently. Any failure aborts the snapshot so a
// backup is never silently partial.
func Take(ctx context.Context, sources map[string]Lister, now time.Time) (Snapshot, error) {
	names := sortedNames(sources)
	lists := make([][]records.Record, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			list, err := sources[name].List(gctx)
			if err != nil {
				return fmt.Errorf("backup %s: %w", name, err)
			}
			if list == nil {
				list = []records.Record{}
			}
			lists[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{TakenAt: now.UTC(), Domains: make(map[string][]records.Record, len(names))}
	for i, name := range names {
		snap.Domains[name] = lists[i]
	}
	return snap, nil
}

func Write(w io.Writer, snap Snapshot) error {
	zw, err := xz.NewWriter(w)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		_ = zw.Close()
		return fmt.Errorf("backup: encode: %w", err)
	}
	return zw.Close()
}

func Read(r io.Reader) (Snapshot, error) {
	zr, err := xz.NewReader(r)
	if err != nil {
		return Snapshot{}, fmt.Errorf("backup: not an xz stream: %w", err)
	}
	var snap Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("backup: decode: %w", err)
	}
	return snap, nil
}

// WriteFile writes snap to path through a temp file in the same directory.
func WriteFile(path string, snap Snapshot) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".backup-*")
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Write(tmp, snap); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func ReadFile(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("backup: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Count is one line of a snapshot summary.
type Count struct {
	Domain  string
	Records int
}

func (s Snapshot) Summary() []Count {
	out := make([]Count, 0, len(s.Domains))
	for _, name := range sortedNames(s.Domains) {
		out = append(out, Count{Domain: name, Records: len(s.Domains[name])})
	}
	return out
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
