// Package devapi is an in-memory stand-in for the domain record API and the
// image host, used for local runs and end-to-end tests.
package devapi

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"path"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/phillip-england/clubadmin/internal/config"
	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/middleware"
	"github.com/phillip-england/clubadmin/internal/records"
)

//go:embed seed.json
var seedData []byte

// BareViews answer list calls with a bare array and create calls with a
// status message only, like the membership backend does.
var BareViews = []string{"registrations", "rejected"}

type Options struct {
	Seed   bool
	Tenant string
	Site   string
	// Bare overrides BareViews when non-nil.
	Bare []string
}

type collection struct {
	view domains.View
	bare bool
	list []records.Record
}

type Server struct {
	log    *slog.Logger
	tenant string
	site   string

	mu          sync.Mutex
	collections map[string]*collection
	images      map[string][]byte
}

func New(catalog *domains.Catalog, opts Options, logger *slog.Logger) (*Server, error) {
	bare := opts.Bare
	if bare == nil {
		bare = BareViews
	}
	s := &Server{
		log:         logger.With("adapter", "devapi"),
		tenant:      opts.Tenant,
		site:        opts.Site,
		collections: map[string]*collection{},
		images:      map[string][]byte{},
	}
	for _, v := range catalog.Sources() {
		s.collections[v.Name] = &collection{view: v, bare: slices.Contains(bare, v.Name)}
	}
	if opts.Seed {
		if err := s.seed(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) seed() error {
	var raw map[string][]json.RawMessage
	if err := json.Unmarshal(seedData, &raw); err != nil {
		return fmt.Errorf("parse seed data: %w", err)
	}
	placeholder, err := placeholderJPEG()
	if err != nil {
		return err
	}
	for name, items := range raw {
		c, ok := s.collections[name]
		if !ok {
			continue
		}
		for _, item := range items {
			rec, err := records.Parse(string(item))
			if err != nil {
				return fmt.Errorf("seed %s: %w", name, err)
			}
			c.list = append(c.list, rec)
			if c.view.ImageField != "" {
				for _, f := range rec.Strings(c.view.ImageField) {
					s.images[f] = placeholder
				}
			}
		}
	}
	return nil
}

// Handler routes every source view of the catalog plus the image host.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	for name, c := range s.collections {
		v := c.view
		mux.HandleFunc("GET "+v.Path(v.Endpoints.List, ""), s.list(name))
		mux.HandleFunc("POST "+v.Path(v.Endpoints.Create, ""), s.create(name))
		mux.HandleFunc("PUT "+v.Path(v.Endpoints.Update, "{id}"), s.update(name))
		mux.HandleFunc("PATCH "+v.Path(v.Endpoints.Highlight, "{id}"), s.patch(name))
		mux.HandleFunc("DELETE "+v.Path(v.Endpoints.Delete, "{id}"), s.remove(name))
	}
	mux.HandleFunc("POST /image/upload/{tenant}/{site}", s.upload)
	mux.HandleFunc("GET /image/download/{tenant}/{site}/{filename}", s.download)

	return middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Recovery(s.log),
		middleware.Logger(s.log),
	)
}

// Run serves the stand-in until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, catalog *domains.Catalog, logger *slog.Logger) error {
	s, err := New(catalog, Options{Seed: cfg.DevAPI.Seed, Tenant: cfg.Images.Tenant, Site: cfg.Images.Site}, logger)
	if err != nil {
		return err
	}
	httpServer := &http.Server{
		Addr:              cfg.DevAPI.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("devapi listening", "addr", cfg.DevAPI.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Records returns a copy of one collection, for tests.
func (s *Server) Records(name string) []records.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	return slices.Clone(c.list)
}

// HasImage reports whether filename is stored on the image host.
func (s *Server) HasImage(filename string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.images[filename]
	return ok
}

func (s *Server) list(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		c := s.collections[name]
		list := slices.Clone(c.list)
		bare := c.bare
		s.mu.Unlock()

		if list == nil {
			list = []records.Record{}
		}
		if bare {
			writeJSON(w, http.StatusOK, list)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": list})
	}
}

func (s *Server) create(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := readRecord(w, r)
		if !ok {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		c := s.collections[name]

		key := rec.Key(c.view.IDField)
		if key == "" {
			key = uuid.NewString()
			var err error
			if rec, err = rec.Set(c.view.IDField, key); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		} else if c.index(key) >= 0 {
			writeError(w, http.StatusConflict, "record already exists")
			return
		}
		c.list = append(c.list, rec)
		if c.bare {
			writeJSON(w, http.StatusCreated, map[string]string{"message": "form submitted successfully"})
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"message": "created", "data": rec})
	}
}

func (s *Server) update(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := readRecord(w, r)
		if !ok {
			return
		}
		key := r.PathValue("id")
		s.mu.Lock()
		defer s.mu.Unlock()
		c := s.collections[name]

		i := c.index(key)
		if i < 0 {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		rec, err := rec.Set(c.view.IDField, key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		c.list[i] = rec
		writeJSON(w, http.StatusOK, map[string]any{"data": rec})
	}
}

// patch merges the top-level fields of the body into the stored record.
func (s *Server) patch(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		partial, ok := readRecord(w, r)
		if !ok {
			return
		}
		key := r.PathValue("id")
		s.mu.Lock()
		defer s.mu.Unlock()
		c := s.collections[name]

		i := c.index(key)
		if i < 0 {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		merged := c.list[i]
		var err error
		gjson.Parse(partial.Raw()).ForEach(func(k, v gjson.Result) bool {
			if k.String() == c.view.IDField {
				return true
			}
			merged, err = merged.Set(k.String(), v.Value())
			return err == nil
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		c.list[i] = merged
		writeJSON(w, http.StatusOK, map[string]string{"message": "updated"})
	}
}

func (s *Server) remove(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("id")
		s.mu.Lock()
		defer s.mu.Unlock()
		c := s.collections[name]

		i := c.index(key)
		if i < 0 {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		c.list = slices.Delete(c.list, i, i+1)
		writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
	}
}

func (c *collection) index(key string) int {
	return slices.IndexFunc(c.list, func(rec records.Record) bool {
		return rec.Key(c.view.IDField) == key
	})
}

const maxUploadBytes = 32 << 20

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	if !s.tenantMatches(r) {
		writeError(w, http.StatusNotFound, "unknown tenant or site")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files uploaded")
		return
	}

	type uploaded struct {
		Filename string `json:"filename"`
	}
	out := make([]uploaded, 0, len(headers))
	stored := map[string][]byte{}
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file")
			return
		}
		name := uuid.NewString() + strings.ToLower(path.Ext(fh.Filename))
		stored[name] = data
		out = append(out, uploaded{Filename: name})
	}

	s.mu.Lock()
	for name, data := range stored {
		s.images[name] = data
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"message": "images uploaded", "uploadedImages": out})
}

// download serves a stored image, or deletes it when ?delete=both is given.
// Quality and format parameters are accepted and ignored.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	if !s.tenantMatches(r) {
		writeError(w, http.StatusNotFound, "unknown tenant or site")
		return
	}
	name := r.PathValue("filename")

	s.mu.Lock()
	data, ok := s.images[name]
	if ok && r.URL.Query().Get("delete") == "both" {
		delete(s.images, name)
	}
	s.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "image not found")
		return
	}
	if r.URL.Query().Get("delete") == "both" {
		writeJSON(w, http.StatusOK, map[string]string{"message": "image deleted"})
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(data)
}

func (s *Server) tenantMatches(r *http.Request) bool {
	return (s.tenant == "" || r.PathValue("tenant") == s.tenant) &&
		(s.site == "" || r.PathValue("site") == s.site)
}

func readRecord(w http.ResponseWriter, r *http.Request) (records.Record, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return records.Record{}, false
	}
	rec, err := records.Parse(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return records.Record{}, false
	}
	return rec, true
}

func placeholderJPEG() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	fill := color.RGBA{R: 0xc8, G: 0xd6, B: 0xe5, A: 0xff}
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, fmt.Errorf("encode placeholder: %w", err)
	}
	return buf.Bytes(), nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
