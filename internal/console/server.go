// Package console serves the admin web console: a sidebar of catalog views,
// a record table per view and a detail inspector per record.
package console

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/csrf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/phillip-england/clubadmin/internal/appstate"
	"github.com/phillip-england/clubadmin/internal/config"
	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/gateway"
	"github.com/phillip-england/clubadmin/internal/imaging"
	"github.com/phillip-england/clubadmin/internal/middleware"
	"github.com/phillip-england/clubadmin/internal/pdfexport"
	"github.com/phillip-england/clubadmin/internal/security"
	"github.com/phillip-england/clubadmin/internal/store"
	"github.com/phillip-england/clubadmin/internal/uploads"
)

const sessionCookieName = "clubadmin_session"

type Config struct {
	Username       string
	PasswordHash   string
	SessionTTL     time.Duration
	CSRFKey        []byte
	SecureCookies  bool
	MaxUploadBytes int64
	ThumbQuality   int
	ThumbFormat    string
	// ImageOrigin is allowed as an image source in the CSP.
	ImageOrigin string
}

// ImageLinks builds browser URLs for stored image files.
type ImageLinks interface {
	URL(filename string, quality int, format string) string
}

type Deps struct {
	Catalog *domains.Catalog
	Sources store.SourceFunc
	Images  ImageLinks
	PDF     pdfexport.Renderer
	State   *appstate.File
	Logger  *slog.Logger
}

type Server struct {
	cfg      Config
	catalog  *domains.Catalog
	sources  store.SourceFunc
	images   ImageLinks
	pdf      pdfexport.Renderer
	state    *appstate.File
	sessions *security.Sessions
	log      *slog.Logger
	pages    map[string]*template.Template
	markdown goldmark.Markdown

	mu         sync.Mutex
	workspaces map[string]*store.Workspace
	visited    map[string]string
}

func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Catalog == nil || deps.Sources == nil {
		return nil, errors.New("console: catalog and sources are required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 20 << 20
	}
	if len(cfg.CSRFKey) == 0 {
		// Sessions do not survive a restart, so neither needs the key.
		cfg.CSRFKey = make([]byte, 32)
		if _, err := rand.Read(cfg.CSRFKey); err != nil {
			return nil, fmt.Errorf("generate csrf key: %w", err)
		}
	}
	if deps.PDF == nil {
		deps.PDF = pdfexport.Disabled{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	pages, err := parsePages()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:      cfg,
		catalog:  deps.Catalog,
		sources:  deps.Sources,
		images:   deps.Images,
		pdf:      deps.PDF,
		state:    deps.State,
		sessions: security.NewSessions(cfg.SessionTTL),
		log:      deps.Logger.With("component", "console"),
		pages:    pages,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
			goldmark.WithRendererOptions(goldhtml.WithHardWraps()),
		),
		workspaces: map[string]*store.Workspace{},
		visited:    map[string]string{},
	}
	s.sessions.OnEnd(s.dropWorkspace)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	admin := func(h http.HandlerFunc) http.Handler {
		return middleware.Chain(h, s.requireAdmin, middleware.NoStore)
	}

	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("GET /assets/app.css", s.appCSSFile)
	mux.HandleFunc("GET /{$}", s.root)
	mux.HandleFunc("GET /login", s.loginPage)
	mux.HandleFunc("POST /login", s.login)
	mux.Handle("POST /logout", admin(s.logout))

	mux.Handle("GET /admin", admin(s.dashboard))
	mux.Handle("GET /admin/{view}", admin(s.listPage))
	mux.Handle("POST /admin/{view}/refresh", admin(s.refresh))
	mux.Handle("GET /admin/{view}/new", admin(s.newPage))
	mux.Handle("POST /admin/{view}/new", admin(s.create))
	mux.Handle("GET /admin/{view}/export.xlsx", admin(s.exportSheet))
	mux.Handle("GET /admin/{view}/import", admin(s.importPage))
	mux.Handle("POST /admin/{view}/import", admin(s.importSheet))
	mux.Handle("GET /admin/{view}/records/{key}", admin(s.detailPage))
	mux.Handle("GET /admin/{view}/records/{key}/edit", admin(s.editPage))
	mux.Handle("POST /admin/{view}/records/{key}/edit", admin(s.update))
	mux.Handle("POST /admin/{view}/records/{key}/highlight", admin(s.toggleHighlight))
	mux.Handle("POST /admin/{view}/records/{key}/reject", admin(s.reject))
	mux.Handle("GET /admin/{view}/records/{key}/delete", admin(s.confirmDelete))
	mux.Handle("POST /admin/{view}/records/{key}/delete", admin(s.delete))
	mux.Handle("GET /admin/{view}/records/{key}/pdf", admin(s.detailPDF))

	csrfProtect := csrf.Protect(
		s.cfg.CSRFKey,
		csrf.Secure(s.cfg.SecureCookies),
		csrf.Path("/"),
		csrf.ErrorHandler(http.HandlerFunc(s.csrfFailure)),
	)

	return middleware.Chain(
		mux,
		middleware.RequestID,
		middleware.Recovery(s.log),
		middleware.Logger(s.log),
		middleware.SecurityHeaders(middleware.SecurityHeadersConfig{
			ContentSecurityPolicy: contentSecurityPolicy(s.cfg.ImageOrigin),
			HSTS:                  s.cfg.SecureCookies,
		}),
		s.markPlaintext,
		csrfProtect,
	)
}

// markPlaintext tells the CSRF check the console is served over plain HTTP,
// so it does not demand an HTTPS referer.
func (s *Server) markPlaintext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.SecureCookies {
			r = csrf.PlaintextHTTPRequest(r)
		}
		next.ServeHTTP(w, r)
	})
}

func contentSecurityPolicy(imageOrigin string) string {
	img := "img-src 'self' data: https://img.youtube.com"
	if imageOrigin != "" {
		img += " " + imageOrigin
	}
	return strings.Join([]string{
		"default-src 'self'",
		"style-src 'self' 'unsafe-inline'",
		img,
		"script-src 'self'",
		"frame-src https://www.youtube.com",
		"connect-src 'self'",
		"frame-ancestors 'none'",
	}, "; ")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}` + "\n"))
}

// Close releases the PDF renderer.
func (s *Server) Close() error {
	return s.pdf.Close()
}

// Run wires the console against the configured backends and serves it
// until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, catalog *domains.Catalog, logger *slog.Logger) error {
	if err := cfg.ValidateConsole(); err != nil {
		return err
	}
	var csrfKey []byte
	if cfg.Console.CSRFKey != "" {
		key, err := cfg.Console.CSRFKeyBytes()
		if err != nil {
			return err
		}
		csrfKey = key
	}

	journal, err := uploads.OpenJournal(ctx, cfg.Storage.Journal())
	if err != nil {
		return err
	}
	defer journal.Close()

	httpClient := gateway.NewHTTPClient(cfg.Backend.Timeout)
	images := gateway.NewImageHost(cfg.Images.BaseURL, cfg.Images.Tenant, cfg.Images.Site, httpClient, logger)
	normalize := imaging.Normalizer(imaging.Options{MaxEdge: cfg.Images.MaxEdge, Quality: cfg.Images.Quality})
	sources := func(v domains.View) store.Source {
		domain := gateway.NewDomainClient(cfg.Backend.BaseURL, v, httpClient, logger)
		return uploads.NewCoordinator(v, domain, images, journal, logger, uploads.WithNormalizer(normalize))
	}

	var renderer pdfexport.Renderer = pdfexport.Disabled{}
	if cfg.PDF.Enabled {
		renderer = pdfexport.NewChromium(pdfexport.Options{Format: cfg.PDF.Format}, logger)
	}

	s, err := New(Config{
		Username:       cfg.Auth.Username,
		PasswordHash:   cfg.Auth.PasswordHash,
		SessionTTL:     cfg.Auth.SessionTTL,
		CSRFKey:        csrfKey,
		SecureCookies:  cfg.Console.SecureCookies,
		MaxUploadBytes: cfg.Console.MaxUploadBytes,
		ThumbQuality:   cfg.Images.ThumbQuality,
		ThumbFormat:    cfg.Images.ThumbFormat,
		ImageOrigin:    origin(cfg.Images.BaseURL),
	}, Deps{
		Catalog: catalog,
		Sources: sources,
		Images:  images,
		PDF:     renderer,
		State:   appstate.NewFile(cfg.Storage.State()),
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	httpServer := &http.Server{
		Addr:              cfg.Console.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: cfg.Console.ReadTimeout,
		WriteTimeout:      cfg.Console.WriteTimeout,
	}

	go s.pruneSessions(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("console listening", "addr", cfg.Console.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Console.ShutdownTimeout)
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

func (s *Server) pruneSessions(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.sessions.Prune(); n > 0 {
				s.log.Info("expired sessions pruned", "count", n)
			}
		}
	}
}

func origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
