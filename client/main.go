// Command client serves only the admin console, configured from the
// environment.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/phillip-england/clubadmin/internal/config"
	"github.com/phillip-england/clubadmin/internal/console"
	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/envutil"
	"github.com/phillip-england/clubadmin/internal/logging"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := envutil.LoadDotEnv(".env"); err != nil {
		log.Fatal(err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	for _, p := range []string{cfg.Storage.Journal(), cfg.Storage.State()} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			log.Fatal(err)
		}
	}
	logger := logging.NewLogger(cfg.Log)
	catalog, err := domains.Load(cfg.Storage.CatalogPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := console.Run(ctx, *cfg, catalog, logger); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}
