// Package clubcli implements the clubadmin command line.
package clubcli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/phillip-england/clubadmin/internal/config"
	"github.com/phillip-england/clubadmin/internal/console"
	"github.com/phillip-england/clubadmin/internal/devapi"
	"github.com/phillip-england/clubadmin/internal/domains"
	"github.com/phillip-england/clubadmin/internal/envutil"
	"github.com/phillip-england/clubadmin/internal/logging"
	"github.com/phillip-england/clubadmin/internal/security"
)

var ErrUsage = errors.New("usage")

const envFile = ".env"

// Execute runs the command line with args, without the program name.
func Execute(args []string) error {
	root := NewRootCommand(os.Stdout)
	root.SetArgs(args)
	return root.Execute()
}

func NewRootCommand(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "clubadmin",
		Short:         "Admin console for the club website backends",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError(cmd)
		},
	}
	root.SetOut(out)
	root.AddCommand(
		newSetupCommand(),
		newRunCommand(),
		newAssetsCommand(),
		newBackupCommand(),
		newJournalCommand(),
		newCatalogCommand(),
		newPDFCommand(),
	)
	return root
}

// PrintUsage writes the root help text.
func PrintUsage(w io.Writer) {
	root := NewRootCommand(w)
	_ = root.Usage()
}

func usageError(cmd *cobra.Command) error {
	return fmt.Errorf("%w: %s", ErrUsage, cmd.UseLine())
}

func newSetupCommand() *cobra.Command {
	var (
		adminUser string
		adminPass string
		envPath   string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Write a .env file with the admin login and a CSRF key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if adminPass == "" {
				return errors.New("--admin-password is required")
			}
			hash, err := security.HashPassword(adminPass)
			if err != nil {
				return fmt.Errorf("invalid admin password: %w", err)
			}
			key := make([]byte, 32)
			if _, err := rand.Read(key); err != nil {
				return fmt.Errorf("generate csrf key: %w", err)
			}

			values := map[string]string{
				"ADMIN_USERNAME":      adminUser,
				"ADMIN_PASSWORD_HASH": hash,
				"CLIENT_CSRF_KEY":     hex.EncodeToString(key),
				"CLIENT_ADDR":         ":3000",
				"API_BASE_URL":        "http://localhost:8080",
				"IMAGE_HOST_URL":      "http://localhost:8080",
				"DEVAPI_ADDR":         ":8080",
				"DATA_DIR":            "./data",
			}
			if err := envutil.WriteDotEnv(envPath, values, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", envPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&adminUser, "admin-username", "admin", "admin username")
	cmd.Flags().StringVar(&adminPass, "admin-password", "", "admin password (min 12 chars)")
	cmd.Flags().StringVar(&envPath, "env-file", envFile, "path to .env file")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing env file")
	return cmd
}

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "run console|devapi|all",
		Short:     "Serve the console, the development backend, or both",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"console", "devapi", "all"},
		Long:      "Serve the console, the development backend, or both.\n\nEnvironment:\n" + config.Usage(),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			switch args[0] {
			case "console":
				return runConsole(ctx, env)
			case "devapi":
				return runDevAPI(ctx, env)
			default:
				return runAll(ctx, env)
			}
		},
	}
}

// environment is what every long running command needs.
type environment struct {
	cfg     config.Config
	catalog *domains.Catalog
	log     *slog.Logger
}

func loadEnv() (environment, error) {
	if err := envutil.LoadDotEnv(envFile); err != nil {
		return environment{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return environment{}, err
	}
	logger := logging.NewLogger(cfg.Log)
	catalog, err := domains.Load(cfg.Storage.CatalogPath)
	if err != nil {
		return environment{}, err
	}
	return environment{cfg: *cfg, catalog: catalog, log: logger}, nil
}

func runConsole(ctx context.Context, env environment) error {
	if err := ensureParentDirs(env.cfg.Storage.Journal(), env.cfg.Storage.State()); err != nil {
		return err
	}
	if err := console.Run(ctx, env.cfg, env.catalog, env.log); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runDevAPI(ctx context.Context, env environment) error {
	if err := devapi.Run(ctx, env.cfg, env.catalog, env.log); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runAll(ctx context.Context, env environment) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errCh := make(chan error, 2)

	go func() { errCh <- runDevAPI(ctx, env) }()
	go func() {
		time.Sleep(500 * time.Millisecond)
		errCh <- runConsole(ctx, env)
	}()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	return first
}

func ensureParentDirs(paths ...string) error {
	for _, p := range paths {
		dir := filepath.Dir(p)
		if dir == "." || dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
