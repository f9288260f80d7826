package clubcli

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/phillip-england/clubadmin/internal/backup"
	"github.com/phillip-england/clubadmin/internal/gateway"
	"github.com/phillip-england/clubadmin/internal/pdfexport"
	"github.com/phillip-england/clubadmin/internal/uploads"
)

func newBackupCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Save every backend domain into one compressed snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			now := time.Now()
			if out == "" {
				out = filepath.Join(env.cfg.Storage.DataDir, "backups", "clubadmin-"+now.UTC().Format("20060102-150405")+".json.xz")
			}
			if err := ensureParentDirs(out); err != nil {
				return err
			}

			httpClient := gateway.NewHTTPClient(env.cfg.Backend.Timeout)
			sources := map[string]backup.Lister{}
			for _, v := range env.catalog.Sources() {
				sources[v.Name] = gateway.NewDomainClient(env.cfg.Backend.BaseURL, v, httpClient, env.log)
			}
			snap, err := backup.Take(cmd.Context(), sources, now)
			if err != nil {
				return err
			}
			if err := backup.WriteFile(out, snap); err != nil {
				return err
			}
			env.log.Info("backup written", "path", out, "domains", len(snap.Domains))
			return printSummary(cmd, snap)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "snapshot file (default DATA_DIR/backups/clubadmin-<time>.json.xz)")

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect FILE",
		Short: "Print the record counts of a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := backup.ReadFile(args[0])
			if err != nil {
				return err
			}
			return printSummary(cmd, snap)
		},
	})
	return cmd
}

func printSummary(cmd *cobra.Command, snap backup.Snapshot) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "taken\t%s\n", snap.TakenAt.Format(time.RFC3339))
	for _, c := range snap.Summary() {
		fmt.Fprintf(w, "%s\t%d\n", c.Domain, c.Records)
	}
	return w.Flush()
}

func newJournalCommand() *cobra.Command {
	journal := &cobra.Command{
		Use:   "journal",
		Short: "Inspect and clean the image upload journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError(cmd)
		},
	}
	journal.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Count journal entries by status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := loadEnv()
				if err != nil {
					return err
				}
				if err := ensureParentDirs(env.cfg.Storage.Journal()); err != nil {
					return err
				}
				j, err := uploads.OpenJournal(cmd.Context(), env.cfg.Storage.Journal())
				if err != nil {
					return err
				}
				defer j.Close()
				counts, err := j.Counts(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				for _, s := range []uploads.Status{uploads.StatusPending, uploads.StatusCommitted, uploads.StatusCleaned, uploads.StatusOrphaned} {
					fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "sweep",
			Short: "Retry deleting image files no record points at",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				env, err := loadEnv()
				if err != nil {
					return err
				}
				if err := ensureParentDirs(env.cfg.Storage.Journal()); err != nil {
					return err
				}
				j, err := uploads.OpenJournal(cmd.Context(), env.cfg.Storage.Journal())
				if err != nil {
					return err
				}
				defer j.Close()

				img := env.cfg.Images
				host := gateway.NewImageHost(img.BaseURL, img.Tenant, img.Site, gateway.NewHTTPClient(env.cfg.Backend.Timeout), env.log)
				cleaned, remaining, err := uploads.Sweep(cmd.Context(), j, host, env.log)
				fmt.Fprintf(cmd.OutOrStdout(), "cleaned %d, still orphaned %d\n", cleaned, remaining)
				return err
			},
		},
	)
	return journal
}

func newCatalogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the console views and the backend domain each reads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnv()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VIEW\tSECTION\tSOURCE\tPREFIX\tLAYOUT\tACTIONS")
			for _, v := range env.catalog.Views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", v.Name, v.Section, v.Source, v.Prefix, v.Layout, strings.Join(v.Actions, ","))
			}
			return w.Flush()
		},
	}
}

func newPDFCommand() *cobra.Command {
	pdf := &cobra.Command{
		Use:   "pdf",
		Short: "Manage the headless browser used for PDF export",
		RunE: func(cmd *cobra.Command, args []string) error {
			return usageError(cmd)
		},
	}
	pdf.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Download the Chromium build PDF export drives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pdfexport.Install()
		},
	})
	return pdf
}
