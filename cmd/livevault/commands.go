package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voyagen/livevault/internal/cache"
	"github.com/voyagen/livevault/internal/config"
	"github.com/voyagen/livevault/internal/server"
	"github.com/voyagen/livevault/internal/service"
)

type configLoader func() (*config.Config, error)

// withApp loads config, wires the app under a signal-aware context and runs fn.
func withApp(load configLoader, fn func(ctx context.Context, a *app) error) error {
	cfg, err := load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func serveCmd(load configLoader) *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the job worker and scheduled cleanup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, a *app) error {
				if port != "" {
					a.cfg.ServerPort = port
				}
				if a.cfg.ReloadOnStart {
					// Failures are logged inside ReloadSaved; the existing catalog stays as is.
					go a.catalog.ReloadSaved(ctx)
				}
				if a.redis != nil {
					go a.jobs.RunWorker(ctx)
				}
				if a.cfg.CleanupInterval > 0 {
					go runCleanupSchedule(ctx, a, a.cfg.CleanupInterval)
				}
				srv := server.New(a.catalog, a.jobs, a.cfg, a.log)
				if err := srv.ListenAndServe(ctx); err != nil {
					return fmt.Errorf("server: %w", err)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Override server_port")
	return cmd
}

// runCleanupSchedule submits a cleanup job every interval until ctx is cancelled.
func runCleanupSchedule(ctx context.Context, a *app, interval time.Duration) {
	a.log.Info().Dur("interval", interval).Msg("scheduled cleanup enabled")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := a.jobs.Submit(ctx, cache.JobCleanup)
			switch {
			case errors.Is(err, service.ErrScanInProgress):
				a.log.Info().Msg("scheduled cleanup skipped, scan already running")
			case err != nil:
				a.log.Error().Err(err).Msg("scheduled cleanup")
			}
		}
	}
}

func importCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "import <url|file>",
		Short: "Import a playlist from a URL or a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := args[0]
			return withApp(load, func(ctx context.Context, a *app) error {
				var (
					parsed, inserted int
					err              error
				)
				if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
					res, ierr := a.catalog.ImportURL(ctx, src)
					parsed, inserted, err = res.Parsed, res.Inserted, ierr
				} else {
					f, ferr := os.Open(src)
					if ferr != nil {
						return ferr
					}
					defer f.Close()
					res, ierr := a.catalog.ImportReader(ctx, f)
					parsed, inserted, err = res.Parsed, res.Inserted, ierr
				}
				if err != nil {
					return err
				}
				// Enrichment runs after the import; wait so the logos land before exit.
				a.catalog.Wait()
				fmt.Fprintf(cmd.OutOrStdout(), "parsed %d channels, %d new\n", parsed, inserted)
				return nil
			})
		},
	}
}

func cleanupCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Probe every channel and delete the unreachable ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, a *app) error {
				updates, cancel := a.catalog.State().Subscribe(4)
				defer cancel()
				go func() {
					for st := range updates {
						if st.Progress != nil {
							fmt.Fprintln(cmd.ErrOrStderr(), st.Progress.Status)
						}
					}
				}()

				res, err := a.catalog.Cleanup(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "checked %d of %d channels, removed %d dead\n",
					res.Checked, res.Total, res.Deleted)
				if res.Cancelled {
					fmt.Fprintln(cmd.OutOrStdout(), "scan interrupted")
				}
				return nil
			})
		},
	}
}

func enrichCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "enrich",
		Short: "Backfill missing channel logos",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(load, func(ctx context.Context, a *app) error {
				n, err := a.catalog.Enrich(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated %d logos\n", n)
				return nil
			})
		},
	}
}
