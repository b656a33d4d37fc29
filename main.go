package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg Config

	root := &cobra.Command{
		Use:           "offline_edge",
		Short:         "Offline-resilience edge for the health chatbot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = LoadConfig()
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the edge server",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runServe(cmd.Context(), cfg)
			},
		},
		&cobra.Command{
			Use:   "query <text...>",
			Short: "Answer a query from the offline datasets",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runQuery(cmd, cfg, strings.Join(args, " "))
			},
		},
		newCacheCmd(&cfg),
	)

	return root
}

func newCacheCmd(cfg *Config) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage offline cache generations",
	}

	withLifecycle := func(cmd *cobra.Command, fn func(ctx context.Context, lc *Lifecycle, store CacheStore) error) error {
		store, err := OpenBoltCacheStore(cfg.CachePath)
		if err != nil {
			return err
		}
		defer store.Close()
		upstream, err := NewUpstream(cfg.UpstreamURL, nil)
		if err != nil {
			return err
		}
		manifest, err := cfg.Manifest()
		if err != nil {
			return err
		}
		return fn(cmd.Context(), NewLifecycle(store, upstream, manifest, false), store)
	}

	cacheCmd.AddCommand(
		&cobra.Command{
			Use:   "install",
			Short: "Pre-populate a new cache generation from the manifest",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLifecycle(cmd, func(ctx context.Context, lc *Lifecycle, _ CacheStore) error {
					tag, err := lc.Install(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), tag)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "activate",
			Short: "Activate the newest generation and delete all others",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLifecycle(cmd, func(ctx context.Context, lc *Lifecycle, _ CacheStore) error {
					if _, err := lc.Resume(ctx); err != nil {
						return err
					}
					deleted, err := lc.Activate(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "active %s, deleted %d\n", lc.Active(), len(deleted))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored cache generations",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLifecycle(cmd, func(ctx context.Context, _ *Lifecycle, store CacheStore) error {
					gens, err := store.Generations(ctx)
					if err != nil {
						return err
					}
					for _, g := range gens {
						fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%s\n", g.Tag, g.Entries, g.InstalledAt.Format(time.RFC3339))
					}
					return nil
				})
			},
		},
	)
	return cacheCmd
}

func newEngine(cfg Config) (*Engine, error) {
	source, err := cfg.DatasetSource()
	if err != nil {
		return nil, err
	}
	return NewEngine(NewDatasetLoader(source), WithDatasetFiles(cfg.DatasetFiles())), nil
}

func runQuery(cmd *cobra.Command, cfg Config, text string) error {
	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}
	engine.Load(cmd.Context())

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(engine.Respond(text))
}

func runServe(ctx context.Context, cfg Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := newEngine(cfg)
	if err != nil {
		return err
	}

	store, err := OpenBoltCacheStore(cfg.CachePath)
	if err != nil {
		return err
	}
	defer store.Close()

	upstream, err := NewUpstream(cfg.UpstreamURL, nil)
	if err != nil {
		return err
	}

	manifest, err := cfg.Manifest()
	if err != nil {
		return err
	}
	lifecycle := NewLifecycle(store, upstream, manifest, cfg.SkipWaiting)

	var lookups *LookupLog
	if cfg.LookupDBPath != "" {
		lookups, err = OpenLookupLog(cfg.LookupDBPath)
		if err != nil {
			return err
		}
		defer lookups.Close()
	}

	// Load datasets in background; queries answer "loading" until ready
	go engine.Load(ctx)

	if cfg.WatchDatasets && cfg.DataURL == "" {
		watcher, err := NewDatasetWatcher(cfg.DataDir, cfg.DatasetFiles(), engine)
		if err != nil {
			log.Warn().Err(err).Msg("Dataset watcher disabled")
		} else {
			defer watcher.Close()
			go watcher.Watch(ctx)
		}
	}

	// Install a fresh generation in background; fall back to the stored one
	go func() {
		if _, err := lifecycle.Install(ctx); err != nil {
			log.Warn().Err(err).Msg("Cache install failed")
			if _, err := lifecycle.Resume(ctx); err != nil {
				log.Warn().Err(err).Msg("No stored cache generation to resume")
			}
		}
	}()

	router := NewRouter(upstream, store, lifecycle, cfg.RouterConfig())
	srv := NewServer(engine, lifecycle, store, router, lookups)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("upstream", cfg.UpstreamURL).Msg("Offline edge started")
		errCh <- srv.Start(":" + cfg.Port)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
