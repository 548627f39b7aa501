package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/omkar-mohanty/skie/internal/config"
	"github.com/omkar-mohanty/skie/internal/engine"
	"github.com/omkar-mohanty/skie/internal/indexer"
	"github.com/omkar-mohanty/skie/internal/store"
	"github.com/omkar-mohanty/skie/internal/watcher"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch the sync directory and keep the content store current",
		RunE: func(cmd *cobra.Command, _ []string) error {
			syncDir, _ := cmd.Flags().GetString("sync-dir")
			return serve(cmd, syncDir)
		},
	}
}

func serve(cmd *cobra.Command, syncDir string) error {
	logger := newLogger(cmd)

	app, err := config.Bootstrap(syncDir)
	if err != nil {
		return fmt.Errorf("bootstrap config: %w", err)
	}

	st, err := store.New(config.DBPath(app.SyncDir), logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ix := indexer.New(st, engine.ParamsFrom(app.Engine), logger)

	var excludes []string
	if app.Privacy.Vault && app.Privacy.VaultFolder != "" {
		excludes = append(excludes, app.Privacy.VaultFolder)
	}
	loop := watcher.NewLoop(app.SyncDir, excludes, app.DebounceWindow(), ix, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A fresh store or a chunking protocol bump makes every file dirty:
	// index the whole tree before watching for changes.
	empty, err := st.Empty(ctx)
	if err != nil {
		return err
	}
	if empty || app.ProtocolMismatch() {
		logger.Info("full scan",
			"root", app.SyncDir,
			"reason", scanReason(empty),
			"protocol", config.ChunkProtocolVersion)
		if err := ix.IndexTree(ctx, app.SyncDir, loop.Skip); err != nil {
			return fmt.Errorf("initial scan: %w", err)
		}
		if app.ProtocolMismatch() {
			app.ProtocolVersion = config.ChunkProtocolVersion
			if err := config.Save(config.ConfigPath(app.SyncDir), app); err != nil {
				return err
			}
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(ctx)
	})
	return g.Wait()
}

func scanReason(empty bool) string {
	if empty {
		return "fresh store"
	}
	return "protocol bump"
}
