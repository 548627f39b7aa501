package main

import (
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/omkar-mohanty/skie/internal/config"
	"github.com/omkar-mohanty/skie/internal/engine"
	"github.com/omkar-mohanty/skie/internal/indexer"
	"github.com/omkar-mohanty/skie/internal/store"
)

func newIndexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index <path>",
		Short: "Index a single file into the content store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncDir, _ := cmd.Flags().GetString("sync-dir")
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

			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			ix := indexer.New(st, engine.ParamsFrom(app.Engine), logger)
			if err := ix.IndexFile(cmd.Context(), path); err != nil {
				return err
			}

			f, err := st.FileByPath(cmd.Context(), path)
			if err != nil {
				return err
			}
			sections, err := st.Sections().FetchBy(cmd.Context(), f.ID)
			if err != nil && !store.IsNotFound(err) {
				return err
			}
			var total int64
			for _, sec := range sections {
				total += sec.Length
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  id=%s  %d chunks  %s\n",
				path, f.ID, len(sections), humanize.IBytes(uint64(total)))
			return nil
		},
	}
}
