package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/omkar-mohanty/skie/internal/config"
	"github.com/omkar-mohanty/skie/internal/store"
)

func newSectionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sections <file-id>",
		Short: "Print the ordered section map of a tracked file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			syncDir, _ := cmd.Flags().GetString("sync-dir")
			logger := newLogger(cmd)

			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("parse file id %q: %w", args[0], err)
			}

			app, err := config.Bootstrap(syncDir)
			if err != nil {
				return fmt.Errorf("bootstrap config: %w", err)
			}
			st, err := store.New(config.DBPath(app.SyncDir), logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			f, err := st.Files().FetchBy(cmd.Context(), id)
			if err != nil {
				return err
			}
			sections, err := st.Sections().FetchBy(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", f.Path, f.ID)
			var total int64
			for _, sec := range sections {
				fmt.Fprintf(out, "  %10d  %8d  %s\n", sec.Offset, sec.Length, sec.Digest)
				total += sec.Length
			}
			fmt.Fprintf(out, "%d sections, %s\n", len(sections), humanize.IBytes(uint64(total)))
			return nil
		},
	}
}
