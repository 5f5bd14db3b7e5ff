package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/naka-gawa/traffic-archive/internal/render"
	"github.com/naka-gawa/traffic-archive/internal/storage"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Renders the archived history as a static HTML dashboard",
	Long:  `Reads every stored repository record and the latest run metadata and writes a self-contained HTML dashboard. No network access is needed.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger(cmd)

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("output") {
			cfg.Output, _ = cmd.Flags().GetString("output")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		store, err := storage.Open(cfg, true)
		if err != nil {
			return err
		}
		defer store.Close()

		logger.Printf("Build: Loading records from %s (%s store)...\n", cfg.DataDir, cfg.Store)
		records, err := store.LoadAll(ctx)
		if err != nil {
			return err
		}
		run, err := store.LoadRun(ctx)
		if errors.Is(err, storage.ErrNotFound) {
			run = nil
		} else if err != nil {
			return err
		}

		owner := cfg.Owner
		if owner == "" && run != nil {
			owner = run.Owner
		}

		var buf bytes.Buffer
		if err := render.Render(&buf, render.Build(records, run, owner, time.Now().UTC())); err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Output), 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := atomic.WriteFile(cfg.Output, &buf); err != nil {
			return fmt.Errorf("failed to write dashboard: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Dashboard written to %s (%d repos)\n", cfg.Output, len(records))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.Flags().String("output", "", "Path of the generated dashboard (default \"docs/index.html\")")
}
