// Package cmd contains all the CLI commands for the application,
// built using the Cobra library.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/naka-gawa/traffic-archive/internal/config"
)

// Exit statuses of the process.
const (
	exitOK      = 0
	exitFailure = 1
	exitPartial = 2
)

var rootCmd = &cobra.Command{
	Use:   "traffic-archive",
	Short: "A CLI tool to archive GitHub repository traffic.",
	Long: `traffic-archive preserves the traffic statistics GitHub reports for a
rolling 14-day window. The collect command merges the current window into a
permanent per-repository history, and the build command renders that history
as a static HTML dashboard.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries the process exit status of a command that did not fully succeed.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps the error returned by a command to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(exitCode(err))
}

func init() {
	// Add a persistent flag for verbose output, available to all commands.
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose/debug logging")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().String("data-dir", "", "Directory holding the archived history (default \"data\")")
	rootCmd.PersistentFlags().String("store", "", "Storage backend: file or sqlite (default \"file\")")
}

// newLogger returns the diagnostics logger: discarded unless --verbose is set.
func newLogger(cmd *cobra.Command) *log.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := log.New(io.Discard, "", log.LstdFlags) // Default: discard all logs.
	if verbose {
		logger.SetOutput(cmd.ErrOrStderr())
	}
	return logger
}

// loadConfig reads the configuration and applies the persistent flags on top.
// Only flags given explicitly override the file and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if flags.Changed("store") {
		cfg.Store, _ = flags.GetString("store")
	}
	return cfg, nil
}
