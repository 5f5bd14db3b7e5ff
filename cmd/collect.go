package cmd

import (
	"fmt"
	"io"

	"github.com/coder/quartz"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/naka-gawa/traffic-archive/internal/domain"
	"github.com/naka-gawa/traffic-archive/internal/gateway"
	"github.com/naka-gawa/traffic-archive/internal/storage"
	"github.com/naka-gawa/traffic-archive/internal/usecase"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Fetches the current traffic window and merges it into the archive",
	Long: `Fetches views, clones, referrers, paths and metadata for every tracked
repository and merges them into the stored history. A repository that fails is
reported and left untouched; the others are still updated.

Exit status is 0 when every repository was updated, 2 when only some were,
and 1 when none were or the run could not start.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := newLogger(cmd)

		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("owner") {
			cfg.Owner, _ = flags.GetString("owner")
		}
		if flags.Changed("credential-source") {
			cfg.CredentialSource, _ = flags.GetString("credential-source")
		}
		if flags.Changed("repo") {
			cfg.Repositories, _ = flags.GetStringArray("repo")
		}
		if flags.Changed("concurrency") {
			cfg.Concurrency, _ = flags.GetInt("concurrency")
		}
		if flags.Changed("include-forks") {
			cfg.IncludeForks, _ = flags.GetBool("include-forks")
		}
		cfg.DryRun, _ = flags.GetBool("dry-run")

		if err := cfg.ValidateCollect(); err != nil {
			return err
		}
		repos, err := cfg.TrackedRepositories()
		if err != nil {
			return err
		}
		if err := cfg.ResolveToken(); err != nil {
			return err
		}

		// Inject dependencies and run the main business logic.
		githubGateway, err := gateway.NewGitHubGateway(cfg.Token, cfg.RequestTimeout, logger)
		if err != nil {
			return fmt.Errorf("failed to create GitHub gateway: %w", err)
		}
		store, err := storage.Open(cfg, cfg.DryRun)
		if err != nil {
			return err
		}
		defer store.Close()

		collector := usecase.NewCollector(githubGateway, store, quartz.NewReal(), logger)
		result, err := collector.Collect(ctx, usecase.Options{
			Owner:        cfg.Owner,
			Repositories: repos,
			IncludeForks: cfg.IncludeForks,
			DryRun:       cfg.DryRun,
			Concurrency:  cfg.Concurrency,
		})
		if result != nil {
			writeRunSummary(cmd.OutOrStdout(), result)
		}
		if err != nil {
			return err
		}
		return runStatusError(result)
	},
}

// runStatusError turns a finished run into the command's error.
func runStatusError(result *usecase.Result) error {
	switch result.Run.Status() {
	case domain.RunPartial:
		return &exitError{code: exitPartial, err: result.Err()}
	case domain.RunFailed:
		return &exitError{code: exitFailure, err: result.Err()}
	default:
		return nil
	}
}

// writeRunSummary prints one row per repository followed by the run status.
// In a dry run the rows are the preview of what would have been written.
func writeRunSummary(w io.Writer, result *usecase.Result) {
	tableWriter := table.NewWriter()
	tableWriter.SetOutputMirror(w)
	tableWriter.SetStyle(table.StyleLight)
	if result.DryRun {
		tableWriter.SetTitle("Dry run: nothing was written")
	}
	tableWriter.AppendHeader(table.Row{"Repository", "Result", "View days", "Clone days", "Referrers", "Paths", "Stars"})

	for _, s := range result.Previews {
		tableWriter.AppendRow(table.Row{
			s.Repo,
			color.GreenString("ok"),
			fmt.Sprintf("+%d ~%d", s.Views.Added, s.Views.Revised),
			fmt.Sprintf("+%d ~%d", s.Clones.Added, s.Clones.Revised),
			signed(s.Referrers.Delta),
			signed(s.Paths.Delta),
			signed(s.StarsDelta),
		})
	}
	for _, f := range result.Run.Failed {
		tableWriter.AppendRow(table.Row{f.Repo, color.RedString(f.Kind), "", "", "", "", ""})
	}
	tableWriter.SortBy([]table.SortBy{{Name: "Repository", Mode: table.Asc}})
	tableWriter.Render()

	run := result.Run
	line := fmt.Sprintf("Run %s: %d checked, %d with traffic, %d updated, %d failed",
		run.Status(), run.ReposChecked, run.ReposWithTraffic, len(run.Succeeded), len(run.Failed))
	switch run.Status() {
	case domain.RunComplete:
		fmt.Fprintln(w, color.GreenString(line))
	case domain.RunPartial:
		fmt.Fprintln(w, color.YellowString(line))
	default:
		fmt.Fprintln(w, color.RedString(line))
	}
	for _, f := range run.Failed {
		fmt.Fprintf(w, "  %s: %s\n", f.Repo, f.Reason)
	}
}

func signed(n int) string {
	return fmt.Sprintf("%+d", n)
}

func init() {
	rootCmd.AddCommand(collectCmd)
	collectCmd.Flags().StringP("owner", "o", "", "GitHub account whose repositories are tracked")
	collectCmd.Flags().Bool("dry-run", false, "Fetch and merge without writing anything")
	collectCmd.Flags().String("credential-source", "", "Where to read the API token: env:NAME[,NAME...] or file:PATH")
	collectCmd.Flags().StringArray("repo", nil, "Repository to collect (repeatable); default is every public repository of the owner")
	collectCmd.Flags().Int("concurrency", 0, "Number of repositories fetched in parallel (default 4)")
	collectCmd.Flags().Bool("include-forks", false, "Also track forked repositories when enumerating")
}
