// Package usecase contains the business logic of the application.
package usecase

import (
	"context"
	"errors"
	"log"
	"sort"

	"github.com/coder/quartz"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/naka-gawa/traffic-archive/internal/domain"
	"github.com/naka-gawa/traffic-archive/internal/gateway"
	"github.com/naka-gawa/traffic-archive/internal/merge"
	"github.com/naka-gawa/traffic-archive/internal/storage"
)

// Options controls one collection run.
type Options struct {
	Owner string
	// Repositories to collect. When empty the owner's public repositories are enumerated.
	Repositories []string
	IncludeForks bool
	// DryRun performs every fetch and merge but writes nothing.
	DryRun      bool
	Concurrency int
}

// Result is the outcome of one collection run.
type Result struct {
	Run    domain.RunMetadata
	DryRun bool
	// Previews holds the merge summary of every repository that merged cleanly, ordered by name.
	Previews []merge.Summary

	errs []error
}

// Err combines every per-repository failure, or returns nil when there was none.
func (r *Result) Err() error {
	var merr *multierror.Error
	for _, err := range r.errs {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}

// Collector is the use case for archiving traffic data.
// It orchestrates fetching, merging and persisting per repository.
type Collector struct {
	fetcher gateway.Fetcher
	store   storage.Store
	clock   quartz.Clock
	logger  *log.Logger
}

// NewCollector creates a new Collector instance.
func NewCollector(fetcher gateway.Fetcher, store storage.Store, clock quartz.Clock, logger *log.Logger) *Collector {
	return &Collector{
		fetcher: fetcher,
		store:   store,
		clock:   clock,
		logger:  logger,
	}
}

type outcome struct {
	summary    merge.Summary
	hasTraffic bool
	views      int
	clones     int
	err        error
}

// Collect runs fetch, merge and persist for every tracked repository.
//
// A rejected credential or a failed enumeration aborts the run and is returned
// as the error. Per-repository failures never abort the run; they are listed
// in the run metadata and in Result.Err. The run metadata is persisted at the
// end unless opts.DryRun is set.
func (c *Collector) Collect(ctx context.Context, opts Options) (*Result, error) {
	c.logger.Println("Usecase: Starting collection...")

	if err := c.fetcher.VerifyCredential(ctx); err != nil {
		return nil, err
	}

	repos := uniqueSorted(opts.Repositories)
	if len(repos) == 0 {
		var err error
		repos, err = c.fetcher.ListRepositories(ctx, opts.Owner, opts.IncludeForks)
		if err != nil {
			return nil, err
		}
	}

	run := domain.RunMetadata{
		CollectedAt:  c.clock.Now().UTC(),
		Owner:        opts.Owner,
		ReposChecked: len(repos),
		Succeeded:    []string{},
		Failed:       []domain.RunFailure{},
	}

	// Each repository is handled by exactly one goroutine, so no two fetches
	// for the same repository overlap and each outcome slot has one writer.
	outcomes := make([]outcome, len(repos))
	var eg errgroup.Group
	eg.SetLimit(max(opts.Concurrency, 1))
	for i, repo := range repos {
		eg.Go(func() error {
			outcomes[i] = c.collectOne(ctx, opts, repo, run)
			c.logProgress(i+1, len(repos), repo, outcomes[i])
			return nil
		})
	}
	_ = eg.Wait()

	result := &Result{DryRun: opts.DryRun}
	for i, repo := range repos {
		o := outcomes[i]
		if o.err != nil {
			run.RecordFailure(repo, o.err)
			result.errs = append(result.errs, o.err)
			continue
		}
		run.RecordSuccess(repo)
		if o.hasTraffic {
			run.ReposWithTraffic++
		}
		result.Previews = append(result.Previews, o.summary)
	}
	run.Sort()
	result.Run = run

	if opts.DryRun {
		c.logger.Println("Usecase: Dry run, nothing written.")
		return result, nil
	}
	if err := c.store.SaveRun(ctx, &run); err != nil {
		return result, err
	}
	c.logger.Println("Usecase: Collection complete.")
	return result, nil
}

// collectOne fetches, merges and (unless dry-running) persists one repository.
// The stored record is replaced only after every previous step succeeded.
func (c *Collector) collectOne(ctx context.Context, opts Options, repo string, run domain.RunMetadata) outcome {
	snap, err := c.fetcher.FetchSnapshot(ctx, opts.Owner, repo)
	if err != nil {
		return outcome{err: err}
	}
	// Every record touched by one run carries the run's timestamp.
	snap.FetchedAt = run.CollectedAt

	existing, err := c.store.Load(ctx, repo)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		record := domain.NewRepositoryRecord(opts.Owner, repo)
		existing = &record
	case err != nil:
		if !errors.Is(err, domain.ErrPersistence) {
			err = domain.NewError(domain.KindPersistence, repo, "failed to load record", err)
		}
		return outcome{err: err}
	}

	merged, summary, err := merge.Merge(*existing, *snap)
	if err != nil {
		return outcome{err: err}
	}

	if !opts.DryRun {
		if err := c.store.Save(ctx, &merged); err != nil {
			return outcome{err: err}
		}
	}
	return outcome{
		summary:    summary,
		hasTraffic: snap.HasTraffic(),
		views:      snap.ViewCount(),
		clones:     snap.CloneCount(),
	}
}

func (c *Collector) logProgress(n, total int, repo string, o outcome) {
	switch {
	case o.err != nil:
		c.logger.Printf("  [%d/%d] %s - failed: %v\n", n, total, repo, o.err)
	case !o.hasTraffic:
		c.logger.Printf("  [%d/%d] %s - no traffic\n", n, total, repo)
	default:
		c.logger.Printf("  [%d/%d] %s - views: %d, clones: %d, new days: %d\n",
			n, total, repo, o.views, o.clones, o.summary.Views.Added)
	}
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
