// Package gateway provides a gateway to the GitHub API,
// abstracting away the underlying REST and GraphQL clients.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sort"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"

	"github.com/naka-gawa/traffic-archive/internal/domain"
)

// Fetcher defines the behavior of a gateway for fetching information from GitHub.
type Fetcher interface {
	// VerifyCredential fails with domain.ErrAuthentication when the token is rejected.
	VerifyCredential(ctx context.Context) error
	// ListRepositories returns the sorted names of the owner's public repositories.
	ListRepositories(ctx context.Context, owner string, includeForks bool) ([]string, error)
	// FetchSnapshot fetches metadata and the current traffic window of one repository.
	// FetchedAt is left zero; the caller stamps the snapshot with its run time.
	FetchSnapshot(ctx context.Context, owner, repo string) (*domain.Snapshot, error)
}

// GitHubGateway is the concrete implementation of the Fetcher interface.
type GitHubGateway struct {
	restClient    *github.Client
	graphqlClient *githubv4.Client
	logger        *log.Logger
}

// ownerRepositoriesQuery lists public repositories of a user or organization.
type ownerRepositoriesQuery struct {
	RepositoryOwner struct {
		Login        string
		Repositories struct {
			PageInfo struct {
				HasNextPage bool
				EndCursor   githubv4.String
			}
			Nodes []struct {
				Name   string
				IsFork bool
			}
		} `graphql:"repositories(first: 100, after: $cursor, privacy: PUBLIC, ownerAffiliations: [OWNER])"`
	} `graphql:"repositoryOwner(login: $login)"`
}

// NewGitHubGateway is a constructor that creates a new instance of GitHubGateway.
// timeout bounds every single HTTP request.
func NewGitHubGateway(token string, timeout time.Duration, logger *log.Logger) (Fetcher, error) {
	rateLimitWaiter, err := github_ratelimit.NewRateLimitWaiter(nil, github_ratelimit.WithSingleSleepLimit(1*time.Hour, nil))
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit waiter: %w", err)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Base:   rateLimitWaiter,
			Source: ts,
		},
	}
	return &GitHubGateway{
		restClient:    github.NewClient(httpClient),
		graphqlClient: githubv4.NewClient(httpClient),
		logger:        logger,
	}, nil
}

func (g *GitHubGateway) VerifyCredential(ctx context.Context) error {
	g.logger.Println("Verifying GitHub credential...")
	_, _, err := g.restClient.RateLimit.Get(ctx)
	if err == nil {
		return nil
	}
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil &&
		(errResp.Response.StatusCode == http.StatusUnauthorized || errResp.Response.StatusCode == http.StatusForbidden) {
		return domain.NewError(domain.KindAuthentication, "", "GitHub rejected the token", err)
	}
	return domain.NewError(domain.KindAuthentication, "", "could not verify the token", err)
}

func (g *GitHubGateway) ListRepositories(ctx context.Context, owner string, includeForks bool) ([]string, error) {
	g.logger.Printf("Listing public repositories of %s...\n", owner)
	variables := map[string]interface{}{
		"login":  githubv4.String(owner),
		"cursor": (*githubv4.String)(nil),
	}
	var names []string
	for {
		var q ownerRepositoriesQuery
		if err := g.graphqlClient.Query(ctx, &q, variables); err != nil {
			return nil, domain.NewError(domain.KindFetch, "", "failed to execute GraphQL query for repositories", err)
		}
		if q.RepositoryOwner.Login == "" {
			return nil, domain.NewError(domain.KindFetch, "", fmt.Sprintf("account %s not found", owner), nil)
		}
		for _, node := range q.RepositoryOwner.Repositories.Nodes {
			if node.IsFork && !includeForks {
				continue
			}
			names = append(names, node.Name)
		}
		if !q.RepositoryOwner.Repositories.PageInfo.HasNextPage {
			break
		}
		variables["cursor"] = githubv4.NewString(q.RepositoryOwner.Repositories.PageInfo.EndCursor)
		g.logger.Println("  Fetching next page of repositories...")
	}
	sort.Strings(names)
	g.logger.Printf("Found %d public repositories\n", len(names))
	return names, nil
}

func (g *GitHubGateway) FetchSnapshot(ctx context.Context, owner, repo string) (*domain.Snapshot, error) {
	r, _, err := g.restClient.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return nil, domain.NewError(domain.KindFetch, repo, "failed to fetch repository metadata", err)
	}

	snap := &domain.Snapshot{
		Owner: owner,
		Repo:  repo,
		Metadata: domain.Metadata{
			Stars:       r.GetStargazersCount(),
			Forks:       r.GetForksCount(),
			Description: r.GetDescription(),
		},
	}

	// The four traffic endpoints are independent; fetch them concurrently.
	eg, egCtx := errgroup.WithContext(ctx)
	daily := &github.TrafficBreakdownOptions{Per: "day"}

	eg.Go(func() error {
		views, _, err := g.restClient.Repositories.ListTrafficViews(egCtx, owner, repo, daily)
		if err = ignoreNotFound(err); err != nil {
			return fmt.Errorf("failed to fetch views: %w", err)
		}
		if views != nil {
			snap.Views = dailyEntries(views.Views)
		}
		return nil
	})
	eg.Go(func() error {
		clones, _, err := g.restClient.Repositories.ListTrafficClones(egCtx, owner, repo, daily)
		if err = ignoreNotFound(err); err != nil {
			return fmt.Errorf("failed to fetch clones: %w", err)
		}
		if clones != nil {
			snap.Clones = dailyEntries(clones.Clones)
		}
		return nil
	})
	eg.Go(func() error {
		referrers, _, err := g.restClient.Repositories.ListTrafficReferrers(egCtx, owner, repo)
		if err = ignoreNotFound(err); err != nil {
			return fmt.Errorf("failed to fetch referrers: %w", err)
		}
		for _, ref := range referrers {
			snap.Referrers = append(snap.Referrers, domain.AggregateEntry{Key: ref.GetReferrer(), Count: ref.GetCount()})
		}
		return nil
	})
	eg.Go(func() error {
		paths, _, err := g.restClient.Repositories.ListTrafficPaths(egCtx, owner, repo)
		if err = ignoreNotFound(err); err != nil {
			return fmt.Errorf("failed to fetch paths: %w", err)
		}
		for _, p := range paths {
			snap.Paths = append(snap.Paths, domain.AggregateEntry{Key: p.GetPath(), Count: p.GetCount()})
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, domain.NewError(domain.KindFetch, repo, "failed to fetch traffic", err)
	}

	if err := snap.Validate(); err != nil {
		return nil, err
	}
	return snap, nil
}

// ignoreNotFound treats a 404 from a traffic endpoint as an empty window:
// GitHub answers that way for repositories that never had traffic.
func ignoreNotFound(err error) error {
	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil && errResp.Response.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func dailyEntries(data []*github.TrafficData) []domain.DailyEntry {
	entries := make([]domain.DailyEntry, 0, len(data))
	for _, d := range data {
		var date string
		if d.Timestamp != nil {
			date = d.Timestamp.UTC().Format(domain.DateLayout)
		}
		entries = append(entries, domain.DailyEntry{
			Date:    date,
			Count:   d.GetCount(),
			Uniques: d.GetUniques(),
		})
	}
	return entries
}
