// Package render turns the stored history into a static HTML dashboard.
// It only reads records; it never merges or writes them.
package render

import (
	"embed"
	"fmt"
	"html/template"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"

	"github.com/naka-gawa/traffic-archive/internal/domain"
)

const (
	chartRepos   = 10
	topReferrers = 10
)

//go:embed templates/dashboard.html.tmpl
var templateFS embed.FS

var dashboardTemplate = template.Must(
	template.New("dashboard.html.tmpl").
		Funcs(template.FuncMap{
			"comma": func(n int) string { return humanize.Comma(int64(n)) },
			"date":  func(t time.Time) string { return t.UTC().Format(domain.DateLayout) },
		}).
		ParseFS(templateFS, "templates/dashboard.html.tmpl"),
)

// RepoSummary is one row of the repository table.
type RepoSummary struct {
	Name               string
	URL                string
	Description        string
	Stars              int
	UniqueVisitors     int
	MedianDailyUniques float64
	PeakDailyUniques   int
	DaysTracked        int
	FirstDay           string
	LastDay            string
}

// ReferrerTotal is a referrer source summed over every repository.
type ReferrerTotal struct {
	Source string
	Count  int
}

// ChartDataset is one line of the daily unique visitors chart.
type ChartDataset struct {
	Label       string  `json:"label"`
	Data        []int   `json:"data"`
	BorderColor string  `json:"borderColor"`
	Fill        bool    `json:"fill"`
	Tension     float64 `json:"tension"`
}

// Dashboard is everything the template needs.
type Dashboard struct {
	Owner         string
	GeneratedAt   time.Time
	LastRun       *domain.RunMetadata
	Repos         []RepoSummary
	TotalUniques  int
	TotalStars    int
	TopReferrers  []ReferrerTotal
	ChartLabels   []string
	ChartDatasets []ChartDataset
}

var chartColors = []string{
	"#3b82f6", "#ef4444", "#10b981", "#f59e0b", "#8b5cf6",
	"#ec4899", "#06b6d4", "#84cc16", "#f97316", "#6366f1",
}

// Build summarises records for display.
//
// Repositories are ordered by unique visitors (descending), then stars
// (descending), then name (ascending). Raw view totals and the clone series
// are never read.
func Build(records []*domain.RepositoryRecord, run *domain.RunMetadata, owner string, now time.Time) Dashboard {
	d := Dashboard{
		Owner:       owner,
		GeneratedAt: now,
		LastRun:     run,
	}

	referrers := map[string]int{}
	byName := map[string]*domain.RepositoryRecord{}
	for _, r := range records {
		if r == nil {
			continue
		}
		summary := summarize(r, owner)
		byName[summary.Name] = r
		d.Repos = append(d.Repos, summary)
		d.TotalUniques += summary.UniqueVisitors
		d.TotalStars += summary.Stars
		for source, count := range r.Referrers {
			referrers[source] += count
		}
	}

	sort.Slice(d.Repos, func(i, j int) bool {
		a, b := d.Repos[i], d.Repos[j]
		if a.UniqueVisitors != b.UniqueVisitors {
			return a.UniqueVisitors > b.UniqueVisitors
		}
		if a.Stars != b.Stars {
			return a.Stars > b.Stars
		}
		return a.Name < b.Name
	})

	for source, count := range referrers {
		d.TopReferrers = append(d.TopReferrers, ReferrerTotal{Source: source, Count: count})
	}
	sort.Slice(d.TopReferrers, func(i, j int) bool {
		if d.TopReferrers[i].Count != d.TopReferrers[j].Count {
			return d.TopReferrers[i].Count > d.TopReferrers[j].Count
		}
		return d.TopReferrers[i].Source < d.TopReferrers[j].Source
	})
	if len(d.TopReferrers) > topReferrers {
		d.TopReferrers = d.TopReferrers[:topReferrers]
	}

	d.ChartLabels, d.ChartDatasets = chart(d.Repos, byName)
	return d
}

func summarize(r *domain.RepositoryRecord, owner string) RepoSummary {
	name := r.Repo
	if name == "" {
		name = "unknown"
	}
	repoOwner := r.Owner
	if repoOwner == "" {
		repoOwner = owner
	}

	s := RepoSummary{
		Name:        name,
		Description: r.Description,
		Stars:       r.Stars,
		DaysTracked: len(r.Views),
	}
	if repoOwner != "" {
		s.URL = fmt.Sprintf("https://github.com/%s/%s", repoOwner, name)
	}

	dates := r.Views.Dates()
	if len(dates) == 0 {
		return s
	}
	s.FirstDay, s.LastDay = dates[0], dates[len(dates)-1]

	daily := make(stats.Float64Data, 0, len(dates))
	for _, date := range dates {
		u := r.Views[date].Uniques
		s.UniqueVisitors += u
		if u > s.PeakDailyUniques {
			s.PeakDailyUniques = u
		}
		daily = append(daily, float64(u))
	}
	if median, err := stats.Median(daily); err == nil {
		s.MedianDailyUniques = median
	}
	return s
}

// chart builds the daily unique visitors series of the top repositories
// over the union of their dates.
func chart(repos []RepoSummary, byName map[string]*domain.RepositoryRecord) ([]string, []ChartDataset) {
	top := repos
	if len(top) > chartRepos {
		top = top[:chartRepos]
	}

	union := domain.Series{}
	for _, s := range top {
		for date := range byName[s.Name].Views {
			union[date] = domain.DailyCount{}
		}
	}
	labels := union.Dates()

	datasets := make([]ChartDataset, 0, len(top))
	for i, s := range top {
		views := byName[s.Name].Views
		data := make([]int, len(labels))
		for j, date := range labels {
			data[j] = views[date].Uniques
		}
		datasets = append(datasets, ChartDataset{
			Label:       s.Name,
			Data:        data,
			BorderColor: chartColors[i%len(chartColors)],
			Tension:     0.3,
		})
	}
	return labels, datasets
}

// Render writes the dashboard as a complete HTML document.
func Render(w io.Writer, d Dashboard) error {
	if err := dashboardTemplate.Execute(w, d); err != nil {
		return fmt.Errorf("failed to render dashboard: %w", err)
	}
	return nil
}
