package merge

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/traffic-archive/internal/domain"
)

var fetchedAt = time.Date(2026, 2, 3, 6, 0, 0, 0, time.UTC)

func existingRecord() domain.RepositoryRecord {
	return domain.RepositoryRecord{
		Repo:        "repo-a",
		Owner:       "octo",
		LastUpdated: time.Date(2026, 1, 27, 6, 0, 0, 0, time.UTC),
		Stars:       10,
		Forks:       2,
		Description: "old description",
		Views: domain.Series{
			"2026-02-01": {Count: 12, Uniques: 5},
			"2026-02-02": {Count: 9, Uniques: 3},
		},
		Clones: domain.Series{
			"2026-02-01": {Count: 40, Uniques: 8},
		},
		Referrers: domain.Aggregate{"github.com": 7, "news.ycombinator.com": 3},
		Paths:     domain.Aggregate{"/octo/repo-a": 20},
	}
}

func snapshot() domain.Snapshot {
	return domain.Snapshot{
		Owner:     "octo",
		Repo:      "repo-a",
		FetchedAt: fetchedAt,
		Metadata:  domain.Metadata{Stars: 12, Forks: 3, Description: "new description"},
		Views: []domain.DailyEntry{
			{Date: "2026-02-02", Count: 11, Uniques: 4},
			{Date: "2026-02-03", Count: 15, Uniques: 7},
		},
		Clones: []domain.DailyEntry{
			{Date: "2026-02-03", Count: 30, Uniques: 6},
		},
		Referrers: []domain.AggregateEntry{
			{Key: "github.com", Count: 2},
			{Key: "reddit.com", Count: 5},
		},
		Paths: []domain.AggregateEntry{
			{Key: "/octo/repo-a", Count: 4},
		},
	}
}

func TestMerge_RevisedAndNewDates(t *testing.T) {
	existing := existingRecord()

	merged, summary, err := Merge(existing, snapshot())
	require.NoError(t, err)

	want := domain.Series{
		"2026-02-01": {Count: 12, Uniques: 5},
		"2026-02-02": {Count: 11, Uniques: 4},
		"2026-02-03": {Count: 15, Uniques: 7},
	}
	if diff := cmp.Diff(want, merged.Views); diff != "" {
		t.Errorf("views mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, SeriesChange{Added: 1, Revised: 1}, summary.Views)
	assert.Equal(t, SeriesChange{Added: 1}, summary.Clones)
}

func TestMerge_ScalarsOverwritten(t *testing.T) {
	merged, summary, err := Merge(existingRecord(), snapshot())
	require.NoError(t, err)

	assert.Equal(t, 12, merged.Stars)
	assert.Equal(t, 3, merged.Forks)
	assert.Equal(t, "new description", merged.Description)
	assert.Equal(t, fetchedAt, merged.LastUpdated)
	assert.Equal(t, 2, summary.StarsDelta)
	assert.Equal(t, 1, summary.ForksDelta)
}

func TestMerge_AggregatesAreAdditive(t *testing.T) {
	merged, summary, err := Merge(existingRecord(), snapshot())
	require.NoError(t, err)

	assert.Equal(t, domain.Aggregate{
		"github.com":           9,
		"news.ycombinator.com": 3,
		"reddit.com":           5,
	}, merged.Referrers)
	assert.Equal(t, domain.Aggregate{"/octo/repo-a": 24}, merged.Paths)
	assert.Equal(t, AggregateChange{NewKeys: 1, Delta: 7}, summary.Referrers)
	assert.Equal(t, AggregateChange{NewKeys: 0, Delta: 4}, summary.Paths)
}

func TestMerge_SeriesIdempotent(t *testing.T) {
	snap := snapshot()

	once, _, err := Merge(existingRecord(), snap)
	require.NoError(t, err)
	twice, summary, err := Merge(once, snap)
	require.NoError(t, err)

	assert.Equal(t, once.Views, twice.Views)
	assert.Equal(t, once.Clones, twice.Clones)
	assert.Equal(t, SeriesChange{}, summary.Views)
	assert.Equal(t, SeriesChange{}, summary.Clones)
}

func TestMerge_DatesOnlyGrow(t *testing.T) {
	testCases := []struct {
		name  string
		views []domain.DailyEntry
	}{
		{name: "disjoint window", views: []domain.DailyEntry{{Date: "2026-03-01", Uniques: 1}}},
		{name: "overlapping window", views: []domain.DailyEntry{{Date: "2026-02-01", Uniques: 1}}},
		{name: "older window", views: []domain.DailyEntry{{Date: "2025-12-31", Uniques: 2}}},
		{name: "empty window", views: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			existing := existingRecord()
			snap := snapshot()
			snap.Views = tc.views

			merged, _, err := Merge(existing, snap)
			require.NoError(t, err)
			for date := range existing.Views {
				assert.Contains(t, merged.Views, date)
			}
			for _, e := range tc.views {
				assert.Equal(t, e.Uniques, merged.Views[e.Date].Uniques, "snapshot value wins for %s", e.Date)
			}
		})
	}
}

func TestMerge_EmptySnapshotOnlyTouchesScalars(t *testing.T) {
	existing := existingRecord()
	snap := domain.Snapshot{
		Repo:      "repo-a",
		FetchedAt: fetchedAt,
		Metadata:  domain.Metadata{Stars: 99, Forks: 1, Description: "quiet"},
	}

	merged, summary, err := Merge(existing, snap)
	require.NoError(t, err)

	want := existing
	want.Stars, want.Forks, want.Description = 99, 1, "quiet"
	want.LastUpdated = fetchedAt
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, Summary{Repo: "repo-a", StarsDelta: 89, ForksDelta: -1}, summary)
}

func TestMerge_AggregateSumAcrossSnapshots(t *testing.T) {
	existing := existingRecord()
	s1 := snapshot()
	s2 := snapshot()
	s2.Referrers = []domain.AggregateEntry{
		{Key: "github.com", Count: 1},
		{Key: "google.com", Count: 6},
		{Key: "zero.example", Count: 0},
	}

	first, _, err := Merge(existing, s1)
	require.NoError(t, err)
	second, _, err := Merge(first, s2)
	require.NoError(t, err)

	get := func(entries []domain.AggregateEntry, k string) int {
		for _, e := range entries {
			if e.Key == k {
				return e.Count
			}
		}
		return 0
	}
	for _, k := range []string{"github.com", "news.ycombinator.com", "reddit.com", "google.com", "zero.example"} {
		want := existing.Referrers[k] + get(s1.Referrers, k) + get(s2.Referrers, k)
		assert.Equal(t, want, second.Referrers[k], k)
	}
	assert.Contains(t, second.Referrers, "zero.example")
}

func TestMerge_DoesNotMutateExisting(t *testing.T) {
	existing := existingRecord()
	before := existingRecord()

	_, _, err := Merge(existing, snapshot())
	require.NoError(t, err)

	if diff := cmp.Diff(before, existing); diff != "" {
		t.Errorf("existing record was modified (-before +after):\n%s", diff)
	}
}

func TestMerge_FirstObservation(t *testing.T) {
	merged, summary, err := Merge(domain.RepositoryRecord{}, snapshot())
	require.NoError(t, err)

	assert.Equal(t, "repo-a", merged.Repo)
	assert.Equal(t, "octo", merged.Owner)
	assert.Len(t, merged.Views, 2)
	assert.Len(t, merged.Clones, 1)
	assert.Equal(t, SeriesChange{Added: 2}, summary.Views)
	assert.Equal(t, AggregateChange{NewKeys: 2, Delta: 7}, summary.Referrers)
}

func TestMerge_InvalidSnapshot(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(s *domain.Snapshot)
	}{
		{name: "negative view count", mutate: func(s *domain.Snapshot) { s.Views[0].Count = -1 }},
		{name: "negative uniques", mutate: func(s *domain.Snapshot) { s.Clones[0].Uniques = -3 }},
		{name: "non-date key", mutate: func(s *domain.Snapshot) { s.Views[0].Date = "yesterday" }},
		{name: "missing date", mutate: func(s *domain.Snapshot) { s.Clones[0].Date = "" }},
		{name: "duplicate date", mutate: func(s *domain.Snapshot) { s.Views[1].Date = s.Views[0].Date }},
		{name: "negative referrer count", mutate: func(s *domain.Snapshot) { s.Referrers[0].Count = -5 }},
		{name: "empty path key", mutate: func(s *domain.Snapshot) { s.Paths[0].Key = "" }},
		{name: "negative stars", mutate: func(s *domain.Snapshot) { s.Metadata.Stars = -1 }},
		{name: "missing repo", mutate: func(s *domain.Snapshot) { s.Repo = "" }},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			existing := existingRecord()
			snap := snapshot()
			tc.mutate(&snap)

			merged, summary, err := Merge(existing, snap)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidSnapshot)
			assert.Equal(t, domain.RepositoryRecord{}, merged)
			assert.Equal(t, Summary{}, summary)
			assert.Equal(t, existingRecord(), existing)
		})
	}
}
