package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naka-gawa/traffic-archive/internal/domain"
)

var buildTime = time.Date(2026, 2, 4, 9, 0, 0, 0, time.UTC)

func record(repo string, stars int, uniques map[string]int) *domain.RepositoryRecord {
	r := domain.NewRepositoryRecord("octo", repo)
	r.Stars = stars
	for date, u := range uniques {
		r.Views[date] = domain.DailyCount{Count: u * 10, Uniques: u}
	}
	return &r
}

func TestBuild_Ordering(t *testing.T) {
	records := []*domain.RepositoryRecord{
		record("charlie", 1, map[string]int{"2026-02-01": 5}),
		record("alpha", 9, map[string]int{"2026-02-01": 2}),
		record("bravo", 9, map[string]int{"2026-02-01": 2}),
		record("delta", 20, map[string]int{"2026-02-01": 1, "2026-02-02": 1}),
		record("echo", 3, nil),
	}

	d := Build(records, nil, "octo", buildTime)

	var names []string
	for _, r := range d.Repos {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"charlie", "delta", "alpha", "bravo", "echo"}, names)
	assert.Equal(t, 11, d.TotalUniques)
	assert.Equal(t, 42, d.TotalStars)
}

func TestBuild_Summary(t *testing.T) {
	r := record("alpha", 4, map[string]int{
		"2026-02-01": 1,
		"2026-02-02": 7,
		"2026-02-03": 3,
		"2026-02-04": 5,
	})
	r.Description = "Alpha project"

	d := Build([]*domain.RepositoryRecord{r}, nil, "octo", buildTime)
	require.Len(t, d.Repos, 1)

	want := RepoSummary{
		Name:               "alpha",
		URL:                "https://github.com/octo/alpha",
		Description:        "Alpha project",
		Stars:              4,
		UniqueVisitors:     16,
		MedianDailyUniques: 4,
		PeakDailyUniques:   7,
		DaysTracked:        4,
		FirstDay:           "2026-02-01",
		LastDay:            "2026-02-04",
	}
	if diff := cmp.Diff(want, d.Repos[0]); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_MissingFieldsUseNeutralDefaults(t *testing.T) {
	r := &domain.RepositoryRecord{}

	d := Build([]*domain.RepositoryRecord{r, nil}, nil, "", buildTime)

	require.Len(t, d.Repos, 1)
	assert.Equal(t, "unknown", d.Repos[0].Name)
	assert.Empty(t, d.Repos[0].URL)
	assert.Zero(t, d.Repos[0].UniqueVisitors)
	assert.Zero(t, d.Repos[0].Stars)
}

func TestBuild_TopReferrers(t *testing.T) {
	var records []*domain.RepositoryRecord
	for i, repo := range []string{"alpha", "bravo"} {
		r := record(repo, 0, nil)
		for j := 0; j < 8; j++ {
			source := string(rune('a'+j+i*4)) + ".example"
			r.Referrers[source] = j + 1
		}
		records = append(records, r)
	}

	d := Build(records, nil, "octo", buildTime)

	require.Len(t, d.TopReferrers, 10)
	for i := 1; i < len(d.TopReferrers); i++ {
		prev, cur := d.TopReferrers[i-1], d.TopReferrers[i]
		assert.True(t, prev.Count > cur.Count || (prev.Count == cur.Count && prev.Source < cur.Source),
			"referrers out of order at %d: %v, %v", i, prev, cur)
	}
	// e..h appear in both repositories.
	assert.Equal(t, ReferrerTotal{Source: "h.example", Count: 12}, d.TopReferrers[0])
}

func TestBuild_ChartUsesDateUnion(t *testing.T) {
	records := []*domain.RepositoryRecord{
		record("alpha", 0, map[string]int{"2026-02-01": 3, "2026-02-03": 1}),
		record("bravo", 0, map[string]int{"2026-02-02": 2}),
	}

	d := Build(records, nil, "octo", buildTime)

	assert.Equal(t, []string{"2026-02-01", "2026-02-02", "2026-02-03"}, d.ChartLabels)
	require.Len(t, d.ChartDatasets, 2)
	assert.Equal(t, "alpha", d.ChartDatasets[0].Label)
	assert.Equal(t, []int{3, 0, 1}, d.ChartDatasets[0].Data)
	assert.Equal(t, "bravo", d.ChartDatasets[1].Label)
	assert.Equal(t, []int{0, 2, 0}, d.ChartDatasets[1].Data)
}

func TestBuild_ChartLimitsRepositories(t *testing.T) {
	var records []*domain.RepositoryRecord
	for i := 0; i < 15; i++ {
		records = append(records, record(string(rune('a'+i)), 0, map[string]int{"2026-02-01": i + 1}))
	}

	d := Build(records, nil, "octo", buildTime)

	assert.Len(t, d.Repos, 15)
	assert.Len(t, d.ChartDatasets, 10)
	assert.Equal(t, "o", d.ChartDatasets[0].Label)
}

func TestRender(t *testing.T) {
	run := &domain.RunMetadata{
		CollectedAt:  time.Date(2026, 2, 3, 6, 0, 0, 0, time.UTC),
		Owner:        "octo",
		ReposChecked: 2,
		Succeeded:    []string{"alpha"},
		Failed:       []domain.RunFailure{{Repo: "beta", Kind: "FetchError", Reason: "timeout"}},
	}
	r := record("alpha", 1234, map[string]int{"2026-02-01": 3})
	r.Description = "<script>alert(1)</script>"
	r.Referrers["news.example"] = 8

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, Build([]*domain.RepositoryRecord{r}, run, "octo", buildTime)))
	out := buf.String()

	assert.Contains(t, out, `<a href="https://github.com/octo/alpha"`)
	assert.Contains(t, out, "1,234")
	assert.Contains(t, out, "news.example")
	assert.Contains(t, out, "2026-02-03 (partial)")
	assert.Contains(t, out, "Failed: beta")
	assert.Contains(t, out, `"2026-02-01"`)
	assert.NotContains(t, out, "<script>alert(1)</script>")
	// The raw view count (30) is never shown.
	assert.NotContains(t, out, ">30<")
}

func TestRender_NeverShowsCloneData(t *testing.T) {
	r := domain.NewRepositoryRecord("octo", "alpha")
	r.Clones["2026-02-01"] = domain.DailyCount{Count: 987654, Uniques: 876543}

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, Build([]*domain.RepositoryRecord{&r}, nil, "octo", buildTime)))
	out := buf.String()

	assert.NotContains(t, strings.ToLower(out), "clone")
	assert.NotContains(t, out, "987654")
	assert.NotContains(t, out, "987,654")
	assert.NotContains(t, out, "876543")
	assert.NotContains(t, out, "876,543")
	assert.Contains(t, out, "alpha")
}

func TestRender_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, Build(nil, nil, "", buildTime)))
	out := buf.String()

	assert.Contains(t, out, "No data yet")
	assert.Contains(t, out, "Not yet")
	assert.Contains(t, out, "labels: []")
}
