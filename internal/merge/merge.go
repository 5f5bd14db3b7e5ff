// Package merge reconciles a freshly fetched snapshot with the stored history
// of a repository. It performs no I/O.
package merge

import (
	"github.com/naka-gawa/traffic-archive/internal/domain"
)

// SeriesChange counts what a snapshot did to one daily series.
type SeriesChange struct {
	Added   int `json:"added"`
	Revised int `json:"revised"`
}

// AggregateChange counts what a snapshot did to one aggregate.
type AggregateChange struct {
	NewKeys int `json:"new_keys"`
	Delta   int `json:"delta"`
}

// Summary describes the effect of one merge. It is what a dry run reports.
type Summary struct {
	Repo       string          `json:"repo"`
	Views      SeriesChange    `json:"views"`
	Clones     SeriesChange    `json:"clones"`
	Referrers  AggregateChange `json:"referrers"`
	Paths      AggregateChange `json:"paths"`
	StarsDelta int             `json:"stars_delta"`
	ForksDelta int             `json:"forks_delta"`
}

// Merge returns the record that results from applying snap to existing.
//
// Scalar metadata is overwritten. Daily series are upserted by date: dates
// missing from the snapshot are kept and dates it reports take its value.
// Aggregates are summed per key, so the same snapshot must not be applied twice.
//
// existing is never modified. An invalid snapshot yields a
// domain.ErrInvalidSnapshot error and a zero record.
func Merge(existing domain.RepositoryRecord, snap domain.Snapshot) (domain.RepositoryRecord, Summary, error) {
	if err := snap.Validate(); err != nil {
		return domain.RepositoryRecord{}, Summary{}, err
	}

	out := domain.RepositoryRecord{
		Repo:        snap.Repo,
		Owner:       existing.Owner,
		LastUpdated: snap.FetchedAt,
		Stars:       snap.Metadata.Stars,
		Forks:       snap.Metadata.Forks,
		Description: snap.Metadata.Description,
		Views:       existing.Views.Clone(),
		Clones:      existing.Clones.Clone(),
		Referrers:   existing.Referrers.Clone(),
		Paths:       existing.Paths.Clone(),
	}
	if snap.Owner != "" {
		out.Owner = snap.Owner
	}

	summary := Summary{
		Repo:       snap.Repo,
		Views:      upsertDaily(out.Views, snap.Views),
		Clones:     upsertDaily(out.Clones, snap.Clones),
		Referrers:  addAggregate(out.Referrers, snap.Referrers),
		Paths:      addAggregate(out.Paths, snap.Paths),
		StarsDelta: snap.Metadata.Stars - existing.Stars,
		ForksDelta: snap.Metadata.Forks - existing.Forks,
	}
	return out, summary, nil
}

func upsertDaily(series domain.Series, entries []domain.DailyEntry) SeriesChange {
	var change SeriesChange
	for _, e := range entries {
		next := domain.DailyCount{Count: e.Count, Uniques: e.Uniques}
		prev, ok := series[e.Date]
		switch {
		case !ok:
			change.Added++
		case prev != next:
			change.Revised++
		}
		series[e.Date] = next
	}
	return change
}

func addAggregate(agg domain.Aggregate, entries []domain.AggregateEntry) AggregateChange {
	var change AggregateChange
	for _, e := range entries {
		if _, ok := agg[e.Key]; !ok {
			change.NewKeys++
		}
		agg[e.Key] += e.Count
		change.Delta += e.Count
	}
	return change
}
