// Package domain contains the core data structures and domain logic for the application.
package domain

import (
	"sort"
	"time"
)

// DateLayout is the calendar date format used as the key of every daily series.
const DateLayout = time.DateOnly

// DailyCount is one day of traffic as reported by GitHub.
// Count is the raw total, Uniques the number of unique visitors (or cloners).
type DailyCount struct {
	Count   int `json:"count"`
	Uniques int `json:"uniques"`
}

// Series maps a calendar date (YYYY-MM-DD) to the traffic recorded for that day.
type Series map[string]DailyCount

// Dates returns the dates of the series in ascending order.
func (s Series) Dates() []string {
	dates := make([]string, 0, len(s))
	for d := range s {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}

// TotalUniques sums the unique counts over every recorded day.
func (s Series) TotalUniques() int {
	total := 0
	for _, c := range s {
		total += c.Uniques
	}
	return total
}

// Clone returns an independent copy of the series.
func (s Series) Clone() Series {
	out := make(Series, len(s))
	for d, c := range s {
		out[d] = c
	}
	return out
}

// Aggregate maps a key (referrer source or page path) to its cumulative count.
type Aggregate map[string]int

// Clone returns an independent copy of the aggregate.
func (a Aggregate) Clone() Aggregate {
	out := make(Aggregate, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// RepositoryRecord is the persisted history of one tracked repository.
// It is the core domain entity of this application.
type RepositoryRecord struct {
	Repo        string    `json:"repo"`
	Owner       string    `json:"owner,omitempty"`
	LastUpdated time.Time `json:"last_updated"`

	Stars       int    `json:"stars"`
	Forks       int    `json:"forks"`
	Description string `json:"description"`

	Views     Series    `json:"views"`
	Clones    Series    `json:"clones"`
	Referrers Aggregate `json:"referrers"`
	Paths     Aggregate `json:"paths"`
}

// NewRepositoryRecord returns an empty record for a repository that has never been observed.
func NewRepositoryRecord(owner, repo string) RepositoryRecord {
	return RepositoryRecord{
		Repo:      repo,
		Owner:     owner,
		Views:     Series{},
		Clones:    Series{},
		Referrers: Aggregate{},
		Paths:     Aggregate{},
	}
}

// Normalize replaces nil maps with empty ones so records decoded from older
// or hand-edited files behave like freshly created ones.
func (r *RepositoryRecord) Normalize() {
	if r.Views == nil {
		r.Views = Series{}
	}
	if r.Clones == nil {
		r.Clones = Series{}
	}
	if r.Referrers == nil {
		r.Referrers = Aggregate{}
	}
	if r.Paths == nil {
		r.Paths = Aggregate{}
	}
}
