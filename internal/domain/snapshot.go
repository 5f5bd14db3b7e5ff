package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate caches parsed struct tags and is safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Metadata holds the point-in-time counters of a repository.
type Metadata struct {
	Stars       int    `json:"stars" validate:"gte=0"`
	Forks       int    `json:"forks" validate:"gte=0"`
	Description string `json:"description"`
}

// DailyEntry is one day of a fetched traffic window.
type DailyEntry struct {
	Date    string `json:"date" validate:"required,datetime=2006-01-02"`
	Count   int    `json:"count" validate:"gte=0"`
	Uniques int    `json:"uniques" validate:"gte=0"`
}

// AggregateEntry is one row of a referrer or path breakdown.
type AggregateEntry struct {
	Key   string `json:"key" validate:"required"`
	Count int    `json:"count" validate:"gte=0"`
}

// Snapshot is the data fetched for one repository during one collection run,
// before it is merged into the stored record.
type Snapshot struct {
	Owner     string           `json:"owner"`
	Repo      string           `json:"repo" validate:"required"`
	FetchedAt time.Time        `json:"fetched_at"`
	Metadata  Metadata         `json:"metadata"`
	Views     []DailyEntry     `json:"views" validate:"unique=Date,dive"`
	Clones    []DailyEntry     `json:"clones" validate:"unique=Date,dive"`
	Referrers []AggregateEntry `json:"referrers" validate:"unique=Key,dive"`
	Paths     []AggregateEntry `json:"paths" validate:"unique=Key,dive"`
}

// HasTraffic reports whether the window contains any view or clone days.
func (s Snapshot) HasTraffic() bool {
	return len(s.Views) > 0 || len(s.Clones) > 0
}

// ViewCount sums the raw view counts of the window.
func (s Snapshot) ViewCount() int {
	return sumCounts(s.Views)
}

// CloneCount sums the raw clone counts of the window.
func (s Snapshot) CloneCount() int {
	return sumCounts(s.Clones)
}

func sumCounts(entries []DailyEntry) int {
	total := 0
	for _, e := range entries {
		total += e.Count
	}
	return total
}

// Validate checks the snapshot shape. Any violation is reported as an
// InvalidSnapshot error naming the offending fields.
func (s Snapshot) Validate() error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		details := make([]string, 0, len(validationErrors))
		for _, fe := range validationErrors {
			details = append(details, fmt.Sprintf("%s failed %q with value %v", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return NewError(KindInvalidSnapshot, s.Repo, strings.Join(details, "; "), nil)
	}
	return NewError(KindInvalidSnapshot, s.Repo, "validation", err)
}
