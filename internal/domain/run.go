package domain

import (
	"sort"
	"time"
)

// RunStatus summarises how a collection run went.
type RunStatus string

const (
	RunComplete RunStatus = "complete"
	RunPartial  RunStatus = "partial"
	RunFailed   RunStatus = "failed"
)

// RunFailure records why one repository could not be updated.
type RunFailure struct {
	Repo   string `json:"repo"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// RunMetadata describes the most recent collection run.
// It is overwritten on every run.
type RunMetadata struct {
	CollectedAt      time.Time    `json:"collected_at"`
	Owner            string       `json:"owner"`
	ReposChecked     int          `json:"repos_checked"`
	ReposWithTraffic int          `json:"repos_with_traffic"`
	Succeeded        []string     `json:"succeeded"`
	Failed           []RunFailure `json:"failed"`
}

// RecordSuccess adds repo to the success list.
func (m *RunMetadata) RecordSuccess(repo string) {
	m.Succeeded = append(m.Succeeded, repo)
}

// RecordFailure adds repo to the failure list with the kind and message of err.
func (m *RunMetadata) RecordFailure(repo string, err error) {
	m.Failed = append(m.Failed, RunFailure{
		Repo:   repo,
		Kind:   KindOf(err).String(),
		Reason: err.Error(),
	})
}

// Sort orders both lists by repository name.
func (m *RunMetadata) Sort() {
	sort.Strings(m.Succeeded)
	sort.Slice(m.Failed, func(i, j int) bool {
		return m.Failed[i].Repo < m.Failed[j].Repo
	})
}

// Status reports whether every, some or none of the repositories were updated.
// A run over zero repositories is complete.
func (m RunMetadata) Status() RunStatus {
	switch {
	case len(m.Failed) == 0:
		return RunComplete
	case len(m.Succeeded) == 0:
		return RunFailed
	default:
		return RunPartial
	}
}
