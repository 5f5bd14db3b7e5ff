package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure by how the collector must react to it.
type Kind int

const (
	// KindAuthentication aborts the whole run before any fetch.
	KindAuthentication Kind = iota + 1
	// KindFetch covers network failures, rate limits and missing repositories.
	KindFetch
	// KindInvalidSnapshot is malformed data returned by the API.
	KindInvalidSnapshot
	// KindPersistence is a storage read or write failure.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "AuthenticationError"
	case KindFetch:
		return "FetchError"
	case KindInvalidSnapshot:
		return "InvalidSnapshot"
	case KindPersistence:
		return "PersistenceError"
	default:
		return "UnknownError"
	}
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrAuthentication  = &Error{Kind: KindAuthentication}
	ErrFetch           = &Error{Kind: KindFetch}
	ErrInvalidSnapshot = &Error{Kind: KindInvalidSnapshot}
	ErrPersistence     = &Error{Kind: KindPersistence}
)

// Error is the single error type of the collection pipeline.
type Error struct {
	Kind   Kind
	Repo   string
	Detail string
	Cause  error
}

// NewError builds an *Error.
func NewError(kind Kind, repo, detail string, cause error) *Error {
	return &Error{Kind: kind, Repo: repo, Detail: detail, Cause: cause}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Repo != "" {
		fmt.Fprintf(&b, " [%s]", e.Repo)
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind so callers can write errors.Is(err, domain.ErrFetch).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
// Errors outside the taxonomy are treated as fetch failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindFetch
}
