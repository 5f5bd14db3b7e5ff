// Package storage persists repository records and the run metadata.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/naka-gawa/traffic-archive/internal/config"
	"github.com/naka-gawa/traffic-archive/internal/domain"
)

// ErrNotFound is returned when no record exists for a repository, or no run has been recorded yet.
var ErrNotFound = errors.New("not found")

// Store is the persistence layer. Every write replaces one unit entirely or leaves it untouched.
type Store interface {
	Load(ctx context.Context, repo string) (*domain.RepositoryRecord, error)
	Save(ctx context.Context, record *domain.RepositoryRecord) error
	LoadAll(ctx context.Context) ([]*domain.RepositoryRecord, error)

	LoadRun(ctx context.Context) (*domain.RunMetadata, error)
	SaveRun(ctx context.Context, run *domain.RunMetadata) error

	Close() error
}

// Open returns the store selected by the configuration. A read-only store
// never creates or modifies anything on disk; its writes fail.
func Open(cfg *config.Config, readOnly bool) (Store, error) {
	switch cfg.Store {
	case config.StoreFile:
		if readOnly {
			return NewFileStore(afero.NewReadOnlyFs(afero.NewOsFs()), cfg.DataDir), nil
		}
		return NewFileStore(afero.NewOsFs(), cfg.DataDir), nil
	case config.StoreSQLite:
		return OpenSQLite(filepath.Join(cfg.DataDir, sqliteFileName), readOnly)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// validRepoName rejects names that would escape the storage namespace.
func validRepoName(repo string) error {
	if repo == "" || repo == "." || repo == ".." || strings.ContainsAny(repo, `/\`) {
		return fmt.Errorf("invalid repository name %q", repo)
	}
	return nil
}

// encode renders v as indented JSON with a trailing newline. Map keys are
// sorted by encoding/json, so equal values always encode to equal bytes.
func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (*domain.RepositoryRecord, error) {
	var record domain.RepositoryRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	record.Normalize()
	return &record, nil
}

func persistenceError(repo, detail string, err error) error {
	return domain.NewError(domain.KindPersistence, repo, detail, err)
}
