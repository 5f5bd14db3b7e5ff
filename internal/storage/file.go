package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/naka-gawa/traffic-archive/internal/domain"
)

const runFileName = "latest_run.json"

// FileStore keeps one JSON file per repository plus latest_run.json in a directory.
type FileStore struct {
	fs  afero.Fs
	dir string
}

// NewFileStore returns a store rooted at dir on fs. The directory is created on first write.
func NewFileStore(fs afero.Fs, dir string) *FileStore {
	return &FileStore{fs: fs, dir: dir}
}

func (s *FileStore) recordPath(repo string) string {
	return filepath.Join(s.dir, repo+".json")
}

// checkName rejects names that are invalid or would alias the run metadata file.
func (s *FileStore) checkName(repo string) error {
	if err := validRepoName(repo); err != nil {
		return err
	}
	if repo+".json" == runFileName {
		return fmt.Errorf("repository name %q collides with the run metadata file", repo)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, repo string) (*domain.RepositoryRecord, error) {
	if err := s.checkName(repo); err != nil {
		return nil, persistenceError(repo, "load", err)
	}
	data, err := afero.ReadFile(s.fs, s.recordPath(repo))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError(repo, "failed to read record", err)
	}
	record, err := decodeRecord(data)
	if err != nil {
		return nil, persistenceError(repo, "failed to decode record", err)
	}
	return record, nil
}

func (s *FileStore) Save(_ context.Context, record *domain.RepositoryRecord) error {
	if err := s.checkName(record.Repo); err != nil {
		return persistenceError(record.Repo, "save", err)
	}
	data, err := encode(record)
	if err != nil {
		return persistenceError(record.Repo, "failed to encode record", err)
	}
	if err := s.writeFile(s.recordPath(record.Repo), data); err != nil {
		return persistenceError(record.Repo, "failed to write record", err)
	}
	return nil
}

// LoadAll returns every stored record ordered by file name.
func (s *FileStore) LoadAll(ctx context.Context) ([]*domain.RepositoryRecord, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, persistenceError("", "failed to list records", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var records []*domain.RepositoryRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == runFileName || !strings.HasSuffix(name, ".json") {
			continue
		}
		record, err := s.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}
		if record.Repo == "" {
			record.Repo = strings.TrimSuffix(name, ".json")
		}
		records = append(records, record)
	}
	return records, nil
}

func (s *FileStore) LoadRun(_ context.Context) (*domain.RunMetadata, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, runFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, persistenceError("", "failed to read run metadata", err)
	}
	var run domain.RunMetadata
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, persistenceError("", "failed to decode run metadata", err)
	}
	return &run, nil
}

func (s *FileStore) SaveRun(_ context.Context, run *domain.RunMetadata) error {
	data, err := encode(run)
	if err != nil {
		return persistenceError("", "failed to encode run metadata", err)
	}
	if err := s.writeFile(filepath.Join(s.dir, runFileName), data); err != nil {
		return persistenceError("", "failed to write run metadata", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

// writeFile writes data next to path and renames it into place, so readers
// see either the old or the new content.
func (s *FileStore) writeFile(path string, data []byte) error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	tmp, err := afero.TempFile(s.fs, s.dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return err
	}
	if err := s.fs.Chmod(tmpName, 0o644); err != nil {
		s.fs.Remove(tmpName)
		return err
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return err
	}
	return nil
}
