package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// The progress record is one shared JSON file mapping job references to
// their stage. Every read-modify-write runs under a file lock so concurrent
// runs on different inputs cannot clobber each other's entries.

func (s *Store) progressPath() string { return filepath.Join(s.root, "progress.json") }
func (s *Store) lockPath() string     { return filepath.Join(s.root, "progress.lock") }

func (s *Store) withProgressLock(fn func() error) error {
	lock := flock.New(s.lockPath())
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock progress file: %w", err)
	}
	defer lock.Unlock()
	return fn()
}

func (s *Store) readProgressFile() (map[string]Progress, error) {
	data, err := os.ReadFile(s.progressPath())
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Progress{}, nil
		}
		return nil, err
	}
	all := map[string]Progress{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode progress file: %w", err)
	}
	return all, nil
}

func (s *Store) writeProgressFile(all map[string]Progress) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.progressPath(), data, 0o644)
}

// GetProgress returns the job's progress record, or ok=false when the job
// has never run.
func (s *Store) GetProgress(job string) (Progress, bool, error) {
	var p Progress
	var ok bool
	err := s.withProgressLock(func() error {
		all, err := s.readProgressFile()
		if err != nil {
			return err
		}
		p, ok = all[job]
		return nil
	})
	return p, ok, err
}

// SetProgress overwrites the job's progress record.
func (s *Store) SetProgress(job string, stage, completed, total int) error {
	return s.withProgressLock(func() error {
		all, err := s.readProgressFile()
		if err != nil {
			return err
		}
		all[job] = Progress{Stage: stage, Completed: completed, Total: total}
		return s.writeProgressFile(all)
	})
}

// DeleteProgress removes the job's entry; other jobs' records are kept.
func (s *Store) DeleteProgress(job string) error {
	return s.withProgressLock(func() error {
		all, err := s.readProgressFile()
		if err != nil {
			return err
		}
		if _, ok := all[job]; !ok {
			return nil
		}
		delete(all, job)
		return s.writeProgressFile(all)
	})
}
