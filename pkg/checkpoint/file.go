package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	pkgerrors "github.com/absmach/fedsim/pkg/errors"
)

// FileStore writes one CBOR file per round under dir/<experiment id>/.
type FileStore struct {
	dir string
	mu  sync.RWMutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Save(_ context.Context, cp Checkpoint) error {
	expDir, err := s.experimentDir(cp.ExperimentID)
	if err != nil {
		return err
	}
	data, err := encode(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(expDir, 0o755); err != nil {
		return fmt.Errorf("failed to create experiment directory: %w", err)
	}
	// Rename keeps a reader from seeing a partially written round.
	tmp, err := os.CreateTemp(expDir, ".round-*")
	if err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()

		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}

	return os.Rename(tmp.Name(), filepath.Join(expDir, roundFile(cp.Round)))
}

func (s *FileStore) Load(_ context.Context, experimentID string, round int) (Checkpoint, error) {
	expDir, err := s.experimentDir(experimentID)
	if err != nil {
		return Checkpoint{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(expDir, roundFile(round)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Checkpoint{}, fmt.Errorf("round %d of %q: %w", round, experimentID, pkgerrors.ErrNotFound)
		}

		return Checkpoint{}, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	return decode(data)
}

func (s *FileStore) Rounds(_ context.Context, experimentID string) ([]int, error) {
	expDir, err := s.experimentDir(experimentID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(expDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	var rounds []int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var round int
		if _, err := fmt.Sscanf(entry.Name(), "round_%d.cbor", &round); err == nil {
			rounds = append(rounds, round)
		}
	}
	slices.Sort(rounds)

	return rounds, nil
}

// Experiments lists the experiment directories that hold checkpoints.
func (s *FileStore) Experiments() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() {
			ids = append(ids, entry.Name())
		}
	}

	return ids, nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) experimentDir(id string) (string, error) {
	clean := sanitizeID(id)
	if clean == "" || clean != id {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	return filepath.Join(s.dir, clean), nil
}

func roundFile(round int) string {
	return fmt.Sprintf("round_%06d.cbor", round)
}

// sanitizeID keeps only characters that are safe in a single path element.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		}
	}

	return b.String()
}
