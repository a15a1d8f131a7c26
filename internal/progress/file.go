package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// FileStore keeps one JSON file per run under <dir>/runs/<token>.json.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir (typically .stepplane).
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state directory is required")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) runsDir() string {
	return filepath.Join(s.dir, "runs")
}

func (s *FileStore) path(token string) (string, error) {
	if _, err := uuid.Parse(token); err != nil {
		return "", fmt.Errorf("invalid run token %q: %w", token, err)
	}
	return filepath.Join(s.runsDir(), token+".json"), nil
}

// Save writes the run atomically (temp file, then rename).
func (s *FileStore) Save(ctx context.Context, state *State) error {
	if state == nil {
		return errors.New("nil run state")
	}
	path, err := s.path(state.Token)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.runsDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Marshal with indentation for readability
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run state: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write run state: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}

// Load reads the run for token. A missing file means no run.
func (s *FileStore) Load(ctx context.Context, token string) (*State, error) {
	path, err := s.path(token)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	return &state, nil
}

// Clear removes the run file.
func (s *FileStore) Clear(ctx context.Context, token string) error {
	path, err := s.path(token)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear run state: %w", err)
	}
	return nil
}

// Active lists the tokens with a stored run, sorted.
func (s *FileStore) Active(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.runsDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	var tokens []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		tokens = append(tokens, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(tokens)
	return tokens, nil
}
