package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FileStore keeps JSON documents under a directory:
//
//	state/<operation id>.json
//	audit/<operation id>-<completed at>.json
//	artifacts/<operation id>-<kind>.json
type FileStore struct {
	dir    string
	logger *zap.Logger
}

// NewFileStore creates the directory layout under dir.
func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	for _, sub := range []string{"state", "audit", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", sub, err)
		}
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) statePath(id string) string {
	return filepath.Join(s.dir, "state", safeName(id)+".json")
}

// SaveState replaces the state file atomically.
func (s *FileStore) SaveState(_ context.Context, state *State) error {
	if err := writeJSON(s.statePath(state.OperationID), state); err != nil {
		return fmt.Errorf("save operation state: %w", err)
	}
	return nil
}

// LoadState reads the state for operationID.
func (s *FileStore) LoadState(_ context.Context, operationID string) (*State, error) {
	raw, err := os.ReadFile(s.statePath(operationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load operation state: %w", err)
	}
	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode operation state: %w", err)
	}
	return &state, nil
}

// ClearState removes the state file.
func (s *FileStore) ClearState(_ context.Context, operationID string) error {
	err := os.Remove(s.statePath(operationID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear operation state: %w", err)
	}
	return nil
}

// SaveRecord writes a new audit file. A resumed operation gets a second file.
func (s *FileStore) SaveRecord(_ context.Context, record *Record) error {
	name := fmt.Sprintf("%s-%s.json", safeName(record.OperationID), record.CompletedAt.UTC().Format("20060102T150405.000"))
	path := filepath.Join(s.dir, "audit", name)
	if err := writeJSON(path, record); err != nil {
		return fmt.Errorf("save audit record: %w", err)
	}
	s.logger.Info("Saved audit record", zap.String("path", path))
	return nil
}

// SaveArtifact writes schemas for operationID.
func (s *FileStore) SaveArtifact(_ context.Context, operationID, kind string, schemas []Schema) error {
	path := filepath.Join(s.dir, "artifacts", fmt.Sprintf("%s-%s.json", safeName(operationID), kind))
	doc := struct {
		OperationID string    `json:"operationId"`
		Kind        string    `json:"kind"`
		CreatedAt   time.Time `json:"createdAt"`
		Schemas     []Schema  `json:"schemas"`
	}{operationID, kind, time.Now().UTC(), schemas}
	if err := writeJSON(path, doc); err != nil {
		return fmt.Errorf("save %s artifact: %w", kind, err)
	}
	s.logger.Info("Saved schema artifact",
		zap.String("kind", kind),
		zap.String("path", path),
		zap.Int("schema_count", len(schemas)))
	return nil
}

// writeJSON writes to a temp file in the same directory and renames it into
// place, so readers see either the old or the new document.
func writeJSON(path string, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func safeName(id string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(id)
}

var _ Store = (*FileStore)(nil)
