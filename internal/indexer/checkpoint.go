package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Checkpoint records the last block a watcher dispatched.
type Checkpoint struct {
	LastDispatchedBlock uint64 `json:"last_dispatched_block"`
	UpdatedAt           string `json:"updated_at"`
}

type checkpointFile struct {
	Cursors map[string]Checkpoint `json:"cursors"`
}

// FileCheckpointStore keeps named watcher cursors in one JSON file. Writes go
// through a temp file and rename. Safe for concurrent use within one process.
type FileCheckpointStore struct {
	path string
	mu   sync.Mutex
}

func NewFileCheckpointStore(path string) *FileCheckpointStore {
	return &FileCheckpointStore{path: path}
}

// LoadCursor returns the saved cursor for name, if any.
func (c *FileCheckpointStore) LoadCursor(_ context.Context, name string) (uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := c.read()
	if err != nil {
		return 0, false, err
	}
	cp, ok := file.Cursors[name]
	if !ok {
		return 0, false, nil
	}
	return cp.LastDispatchedBlock, true, nil
}

// SaveCursor stores block as the cursor for name.
func (c *FileCheckpointStore) SaveCursor(_ context.Context, name string, block uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := c.read()
	if err != nil {
		return err
	}
	file.Cursors[name] = Checkpoint{
		LastDispatchedBlock: block,
		UpdatedAt:           time.Now().UTC().Format(time.RFC3339Nano),
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func (c *FileCheckpointStore) read() (checkpointFile, error) {
	file := checkpointFile{Cursors: make(map[string]Checkpoint)}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return file, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return file, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return file, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return file, fmt.Errorf("parse checkpoint: %w", err)
	}
	if file.Cursors == nil {
		file.Cursors = make(map[string]Checkpoint)
	}
	return file, nil
}
