package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/oshokin/alarm-relay/internal/config"
	"github.com/oshokin/alarm-relay/internal/domain/alarm"
)

// Repository persists the last dispatched alarm.
type Repository interface {
	Load(ctx context.Context) (*alarm.Alarm, error)
	Save(ctx context.Context, a *alarm.Alarm) error
}

// FileRepository keeps the last dispatched alarm in a JSON file.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu serializes file access.
	mu sync.Mutex
}

// ErrNotFound is returned when the state file does not exist yet.
var ErrNotFound = errors.New("state not found")

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the last dispatched alarm from disk.
func (r *FileRepository) Load(_ context.Context) (*alarm.Alarm, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var last alarm.Alarm
	if err = json.Unmarshal(contents, &last); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	if last.Receivers == nil {
		last.Receivers = make(map[string]*alarm.Receiver)
	}

	return &last, nil
}

// Save replaces the state file with a. The file is written next to the old
// one and renamed over it so a crash never leaves half an alarm behind.
func (r *FileRepository) Save(_ context.Context, a *alarm.Alarm) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := r.path + ".tmp"

	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}
