package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Daiius/libobjcryst-sub000/internal/config"
	"github.com/Daiius/libobjcryst-sub000/internal/opt"
)

// FSStore implements the Store interface on the filesystem:
//
//	<baseDir>/jobs/<jobID>/checkpoint.json        latest best configuration
//	<baseDir>/jobs/<jobID>/snapshots/<name>.json  every autosave, by name
//	<baseDir>/jobs/<jobID>/trace.jsonl            best-cost trace
//
// Writes go through a temp file and a rename, so concurrent readers never
// see a partial checkpoint.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
	}, nil
}

// BaseDir returns the root directory of the store
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func (fs *FSStore) jobDir(jobID string) string {
	return filepath.Join(fs.baseDir, "jobs", jobID)
}

func (fs *FSStore) checkpointPath(jobID string) string {
	return filepath.Join(fs.jobDir(jobID), "checkpoint.json")
}

func (fs *FSStore) snapshotDir(jobID string) string {
	return filepath.Join(fs.jobDir(jobID), "snapshots")
}

// writeJSON writes v to path through a temp file and a rename
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}
	return nil
}

func readCheckpoint(path, jobID string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{JobID: jobID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var checkpoint Checkpoint
	if err := json.Unmarshal(data, &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to deserialize checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// SaveCheckpoint atomically saves the latest checkpoint of a job. A named
// checkpoint is also kept under snapshots/.
func (fs *FSStore) SaveCheckpoint(jobID string, checkpoint *Checkpoint) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	path := fs.checkpointPath(jobID)
	if err := writeJSON(path, checkpoint); err != nil {
		return err
	}
	if checkpoint.Name != "" {
		snapshot := filepath.Join(fs.snapshotDir(jobID), checkpoint.Name+".json")
		if err := writeJSON(snapshot, checkpoint); err != nil {
			return err
		}
	}

	slog.Debug("Checkpoint saved", "jobID", jobID, "name", checkpoint.Name, "best_cost", checkpoint.BestCost)
	return nil
}

// LoadCheckpoint retrieves the latest checkpoint of a job
func (fs *FSStore) LoadCheckpoint(jobID string) (*Checkpoint, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID cannot be empty")
	}

	checkpoint, err := readCheckpoint(fs.checkpointPath(jobID), jobID)
	if err != nil {
		return nil, err
	}
	slog.Debug("Checkpoint loaded", "jobID", jobID, "trial", checkpoint.Trial)
	return checkpoint, nil
}

// LoadSnapshot retrieves a named autosave of a job
func (fs *FSStore) LoadSnapshot(jobID, name string) (*Checkpoint, error) {
	if jobID == "" || name == "" {
		return nil, fmt.Errorf("jobID and name cannot be empty")
	}
	return readCheckpoint(filepath.Join(fs.snapshotDir(jobID), name+".json"), jobID)
}

// ListSnapshots returns the autosave names of a job, oldest first
func (fs *FSStore) ListSnapshots(jobID string) ([]string, error) {
	entries, err := os.ReadDir(fs.snapshotDir(jobID))
	if os.IsNotExist(err) {
		return []string{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if entry.IsDir() || !ok {
			continue
		}
		names = append(names, name)
	}
	// names start with a sortable timestamp
	sort.Strings(names)
	return names, nil
}

// ListCheckpoints returns metadata for all available checkpoints
func (fs *FSStore) ListCheckpoints() ([]CheckpointInfo, error) {
	jobsDir := filepath.Join(fs.baseDir, "jobs")

	entries, err := os.ReadDir(jobsDir)
	if os.IsNotExist(err) {
		return []CheckpointInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	infos := []CheckpointInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		jobID := entry.Name()
		checkpoint, err := fs.LoadCheckpoint(jobID)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.Warn("Failed to load checkpoint for listing", "jobID", jobID, "error", err)
			}
			continue
		}
		infos = append(infos, checkpoint.ToInfo())
	}

	slog.Debug("Listed checkpoints", "count", len(infos))
	return infos, nil
}

// DeleteCheckpoint removes the job directory: checkpoint, snapshots and trace
func (fs *FSStore) DeleteCheckpoint(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}

	jobDir := fs.jobDir(jobID)
	if _, err := os.Stat(jobDir); os.IsNotExist(err) {
		return &NotFoundError{JobID: jobID}
	} else if err != nil {
		return fmt.Errorf("failed to stat job directory: %w", err)
	}

	if err := os.RemoveAll(jobDir); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}

	slog.Debug("Checkpoint deleted", "jobID", jobID, "path", jobDir)
	return nil
}

// Persister returns an autosave persister writing checkpoints of jobID.
// trialOffset counts the trials consumed before the run, when resuming.
func Persister(s Store, jobID string, initialCost float64, trialOffset int64, cfg config.RunConfig) opt.Persister {
	return func(snapshot opt.Snapshot) error {
		return s.SaveCheckpoint(jobID, FromSnapshot(jobID, snapshot, initialCost, trialOffset, cfg))
	}
}
