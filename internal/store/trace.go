package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Daiius/libobjcryst-sub000/internal/opt"
)

// TraceEntry is one new best configuration, one JSON line in trace.jsonl
type TraceEntry struct {
	Trial     int64     `json:"trial"`
	World     int       `json:"world"`
	Cost      float64   `json:"cost"`
	Timestamp time.Time `json:"timestamp"`

	// Values of every parameter, omitted when the writer drops them
	Values []float64 `json:"values,omitempty"`
}

// TraceWriter appends trace entries to a JSONL file.
// It is buffered and safe for concurrent use.
type TraceWriter struct {
	mu         sync.Mutex
	file       *os.File
	writer     *bufio.Writer
	path       string
	withValues bool
	offset     int64
	err        error
}

func tracePath(baseDir, jobID string) string {
	return filepath.Join(baseDir, "jobs", jobID, "trace.jsonl")
}

// NewTraceWriter creates the trace of a job at <baseDir>/jobs/<jobID>/trace.jsonl.
// If append is true, entries are added to an existing trace.
func NewTraceWriter(baseDir, jobID string, append bool) (*TraceWriter, error) {
	path := tracePath(baseDir, jobID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:       file,
		writer:     bufio.NewWriterSize(file, 64*1024),
		path:       path,
		withValues: true,
	}, nil
}

// WithoutValues drops parameter values from the entries written by OnNewBest
func (tw *TraceWriter) WithoutValues() *TraceWriter {
	tw.withValues = false
	return tw
}

// WithTrialOffset shifts the trial numbers written by OnNewBest, for resumed runs
func (tw *TraceWriter) WithTrialOffset(offset int64) *TraceWriter {
	tw.offset = offset
	return tw
}

// Write appends a trace entry. It is written on Flush or Close.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// OnNewBest records a new best configuration. It has the signature of
// opt.Observer.OnNewBest; the first write error is kept for Err.
func (tw *TraceWriter) OnNewBest(p opt.Progress, values []float64) {
	entry := TraceEntry{
		Trial:     tw.offset + p.Trial,
		World:     p.World,
		Cost:      p.BestCost,
		Timestamp: time.Now(),
	}
	if tw.withValues {
		entry.Values = values
	}
	if err := tw.Write(entry); err != nil {
		tw.mu.Lock()
		if tw.err == nil {
			tw.err = err
		}
		tw.mu.Unlock()
	}
}

// Err returns the first error met by OnNewBest
func (tw *TraceWriter) Err() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.err
}

// Flush writes buffered entries and syncs the file
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered entries and closes the trace file
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the trace file
func (tw *TraceWriter) Path() string {
	return tw.path
}

// ReadTrace reads every entry of a job trace
func ReadTrace(baseDir, jobID string) ([]TraceEntry, error) {
	file, err := os.Open(tracePath(baseDir, jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{JobID: jobID}
		}
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer file.Close()

	return decodeTrace(file)
}

func decodeTrace(r io.Reader) ([]TraceEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var entries []TraceEntry
	for line := 1; scanner.Scan(); line++ {
		var entry TraceEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trace entry at line %d: %w", line, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trace: %w", err)
	}
	return entries, nil
}
