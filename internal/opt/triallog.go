package opt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// Verbosity selects which trials are written to the trial log
type Verbosity int

const (
	TraceAll Verbosity = iota
	TraceAccepted
	TraceBest
)

// ParseVerbosity converts a configuration string to a Verbosity
func ParseVerbosity(s string) (Verbosity, error) {
	switch s {
	case "all":
		return TraceAll, nil
	case "accepted", "":
		return TraceAccepted, nil
	case "best":
		return TraceBest, nil
	}
	return 0, fmt.Errorf("unknown trace verbosity: %q (must be all, accepted or best)", s)
}

// AcceptCode is the outcome of a trial as written in the Accept column
type AcceptCode int

const (
	Rejected AcceptCode = iota
	Accepted
	NewBest
	Swapped // parallel tempering exchange between World and World-1
)

// TrialLog writes a whitespace-delimited table of trials:
//
//	Trial World Accept OverallCost <param1> <param2> ...
//
// It is a debugging aid; the column set follows the free parameters of the
// first run that writes to it.
type TrialLog struct {
	mu        sync.Mutex
	w         *bufio.Writer
	verbosity Verbosity
	header    bool
	buf       []byte
}

// NewTrialLog creates a trial log writing to w
func NewTrialLog(w io.Writer, verbosity Verbosity) *TrialLog {
	return &TrialLog{
		w:         bufio.NewWriterSize(w, 64*1024),
		verbosity: verbosity,
	}
}

// begin writes the header once
func (tl *TrialLog) begin(names []string) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if tl.header {
		return nil
	}
	tl.header = true

	if _, err := tl.w.WriteString("Trial World Accept OverallCost"); err != nil {
		return fmt.Errorf("failed to write trial log header: %w", err)
	}
	for _, name := range names {
		tl.w.WriteByte(' ')
		tl.w.WriteString(name)
	}
	return tl.w.WriteByte('\n')
}

func (tl *TrialLog) wants(code AcceptCode) bool {
	switch tl.verbosity {
	case TraceBest:
		return code == NewBest
	case TraceAccepted:
		return code != Rejected
	}
	return true
}

// Record appends one row if the verbosity selects it
func (tl *TrialLog) Record(trial int64, world int, code AcceptCode, cost float64, values []float64) error {
	if !tl.wants(code) {
		return nil
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	b := tl.buf[:0]
	b = strconv.AppendInt(b, trial, 10)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(world), 10)
	b = append(b, ' ')
	b = strconv.AppendInt(b, int64(code), 10)
	b = append(b, ' ')
	b = strconv.AppendFloat(b, cost, 'g', 10, 64)
	for _, v := range values {
		b = append(b, ' ')
		b = strconv.AppendFloat(b, v, 'g', 8, 64)
	}
	b = append(b, '\n')
	tl.buf = b

	if _, err := tl.w.Write(b); err != nil {
		return fmt.Errorf("failed to write trial log: %w", err)
	}
	return nil
}

// Flush writes buffered rows to the underlying writer
func (tl *TrialLog) Flush() error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if err := tl.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush trial log: %w", err)
	}
	return nil
}
