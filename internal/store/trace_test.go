package store

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Daiius/libobjcryst-sub000/internal/opt"
)

func TestTraceWriter_WriteAndRead(t *testing.T) {
	tempDir := t.TempDir()
	jobID := "trace-job"

	tw, err := NewTraceWriter(tempDir, jobID, false)
	if err != nil {
		t.Fatalf("NewTraceWriter failed: %v", err)
	}
	if !strings.HasSuffix(tw.Path(), "trace.jsonl") {
		t.Errorf("Unexpected trace path %s", tw.Path())
	}

	for i := 0; i < 5; i++ {
		entry := TraceEntry{
			Trial:     int64(i * 100),
			Cost:      1.0 / float64(i+1),
			Timestamp: time.Now(),
		}
		if err := tw.Write(entry); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	entries, err := ReadTrace(tempDir, jobID)
	if err != nil {
		t.Fatalf("ReadTrace failed: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("Expected 5 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.Trial != int64(i*100) {
			t.Errorf("Entry %d: expected trial %d, got %d", i, i*100, entry.Trial)
		}
		if entry.Values != nil {
			t.Errorf("Entry %d: expected no values, got %v", i, entry.Values)
		}
	}
}

func TestTraceWriter_Append(t *testing.T) {
	tempDir := t.TempDir()
	jobID := "append-job"

	for run := 0; run < 2; run++ {
		tw, err := NewTraceWriter(tempDir, jobID, run > 0)
		if err != nil {
			t.Fatal(err)
		}
		tw.Write(TraceEntry{Trial: int64(run), Cost: 1})
		tw.Close()
	}
	entries, err := ReadTrace(tempDir, jobID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("Expected 2 entries after append, got %d", len(entries))
	}

	// without append the trace starts over
	tw, err := NewTraceWriter(tempDir, jobID, false)
	if err != nil {
		t.Fatal(err)
	}
	tw.Write(TraceEntry{Trial: 9, Cost: 1})
	tw.Close()
	entries, _ = ReadTrace(tempDir, jobID)
	if len(entries) != 1 || entries[0].Trial != 9 {
		t.Errorf("Expected a single fresh entry, got %+v", entries)
	}
}

func TestTraceWriter_OnNewBest(t *testing.T) {
	tempDir := t.TempDir()
	tw, err := NewTraceWriter(tempDir, "observer", false)
	if err != nil {
		t.Fatal(err)
	}
	tw.WithTrialOffset(1000)

	tw.OnNewBest(opt.Progress{Trial: 5, World: 3, BestCost: 0.5}, []float64{1, 2})
	tw.WithoutValues().OnNewBest(opt.Progress{Trial: 8, BestCost: 0.25}, []float64{1, 2})
	if err := tw.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if err := tw.Err(); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	tw.Close()

	entries, err := ReadTrace(tempDir, "observer")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Trial != 1005 || entries[0].World != 3 || entries[0].Cost != 0.5 || len(entries[0].Values) != 2 {
		t.Errorf("Unexpected first entry %+v", entries[0])
	}
	if entries[1].Values != nil {
		t.Errorf("Expected values dropped, got %v", entries[1].Values)
	}
}

func TestReadTrace_NotFound(t *testing.T) {
	_, err := ReadTrace(t.TempDir(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDecodeTrace_Corrupt(t *testing.T) {
	_, err := decodeTrace(strings.NewReader("{\"trial\":1,\"cost\":2}\n{broken\n"))
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("Expected an error on line 2, got %v", err)
	}
}

func TestTraceWriter_ConcurrentWrites(t *testing.T) {
	tempDir := t.TempDir()
	tw, err := NewTraceWriter(tempDir, "concurrent", false)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				if err := tw.Write(TraceEntry{Trial: int64(g*100 + i), Cost: float64(i)}); err != nil {
					t.Error(fmt.Errorf("goroutine %d: %w", g, err))
					return
				}
			}
		}(g)
	}
	wg.Wait()
	tw.Close()

	entries, err := ReadTrace(tempDir, "concurrent")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1000 {
		t.Errorf("Expected 1000 entries, got %d", len(entries))
	}
}
