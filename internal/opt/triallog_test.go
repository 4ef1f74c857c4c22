package opt

import (
	"bytes"
	"strings"
	"testing"
)

func TestTrialLog_Verbosity(t *testing.T) {
	tests := []struct {
		verbosity Verbosity
		want      int // rows written
	}{
		{TraceAll, 4},
		{TraceAccepted, 3},
		{TraceBest, 1},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		tl := NewTrialLog(&buf, tt.verbosity)
		if err := tl.begin([]string{"x", "y"}); err != nil {
			t.Fatal(err)
		}
		tl.Record(1, 0, Rejected, 5, []float64{1, 2})
		tl.Record(2, 0, Accepted, 4, []float64{1, 2})
		tl.Record(3, 0, NewBest, 3, []float64{1, 2})
		tl.Record(4, 1, Swapped, 3, nil)
		if err := tl.Flush(); err != nil {
			t.Fatal(err)
		}

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if lines[0] != "Trial World Accept OverallCost x y" {
			t.Errorf("Unexpected header %q", lines[0])
		}
		if got := len(lines) - 1; got != tt.want {
			t.Errorf("Verbosity %d: expected %d rows, got %d", tt.verbosity, tt.want, got)
		}
	}
}

func TestTrialLog_HeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	tl := NewTrialLog(&buf, TraceAll)
	tl.begin([]string{"a"})
	tl.Record(1, 2, NewBest, 0.5, []float64{0.25})
	tl.begin([]string{"a"})
	tl.Flush()

	want := "Trial World Accept OverallCost a\n1 2 2 0.5 0.25\n"
	if buf.String() != want {
		t.Errorf("Expected %q, got %q", want, buf.String())
	}
}

func TestParseVerbosity(t *testing.T) {
	tests := map[string]Verbosity{
		"all":      TraceAll,
		"accepted": TraceAccepted,
		"":         TraceAccepted,
		"best":     TraceBest,
	}
	for s, want := range tests {
		got, err := ParseVerbosity(s)
		if err != nil || got != want {
			t.Errorf("ParseVerbosity(%q) = %d, %v; expected %d", s, got, err, want)
		}
	}
	if _, err := ParseVerbosity("verbose"); err == nil {
		t.Error("Expected error for unknown verbosity")
	}
}
