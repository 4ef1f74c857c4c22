package param

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

func newTestList(t *testing.T) *List {
	t.Helper()
	l := NewList()
	params := []Param{
		{Name: "x", Type: "position", Value: 1, Step: 0.5},
		{Name: "y", Type: "position", Value: 2, Min: -5, Max: 5, Limited: true},
		{Name: "angle", Type: "orientation", Value: 0, Min: 0, Max: 360, Periodic: true, Step: 10},
	}
	for _, p := range params {
		if err := l.Add(p); err != nil {
			t.Fatalf("Failed to add %s: %v", p.Name, err)
		}
	}
	return l
}

func TestList_Add(t *testing.T) {
	l := newTestList(t)

	if l.Len() != 3 {
		t.Fatalf("Expected 3 parameters, got %d", l.Len())
	}
	if err := l.Add(Param{Name: "x"}); !errors.Is(err, ErrDuplicateParam) {
		t.Errorf("Expected ErrDuplicateParam, got %v", err)
	}
	if err := l.Add(Param{}); err == nil {
		t.Error("Expected error for empty name")
	}
	if err := l.Add(Param{Name: "bad", Limited: true, Min: 1, Max: 0}); err == nil {
		t.Error("Expected error for max < min")
	}

	p, err := l.ByName("y")
	if err != nil {
		t.Fatalf("ByName failed: %v", err)
	}
	if p.Step != 1 {
		t.Errorf("Expected default step 1, got %f", p.Step)
	}
	if _, err := l.ByName("missing"); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("Expected ErrUnknownParam, got %v", err)
	}
}

func TestList_Normalize(t *testing.T) {
	l := newTestList(t)

	tests := []struct {
		name  string
		value float64
		want  float64
	}{
		{"x", 1e6, 1e6},
		{"y", 12, 5},
		{"y", -12, -5},
		{"angle", 370, 10},
		{"angle", -30, 330},
		{"angle", 360, 0},
	}
	for _, tt := range tests {
		if err := l.SetValue(tt.name, tt.value); err != nil {
			t.Fatalf("SetValue(%s) failed: %v", tt.name, err)
		}
		p, _ := l.ByName(tt.name)
		if math.Abs(p.Value-tt.want) > 1e-9 {
			t.Errorf("SetValue(%s, %g): expected %g, got %g", tt.name, tt.value, tt.want, p.Value)
		}
	}
}

func TestList_FixAndFree(t *testing.T) {
	l := newTestList(t)

	if l.NbFree() != 3 {
		t.Fatalf("Expected 3 free parameters, got %d", l.NbFree())
	}
	if err := l.FixType("position"); err != nil {
		t.Fatalf("FixType failed: %v", err)
	}
	if l.NbFree() != 1 {
		t.Fatalf("Expected 1 free parameter, got %d", l.NbFree())
	}
	names := l.FreeNames()
	if len(names) != 1 || names[0] != "angle" {
		t.Errorf("Expected free names [angle], got %v", names)
	}
	if err := l.FixType("unknown"); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("Expected ErrUnknownParam for unknown type, got %v", err)
	}

	if err := l.Unfix("y"); err != nil {
		t.Fatalf("Unfix failed: %v", err)
	}
	if err := l.SetFreeValues([]float64{3, 90}); err != nil {
		t.Fatalf("SetFreeValues failed: %v", err)
	}
	values := l.Values()
	if values[0] != 1 || values[1] != 3 || values[2] != 90 {
		t.Errorf("Unexpected values after SetFreeValues: %v", values)
	}
	if err := l.SetFreeValues([]float64{1}); err == nil {
		t.Error("Expected error for wrong number of free values")
	}
}

func TestList_Limits(t *testing.T) {
	l := newTestList(t)

	if err := l.SetRelativeLimits("x", 0.25); err != nil {
		t.Fatalf("SetRelativeLimits failed: %v", err)
	}
	p, _ := l.ByName("x")
	if !p.Limited || p.Min != 0.75 || p.Max != 1.25 {
		t.Errorf("Expected limited [0.75, 1.25], got limited=%v [%g, %g]", p.Limited, p.Min, p.Max)
	}
	if err := l.SetLimits("x", 2, 1); err == nil {
		t.Error("Expected error for max < min")
	}
	if err := l.SetLimitsType("position", 1.5, 3); err != nil {
		t.Fatalf("SetLimitsType failed: %v", err)
	}
	if p.Value != 1.5 {
		t.Errorf("Expected value clamped to 1.5, got %g", p.Value)
	}

	lower, upper := l.FreeBounds()
	if lower[0] != 1.5 || upper[0] != 3 {
		t.Errorf("Expected bounds [1.5, 3], got [%g, %g]", lower[0], upper[0])
	}
	if lower[2] != 0 || upper[2] != 360 {
		t.Errorf("Expected periodic bounds [0, 360], got [%g, %g]", lower[2], upper[2])
	}
}

func TestList_MutateStaysInDomain(t *testing.T) {
	l := newTestList(t)
	if err := l.Fix("x"); err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		l.Mutate(16, rng)
		if x, _ := l.ByName("x"); x.Value != 1 {
			t.Fatalf("Fixed parameter moved to %g", x.Value)
		}
		if y, _ := l.ByName("y"); y.Value < -5 || y.Value > 5 {
			t.Fatalf("Limited parameter escaped: %g", y.Value)
		}
		if a, _ := l.ByName("angle"); a.Value < 0 || a.Value > 360 {
			t.Fatalf("Periodic parameter escaped: %g", a.Value)
		}
	}
}

func TestList_Randomize(t *testing.T) {
	l := newTestList(t)
	rng := rand.New(rand.NewSource(7))

	l.Randomize(rng)
	x, _ := l.ByName("x")
	if x.Value != 1 {
		t.Errorf("Unlimited parameter should not be randomized, got %g", x.Value)
	}
	y, _ := l.ByName("y")
	if y.Value < -5 || y.Value > 5 {
		t.Errorf("Randomized value out of limits: %g", y.Value)
	}
}

func TestList_Sets(t *testing.T) {
	l := newTestList(t)

	id := l.CreateSet("start")
	if name, err := l.SetName(id); err != nil || name != "start" {
		t.Errorf("Expected set name start, got %q (%v)", name, err)
	}
	start := l.Values()

	l.Mutate(1, rand.New(rand.NewSource(3)))
	moved := l.CreateSet("moved")

	if err := l.RestoreSet(id); err != nil {
		t.Fatalf("RestoreSet failed: %v", err)
	}
	for i, v := range l.Values() {
		if v != start[i] {
			t.Errorf("Value %d not restored: expected %g, got %g", i, start[i], v)
		}
	}

	d, err := l.Distance(id, moved)
	if err != nil {
		t.Fatalf("Distance failed: %v", err)
	}
	if d <= 0 {
		t.Errorf("Expected positive distance, got %g", d)
	}

	if err := l.SetValue("x", 42); err != nil {
		t.Fatal(err)
	}
	if err := l.SaveSet(id); err != nil {
		t.Fatalf("SaveSet failed: %v", err)
	}
	values, err := l.SetValuesOf(id)
	if err != nil {
		t.Fatalf("SetValuesOf failed: %v", err)
	}
	if values[0] != 42 {
		t.Errorf("Expected saved x=42, got %g", values[0])
	}
	values[0] = 0
	if again, _ := l.SetValuesOf(id); again[0] != 42 {
		t.Error("SetValuesOf must return a copy")
	}

	if l.NbSets() != 2 {
		t.Errorf("Expected 2 sets, got %d", l.NbSets())
	}
	l.EraseSet(id)
	if err := l.RestoreSet(id); !errors.Is(err, ErrUnknownSet) {
		t.Errorf("Expected ErrUnknownSet after erase, got %v", err)
	}
	if l.NbSets() != 1 {
		t.Errorf("Expected 1 set, got %d", l.NbSets())
	}
}

func TestList_SetAfterAdd(t *testing.T) {
	l := newTestList(t)
	id := l.CreateSet("before")

	if err := l.Add(Param{Name: "z", Value: 3}); err != nil {
		t.Fatal(err)
	}
	if err := l.RestoreSet(id); err == nil {
		t.Error("Expected error restoring a set shorter than the list")
	}
	if err := l.SaveSet(id); err != nil {
		t.Fatalf("SaveSet failed: %v", err)
	}
	if err := l.RestoreSet(id); err != nil {
		t.Errorf("RestoreSet failed after resave: %v", err)
	}
}
