package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Daiius/libobjcryst-sub000/internal/opt"
)

func TestParseString(t *testing.T) {
	yamlText := `
algorithm: tempering
trials: 20000
final_cost: 0.001
seed: 42
problem: {name: rastrigin, dim: 3}
tempering:
  temperature: {policy: smart, max: 1, min: 1e-4}
  worlds: 8
trace: {path: trials.txt, verbosity: best}
autosave: {policy: new-best}
`
	cfg, err := ParseString(yamlText)
	if err != nil {
		t.Fatalf("ParseString failed: %v", err)
	}
	if cfg.Algorithm != "tempering" || cfg.Trials != 20000 || cfg.Seed != 42 {
		t.Errorf("Unexpected top-level values: %+v", cfg)
	}
	if cfg.Problem.Name != "rastrigin" || cfg.Problem.Dim != 3 {
		t.Errorf("Unexpected problem: %+v", cfg.Problem)
	}

	pt, err := cfg.TemperingOptions()
	if err != nil {
		t.Fatalf("TemperingOptions failed: %v", err)
	}
	if pt.Worlds != 8 || pt.Temperature.Max != 1 || pt.Temperature.Min != 1e-4 {
		t.Errorf("Unexpected tempering options: %+v", pt)
	}
	// keys absent from the file keep their default
	if pt.TrialsPerWorld != opt.DefaultTemperingConfig().TrialsPerWorld {
		t.Errorf("Expected default trials per world, got %d", pt.TrialsPerWorld)
	}
	if pt.Mutation != opt.DefaultTemperingConfig().Mutation {
		t.Errorf("Expected default mutation schedule, got %+v", pt.Mutation)
	}
}

func TestParseStringInvalid(t *testing.T) {
	tests := []struct {
		name     string
		yamlText string
	}{
		{"Unknown algorithm", `algorithm: genetic`},
		{"Zero trials", `trials: 0`},
		{"Unknown problem", `problem: {name: himmelblau}`},
		{"Zero dimension", `problem: {name: bowl, dim: 0}`},
		{"Inverted bounds", `problem: {name: bowl, dim: 2, lower: 5, upper: -5}`},
		{"Unknown policy", `annealing: {temperature: {policy: linear, max: 1, min: 0.1}}`},
		{"Zero minimum", `annealing: {temperature: {policy: smart, max: 1, min: 0}}`},
		{"Single world", `tempering: {worlds: 1}`},
		{"Small population", `mayfly: {population: 5}`},
		{"Unknown verbosity", `trace: {verbosity: verbose}`},
		{"Unknown autosave", `autosave: {policy: weekly}`},
		{"Malformed YAML", `trials: [1, 2`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseString(tt.yamlText); err == nil {
				t.Fatalf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default configuration invalid: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	if err := os.WriteFile(path, []byte("algorithm: mayfly\nmayfly: {population: 30}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MayflyOptions().Population != 30 {
		t.Errorf("Expected population 30, got %d", cfg.MayflyOptions().Population)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing file")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Algorithm = "tempering"
	cfg.Tempering.Worlds = 12

	data, err := cfg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	back, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse of marshaled config failed: %v", err)
	}
	if back.Algorithm != "tempering" || back.Tempering.Worlds != 12 {
		t.Errorf("Round trip lost values: %+v", back)
	}
}

func TestConfigure(t *testing.T) {
	for _, algorithm := range []opt.Algorithm{opt.AlgorithmAnnealing, opt.AlgorithmTempering, opt.AlgorithmMayfly} {
		cfg := Default()
		cfg.Algorithm = string(algorithm)

		list, problem, err := cfg.BuildProblem()
		if err != nil {
			t.Fatalf("BuildProblem failed: %v", err)
		}
		e := opt.NewEngine(list)
		e.AddObjective(problem, 1)
		if err := cfg.Configure(e); err != nil {
			t.Fatalf("Configure(%s) failed: %v", algorithm, err)
		}
		if e.Algorithm() != algorithm {
			t.Errorf("Expected %s, got %s", algorithm, e.Algorithm())
		}
	}
}

func TestBuildProblem(t *testing.T) {
	cfg := Default()
	cfg.Problem = ProblemConfig{Name: "rosenbrock", Dim: 4, Lower: -2, Upper: 2}

	list, problem, err := cfg.BuildProblem()
	if err != nil {
		t.Fatalf("BuildProblem failed: %v", err)
	}
	if list.NbFree() != 4 {
		t.Fatalf("Expected 4 free parameters, got %d", list.NbFree())
	}
	lower, upper := list.FreeBounds()
	if lower[0] != -2 || upper[3] != 2 {
		t.Errorf("Expected bounds [-2, 2], got [%g, %g]", lower[0], upper[3])
	}
	if p := list.Param(0); p.Step != 0.02 {
		t.Errorf("Expected step 0.02, got %g", p.Step)
	}
	if problem.Name() != "rosenbrock" {
		t.Errorf("Expected rosenbrock, got %s", problem.Name())
	}
}
