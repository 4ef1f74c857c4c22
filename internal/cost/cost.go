// Package cost provides benchmark cost functions bound to a parameter list,
// from http://en.wikipedia.org/wiki/Test_functions_for_optimization.
package cost

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/Daiius/libobjcryst-sub000/internal/param"
)

var (
	cos  = math.Cos
	exp  = math.Exp
	sqrt = math.Sqrt
)

// ErrNotFinite is returned by Problem.Cost when the function value is NaN
var ErrNotFinite = errors.New("cost is not a number")

// Func is a benchmark function over an n-dimensional box
type Func interface {
	Name() string
	Eval(x []float64) float64
	// Bounds returns the search box, identical along every axis
	Bounds() (low, up float64)
	// Optimum returns the global minimum location in dim dimensions
	Optimum(dim int) []float64
}

var registry = map[string]Func{
	"bowl":       Bowl{},
	"rosenbrock": Rosenbrock{},
	"ackley":     Ackley{},
	"rastrigin":  Rastrigin{},
	"decoy":      Decoy{},
}

// Lookup returns the function registered under name
func Lookup(name string) (Func, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown cost function %q (available: %v)", name, Names())
	}
	return fn, nil
}

// Names returns the registered function names, sorted
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// center returns the bowl center along axis i: (3, -1, 3, -1, ...)
func center(i int) float64 {
	if i%2 == 0 {
		return 3
	}
	return -1
}

// Bowl is a quadratic bowl centered on (3, -1, 3, -1, ...)
type Bowl struct{}

func (fn Bowl) Name() string { return "bowl" }

func (fn Bowl) Eval(x []float64) float64 {
	var sum float64
	for i, v := range x {
		d := v - center(i)
		sum += d * d
	}
	return sum
}

func (fn Bowl) Bounds() (low, up float64) { return -10, 10 }

func (fn Bowl) Optimum(dim int) []float64 {
	x := make([]float64, dim)
	for i := range x {
		x[i] = center(i)
	}
	return x
}

type Rosenbrock struct{}

func (fn Rosenbrock) Name() string { return "rosenbrock" }

func (fn Rosenbrock) Eval(x []float64) float64 {
	var tot float64
	for i := 0; i < len(x)-1; i++ {
		a := x[i+1] - x[i]*x[i]
		b := 1 - x[i]
		tot += 100*a*a + b*b
	}
	return tot
}

func (fn Rosenbrock) Bounds() (low, up float64) { return -5, 10 }

func (fn Rosenbrock) Optimum(dim int) []float64 {
	x := make([]float64, dim)
	for i := range x {
		x[i] = 1
	}
	return x
}

type Ackley struct{}

func (fn Ackley) Name() string { return "ackley" }

func (fn Ackley) Eval(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sq, cs float64
	for _, v := range x {
		sq += v * v
		cs += cos(2 * math.Pi * v)
	}
	n := float64(len(x))
	return -20*exp(-0.2*sqrt(sq/n)) - exp(cs/n) + 20 + math.E
}

func (fn Ackley) Bounds() (low, up float64) { return -5, 5 }

func (fn Ackley) Optimum(dim int) []float64 { return make([]float64, dim) }

type Rastrigin struct{}

func (fn Rastrigin) Name() string { return "rastrigin" }

func (fn Rastrigin) Eval(x []float64) float64 {
	tot := 10 * float64(len(x))
	for _, v := range x {
		tot += v*v - 10*cos(2*math.Pi*v)
	}
	return tot
}

func (fn Rastrigin) Bounds() (low, up float64) { return -5.12, 5.12 }

func (fn Rastrigin) Optimum(dim int) []float64 { return make([]float64, dim) }

// Decoy has a narrow global well at the bowl center and a broad, shallower
// well at (-6, 6, -6, 6, ...) that catches greedy searches.
type Decoy struct{}

const (
	decoyDepth = 0.25
	decoyWidth = 0.05
)

func (fn Decoy) Name() string { return "decoy" }

func (fn Decoy) Eval(x []float64) float64 {
	var near, far float64
	for i, v := range x {
		d := v - center(i)
		near += 4 * d * d
		e := v - decoyCenter(i)
		far += decoyWidth * e * e
	}
	return math.Min(near, decoyDepth+far)
}

func decoyCenter(i int) float64 {
	if i%2 == 0 {
		return -6
	}
	return 6
}

func (fn Decoy) Bounds() (low, up float64) { return -10, 10 }

func (fn Decoy) Optimum(dim int) []float64 { return Bowl{}.Optimum(dim) }

// Problem evaluates a Func on the values of a parameter list. Fixed
// parameters keep their value and still take part in the evaluation.
type Problem struct {
	fn   Func
	list *param.List
	x    []float64
}

// NewProblem binds fn to list
func NewProblem(fn Func, list *param.List) *Problem {
	return &Problem{fn: fn, list: list}
}

// NewList creates dim parameters x0..x{dim-1} limited to the function bounds,
// all starting from the lower corner of the box. step is the displacement of
// a mutation of amplitude 1.
func NewList(fn Func, dim int, step float64) (*param.List, error) {
	if dim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	low, up := fn.Bounds()
	list := param.NewList()
	for i := 0; i < dim; i++ {
		p := param.Param{
			Name:    fmt.Sprintf("x%d", i),
			Type:    "coordinate",
			Value:   low,
			Min:     low,
			Max:     up,
			Limited: true,
			Step:    step,
		}
		if err := list.Add(p); err != nil {
			return nil, fmt.Errorf("failed to add parameter: %w", err)
		}
	}
	return list, nil
}

// Name returns the function name
func (p *Problem) Name() string {
	return p.fn.Name()
}

// Cost evaluates the function on the live parameter values
func (p *Problem) Cost() (float64, error) {
	p.x = p.x[:0]
	for i := 0; i < p.list.Len(); i++ {
		p.x = append(p.x, p.list.Param(i).Value)
	}
	c := p.fn.Eval(p.x)
	if math.IsNaN(c) {
		return 0, fmt.Errorf("%s at %v: %w", p.fn.Name(), p.x, ErrNotFinite)
	}
	return c, nil
}
