package param

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/exp/constraints"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrUnknownParam is returned when a parameter name or type tag matches nothing
	ErrUnknownParam = errors.New("unknown parameter")

	// ErrDuplicateParam is returned by Add when the name is already registered
	ErrDuplicateParam = errors.New("duplicate parameter")

	// ErrUnknownSet is returned when a snapshot handle does not exist
	ErrUnknownSet = errors.New("unknown parameter set")
)

// Param is a single refinable scalar
type Param struct {
	Name     string
	Type     string  // Type tag, used to fix/unfix or limit groups of parameters
	Value    float64 // Current value
	Min, Max float64 // Limits (or period bounds if Periodic)
	Limited  bool
	Periodic bool
	Fixed    bool    // Fixed parameters are excluded from mutation
	Step     float64 // Global optimization step: displacement for a mutation amplitude of 1
}

// Period returns the period of a periodic parameter
func (p *Param) Period() float64 {
	return p.Max - p.Min
}

// normalize brings v back into the valid domain of the parameter
func (p *Param) normalize(v float64) float64 {
	switch {
	case p.Periodic:
		period := p.Period()
		if period <= 0 {
			return v
		}
		v = math.Mod(v-p.Min, period)
		if v < 0 {
			v += period
		}
		return p.Min + v
	case p.Limited:
		return clamp(v, p.Min, p.Max)
	default:
		return v
	}
}

type paramSet struct {
	name   string
	values []float64
}

// List holds an ordered collection of parameters and named snapshots of their values.
// A List is not safe for concurrent use; the optimization engine drives it from a single goroutine.
type List struct {
	params []*Param
	index  map[string]int
	sets   map[int]*paramSet
	nextID int
}

// NewList creates an empty parameter list
func NewList() *List {
	return &List{
		index: make(map[string]int),
		sets:  make(map[int]*paramSet),
	}
}

// Add registers a parameter. The value is normalized to its limits.
func (l *List) Add(p Param) error {
	if p.Name == "" {
		return fmt.Errorf("parameter name cannot be empty")
	}
	if _, exists := l.index[p.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateParam, p.Name)
	}
	if (p.Limited || p.Periodic) && p.Max < p.Min {
		return fmt.Errorf("parameter %s: max (%g) < min (%g)", p.Name, p.Max, p.Min)
	}
	if p.Step <= 0 {
		p.Step = 1
	}
	p.Value = p.normalize(p.Value)

	l.index[p.Name] = len(l.params)
	l.params = append(l.params, &p)
	return nil
}

// Len returns the total number of parameters, fixed or not
func (l *List) Len() int {
	return len(l.params)
}

// Param returns the i-th parameter
func (l *List) Param(i int) *Param {
	return l.params[i]
}

// ByName looks up a parameter by name
func (l *List) ByName(name string) (*Param, error) {
	i, ok := l.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	return l.params[i], nil
}

// Names returns all parameter names in order
func (l *List) Names() []string {
	names := make([]string, len(l.params))
	for i, p := range l.params {
		names[i] = p.Name
	}
	return names
}

// Values returns a copy of all parameter values in order
func (l *List) Values() []float64 {
	values := make([]float64, len(l.params))
	for i, p := range l.params {
		values[i] = p.Value
	}
	return values
}

// SetValue sets a parameter value, clamping limited and wrapping periodic parameters
func (l *List) SetValue(name string, v float64) error {
	p, err := l.ByName(name)
	if err != nil {
		return err
	}
	p.Value = p.normalize(v)
	return nil
}

// SetValues overwrites all values in order. len(values) must equal Len().
func (l *List) SetValues(values []float64) error {
	if len(values) != len(l.params) {
		return fmt.Errorf("expected %d values, got %d", len(l.params), len(values))
	}
	for i, p := range l.params {
		p.Value = p.normalize(values[i])
	}
	return nil
}

// Fix excludes a parameter from optimization
func (l *List) Fix(name string) error {
	p, err := l.ByName(name)
	if err != nil {
		return err
	}
	p.Fixed = true
	return nil
}

// Unfix includes a parameter in optimization
func (l *List) Unfix(name string) error {
	p, err := l.ByName(name)
	if err != nil {
		return err
	}
	p.Fixed = false
	return nil
}

// FixType fixes every parameter carrying the type tag
func (l *List) FixType(tag string) error {
	return l.eachOfType(tag, func(p *Param) { p.Fixed = true })
}

// UnfixType unfixes every parameter carrying the type tag
func (l *List) UnfixType(tag string) error {
	return l.eachOfType(tag, func(p *Param) { p.Fixed = false })
}

// SetLimits sets absolute limits on a parameter and marks it limited
func (l *List) SetLimits(name string, min, max float64) error {
	if max < min {
		return fmt.Errorf("parameter %s: max (%g) < min (%g)", name, max, min)
	}
	p, err := l.ByName(name)
	if err != nil {
		return err
	}
	setLimits(p, min, max)
	return nil
}

// SetRelativeLimits limits a parameter to [value-delta, value+delta]
func (l *List) SetRelativeLimits(name string, delta float64) error {
	p, err := l.ByName(name)
	if err != nil {
		return err
	}
	delta = math.Abs(delta)
	setLimits(p, p.Value-delta, p.Value+delta)
	return nil
}

// SetLimitsType sets absolute limits on every parameter carrying the type tag
func (l *List) SetLimitsType(tag string, min, max float64) error {
	if max < min {
		return fmt.Errorf("type %s: max (%g) < min (%g)", tag, max, min)
	}
	return l.eachOfType(tag, func(p *Param) { setLimits(p, min, max) })
}

// SetRelativeLimitsType limits every parameter of the type tag around its current value
func (l *List) SetRelativeLimitsType(tag string, delta float64) error {
	delta = math.Abs(delta)
	return l.eachOfType(tag, func(p *Param) { setLimits(p, p.Value-delta, p.Value+delta) })
}

func setLimits(p *Param, min, max float64) {
	p.Min, p.Max = min, max
	if !p.Periodic {
		p.Limited = true
	}
	p.Value = p.normalize(p.Value)
}

func (l *List) eachOfType(tag string, fn func(*Param)) error {
	found := false
	for _, p := range l.params {
		if p.Type == tag {
			fn(p)
			found = true
		}
	}
	if !found {
		return fmt.Errorf("%w: no parameter of type %s", ErrUnknownParam, tag)
	}
	return nil
}

// NbFree returns the number of non-fixed parameters
func (l *List) NbFree() int {
	n := 0
	for _, p := range l.params {
		if !p.Fixed {
			n++
		}
	}
	return n
}

// FreeNames returns the names of non-fixed parameters in order
func (l *List) FreeNames() []string {
	names := make([]string, 0, len(l.params))
	for _, p := range l.params {
		if !p.Fixed {
			names = append(names, p.Name)
		}
	}
	return names
}

// FreeValues appends the values of non-fixed parameters to dst and returns it
func (l *List) FreeValues(dst []float64) []float64 {
	for _, p := range l.params {
		if !p.Fixed {
			dst = append(dst, p.Value)
		}
	}
	return dst
}

// FreeBounds returns the search box of the non-fixed parameters.
// Unlimited parameters get a box of +/- Step*1e3 around their current value.
func (l *List) FreeBounds() (lower, upper []float64) {
	for _, p := range l.params {
		if p.Fixed {
			continue
		}
		if p.Limited || p.Periodic {
			lower = append(lower, p.Min)
			upper = append(upper, p.Max)
			continue
		}
		lower = append(lower, p.Value-p.Step*1e3)
		upper = append(upper, p.Value+p.Step*1e3)
	}
	return lower, upper
}

// SetFreeValues overwrites the non-fixed parameter values in order
func (l *List) SetFreeValues(values []float64) error {
	if n := l.NbFree(); len(values) != n {
		return fmt.Errorf("expected %d free values, got %d", n, len(values))
	}
	j := 0
	for _, p := range l.params {
		if p.Fixed {
			continue
		}
		p.Value = p.normalize(values[j])
		j++
	}
	return nil
}

// Mutate moves every free parameter by Step*amplitude*(2u-1), u uniform in [0,1)
func (l *List) Mutate(amplitude float64, rng *rand.Rand) {
	for _, p := range l.params {
		if p.Fixed {
			continue
		}
		p.Value = p.normalize(p.Value + p.Step*amplitude*(2*rng.Float64()-1))
	}
}

// Randomize draws every free limited or periodic parameter uniformly over its domain.
// Unlimited parameters are left untouched.
func (l *List) Randomize(rng *rand.Rand) {
	for _, p := range l.params {
		if p.Fixed || !(p.Limited || p.Periodic) {
			continue
		}
		p.Value = p.normalize(p.Min + rng.Float64()*(p.Max-p.Min))
	}
}

// CreateSet snapshots the current values under a new handle
func (l *List) CreateSet(name string) int {
	id := l.nextID
	l.nextID++
	l.sets[id] = &paramSet{name: name, values: l.Values()}
	return id
}

// SaveSet overwrites the snapshot with the current values
func (l *List) SaveSet(id int) error {
	set, ok := l.sets[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSet, id)
	}
	if len(set.values) != len(l.params) {
		set.values = l.Values()
		return nil
	}
	for i, p := range l.params {
		set.values[i] = p.Value
	}
	return nil
}

// RestoreSet copies the snapshot back into the parameters, bit for bit
func (l *List) RestoreSet(id int) error {
	set, ok := l.sets[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSet, id)
	}
	if len(set.values) != len(l.params) {
		return fmt.Errorf("parameter set %d holds %d values, list has %d", id, len(set.values), len(l.params))
	}
	for i, p := range l.params {
		p.Value = set.values[i]
	}
	return nil
}

// SetValuesOf returns a copy of the values stored in a snapshot
func (l *List) SetValuesOf(id int) ([]float64, error) {
	set, ok := l.sets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSet, id)
	}
	values := make([]float64, len(set.values))
	copy(values, set.values)
	return values, nil
}

// SetName returns the name a snapshot was created with
func (l *List) SetName(id int) (string, error) {
	set, ok := l.sets[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrUnknownSet, id)
	}
	return set.name, nil
}

// EraseSet drops a snapshot. Erasing an unknown handle is a no-op.
func (l *List) EraseSet(id int) {
	delete(l.sets, id)
}

// NbSets returns the number of live snapshots
func (l *List) NbSets() int {
	return len(l.sets)
}

// Distance returns the euclidean distance between two snapshots
func (l *List) Distance(a, b int) (float64, error) {
	sa, ok := l.sets[a]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownSet, a)
	}
	sb, ok := l.sets[b]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnknownSet, b)
	}
	if len(sa.values) != len(sb.values) {
		return 0, fmt.Errorf("parameter sets %d and %d differ in length", a, b)
	}
	return floats.Distance(sa.values, sb.values, 2), nil
}

func clamp[T constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
