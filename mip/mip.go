// Copyright 2025 The spalloc Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mip offers an API to build mixed-integer programs and hand them to
// an external solver.
//
// The `Model` struct owns the variables, linear constraints, objective and
// solution hints. The `Var` and `Constraint` structs are references to
// specific entries of a model and stay valid for its whole lifetime; only
// variable bounds and constraint presence are ever mutated after creation.
// The `LinearExpr` struct provides helper methods for building constraints
// and the objective from expressions with many variables and coefficients.
//
// The solver engine itself is external: anything implementing `Solver` can
// optimize a `Model`. Solver parameters are passed explicitly per call via
// `RunOptions`; there is no ambient parameter state on the model.
package mip

import (
	"errors"
	"fmt"
	"math"

	log "github.com/golang/glog"
)

// ErrMixedModels holds the error when elements added to a model belong to a
// different model.
var ErrMixedModels = errors.New("elements are not part of the same model")

type (
	// VarIndex is the index of a variable in the model.
	VarIndex int32
	// ConstrIndex is the index of a constraint in the model.
	ConstrIndex int32
)

// VarKind distinguishes binary from continuous variables.
type VarKind int8

const (
	// Binary variables take values in {0,1} intersected with their bounds.
	Binary VarKind = iota
	// Continuous variables take any value within their bounds.
	Continuous
)

// Sense is the comparison sense of a linear constraint.
type Sense int8

const (
	// LessEqual constrains expr <= rhs.
	LessEqual Sense = iota
	// GreaterEqual constrains expr >= rhs.
	GreaterEqual
	// Equal constrains expr == rhs.
	Equal
)

func (s Sense) String() string {
	switch s {
	case LessEqual:
		return "<="
	case GreaterEqual:
		return ">="
	case Equal:
		return "=="
	}
	return fmt.Sprintf("Sense(%d)", int(s))
}

type variable struct {
	kind VarKind
	lb   float64
	ub   float64
	name string
	// hint is the warm-start value handed to the solver, NaN when unset.
	hint float64
}

type constraint struct {
	expr    *LinearExpr
	sense   Sense
	rhs     float64
	name    string
	removed bool
}

// Model is a mixed-integer program under construction or manipulation. It is
// not safe for concurrent use; the search layer owns one model at a time.
type Model struct {
	vars        []variable
	constraints []constraint
	numRemoved  int

	objective *LinearExpr
	maximize  bool
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{objective: NewLinearExpr()}
}

// NumVars returns the number of variables in the model.
func (m *Model) NumVars() int { return len(m.vars) }

// Var returns the handle of the variable at the given index.
func (m *Model) Var(ind VarIndex) Var {
	if int(ind) >= len(m.vars) {
		log.Fatalf("Var(%d): model has %d variables", ind, len(m.vars))
	}
	return Var{ind: ind, m: m}
}

// NumConstraints returns the number of live (non-removed) constraints.
func (m *Model) NumConstraints() int { return len(m.constraints) - m.numRemoved }

// NewBinaryVar adds a binary variable with bounds [0,1].
func (m *Model) NewBinaryVar(name string) Var {
	return m.newVar(Binary, 0, 1, name)
}

// NewContinuousVar adds a continuous variable with the given bounds.
func (m *Model) NewContinuousVar(lb, ub float64, name string) Var {
	return m.newVar(Continuous, lb, ub, name)
}

func (m *Model) newVar(kind VarKind, lb, ub float64, name string) Var {
	v := Var{ind: VarIndex(len(m.vars)), m: m}
	m.vars = append(m.vars, variable{kind: kind, lb: lb, ub: ub, name: name, hint: math.NaN()})
	return v
}

// AddConstraint adds the linear constraint `expr sense rhs` and returns a
// handle to it.
func (m *Model) AddConstraint(expr *LinearExpr, sense Sense, rhs float64, name string) Constraint {
	c := Constraint{ind: ConstrIndex(len(m.constraints)), m: m}
	m.constraints = append(m.constraints, constraint{expr: expr.clone(), sense: sense, rhs: rhs, name: name})
	return c
}

// RemoveConstraints removes the given constraints from the model. Removing a
// constraint twice is a programmer error and crashes.
func (m *Model) RemoveConstraints(cs ...Constraint) {
	for _, c := range cs {
		if c.m != m {
			log.Fatalf("RemoveConstraints: constraint %d: %v", c.ind, ErrMixedModels)
		}
		if m.constraints[c.ind].removed {
			log.Fatalf("RemoveConstraints: constraint %d (%q) already removed", c.ind, m.constraints[c.ind].name)
		}
		m.constraints[c.ind].removed = true
		m.numRemoved++
	}
}

// SetObjective sets the linear objective. maximize selects the direction.
func (m *Model) SetObjective(expr *LinearExpr, maximize bool) {
	m.objective = expr.clone()
	m.maximize = maximize
}

// Objective returns a copy of the objective expression and the direction.
func (m *Model) Objective() (*LinearExpr, bool) {
	return m.objective.clone(), m.maximize
}

// ObjectiveValue evaluates the objective under the given variable values.
func (m *Model) ObjectiveValue(values []float64) float64 {
	return m.objective.Value(values)
}

// Var is a reference to a variable in a model.
type Var struct {
	ind VarIndex
	m   *Model
}

// Index returns the index of the variable.
func (v Var) Index() VarIndex { return v.ind }

// Name returns the name of the variable.
func (v Var) Name() string { return v.m.vars[v.ind].name }

// Kind returns whether the variable is binary or continuous.
func (v Var) Kind() VarKind { return v.m.vars[v.ind].kind }

// Bounds returns the current lower and upper bound.
func (v Var) Bounds() (lb, ub float64) {
	entry := v.m.vars[v.ind]
	return entry.lb, entry.ub
}

// SetBounds replaces both bounds.
func (v Var) SetBounds(lb, ub float64) {
	if lb > ub {
		log.Fatalf("SetBounds(%v): lb %v > ub %v", v.Name(), lb, ub)
	}
	v.m.vars[v.ind].lb = lb
	v.m.vars[v.ind].ub = ub
}

// Fix sets both bounds to the given value, freezing the variable.
func (v Var) Fix(value float64) { v.SetBounds(value, value) }

// SetHint sets the warm-start value for the variable.
func (v Var) SetHint(value float64) { v.m.vars[v.ind].hint = value }

// ClearHint removes the warm-start value for the variable.
func (v Var) ClearHint() { v.m.vars[v.ind].hint = math.NaN() }

// Hint returns the warm-start value and whether one is set.
func (v Var) Hint() (float64, bool) {
	h := v.m.vars[v.ind].hint
	return h, !math.IsNaN(h)
}

func (v Var) addToLinearExpr(e *LinearExpr, c float64) {
	e.terms = append(e.terms, term{ind: v.ind, coeff: c})
}

// Constraint is a reference to a constraint in a model.
type Constraint struct {
	ind ConstrIndex
	m   *Model
}

// Index returns the index of the constraint.
func (c Constraint) Index() ConstrIndex { return c.ind }

// Name returns the name of the constraint.
func (c Constraint) Name() string { return c.m.constraints[c.ind].name }

// Removed reports whether the constraint has been removed from the model.
func (c Constraint) Removed() bool { return c.m.constraints[c.ind].removed }

// Satisfied evaluates the constraint under the given variable values with
// the given feasibility tolerance. Removed constraints are trivially
// satisfied.
func (c Constraint) Satisfied(values []float64, tol float64) bool {
	entry := c.m.constraints[c.ind]
	if entry.removed {
		return true
	}
	lhs := entry.expr.Value(values)
	switch entry.sense {
	case LessEqual:
		return lhs <= entry.rhs+tol
	case GreaterEqual:
		return lhs >= entry.rhs-tol
	default:
		return math.Abs(lhs-entry.rhs) <= tol
	}
}

// MinimumSlackValue returns the smallest value the constraint's expression
// forces on the single variable v, assuming v appears with coefficient
// coeff > 0 on the left side of a GreaterEqual constraint and all other
// variables are fixed to the given values. It is used by solvers that derive
// slack variables after deciding the binary core.
func (c Constraint) MinimumSlackValue(v Var, values []float64) float64 {
	entry := c.m.constraints[c.ind]
	if entry.removed || entry.sense != GreaterEqual {
		return 0
	}
	var coeff, rest float64
	for _, t := range entry.expr.terms {
		if t.ind == v.ind {
			coeff += t.coeff
			continue
		}
		rest += t.coeff * values[t.ind]
	}
	if coeff <= 0 {
		return 0
	}
	return (entry.rhs - rest - entry.expr.offset) / coeff
}

// Mentions reports whether the constraint references the variable.
func (c Constraint) Mentions(v Var) bool {
	for _, t := range c.m.constraints[c.ind].expr.terms {
		if t.ind == v.ind {
			return true
		}
	}
	return false
}

// CheckFeasible reports whether values satisfies every live constraint and
// every variable bound within tol, along with the name of the first
// violation for diagnostics.
func (m *Model) CheckFeasible(values []float64, tol float64) (bool, string) {
	if len(values) != len(m.vars) {
		log.Fatalf("CheckFeasible: %d values for %d variables", len(values), len(m.vars))
	}
	for i, entry := range m.vars {
		if values[i] < entry.lb-tol || values[i] > entry.ub+tol {
			return false, fmt.Sprintf("bound of %s", entry.name)
		}
	}
	for i := range m.constraints {
		c := Constraint{ind: ConstrIndex(i), m: m}
		if !c.Satisfied(values, tol) {
			return false, m.constraints[i].name
		}
	}
	return true, ""
}

// Checkpoint is an index-addressed copy of all variable bounds, hints and of
// the constraint-presence state, taken with Checkpoint and reapplied with
// Restore. It replaces whole-model copies for what-if exploration.
type Checkpoint struct {
	lbs     []float64
	ubs     []float64
	hints   []float64
	numCons int
	removed []bool
}

// Checkpoint captures the current bounds, hints and constraint presence.
func (m *Model) Checkpoint() Checkpoint {
	cp := Checkpoint{
		lbs:     make([]float64, len(m.vars)),
		ubs:     make([]float64, len(m.vars)),
		hints:   make([]float64, len(m.vars)),
		numCons: len(m.constraints),
		removed: make([]bool, len(m.constraints)),
	}
	for i, v := range m.vars {
		cp.lbs[i] = v.lb
		cp.ubs[i] = v.ub
		cp.hints[i] = v.hint
	}
	for i, c := range m.constraints {
		cp.removed[i] = c.removed
	}
	return cp
}

// Restore reapplies a checkpoint taken on this model. Constraints added
// after the checkpoint are removed; variables must not have been added since.
func (m *Model) Restore(cp Checkpoint) {
	if len(cp.lbs) != len(m.vars) {
		log.Fatalf("Restore: checkpoint has %d variables, model has %d", len(cp.lbs), len(m.vars))
	}
	if cp.numCons > len(m.constraints) {
		log.Fatalf("Restore: checkpoint has %d constraints, model has %d", cp.numCons, len(m.constraints))
	}
	for i := range m.vars {
		m.vars[i].lb = cp.lbs[i]
		m.vars[i].ub = cp.ubs[i]
		m.vars[i].hint = cp.hints[i]
	}
	m.numRemoved = 0
	for i := range m.constraints {
		if i < cp.numCons {
			m.constraints[i].removed = cp.removed[i]
		} else {
			m.constraints[i].removed = true
		}
		if m.constraints[i].removed {
			m.numRemoved++
		}
	}
}
