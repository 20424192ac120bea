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

package mip

import (
	"math"
	"time"
)

// Status is the outcome of an optimize call. Statuses steer the search
// loop's control flow and are never errors.
type Status int8

const (
	// StatusOptimal means the solver proved the returned solution optimal
	// within the active bounds and constraints.
	StatusOptimal Status = iota
	// StatusInfeasible means no feasible solution exists.
	StatusInfeasible
	// StatusCutoff means every feasible solution lies at or below the
	// cutoff.
	StatusCutoff
	// StatusTimeLimit means the time limit was reached first.
	StatusTimeLimit
	// StatusInterrupted means a callback requested termination.
	StatusInterrupted
	// StatusSolutionLimit means the solution limit was reached first.
	StatusSolutionLimit
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusCutoff:
		return "cutoff"
	case StatusTimeLimit:
		return "time_limit"
	case StatusInterrupted:
		return "interrupted"
	case StatusSolutionLimit:
		return "solution_limit"
	}
	return "unknown"
}

// RunOptions are the parameters of a single optimize call. They are passed
// explicitly every time; solvers must not retain them across calls.
type RunOptions struct {
	// TimeLimit bounds the wall-clock time of the call. A negative value
	// means unlimited; zero forbids any work and yields StatusTimeLimit
	// unless the model is trivially decided.
	TimeLimit time.Duration
	// Cutoff rejects solutions with objective at or below this value (for
	// maximization). math.Inf(-1) disables it.
	Cutoff float64
	// SolutionLimit stops the solve after this many feasible solutions
	// were found. Zero means unlimited.
	SolutionLimit int
	// Seed diversifies the solver's internal tie-breaking.
	Seed int64
}

// DefaultRunOptions returns options with no limits and no cutoff.
func DefaultRunOptions() RunOptions {
	return RunOptions{TimeLimit: -1, Cutoff: math.Inf(-1)}
}

// EventKind tags callback events.
type EventKind int8

const (
	// EventIncumbent fires synchronously whenever the solver accepts a new
	// incumbent solution.
	EventIncumbent EventKind = iota
	// EventPeriodic fires at regular points with no new incumbent, so
	// callbacks can time out a solve that stopped producing solutions.
	EventPeriodic
)

// Event is delivered synchronously to the callback during a solve, on the
// same call stack as Optimize.
type Event struct {
	Kind EventKind
	// Objective is the incumbent objective, valid when SolutionCount > 0.
	Objective float64
	// Bound is the best proven objective bound so far.
	Bound float64
	// Runtime is the wall-clock time since the solve started.
	Runtime time.Duration
	// SolutionCount is the number of feasible solutions found so far.
	SolutionCount int
}

// Callback observes solve progress. Returning true asks the solver to stop
// at the next opportunity; the solve then finishes with StatusInterrupted.
type Callback func(Event) (stop bool)

// Result is the read-back of an optimize call.
type Result struct {
	Status        Status
	SolutionCount int
	// Objective and Values describe the best solution found; Values is
	// indexed by VarIndex. Both are only valid when SolutionCount > 0.
	// Values is a snapshot owned by the caller, never aliased to live
	// solver state.
	Objective float64
	Values    []float64
	// Bound is the best proven objective bound.
	Bound   float64
	Runtime time.Duration
}

// Solver is the external MIP engine consumed by this module. Optimize blocks
// until the solve finishes; the callback runs synchronously on the same
// goroutine. cb may be nil.
type Solver interface {
	Optimize(m *Model, opts RunOptions, cb Callback) (Result, error)
}
