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

package search

import (
	"fmt"
	"time"

	log "github.com/golang/glog"

	"github.com/spalloc/spalloc/mip"
	"github.com/spalloc/spalloc/model"
)

// branchingFeasTol keeps a solution with exactly the target distance on the
// feasible side of its branching constraint.
const branchingFeasTol = 1e-6

// SolveSpec parameterizes one solve issued by a wrapper. Wrappers translate
// it into explicit mip.RunOptions; nothing is left set on the model between
// calls.
type SolveSpec struct {
	// Patience stops the solve when no incumbent arrived for this long.
	Patience time.Duration
	// TimeLimit bounds the wall-clock time of this one call. Negative
	// means unlimited.
	TimeLimit time.Duration
	// UseCutoff rejects solutions that do not beat the current snapshot.
	UseCutoff bool
	// Initial marks the exploratory solve before any neighborhood search;
	// its patience window only starts once a first solution exists.
	Initial bool
	// Shake tags progress-log records with the diversification phase.
	Shake bool
	// Seed diversifies solver tie-breaking.
	Seed int64
}

// LocalBranching wraps the model with cut-based neighborhood control: it
// adds and removes Hamming-distance constraints around the current snapshot
// and exposes bounded re-optimization. Constraints live on a LIFO stack; the
// search tree depends on popping the most recent one first.
type LocalBranching struct {
	mdl      *mip.Model
	comp     *model.Components
	solver   mip.Solver
	progress *Log
	start    time.Time

	// baseline restores the model to its pre-branching state.
	baseline mip.Checkpoint

	stack    []mip.Constraint
	shake    []mip.Constraint
	numAdded int

	lastResult mip.Result
	current    *BranchingSnapshot
	best       *BranchingSnapshot
}

// NewLocalBranching takes ownership of the model. The model must still be in
// its base state; the wrapper checkpoints it for the final recovery.
func NewLocalBranching(mdl *mip.Model, comp *model.Components, solver mip.Solver, progress *Log, start time.Time) *LocalBranching {
	return &LocalBranching{
		mdl:      mdl,
		comp:     comp,
		solver:   solver,
		progress: progress,
		start:    start,
		baseline: mdl.Checkpoint(),
	}
}

// Status returns the status of the most recent solve.
func (lb *LocalBranching) Status() mip.Status { return lb.lastResult.Status }

// SolutionCount returns the solution count of the most recent solve.
func (lb *LocalBranching) SolutionCount() int { return lb.lastResult.SolutionCount }

// Current returns the current snapshot, nil before the first StoreSolution.
func (lb *LocalBranching) Current() *BranchingSnapshot { return lb.current }

// Best returns the best snapshot found so far.
func (lb *LocalBranching) Best() *BranchingSnapshot { return lb.best }

// distanceExpr is the classic local-branching distance from the reference
// solution: over every assignment and group-opening variable, (1-x) when the
// reference sets it and x otherwise.
func (lb *LocalBranching) distanceExpr(ref *BranchingSnapshot) *mip.LinearExpr {
	dist := mip.NewLinearExpr()
	addVars := func(vars []mip.Var, refValues []float64) {
		for i, v := range vars {
			if round(refValues[i]) == 1 {
				dist.AddConstant(1).AddTerm(v, -1)
			} else {
				dist.AddTerm(v, 1)
			}
		}
	}
	addVars(lb.comp.Vars.Assign, ref.Assign)
	addVars(lb.comp.Vars.Open, ref.Open)
	return dist
}

func (lb *LocalBranching) mustCurrent() *BranchingSnapshot {
	if lb.current == nil {
		log.Fatal("branching constraint requested before any solution was stored")
	}
	return lb.current
}

// AddBounding pushes a "distance from the current snapshot <= rhs" cut,
// restricting the next solve to a neighborhood of radius rhs.
func (lb *LocalBranching) AddBounding(rhs int) {
	lb.push(lb.mdl.AddConstraint(
		lb.distanceExpr(lb.mustCurrent()),
		mip.LessEqual,
		float64(rhs)+branchingFeasTol,
		fmt.Sprintf("branching_bounding_%d", lb.numAdded),
	))
}

// AddExcluding pushes a "distance from the current snapshot >= rhs+1" cut,
// moving the search past an exhausted radius.
func (lb *LocalBranching) AddExcluding(rhs int) {
	lb.push(lb.mdl.AddConstraint(
		lb.distanceExpr(lb.mustCurrent()),
		mip.GreaterEqual,
		float64(rhs)+1-branchingFeasTol,
		fmt.Sprintf("branching_excluding_%d", lb.numAdded),
	))
}

func (lb *LocalBranching) push(c mip.Constraint) {
	lb.stack = append(lb.stack, c)
	lb.numAdded++
}

// PopBranchingConstraint removes the most recently added branching
// constraint. Popping an empty stack is a programmer error and crashes.
func (lb *LocalBranching) PopBranchingConstraint() {
	if len(lb.stack) == 0 {
		log.Fatal("branching constraint stack popped while empty")
	}
	top := lb.stack[len(lb.stack)-1]
	lb.stack = lb.stack[:len(lb.stack)-1]
	lb.mdl.RemoveConstraints(top)
}

// StackDepth returns the number of live branching constraints.
func (lb *LocalBranching) StackDepth() int { return len(lb.stack) }

// DropAllBranchingConstraints clears the whole stack at once.
func (lb *LocalBranching) DropAllBranchingConstraints() {
	if len(lb.stack) > 0 {
		lb.mdl.RemoveConstraints(lb.stack...)
	}
	lb.stack = lb.stack[:0]
}

// AddShakeConstraints adds the diversification band
// k <= distance <= k+step around the current snapshot, forcing the next
// solve to jump away from the local optimum without a direction.
func (lb *LocalBranching) AddShakeConstraints(k, step int) {
	if lb.shake != nil {
		log.Fatal("shake constraints added twice without removal")
	}
	ref := lb.mustCurrent()
	lower := lb.mdl.AddConstraint(
		lb.distanceExpr(ref), mip.GreaterEqual, float64(k)-branchingFeasTol, "shake_lower")
	upper := lb.mdl.AddConstraint(
		lb.distanceExpr(ref), mip.LessEqual, float64(k+step)+branchingFeasTol, "shake_upper")
	lb.shake = []mip.Constraint{lower, upper}
}

// RemoveShakeConstraints removes the diversification band. Removing a band
// that does not exist is a programmer error and crashes.
func (lb *LocalBranching) RemoveShakeConstraints() {
	if lb.shake == nil {
		log.Fatal("shake constraints removed while none exist")
	}
	lb.mdl.RemoveConstraints(lb.shake...)
	lb.shake = nil
}

// Optimize runs one solve under the given spec. The cutoff, when requested,
// only accepts solutions strictly better than the current snapshot.
func (lb *LocalBranching) Optimize(spec SolveSpec) error {
	opts := mip.DefaultRunOptions()
	opts.TimeLimit = spec.TimeLimit
	opts.Seed = spec.Seed
	if spec.UseCutoff {
		opts.Cutoff = float64(lb.mustCurrent().Objective) + 1 - cutoffTol
	}

	bestObj := minInt
	if lb.best != nil {
		bestObj = lb.best.Objective
	}
	cb := solveCallback(spec, lb.progress, bestObj, lb.start)

	res, err := lb.solver.Optimize(lb.mdl, opts, cb)
	if err != nil {
		return fmt.Errorf("local branching solve: %w", err)
	}
	lb.lastResult = res
	return nil
}

// StoreSolution snapshots the most recent solve's best solution as the
// current one. Requires that solve to have found at least one solution.
func (lb *LocalBranching) StoreSolution() {
	lb.current = branchingSnapshotFrom(lb.lastResult, lb.comp)
}

// NewBestFound reports whether the current snapshot beats the best one.
func (lb *LocalBranching) NewBestFound() bool {
	if lb.current == nil || lb.best == nil {
		log.Fatal("best-solution comparison before both snapshots exist")
	}
	return lb.current.Objective > lb.best.Objective
}

// MakeCurrentBest promotes the current snapshot to best.
func (lb *LocalBranching) MakeCurrentBest() { lb.best = lb.current }

// RecoverToBest drops every branching and shake constraint, pins all
// variables to the best snapshot and re-solves without limits, so the model
// ends the run holding the best solution found. It returns that final solve.
func (lb *LocalBranching) RecoverToBest() (mip.Result, error) {
	if lb.best == nil {
		log.Fatal("recovery requested before any best solution exists")
	}
	lb.mdl.Restore(lb.baseline)
	lb.stack = nil
	lb.shake = nil

	for i, value := range lb.best.Values {
		lb.mdl.Var(mip.VarIndex(i)).Fix(value)
	}
	res, err := lb.solver.Optimize(lb.mdl, mip.DefaultRunOptions(), nil)
	if err != nil {
		return mip.Result{}, fmt.Errorf("recovering best solution: %w", err)
	}
	lb.lastResult = res
	return res, nil
}
