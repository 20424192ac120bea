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

// Package bruteforce provides an exhaustive reference solver for small
// SPAwGBP models. It implements mip.Solver by enumerating every per-student
// assignment choice that the current variable bounds allow, deriving the
// remaining variables, and checking all live constraints of the model,
// including any cuts the search layer added. It honors time limits, cutoff,
// solution limits and incumbent callbacks, so the whole search stack can run
// against it unchanged.
//
// It is a test oracle, not a branch-and-bound engine: runtime grows
// exponentially with the number of students. Solution hints are ignored.
package bruteforce

import (
	"math"
	"math/rand"
	"time"

	"github.com/spalloc/spalloc/instance"
	"github.com/spalloc/spalloc/mip"
	"github.com/spalloc/spalloc/model"
)

// feasTol is the feasibility tolerance used when checking constraints.
const feasTol = 1e-6

// periodicEvery is the number of leaves between EventPeriodic callbacks.
const periodicEvery = 1024

// Solver exhaustively optimizes the model built for one instance. It keeps
// no state between Optimize calls.
type Solver struct {
	in   *instance.Instance
	idx  *model.Indices
	comp *model.Components
}

// New returns a solver for the given built model's components.
func New(in *instance.Instance, idx *model.Indices, comp *model.Components) *Solver {
	return &Solver{in: in, idx: idx, comp: comp}
}

// unassignedChoice marks the "no group" option in a student's choice list.
const unassignedChoice = -1

type run struct {
	s     *Solver
	m     *mip.Model
	opts  mip.RunOptions
	cb    mip.Callback
	start time.Time

	// choices[s] lists the allowed pair indices for student s, with
	// unassignedChoice for the no-group option.
	choices [][]int
	chosen  []int

	groupCount []int // members per pair index, maintained during DFS

	leaves        int
	stopped       bool
	status        mip.Status
	belowCutoff   bool
	bestValues    []float64
	bestObjective float64
	solutionCount int
}

// Optimize enumerates all assignments permitted by the model's current
// bounds and returns the best one. The callback, if any, runs synchronously.
func (s *Solver) Optimize(m *mip.Model, opts mip.RunOptions, cb mip.Callback) (mip.Result, error) {
	r := &run{
		s:          s,
		m:          m,
		opts:       opts,
		cb:         cb,
		start:      time.Now(),
		chosen:     make([]int, s.idx.NumStudents),
		groupCount: make([]int, len(s.idx.Pairs)),
	}
	r.buildChoices()

	if opts.TimeLimit == 0 {
		return r.result(mip.StatusTimeLimit), nil
	}

	r.dfs(0)

	if !r.stopped {
		switch {
		case r.solutionCount > 0:
			r.status = mip.StatusOptimal
		case r.belowCutoff:
			r.status = mip.StatusCutoff
		default:
			r.status = mip.StatusInfeasible
		}
	}
	return r.result(r.status), nil
}

func (r *run) result(status mip.Status) mip.Result {
	res := mip.Result{
		Status:        status,
		SolutionCount: r.solutionCount,
		Runtime:       time.Since(r.start),
		Bound:         math.Inf(1),
	}
	if r.solutionCount > 0 {
		res.Objective = r.bestObjective
		res.Values = append([]float64(nil), r.bestValues...)
	}
	if status == mip.StatusOptimal {
		res.Bound = r.bestObjective
	}
	if status == mip.StatusInfeasible {
		res.Bound = math.Inf(-1)
	}
	return res
}

// buildChoices derives each student's allowed options from the current
// variable bounds: a fixed assignment or fixed unassignment collapses the
// list to that single option.
func (r *run) buildChoices() {
	idx := r.s.idx
	vars := &r.s.comp.Vars
	rng := rand.New(rand.NewSource(r.opts.Seed))

	r.choices = make([][]int, idx.NumStudents)
	for s := 0; s < idx.NumStudents; s++ {
		var forced []int
		var open []int

		lb, ub := vars.Unassigned[s].Bounds()
		if lb > 0.5 {
			forced = append(forced, unassignedChoice)
		} else if ub > 0.5 {
			open = append(open, unassignedChoice)
		}
		for pi := range idx.Pairs {
			alb, aub := vars.Assign[pi*idx.NumStudents+s].Bounds()
			if alb > 0.5 {
				forced = append(forced, pi)
			} else if aub > 0.5 {
				open = append(open, pi)
			}
		}

		if len(forced) > 0 {
			// Contradictory fixings leave an empty choice list and the
			// enumeration correctly reports infeasibility.
			if len(forced) > 1 {
				forced = forced[:0]
			}
			r.choices[s] = forced
			continue
		}
		if r.opts.Seed != 0 {
			rng.Shuffle(len(open), func(i, j int) { open[i], open[j] = open[j], open[i] })
		}
		r.choices[s] = open
	}
}

func (r *run) dfs(student int) {
	if r.stopped {
		return
	}
	if student == len(r.chosen) {
		r.leaf()
		return
	}
	for _, choice := range r.choices[student] {
		if choice != unassignedChoice {
			k := r.s.idx.Pairs[choice]
			if r.groupCount[choice] >= r.s.in.Projects[k.Project].MaxGroupSize {
				continue
			}
			r.groupCount[choice]++
		}
		r.chosen[student] = choice
		r.dfs(student + 1)
		if choice != unassignedChoice {
			r.groupCount[choice]--
		}
		if r.stopped {
			return
		}
	}
}

func (r *run) leaf() {
	r.leaves++
	if r.leaves%periodicEvery == 0 {
		r.tick()
		if r.stopped {
			return
		}
	}

	values := r.complete()
	if ok, _ := r.m.CheckFeasible(values, feasTol); !ok {
		return
	}
	obj := r.m.ObjectiveValue(values)
	if obj <= r.opts.Cutoff {
		r.belowCutoff = true
		return
	}
	if r.solutionCount > 0 && obj <= r.bestObjective {
		return
	}

	r.bestObjective = obj
	r.bestValues = append(r.bestValues[:0], values...)
	r.solutionCount++

	if r.cb != nil {
		stop := r.cb(mip.Event{
			Kind:          mip.EventIncumbent,
			Objective:     obj,
			Bound:         math.Inf(1),
			Runtime:       time.Since(r.start),
			SolutionCount: r.solutionCount,
		})
		if stop {
			r.stop(mip.StatusInterrupted)
			return
		}
	}
	if r.opts.SolutionLimit > 0 && r.solutionCount >= r.opts.SolutionLimit {
		r.stop(mip.StatusSolutionLimit)
	}
}

func (r *run) tick() {
	if r.opts.TimeLimit >= 0 && time.Since(r.start) >= r.opts.TimeLimit {
		r.stop(mip.StatusTimeLimit)
		return
	}
	if r.cb != nil {
		ev := mip.Event{
			Kind:          mip.EventPeriodic,
			Bound:         math.Inf(1),
			Runtime:       time.Since(r.start),
			SolutionCount: r.solutionCount,
		}
		if r.solutionCount > 0 {
			ev.Objective = r.bestObjective
		}
		if r.cb(ev) {
			r.stop(mip.StatusInterrupted)
		}
	}
}

func (r *run) stop(status mip.Status) {
	r.stopped = true
	r.status = status
}

// complete derives all variable values from the per-student choices: open
// flags from group occupancy, unrealized flags from pair placement, and the
// minimal slack values the size-deviation constraints force. Derived values
// are floored at the variable's lower bound so that bound fixings done by
// the search layer survive; the subsequent feasibility check rejects any
// contradiction.
func (r *run) complete() []float64 {
	idx := r.s.idx
	in := r.s.in
	vars := &r.s.comp.Vars
	values := make([]float64, r.m.NumVars())

	for s, choice := range r.chosen {
		if choice == unassignedChoice {
			values[vars.Unassigned[s].Index()] = 1
		} else {
			values[vars.Assign[choice*idx.NumStudents+s].Index()] = 1
		}
	}

	for pi, k := range idx.Pairs {
		proj := in.Projects[k.Project]
		size := float64(r.groupCount[pi])
		open := 0.0
		if r.groupCount[pi] > 0 {
			open = 1
		}
		if lb, _ := vars.Open[pi].Bounds(); lb > open {
			open = lb
		}
		values[vars.Open[pi].Index()] = open

		surplus := size - float64(proj.IdealGroupSize)
		if lb, _ := vars.SizeSurplus[pi].Bounds(); surplus < lb {
			surplus = lb
		}
		values[vars.SizeSurplus[pi].Index()] = math.Max(0, surplus)

		deficit := float64(proj.IdealGroupSize) - size - float64(proj.MaxGroupSize)*(1-open)
		if lb, _ := vars.SizeDeficit[pi].Bounds(); deficit < lb {
			deficit = lb
		}
		values[vars.SizeDeficit[pi].Index()] = math.Max(0, deficit)
	}

	for mi, pair := range idx.MutualPairs {
		unrealized := 1.0
		if r.chosen[pair.A] != unassignedChoice && r.chosen[pair.A] == r.chosen[pair.B] {
			unrealized = 0
		}
		if lb, _ := vars.MutualUnrealized[mi].Bounds(); lb > unrealized {
			unrealized = lb
		}
		values[vars.MutualUnrealized[mi].Index()] = unrealized
	}
	return values
}
