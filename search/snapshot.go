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

// Package search implements the Variable Neighborhood Search layer around
// an external MIP solver: solution snapshots, assignment scoring, the
// local-branching and variable-fixing model wrappers, patience-based
// termination callbacks and the VNS driver.
package search

import (
	"math"

	log "github.com/golang/glog"

	"github.com/spalloc/spalloc/mip"
	"github.com/spalloc/spalloc/model"
)

// round converts a solver objective to its integral value. All objective
// coefficients of the model are integral, so any fraction is solver noise.
func round(x float64) int {
	return int(math.Round(x))
}

// Snapshot is an immutable copy of one feasible solution, taken right after
// a solve. It is never aliased to live variable state; the live variables'
// bounds change on the next iteration.
type Snapshot struct {
	// Values holds every variable value, indexed by mip.VarIndex.
	Values []float64
	// Objective is the solver-reported objective, rounded to its integral
	// value.
	Objective int
	// Assign holds the assignment variable values, parallel to
	// Indices.Triples.
	Assign []float64
}

// BranchingSnapshot additionally keeps the group-opening values, which the
// local-branching distance expression is measured over.
type BranchingSnapshot struct {
	Snapshot
	Open []float64
}

// FixingSnapshot additionally keeps the pair and unassignment values, which
// the variable-fixing wrapper freezes between zone solves.
type FixingSnapshot struct {
	Snapshot
	MutualUnrealized []float64
	Unassigned       []float64
}

func snapshotFrom(res mip.Result, comp *model.Components) Snapshot {
	if res.SolutionCount == 0 {
		log.Fatalf("snapshot requested from a result without solutions (status %v)", res.Status)
	}
	s := Snapshot{
		Values:    append([]float64(nil), res.Values...),
		Objective: round(res.Objective),
		Assign:    make([]float64, len(comp.Vars.Assign)),
	}
	for i, v := range comp.Vars.Assign {
		s.Assign[i] = res.Values[v.Index()]
	}
	return s
}

func branchingSnapshotFrom(res mip.Result, comp *model.Components) *BranchingSnapshot {
	snap := &BranchingSnapshot{
		Snapshot: snapshotFrom(res, comp),
		Open:     make([]float64, len(comp.Vars.Open)),
	}
	for i, v := range comp.Vars.Open {
		snap.Open[i] = res.Values[v.Index()]
	}
	return snap
}

func fixingSnapshotFrom(res mip.Result, comp *model.Components) *FixingSnapshot {
	snap := &FixingSnapshot{
		Snapshot:         snapshotFrom(res, comp),
		MutualUnrealized: make([]float64, len(comp.Vars.MutualUnrealized)),
		Unassigned:       make([]float64, len(comp.Vars.Unassigned)),
	}
	for i, v := range comp.Vars.MutualUnrealized {
		snap.MutualUnrealized[i] = res.Values[v.Index()]
	}
	for i, v := range comp.Vars.Unassigned {
		snap.Unassigned[i] = res.Values[v.Index()]
	}
	return snap
}
