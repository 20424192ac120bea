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
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	log "github.com/golang/glog"

	"github.com/spalloc/spalloc/instance"
	"github.com/spalloc/spalloc/mip"
	"github.com/spalloc/spalloc/model"
)

// ErrTooFewZones is returned when a zone pair is requested from a partition
// with fewer than two zones.
var ErrTooFewZones = errors.New("freeing a zone pair needs at least two zones")

// Zone is one contiguous index range [Start, End) of the line-up.
type Zone struct {
	Start int
	End   int
}

// VariableFixing wraps the model with bounds-based neighborhood control:
// instead of cutting the polytope it freezes all students outside a chosen
// pair of line-up zones to their current assignment and re-solves only the
// free slice. Groups that end up populated solely by fixed students are
// relabeled to consecutive indices so the group-compaction invariant holds
// inside the reduced problem.
type VariableFixing struct {
	in       *instance.Instance
	idx      *model.Indices
	mdl      *mip.Model
	comp     *model.Components
	solver   mip.Solver
	progress *Log
	start    time.Time

	// rng drives zoning and line-up interleaving; seed goes to the solver
	// and is incremented when shaking stagnates.
	rng  *rand.Rand
	seed int64

	baseline mip.Checkpoint

	// zoneCache memoizes partitions per zone count. It must be invalidated
	// explicitly when the search wants fresh partition randomness.
	zoneCache map[int][]Zone

	lastResult    mip.Result
	current       *FixingSnapshot
	currentFixing *FixingData
	best          *FixingSnapshot
	bestFixing    *FixingData
}

// NewVariableFixing takes ownership of the model. The model must still be in
// its base state; the wrapper checkpoints it for recovery and kicks.
func NewVariableFixing(in *instance.Instance, idx *model.Indices, mdl *mip.Model, comp *model.Components,
	solver mip.Solver, progress *Log, start time.Time, rng *rand.Rand, seed int64) *VariableFixing {
	return &VariableFixing{
		in:        in,
		idx:       idx,
		mdl:       mdl,
		comp:      comp,
		solver:    solver,
		progress:  progress,
		start:     start,
		rng:       rng,
		seed:      seed,
		baseline:  mdl.Checkpoint(),
		zoneCache: make(map[int][]Zone),
	}
}

// Status returns the status of the most recent solve.
func (vf *VariableFixing) Status() mip.Status { return vf.lastResult.Status }

// SolutionCount returns the solution count of the most recent solve.
func (vf *VariableFixing) SolutionCount() int { return vf.lastResult.SolutionCount }

// Current returns the current snapshot, nil before the first StoreSolution.
func (vf *VariableFixing) Current() *FixingSnapshot { return vf.current }

// Best returns the best snapshot found so far.
func (vf *VariableFixing) Best() *FixingSnapshot { return vf.best }

// Zones returns the cached partition of the line-up into numZones contiguous
// ranges whose sizes differ by at most one; which zones get the remainder is
// randomized once per cache generation. Sizes not summing to the student
// count would mean broken partition arithmetic, and that crashes.
func (vf *VariableFixing) Zones(numZones int) []Zone {
	if zones, ok := vf.zoneCache[numZones]; ok {
		return zones
	}
	numStudents := vf.idx.NumStudents
	floorSize := numStudents / numZones
	numCeil := numStudents - floorSize*numZones

	sizes := make([]int, numZones)
	for i := range sizes {
		sizes[i] = floorSize
	}
	for _, i := range vf.rng.Perm(numZones)[:numCeil] {
		sizes[i]++
	}

	zones := make([]Zone, 0, numZones)
	idx := 0
	for _, size := range sizes {
		zones = append(zones, Zone{Start: idx, End: idx + size})
		idx += size
	}
	if idx != numStudents {
		log.Fatalf("zone sizes sum to %d for %d students", idx, numStudents)
	}
	vf.zoneCache[numZones] = zones
	return zones
}

// InvalidateZones drops all cached partitions so the next Zones call draws
// fresh randomness.
func (vf *VariableFixing) InvalidateZones() {
	vf.zoneCache = make(map[int][]Zone)
}

// IncrementSeed bumps the solver seed handed to subsequent solves.
func (vf *VariableFixing) IncrementSeed() { vf.seed++ }

// Seed returns the current solver seed.
func (vf *VariableFixing) Seed() int64 { return vf.seed }

func (vf *VariableFixing) mustFixing() *FixingData {
	if vf.currentFixing == nil {
		log.Fatal("zone freeing requested before any solution was stored")
	}
	return vf.currentFixing
}

// FreeZonePair frees the students of zones a and b while fixing everyone
// else to the current snapshot, then rewrites group labels and hints so the
// fixed portion uses consecutive group indices.
func (vf *VariableFixing) FreeZonePair(a, b, numZones int) error {
	if numZones < 2 {
		return fmt.Errorf("%w (got %d)", ErrTooFewZones, numZones)
	}
	fixing := vf.mustFixing()
	zones := vf.Zones(numZones)

	allowed := make(map[int]bool)
	for _, z := range []Zone{zones[a], zones[b]} {
		for _, id := range fixing.LineUpIDs[z.Start:z.End] {
			allowed[id] = true
		}
	}

	unassignedFixed, assignmentsFixed, shifted := vf.fixationInfo(allowed)
	forcedOpen := vf.fixAssignments(allowed, assignmentsFixed, shifted)
	vf.fixOpenings(forcedOpen)
	vf.fixUnassigned(allowed, unassignedFixed)
	vf.fixMutualUnrealized(allowed)
	vf.rewriteAssignHints(assignmentsFixed, shifted)
	return nil
}

// fixationInfo splits the line-up into the parts to freeze: the unassigned
// students to keep unassigned, the assignments to re-pin, and the per-project
// relabeling of the groups those assignments keep occupied. Relabeling maps
// the sorted surviving group indices onto 0..n-1.
func (vf *VariableFixing) fixationInfo(allowed map[int]bool) (map[int]bool, []model.AssignKey, map[int]map[int]int) {
	unassignedFixed := make(map[int]bool)
	var assignmentsFixed []model.AssignKey
	keptGroups := make(map[int]map[int]bool)

	for _, a := range vf.mustFixing().LineUpAssignments {
		if allowed[a.Student] {
			continue
		}
		if a.Project == -1 {
			unassignedFixed[a.Student] = true
			continue
		}
		if keptGroups[a.Project] == nil {
			keptGroups[a.Project] = make(map[int]bool)
		}
		keptGroups[a.Project][a.Group] = true
		assignmentsFixed = append(assignmentsFixed, a)
	}

	shifted := make(map[int]map[int]int, len(keptGroups))
	for project, groups := range keptGroups {
		old := make([]int, 0, len(groups))
		for g := range groups {
			old = append(old, g)
		}
		sort.Ints(old)
		shifted[project] = make(map[int]int, len(old))
		for newID, oldID := range old {
			shifted[project][oldID] = newID
		}
	}
	return unassignedFixed, assignmentsFixed, shifted
}

func (vf *VariableFixing) fixAssignments(allowed map[int]bool, assignmentsFixed []model.AssignKey,
	shifted map[int]map[int]int) map[model.GroupKey]bool {
	for i, t := range vf.idx.Triples {
		if allowed[t.Student] {
			vf.comp.Vars.Assign[i].SetBounds(0, 1)
		} else {
			vf.comp.Vars.Assign[i].SetBounds(0, 0)
		}
	}
	forcedOpen := make(map[model.GroupKey]bool)
	for _, a := range assignmentsFixed {
		newGroup := shifted[a.Project][a.Group]
		forcedOpen[model.GroupKey{Project: a.Project, Group: newGroup}] = true
		i := vf.idx.TripleIndex(a.Project, newGroup, a.Student)
		vf.comp.Vars.Assign[i].SetBounds(1, 1)
	}
	return forcedOpen
}

func (vf *VariableFixing) fixOpenings(forcedOpen map[model.GroupKey]bool) {
	for i, key := range vf.idx.Pairs {
		if forcedOpen[key] {
			vf.comp.Vars.Open[i].SetBounds(1, 1)
		} else {
			vf.comp.Vars.Open[i].SetBounds(0, 1)
		}
	}
}

func (vf *VariableFixing) fixUnassigned(allowed, unassignedFixed map[int]bool) {
	for s, v := range vf.comp.Vars.Unassigned {
		switch {
		case allowed[s]:
			v.SetBounds(0, 1)
		case unassignedFixed[s]:
			v.SetBounds(1, 1)
		default:
			v.SetBounds(0, 0)
		}
	}
}

func (vf *VariableFixing) fixMutualUnrealized(allowed map[int]bool) {
	current := vf.current
	for i, pair := range vf.idx.MutualPairs {
		v := vf.comp.Vars.MutualUnrealized[i]
		if allowed[pair.A] || allowed[pair.B] {
			v.SetBounds(0, 1)
		} else {
			v.Fix(current.MutualUnrealized[i])
		}
	}
}

// rewriteAssignHints warm-starts the reduced solve from the current
// snapshot with the group relabeling applied: each re-pinned assignment's
// hint value swaps places with the one at its new group index.
func (vf *VariableFixing) rewriteAssignHints(assignmentsFixed []model.AssignKey, shifted map[int]map[int]int) {
	hints := append([]float64(nil), vf.current.Assign...)
	for _, a := range assignmentsFixed {
		newGroup := shifted[a.Project][a.Group]
		if newGroup == a.Group {
			continue
		}
		oldIdx := vf.idx.TripleIndex(a.Project, a.Group, a.Student)
		newIdx := vf.idx.TripleIndex(a.Project, newGroup, a.Student)
		hints[oldIdx], hints[newIdx] = hints[newIdx], hints[oldIdx]
	}
	for i, v := range vf.comp.Vars.Assign {
		v.SetHint(hints[i])
	}
}

// ForceKWorstToChange frees all binary bounds and then forbids the k worst
// line-up entries: a frozen-out assignment cannot recur and a frozen-out
// pseudo assignment forces that student to be assigned somewhere. Hints for
// the kicked students are cleared so the solver does not steer back.
func (vf *VariableFixing) ForceKWorstToChange(k int) {
	fixing := vf.mustFixing()
	vf.freeAllBounds()
	if k > len(fixing.LineUpAssignments) {
		k = len(fixing.LineUpAssignments)
	}
	worst := fixing.LineUpAssignments[:k]

	kicked := make(map[int]bool, len(worst))
	for _, a := range worst {
		kicked[a.Student] = true
		if a.Project == -1 {
			vf.comp.Vars.Unassigned[a.Student].SetBounds(0, 0)
		} else {
			i := vf.idx.TripleIndex(a.Project, a.Group, a.Student)
			vf.comp.Vars.Assign[i].SetBounds(0, 0)
		}
	}

	for i, t := range vf.idx.Triples {
		v := vf.comp.Vars.Assign[i]
		if kicked[t.Student] {
			v.ClearHint()
		} else {
			v.SetHint(vf.current.Assign[i])
		}
	}
}

func (vf *VariableFixing) freeAllBounds() {
	for _, vars := range [][]mip.Var{
		vf.comp.Vars.Assign,
		vf.comp.Vars.Open,
		vf.comp.Vars.MutualUnrealized,
		vf.comp.Vars.Unassigned,
	} {
		for _, v := range vars {
			v.SetBounds(0, 1)
		}
	}
}

// Optimize runs one solve under the given spec with the currently fixed
// bounds in effect.
func (vf *VariableFixing) Optimize(spec SolveSpec) error {
	opts := mip.DefaultRunOptions()
	opts.TimeLimit = spec.TimeLimit
	opts.Seed = vf.seed
	if spec.UseCutoff {
		opts.Cutoff = float64(vf.mustCurrentSnapshot().Objective) + 1 - cutoffTol
	}

	bestObj := minInt
	if vf.best != nil {
		bestObj = vf.best.Objective
	}
	cb := solveCallback(spec, vf.progress, bestObj, vf.start)

	res, err := vf.solver.Optimize(vf.mdl, opts, cb)
	if err != nil {
		return fmt.Errorf("variable fixing solve: %w", err)
	}
	vf.lastResult = res
	return nil
}

func (vf *VariableFixing) mustCurrentSnapshot() *FixingSnapshot {
	if vf.current == nil {
		log.Fatal("cutoff requested before any solution was stored")
	}
	return vf.current
}

// StoreSolution snapshots the most recent solve's best solution as the
// current one, along with its scored line-up.
func (vf *VariableFixing) StoreSolution() {
	vf.current = fixingSnapshotFrom(vf.lastResult, vf.comp)
	vf.currentFixing = NewFixingData(vf.in, vf.idx, vf.current, vf.rng)
}

// NewBestFound reports whether the current snapshot beats the best one.
func (vf *VariableFixing) NewBestFound() bool {
	if vf.current == nil || vf.best == nil {
		log.Fatal("best-solution comparison before both snapshots exist")
	}
	return vf.current.Objective > vf.best.Objective
}

// MakeCurrentBest promotes the current snapshot to best.
func (vf *VariableFixing) MakeCurrentBest() {
	vf.best = vf.current
	vf.bestFixing = vf.currentFixing
}

// MakeBestCurrent resets the current snapshot to the best one, so the next
// kick starts from the best solution instead of the last explored one.
func (vf *VariableFixing) MakeBestCurrent() {
	vf.current = vf.best
	vf.currentFixing = vf.bestFixing
}

// RecoverToBest restores the base bounds, pins all variables to the best
// snapshot and re-solves without limits, so the model ends the run holding
// the best solution found. It returns that final solve.
func (vf *VariableFixing) RecoverToBest() (mip.Result, error) {
	if vf.best == nil {
		log.Fatal("recovery requested before any best solution exists")
	}
	vf.mdl.Restore(vf.baseline)
	for i, value := range vf.best.Values {
		vf.mdl.Var(mip.VarIndex(i)).Fix(value)
	}
	res, err := vf.solver.Optimize(vf.mdl, mip.DefaultRunOptions(), nil)
	if err != nil {
		return mip.Result{}, fmt.Errorf("recovering best solution: %w", err)
	}
	vf.lastResult = res
	return res, nil
}
