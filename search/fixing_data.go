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
	"math"
	"math/rand"
	"sort"

	log "github.com/golang/glog"

	"github.com/spalloc/spalloc/instance"
	"github.com/spalloc/spalloc/model"
)

// FixingData captures one solution the way the variable-fixing wrapper
// consumes it: every realized assignment scored and ranked from worst to
// best, plus a "line-up" of exactly one entry per student in which the
// unassigned students appear as pseudo assignments at random positions
// among the ranked real ones.
type FixingData struct {
	// Scores maps every realized assignment to its desirability score.
	Scores map[model.AssignKey]float64
	// Ranked lists the realized assignments from worst to best score.
	Ranked []model.AssignKey
	// Assignments is the set view of Ranked.
	Assignments map[model.AssignKey]bool
	// LineUpAssignments has one entry per student. Pseudo assignments for
	// unassigned students use Project = -1 and Group = -1.
	LineUpAssignments []model.AssignKey
	// LineUpIDs are the student IDs of LineUpAssignments, in order.
	LineUpIDs []int
	// UnassignedIDs holds the students without an assignment.
	UnassignedIDs map[int]bool
}

// NewFixingData scores the given snapshot and lines up its students. The
// sum of all scores minus the unassignment penalties must reconcile with
// the snapshot's objective; a mismatch beyond a tenth means the scorer and
// the model disagree, and that is a modeling defect worth dying for.
func NewFixingData(in *instance.Instance, idx *model.Indices, snap *FixingSnapshot, rng *rand.Rand) *FixingData {
	scorer := NewAssignmentScorer(in, idx, snap.Assign)
	scores := scorer.Scores()
	reconcile(in, scores, snap)

	ranked := rankAscending(scores)
	assignments := make(map[model.AssignKey]bool, len(ranked))
	for _, a := range ranked {
		assignments[a] = true
	}

	unassigned := unassignedIDs(idx, ranked)
	var lineUp []model.AssignKey
	if len(unassigned) > 0 {
		lineUp = lineUpWithUnassigned(idx, ranked, unassigned, rng)
	} else {
		lineUp = ranked
	}

	ids := make([]int, len(lineUp))
	for i, a := range lineUp {
		ids[i] = a.Student
	}

	return &FixingData{
		Scores:            scores,
		Ranked:            ranked,
		Assignments:       assignments,
		LineUpAssignments: lineUp,
		LineUpIDs:         ids,
		UnassignedIDs:     unassigned,
	}
}

// reconcile cross-checks the per-assignment scores against the objective
// the solver reported for the same solution.
func reconcile(in *instance.Instance, scores map[model.AssignKey]float64, snap *FixingSnapshot) {
	total := 0.0
	for _, s := range scores {
		total += s
	}
	for _, v := range snap.Unassigned {
		total -= v * float64(in.PenaltyUnassigned)
	}
	if diff := math.Abs(total - float64(snap.Objective)); diff > 1e-1 {
		log.Fatalf("assignment scores sum to %v but the solver reported objective %v (diff %v)",
			total, snap.Objective, diff)
	}
}

func unassignedIDs(idx *model.Indices, ranked []model.AssignKey) map[int]bool {
	assigned := make(map[int]bool, len(ranked))
	for _, a := range ranked {
		assigned[a.Student] = true
	}
	unassigned := make(map[int]bool)
	for s := 0; s < idx.NumStudents; s++ {
		if !assigned[s] {
			unassigned[s] = true
		}
	}
	return unassigned
}

// lineUpWithUnassigned splices pseudo assignments for the unassigned
// students into the ranking at positions drawn uniformly at random, so
// repeated zonings do not systematically treat them as the worst or the
// best assignments.
func lineUpWithUnassigned(idx *model.Indices, ranked []model.AssignKey, unassigned map[int]bool, rng *rand.Rand) []model.AssignKey {
	pseudo := make([]model.AssignKey, 0, len(unassigned))
	for s := range unassigned {
		pseudo = append(pseudo, model.AssignKey{Project: -1, Group: -1, Student: s})
	}
	sort.Slice(pseudo, func(i, j int) bool { return pseudo[i].Student < pseudo[j].Student })

	positions := make(map[int]bool, len(pseudo))
	for _, p := range rng.Perm(idx.NumStudents)[:len(pseudo)] {
		positions[p] = true
	}

	lineUp := make([]model.AssignKey, 0, idx.NumStudents)
	nextPseudo, nextReal := 0, 0
	for i := 0; i < idx.NumStudents; i++ {
		if positions[i] {
			lineUp = append(lineUp, pseudo[nextPseudo])
			nextPseudo++
		} else {
			lineUp = append(lineUp, ranked[nextReal])
			nextReal++
		}
	}
	if len(lineUp) != idx.NumStudents {
		log.Fatalf("line-up has %d entries for %d students", len(lineUp), idx.NumStudents)
	}
	return lineUp
}
