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
	"math/rand"
	"testing"
	"time"

	"github.com/spalloc/spalloc/bruteforce"
	"github.com/spalloc/spalloc/instance"
	"github.com/spalloc/spalloc/mip"
	"github.com/spalloc/spalloc/model"
)

// fixingInstance has one project with two groups of at most two, exactly
// fitting all four students. Scores equal plain preferences, so the line-up
// order is students 3, 2, 1, 0.
func fixingInstance() *instance.Instance {
	return &instance.Instance{
		Projects: []instance.Project{
			{MinGroupSize: 1, MaxGroupSize: 2, IdealGroupSize: 2, DesiredGroups: 2, MaxGroups: 2, SizePenalty: 1, SurplusGroupPenalty: 1},
		},
		Students: []instance.Student{
			{ProjectPrefs: []int{4}},
			{ProjectPrefs: []int{3}},
			{ProjectPrefs: []int{2}},
			{ProjectPrefs: []int{1}},
		},
		PenaltyUnassigned: 4,
	}
}

func setUpFixing(t *testing.T) (*model.Indices, *mip.Model, *model.Components, *VariableFixing) {
	t.Helper()
	in := fixingInstance()
	idx := model.NewIndices(in)
	m, comp, err := model.Build(in, idx)
	if err != nil {
		t.Fatalf("model.Build() error = %v", err)
	}
	vf := NewVariableFixing(in, idx, m, comp, bruteforce.New(in, idx, comp),
		&Log{}, time.Now(), rand.New(rand.NewSource(1)), 1)

	if err := vf.Optimize(SolveSpec{Initial: true, Patience: time.Second, TimeLimit: -1}); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if vf.Status() != mip.StatusOptimal {
		t.Fatalf("Status() = %v, want optimal", vf.Status())
	}
	vf.StoreSolution()
	vf.MakeCurrentBest()
	return idx, m, comp, vf
}

func TestVariableFixing_InitialSolve(t *testing.T) {
	_, _, _, vf := setUpFixing(t)

	if got, want := vf.Current().Objective, 10; got != want {
		t.Errorf("Current().Objective = %v, want %v", got, want)
	}
	if got, want := vf.currentFixing.LineUpIDs, []int{3, 2, 1, 0}; len(got) != len(want) {
		t.Fatalf("LineUpIDs = %v, want %v", got, want)
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("LineUpIDs = %v, want %v", got, want)
			}
		}
	}
}

func TestVariableFixing_Zones(t *testing.T) {
	_, _, _, vf := setUpFixing(t)

	for numZones := 2; numZones <= 4; numZones++ {
		zones := vf.Zones(numZones)
		if len(zones) != numZones {
			t.Fatalf("Zones(%d) has %d zones", numZones, len(zones))
		}
		covered := 0
		for i, z := range zones {
			size := z.End - z.Start
			if size < 4/numZones || size > 4/numZones+1 {
				t.Errorf("Zones(%d)[%d] size %d not within one of the floor", numZones, i, size)
			}
			if i > 0 && z.Start != zones[i-1].End {
				t.Errorf("Zones(%d)[%d] starts at %d, previous ends at %d", numZones, i, z.Start, zones[i-1].End)
			}
			covered += size
		}
		if covered != 4 {
			t.Errorf("Zones(%d) covers %d students, want 4", numZones, covered)
		}
		if zones[0].Start != 0 || zones[len(zones)-1].End != 4 {
			t.Errorf("Zones(%d) spans [%d,%d), want [0,4)", numZones, zones[0].Start, zones[len(zones)-1].End)
		}
	}
}

func TestVariableFixing_ZonesCachedUntilInvalidated(t *testing.T) {
	_, _, _, vf := setUpFixing(t)

	first := vf.Zones(3)
	second := vf.Zones(3)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached Zones(3) changed between calls: %v vs %v", first, second)
		}
	}

	vf.InvalidateZones()
	fresh := vf.Zones(3)
	if len(fresh) != 3 {
		t.Fatalf("Zones(3) after invalidation has %d zones", len(fresh))
	}
}

func TestVariableFixing_FreeZonePairTooFewZones(t *testing.T) {
	_, _, _, vf := setUpFixing(t)

	if err := vf.FreeZonePair(0, 0, 1); !errors.Is(err, ErrTooFewZones) {
		t.Errorf("FreeZonePair(0,0,1) = %v, want ErrTooFewZones", err)
	}
}

func TestVariableFixing_FreeZonePair(t *testing.T) {
	idx, _, comp, vf := setUpFixing(t)

	// Four zones of one student each; zones 0 and 1 hold the two worst
	// line-up entries, students 3 and 2.
	if err := vf.FreeZonePair(0, 1, 4); err != nil {
		t.Fatalf("FreeZonePair() error = %v", err)
	}
	allowed := map[int]bool{3: true, 2: true}

	for i, tr := range idx.Triples {
		lb, ub := comp.Vars.Assign[i].Bounds()
		if allowed[tr.Student] {
			if lb != 0 || ub != 1 {
				t.Errorf("assign bounds of free student %d = [%v,%v], want [0,1]", tr.Student, lb, ub)
			}
		} else if lb != ub {
			t.Errorf("assign bounds of frozen student %d at %v = [%v,%v], want fixed", tr.Student, tr, lb, ub)
		}
	}

	// Each frozen student stays pinned to exactly one group and cannot be
	// unassigned.
	for _, s := range []int{0, 1} {
		pinned := 0
		for i, tr := range idx.Triples {
			if tr.Student != s {
				continue
			}
			if lb, _ := comp.Vars.Assign[i].Bounds(); lb == 1 {
				pinned++
			}
		}
		if pinned != 1 {
			t.Errorf("frozen student %d pinned to %d groups, want 1", s, pinned)
		}
		if lb, ub := comp.Vars.Unassigned[s].Bounds(); lb != 0 || ub != 0 {
			t.Errorf("unassigned bounds of frozen student %d = [%v,%v], want [0,0]", s, lb, ub)
		}
	}
	for s := range allowed {
		if lb, ub := comp.Vars.Unassigned[s].Bounds(); lb != 0 || ub != 1 {
			t.Errorf("unassigned bounds of free student %d = [%v,%v], want [0,1]", s, lb, ub)
		}
	}

	// Kept groups are relabeled onto a consecutive prefix, so every forced
	// group index is below the number of kept groups.
	forced := make(map[int]bool)
	for i, key := range idx.Pairs {
		if lb, _ := comp.Vars.Open[i].Bounds(); lb == 1 {
			forced[key.Group] = true
		}
	}
	for g := range forced {
		if g >= len(forced) {
			t.Errorf("forced-open group %d not relabeled onto the prefix of %d kept groups", g, len(forced))
		}
	}

	// The reduced solve still reaches the previous objective.
	if err := vf.Optimize(SolveSpec{Patience: time.Second, TimeLimit: -1}); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if vf.Status() != mip.StatusOptimal {
		t.Fatalf("Status() after freeing = %v, want optimal", vf.Status())
	}
	vf.StoreSolution()
	if got, want := vf.Current().Objective, 10; got != want {
		t.Errorf("objective after zone solve = %v, want %v", got, want)
	}
}

func TestVariableFixing_ForceKWorstToChange(t *testing.T) {
	idx, _, comp, vf := setUpFixing(t)
	worst := vf.currentFixing.LineUpAssignments[0]

	vf.ForceKWorstToChange(1)

	for i, tr := range idx.Triples {
		lb, ub := comp.Vars.Assign[i].Bounds()
		if tr == worst {
			if lb != 0 || ub != 0 {
				t.Errorf("kicked assignment %v bounds = [%v,%v], want [0,0]", tr, lb, ub)
			}
			continue
		}
		if lb != 0 || ub != 1 {
			t.Errorf("assignment %v bounds = [%v,%v], want [0,1]", tr, lb, ub)
		}
	}

	for i, tr := range idx.Triples {
		_, ok := comp.Vars.Assign[i].Hint()
		if tr.Student == worst.Student && ok {
			t.Errorf("hint of kicked student %d at %v still set", tr.Student, tr)
		}
		if tr.Student != worst.Student && !ok {
			t.Errorf("hint of student %d at %v missing", tr.Student, tr)
		}
	}

	// The kick keeps the model solvable; the worst student moves groups.
	if err := vf.Optimize(SolveSpec{Shake: true, Patience: time.Second, TimeLimit: -1}); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if vf.Status() != mip.StatusOptimal {
		t.Fatalf("Status() after kick = %v, want optimal", vf.Status())
	}
	vf.StoreSolution()
	if got := vf.Current().Assign[idx.TripleIndex(worst.Project, worst.Group, worst.Student)]; got != 0 {
		t.Errorf("kicked assignment recurred with value %v", got)
	}
}

func TestVariableFixing_SeedManagement(t *testing.T) {
	_, _, _, vf := setUpFixing(t)

	base := vf.Seed()
	vf.IncrementSeed()
	if got, want := vf.Seed(), base+1; got != want {
		t.Errorf("Seed() = %v, want %v", got, want)
	}
}

func TestVariableFixing_BestCurrentRoundTrip(t *testing.T) {
	_, _, _, vf := setUpFixing(t)

	// Kick the two worst students and accept whatever the shake finds.
	vf.ForceKWorstToChange(2)
	if err := vf.Optimize(SolveSpec{Shake: true, Patience: time.Second, TimeLimit: -1}); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	vf.StoreSolution()

	if vf.NewBestFound() {
		vf.MakeCurrentBest()
	}
	vf.MakeBestCurrent()
	if vf.Current() != vf.Best() {
		t.Error("MakeBestCurrent() did not reset the current snapshot to best")
	}

	res, err := vf.RecoverToBest()
	if err != nil {
		t.Fatalf("RecoverToBest() error = %v", err)
	}
	if got, want := round(res.Objective), vf.Best().Objective; got != want {
		t.Errorf("recovered objective = %v, want best %v", got, want)
	}
}
