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

package model

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spalloc/spalloc/instance"
	"github.com/spalloc/spalloc/mip"
)

// testInstance has two projects (two group slots and one group slot), four
// students and one reciprocal partner pair (0,1).
func testInstance() *instance.Instance {
	return &instance.Instance{
		Projects: []instance.Project{
			{MinGroupSize: 1, MaxGroupSize: 3, IdealGroupSize: 2, DesiredGroups: 1, MaxGroups: 2, SizePenalty: 1, SurplusGroupPenalty: 2},
			{MinGroupSize: 1, MaxGroupSize: 2, IdealGroupSize: 2, DesiredGroups: 1, MaxGroups: 1, SizePenalty: 1},
		},
		Students: []instance.Student{
			{ProjectPrefs: []int{3, 1}, FavPartners: map[int]bool{1: true}},
			{ProjectPrefs: []int{3, 2}, FavPartners: map[int]bool{0: true, 2: true}},
			{ProjectPrefs: []int{1, 3}},
			{ProjectPrefs: []int{2, 2}},
		},
		RewardMutualPair:  5,
		PenaltyUnassigned: 4,
	}
}

func TestNewIndices(t *testing.T) {
	idx := NewIndices(testInstance())

	if got, want := idx.NumProjects, 2; got != want {
		t.Errorf("NumProjects = %v, want %v", got, want)
	}
	if got, want := idx.NumStudents, 4; got != want {
		t.Errorf("NumStudents = %v, want %v", got, want)
	}
	if got, want := idx.MaxGroupCount, 2; got != want {
		t.Errorf("MaxGroupCount = %v, want %v", got, want)
	}
	wantPairs := []GroupKey{
		{Project: 0, Group: 0},
		{Project: 0, Group: 1},
		{Project: 1, Group: 0},
	}
	if diff := cmp.Diff(wantPairs, idx.Pairs); diff != "" {
		t.Errorf("Pairs mismatch (-want +got):\n%s", diff)
	}
	if got, want := len(idx.Triples), 12; got != want {
		t.Errorf("len(Triples) = %v, want %v", got, want)
	}
	// One reciprocal pair; the (1,2) listing is not reciprocated.
	wantMutual := []StudentPair{{A: 0, B: 1}}
	if diff := cmp.Diff(wantMutual, idx.MutualPairs); diff != "" {
		t.Errorf("MutualPairs mismatch (-want +got):\n%s", diff)
	}
}

func TestIndices_TripleIndex(t *testing.T) {
	idx := NewIndices(testInstance())

	for i, key := range idx.Triples {
		if got := idx.TripleIndex(key.Project, key.Group, key.Student); got != i {
			t.Errorf("TripleIndex(%v) = %v, want %v", key, got, i)
		}
	}
}

func TestIndices_GroupID(t *testing.T) {
	idx := NewIndices(testInstance())

	testCases := []struct {
		p, g int
		want float64
	}{
		{p: 0, g: 0, want: 0},
		{p: 0, g: 1, want: 0.5},
		{p: 1, g: 0, want: 1},
	}
	for _, tc := range testCases {
		if got := idx.GroupID(tc.p, tc.g); got != tc.want {
			t.Errorf("GroupID(%d,%d) = %v, want %v", tc.p, tc.g, got, tc.want)
		}
	}
	// Identifiers are strictly increasing over the pair enumeration so the
	// id-weighted row difference is zero only for identical rows.
	for i := 1; i < len(idx.Pairs); i++ {
		prev := idx.GroupID(idx.Pairs[i-1].Project, idx.Pairs[i-1].Group)
		cur := idx.GroupID(idx.Pairs[i].Project, idx.Pairs[i].Group)
		if cur <= prev {
			t.Errorf("GroupID not increasing: id(%v) = %v <= id(%v) = %v", idx.Pairs[i], cur, idx.Pairs[i-1], prev)
		}
	}
}

func TestIndices_MutualPairsOf(t *testing.T) {
	idx := NewIndices(testInstance())

	if got := idx.MutualPairsOf(0); len(got) != 1 || got[0] != (StudentPair{A: 0, B: 1}) {
		t.Errorf("MutualPairsOf(0) = %v, want [{0 1}]", got)
	}
	if got := idx.MutualPairsOf(2); got != nil {
		t.Errorf("MutualPairsOf(2) = %v, want none", got)
	}
}

func TestBuild_InvalidInstance(t *testing.T) {
	in := testInstance()
	in.Projects[0].MaxGroupSize = 0
	idx := NewIndices(in)

	if _, _, err := Build(in, idx); !errors.Is(err, instance.ErrInvalidInstance) {
		t.Errorf("Build() error = %v, want ErrInvalidInstance", err)
	}
}

func TestBuild_ModelShape(t *testing.T) {
	in := testInstance()
	idx := NewIndices(in)
	m, comp, err := Build(in, idx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	// assign + (open, surplus, deficit) per group + unrealized + unassigned.
	if got, want := m.NumVars(), 12+3*3+1+4; got != want {
		t.Errorf("NumVars() = %v, want %v", got, want)
	}
	if got, want := len(comp.Vars.Assign), len(idx.Triples); got != want {
		t.Errorf("len(Vars.Assign) = %v, want %v", got, want)
	}
	if got, want := len(comp.Vars.Open), len(idx.Pairs); got != want {
		t.Errorf("len(Vars.Open) = %v, want %v", got, want)
	}
	if got, want := len(comp.Base.OneAssignmentOrUnassigned), 4; got != want {
		t.Errorf("len(Base.OneAssignmentOrUnassigned) = %v, want %v", got, want)
	}
	// Only project 0 has a second group slot.
	if got, want := len(comp.Base.OpenGroupsConsecutively), 1; got != want {
		t.Errorf("len(Base.OpenGroupsConsecutively) = %v, want %v", got, want)
	}
	if got, want := len(comp.Base.RealizedPairsForward), 1; got != want {
		t.Errorf("len(Base.RealizedPairsForward) = %v, want %v", got, want)
	}
	if got, want := len(comp.Base.PairNeedsAssignment), 2; got != want {
		t.Errorf("len(Base.PairNeedsAssignment) = %v, want %v", got, want)
	}
}

// handSolution places students 0 and 1 in project 0 group 0, student 2 in
// project 1 group 0 and leaves student 3 unassigned.
func handSolution(m *mip.Model, idx *Indices, comp *Components) []float64 {
	values := make([]float64, m.NumVars())
	set := func(v mip.Var, x float64) { values[v.Index()] = x }

	set(comp.AssignVar(idx, 0, 0, 0), 1)
	set(comp.AssignVar(idx, 0, 0, 1), 1)
	set(comp.AssignVar(idx, 1, 0, 2), 1)
	set(comp.OpenVar(idx, 0, 0), 1)
	set(comp.OpenVar(idx, 1, 0), 1)
	set(comp.Vars.Unassigned[3], 1)
	// Project 1 group 0 has one member against an ideal of two.
	set(comp.Vars.SizeDeficit[idx.PairIndex(1, 0)], 1)
	return values
}

func TestBuild_HandSolutionFeasible(t *testing.T) {
	in := testInstance()
	idx := NewIndices(in)
	m, comp, err := Build(in, idx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	values := handSolution(m, idx, comp)

	if ok, name := m.CheckFeasible(values, 1e-6); !ok {
		t.Fatalf("CheckFeasible() = false, violated %q", name)
	}

	// 3+3 preferences in project 0, 3 in project 1, the realized pair
	// reward, one unassigned student and one size deficit.
	if got, want := m.ObjectiveValue(values), 9.0+5-4-1; got != want {
		t.Errorf("ObjectiveValue() = %v, want %v", got, want)
	}

	parts := []struct {
		name string
		expr *mip.LinearExpr
		want float64
	}{
		{name: "RealizedPreferences", expr: comp.Expr.RealizedPreferences, want: 9},
		{name: "MutualReward", expr: comp.Expr.MutualReward, want: 5},
		{name: "UnassignedPenalties", expr: comp.Expr.UnassignedPenalties, want: 4},
		{name: "SurplusGroupPenalties", expr: comp.Expr.SurplusGroupPenalties, want: 0},
		{name: "GroupSizePenalties", expr: comp.Expr.GroupSizePenalties, want: 1},
	}
	for _, part := range parts {
		if got := part.expr.Value(values); got != part.want {
			t.Errorf("%s.Value() = %v, want %v", part.name, got, part.want)
		}
	}
}

func TestBuild_ViolationsDetected(t *testing.T) {
	in := testInstance()
	idx := NewIndices(in)
	m, comp, err := Build(in, idx)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	testCases := []struct {
		name   string
		mutate func(values []float64)
	}{
		{
			// Student 1 both assigned and marked unassigned.
			name:   "DoubleAccounting",
			mutate: func(values []float64) { values[comp.Vars.Unassigned[1].Index()] = 1 },
		},
		{
			// Second group of project 0 opens without the first.
			name: "NonConsecutiveGroups",
			mutate: func(values []float64) {
				values[comp.OpenVar(idx, 0, 0).Index()] = 0
				values[comp.AssignVar(idx, 0, 0, 0).Index()] = 0
				values[comp.AssignVar(idx, 0, 0, 1).Index()] = 0
				values[comp.OpenVar(idx, 0, 1).Index()] = 1
				values[comp.AssignVar(idx, 0, 1, 0).Index()] = 1
				values[comp.AssignVar(idx, 0, 1, 1).Index()] = 1
			},
		},
		{
			// Members in a group that is not opened.
			name:   "OccupiedClosedGroup",
			mutate: func(values []float64) { values[comp.OpenVar(idx, 1, 0).Index()] = 0 },
		},
		{
			// Pair (0,1) split across projects but still claimed realized.
			name: "SplitPairClaimedRealized",
			mutate: func(values []float64) {
				values[comp.AssignVar(idx, 0, 0, 1).Index()] = 0
				values[comp.AssignVar(idx, 1, 0, 1).Index()] = 1
				values[comp.Vars.SizeDeficit[idx.PairIndex(1, 0)].Index()] = 0
				values[comp.Vars.SizeDeficit[idx.PairIndex(0, 0)].Index()] = 1
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			values := handSolution(m, idx, comp)
			tc.mutate(values)
			if ok, _ := m.CheckFeasible(values, 1e-6); ok {
				t.Error("CheckFeasible() = true, want violation")
			}
		})
	}
}
