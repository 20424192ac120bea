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
	"testing"
	"time"

	"github.com/spalloc/spalloc/bruteforce"
	"github.com/spalloc/spalloc/instance"
	"github.com/spalloc/spalloc/mip"
	"github.com/spalloc/spalloc/model"
)

// branchingInstance has one project whose single group fits all three
// students, and a reciprocal pair (0,1). The optimum of 17 puts everyone in
// the group.
func branchingInstance() *instance.Instance {
	return &instance.Instance{
		Projects: []instance.Project{
			{MinGroupSize: 1, MaxGroupSize: 3, IdealGroupSize: 3, DesiredGroups: 1, MaxGroups: 1, SizePenalty: 1},
		},
		Students: []instance.Student{
			{ProjectPrefs: []int{5}, FavPartners: map[int]bool{1: true}},
			{ProjectPrefs: []int{4}, FavPartners: map[int]bool{0: true}},
			{ProjectPrefs: []int{3}},
		},
		RewardMutualPair:  5,
		PenaltyUnassigned: 4,
	}
}

func setUpBranching(t *testing.T) (*mip.Model, *LocalBranching) {
	t.Helper()
	in := branchingInstance()
	idx := model.NewIndices(in)
	m, comp, err := model.Build(in, idx)
	if err != nil {
		t.Fatalf("model.Build() error = %v", err)
	}
	lb := NewLocalBranching(m, comp, bruteforce.New(in, idx, comp), &Log{}, time.Now())
	return m, lb
}

// solveAndStore runs the exploratory solve and makes its solution current
// and best.
func solveAndStore(t *testing.T, lb *LocalBranching) {
	t.Helper()
	if err := lb.Optimize(SolveSpec{Initial: true, Patience: time.Second, TimeLimit: -1}); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	if lb.Status() != mip.StatusOptimal {
		t.Fatalf("Status() = %v, want optimal", lb.Status())
	}
	lb.StoreSolution()
	lb.MakeCurrentBest()
}

func TestLocalBranching_InitialSolve(t *testing.T) {
	_, lb := setUpBranching(t)
	solveAndStore(t, lb)

	if got, want := lb.Current().Objective, 17; got != want {
		t.Errorf("Current().Objective = %v, want %v", got, want)
	}
	if lb.NewBestFound() {
		t.Error("NewBestFound() = true right after MakeCurrentBest")
	}
}

func TestLocalBranching_StackDiscipline(t *testing.T) {
	m, lb := setUpBranching(t)
	solveAndStore(t, lb)
	base := m.NumConstraints()

	lb.AddBounding(2)
	lb.AddExcluding(2)
	if got, want := lb.StackDepth(), 2; got != want {
		t.Errorf("StackDepth() = %v, want %v", got, want)
	}
	if got, want := m.NumConstraints(), base+2; got != want {
		t.Errorf("NumConstraints() = %v, want %v", got, want)
	}

	lb.PopBranchingConstraint()
	if got, want := lb.StackDepth(), 1; got != want {
		t.Errorf("StackDepth() after pop = %v, want %v", got, want)
	}
	if got, want := m.NumConstraints(), base+1; got != want {
		t.Errorf("NumConstraints() after pop = %v, want %v", got, want)
	}

	lb.DropAllBranchingConstraints()
	if got, want := lb.StackDepth(), 0; got != want {
		t.Errorf("StackDepth() after drop = %v, want %v", got, want)
	}
	if got, want := m.NumConstraints(), base; got != want {
		t.Errorf("NumConstraints() after drop = %v, want %v", got, want)
	}
}

func TestLocalBranching_CutoffRejectsKnownNeighborhood(t *testing.T) {
	_, lb := setUpBranching(t)
	solveAndStore(t, lb)

	// Radius zero holds only the current optimum, which the cutoff rejects.
	lb.AddBounding(0)
	if err := lb.Optimize(SolveSpec{Patience: time.Second, TimeLimit: -1, UseCutoff: true}); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	lb.PopBranchingConstraint()

	if got := lb.Status(); got != mip.StatusCutoff {
		t.Errorf("Status() = %v, want cutoff", got)
	}
	if got := lb.SolutionCount(); got != 0 {
		t.Errorf("SolutionCount() = %v, want 0", got)
	}
}

func TestLocalBranching_ShakeJumpsWithinBand(t *testing.T) {
	m, lb := setUpBranching(t)
	solveAndStore(t, lb)
	base := m.NumConstraints()

	lb.AddShakeConstraints(1, 1)
	if got, want := m.NumConstraints(), base+2; got != want {
		t.Errorf("NumConstraints() with band = %v, want %v", got, want)
	}
	if err := lb.Optimize(SolveSpec{Shake: true, Patience: time.Second, TimeLimit: -1}); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	lb.RemoveShakeConstraints()
	if got, want := m.NumConstraints(), base; got != want {
		t.Errorf("NumConstraints() after removal = %v, want %v", got, want)
	}

	if lb.Status() != mip.StatusOptimal {
		t.Fatalf("Status() = %v, want optimal", lb.Status())
	}
	lb.StoreSolution()
	// The best jump of one or two changes drops student 2 from the group.
	if got, want := lb.Current().Objective, 9; got != want {
		t.Errorf("Current().Objective after shake = %v, want %v", got, want)
	}
	if lb.NewBestFound() {
		t.Error("NewBestFound() = true for a worse shake solution")
	}
}

func TestLocalBranching_RecoverToBest(t *testing.T) {
	m, lb := setUpBranching(t)
	solveAndStore(t, lb)
	base := m.NumConstraints()
	best := lb.Best()

	// Wander off the optimum before recovering.
	lb.AddShakeConstraints(1, 1)
	if err := lb.Optimize(SolveSpec{Shake: true, Patience: time.Second, TimeLimit: -1}); err != nil {
		t.Fatalf("Optimize() error = %v", err)
	}
	lb.RemoveShakeConstraints()
	lb.StoreSolution()
	lb.AddExcluding(1)

	res, err := lb.RecoverToBest()
	if err != nil {
		t.Fatalf("RecoverToBest() error = %v", err)
	}
	if got, want := round(res.Objective), best.Objective; got != want {
		t.Errorf("recovered objective = %v, want %v", got, want)
	}
	if got, want := m.NumConstraints(), base; got != want {
		t.Errorf("NumConstraints() after recovery = %v, want %v", got, want)
	}
	if got, want := lb.StackDepth(), 0; got != want {
		t.Errorf("StackDepth() after recovery = %v, want %v", got, want)
	}
	for i, want := range best.Values {
		if got := res.Values[i]; got != want {
			t.Fatalf("recovered value %d = %v, want %v", i, got, want)
		}
	}
}
