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
	"sort"

	"github.com/spalloc/spalloc/instance"
	"github.com/spalloc/spalloc/model"
)

// AssignmentScorer assigns one desirability score to every realized
// assignment of a solution:
//
//	score(p,g,s) = preference(s,p)
//	             + realized mutual reward shares of s within (p,g)
//	             − s's share of p's surplus-group penalty
//	             − s's share of (p,g)'s size-deviation penalty
//
// Shared penalties are split evenly among the current occupants of the
// group or project, so the total of all scores, minus the unassignment
// penalties, reconciles with the model objective. Whether the per-occupant
// denominators make scores comparable across projects is a heuristic
// assumption; the ranking only steers kicks and zoning.
type AssignmentScorer struct {
	in  *instance.Instance
	idx *model.Indices

	assignments     []model.AssignKey
	studentsInGroup map[model.GroupKey][]int
	groupsInProject map[int][]int
	sizeOfProject   map[int]int
	pairsInGroup    map[model.GroupKey][]model.StudentPair
}

// NewAssignmentScorer derives group membership from the assignment variable
// values of a snapshot (parallel to idx.Triples) and prepares the shared
// membership queries.
func NewAssignmentScorer(in *instance.Instance, idx *model.Indices, assignValues []float64) *AssignmentScorer {
	sc := &AssignmentScorer{
		in:              in,
		idx:             idx,
		studentsInGroup: make(map[model.GroupKey][]int),
		groupsInProject: make(map[int][]int),
		sizeOfProject:   make(map[int]int),
		pairsInGroup:    make(map[model.GroupKey][]model.StudentPair),
	}
	for i, t := range idx.Triples {
		if assignValues[i] < 0.5 {
			continue
		}
		key := model.GroupKey{Project: t.Project, Group: t.Group}
		sc.assignments = append(sc.assignments, t)
		sc.studentsInGroup[key] = append(sc.studentsInGroup[key], t.Student)
		sc.sizeOfProject[t.Project]++
	}
	for key, members := range sc.studentsInGroup {
		sc.groupsInProject[key.Project] = append(sc.groupsInProject[key.Project], key.Group)
		inGroup := make(map[int]bool, len(members))
		for _, s := range members {
			inGroup[s] = true
		}
		for _, pair := range idx.MutualPairs {
			if inGroup[pair.A] && inGroup[pair.B] {
				sc.pairsInGroup[key] = append(sc.pairsInGroup[key], pair)
			}
		}
	}
	return sc
}

// Assignments returns the realized (project, group, student) keys.
func (sc *AssignmentScorer) Assignments() []model.AssignKey { return sc.assignments }

// Scores returns the score of every realized assignment.
func (sc *AssignmentScorer) Scores() map[model.AssignKey]float64 {
	scores := make(map[model.AssignKey]float64, len(sc.assignments))
	for _, a := range sc.assignments {
		scores[a] = sc.score(a)
	}
	return scores
}

func (sc *AssignmentScorer) score(a model.AssignKey) float64 {
	return float64(sc.idx.Preferences[a.Student][a.Project]) +
		sc.mutualRewardShare(a) -
		sc.surplusGroupShare(a.Project) -
		sc.sizeDeviationShare(a.Project, a.Group)
}

// mutualRewardShare is half the reward of every realized pair within the
// group that includes the student; the reward is split evenly among the two
// members.
func (sc *AssignmentScorer) mutualRewardShare(a model.AssignKey) float64 {
	key := model.GroupKey{Project: a.Project, Group: a.Group}
	included := 0
	for _, pair := range sc.pairsInGroup[key] {
		if pair.Contains(a.Student) {
			included++
		}
	}
	return float64(included) * float64(sc.in.RewardMutualPair) / 2
}

// surplusGroupShare is the project's surplus-group penalty split evenly
// among all students currently in the project.
func (sc *AssignmentScorer) surplusGroupShare(project int) float64 {
	proj := sc.in.Projects[project]
	surplus := len(sc.groupsInProject[project]) - proj.DesiredGroups
	if surplus <= 0 {
		return 0
	}
	return float64(surplus*proj.SurplusGroupPenalty) / float64(sc.sizeOfProject[project])
}

// sizeDeviationShare is the group's size-deviation penalty split evenly
// among its occupants.
func (sc *AssignmentScorer) sizeDeviationShare(project, group int) float64 {
	proj := sc.in.Projects[project]
	size := len(sc.studentsInGroup[model.GroupKey{Project: project, Group: group}])
	deviation := proj.IdealGroupSize - size
	if deviation < 0 {
		deviation = -deviation
	}
	return float64(deviation*proj.SizePenalty) / float64(size)
}

// rankAscending orders assignments from worst to best score. Ties break on
// the assignment key so the ranking is deterministic for a given solution.
func rankAscending(scores map[model.AssignKey]float64) []model.AssignKey {
	ranked := make([]model.AssignKey, 0, len(scores))
	for a := range scores {
		ranked = append(ranked, a)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i]], scores[ranked[j]]
		if si != sj {
			return si < sj
		}
		if ranked[i].Project != ranked[j].Project {
			return ranked[i].Project < ranked[j].Project
		}
		if ranked[i].Group != ranked[j].Group {
			return ranked[i].Group < ranked[j].Group
		}
		return ranked[i].Student < ranked[j].Student
	})
	return ranked
}
