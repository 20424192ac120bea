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

// Package model derives the index sets of a SPAwGBP instance and builds the
// mixed-integer program over them. The builder is called exactly once per
// instance; every other component reads or mutates what it returns, never
// rebuilds it.
package model

import (
	log "github.com/golang/glog"

	"github.com/spalloc/spalloc/instance"
)

// GroupKey identifies one group of one project.
type GroupKey struct {
	Project int
	Group   int
}

// AssignKey identifies the assignment decision of one student to one group.
type AssignKey struct {
	Project int
	Group   int
	Student int
}

// StudentPair is an unordered pair of students with A < B.
type StudentPair struct {
	A int
	B int
}

// Contains reports whether the pair includes the student.
func (p StudentPair) Contains(s int) bool { return p.A == s || p.B == s }

// Indices holds the derived, immutable index sets of one instance: the
// assignment-decision domain, the group keys, the reciprocal partner pairs
// and the preference lookup.
type Indices struct {
	NumProjects int
	NumStudents int
	// GroupCounts is the number of group slots per project; group IDs of
	// project p range over [0, GroupCounts[p]).
	GroupCounts []int
	// MaxGroupCount is the largest entry of GroupCounts.
	MaxGroupCount int

	// Pairs enumerates every (project, group) key, projects in order,
	// groups consecutive within a project.
	Pairs []GroupKey
	// Triples enumerates every (project, group, student) key; for each
	// entry of Pairs all students appear in ID order.
	Triples []AssignKey
	// MutualPairs lists every reciprocal favorite-partner pair, A < B.
	MutualPairs []StudentPair
	// Preferences is the [student][project] ordinal preference lookup.
	Preferences [][]int

	pairIndex map[GroupKey]int
}

// NewIndices derives the index sets from the instance. Pure derivation; the
// result is never mutated.
func NewIndices(in *instance.Instance) *Indices {
	idx := &Indices{
		NumProjects: in.NumProjects(),
		NumStudents: in.NumStudents(),
		GroupCounts: make([]int, in.NumProjects()),
		pairIndex:   make(map[GroupKey]int),
	}
	for p, proj := range in.Projects {
		idx.GroupCounts[p] = proj.MaxGroups
		if proj.MaxGroups > idx.MaxGroupCount {
			idx.MaxGroupCount = proj.MaxGroups
		}
		for g := 0; g < proj.MaxGroups; g++ {
			key := GroupKey{Project: p, Group: g}
			idx.pairIndex[key] = len(idx.Pairs)
			idx.Pairs = append(idx.Pairs, key)
			for s := range in.Students {
				idx.Triples = append(idx.Triples, AssignKey{Project: p, Group: g, Student: s})
			}
		}
	}

	for a, stud := range in.Students {
		for b := range stud.FavPartners {
			if b > a && in.Students[b].FavPartners[a] {
				idx.MutualPairs = append(idx.MutualPairs, StudentPair{A: a, B: b})
			}
		}
	}
	sortPairs(idx.MutualPairs)

	idx.Preferences = make([][]int, in.NumStudents())
	for s, stud := range in.Students {
		idx.Preferences[s] = append([]int(nil), stud.ProjectPrefs...)
	}
	return idx
}

func sortPairs(pairs []StudentPair) {
	// Map iteration order is random; the pair list must be deterministic
	// because variables are created in its order.
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && less(pairs[j], pairs[j-1]); j-- {
			pairs[j], pairs[j-1] = pairs[j-1], pairs[j]
		}
	}
}

func less(x, y StudentPair) bool {
	if x.A != y.A {
		return x.A < y.A
	}
	return x.B < y.B
}

// PairIndex returns the dense index of the (project, group) key.
func (idx *Indices) PairIndex(p, g int) int {
	i, ok := idx.pairIndex[GroupKey{Project: p, Group: g}]
	if !ok {
		log.Fatalf("PairIndex: no group %d in project %d", g, p)
	}
	return i
}

// TripleIndex returns the dense index of the (project, group, student) key.
func (idx *Indices) TripleIndex(p, g, s int) int {
	return idx.PairIndex(p, g)*idx.NumStudents + s
}

// GroupID returns the strictly increasing real-valued identifier of a group,
// `project + group/maxGroupCount`. Identifiers of distinct groups differ by
// at least 1/maxGroupCount and all lie in [0, NumProjects).
func (idx *Indices) GroupID(p, g int) float64 {
	return float64(p) + float64(g)/float64(idx.MaxGroupCount)
}

// MutualPairsOf returns the mutual pairs that include the student.
func (idx *Indices) MutualPairsOf(s int) []StudentPair {
	var out []StudentPair
	for _, pair := range idx.MutualPairs {
		if pair.Contains(s) {
			out = append(out, pair)
		}
	}
	return out
}
