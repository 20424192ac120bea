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

// Package solution reads an assignment back out of solved variable values,
// cross-checks it against the structural invariants and the objective, and
// summarizes it for reporting.
package solution

import (
	"math"
	"sort"

	"github.com/spalloc/spalloc/instance"
	"github.com/spalloc/spalloc/model"
)

// Retriever answers membership queries about one solved state. It works on a
// value snapshot, never on live variable state.
type Retriever struct {
	in     *instance.Instance
	idx    *model.Indices
	values []float64

	groups     map[model.GroupKey][]int
	unassigned []int
	assigned   []model.AssignKey
}

// NewRetriever derives the assignment from the variable values (indexed by
// mip.VarIndex, as returned by a solve).
func NewRetriever(in *instance.Instance, idx *model.Indices, comp *model.Components, values []float64) *Retriever {
	r := &Retriever{
		in:     in,
		idx:    idx,
		values: values,
		groups: make(map[model.GroupKey][]int),
	}
	for i, t := range idx.Triples {
		if values[comp.Vars.Assign[i].Index()] > 0.5 {
			key := model.GroupKey{Project: t.Project, Group: t.Group}
			r.groups[key] = append(r.groups[key], t.Student)
			r.assigned = append(r.assigned, t)
		}
	}
	for s, v := range comp.Vars.Unassigned {
		if values[v.Index()] > 0.5 {
			r.unassigned = append(r.unassigned, s)
		}
	}
	return r
}

// Assignments returns every realized (project, group, student) key.
func (r *Retriever) Assignments() []model.AssignKey { return r.assigned }

// StudentsInGroup returns the members of one group in student-ID order.
func (r *Retriever) StudentsInGroup(p, g int) []int {
	return r.groups[model.GroupKey{Project: p, Group: g}]
}

// OccupiedGroups returns the keys of all groups with at least one member,
// sorted by project then group.
func (r *Retriever) OccupiedGroups() []model.GroupKey {
	keys := make([]model.GroupKey, 0, len(r.groups))
	for key := range r.groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Project != keys[j].Project {
			return keys[i].Project < keys[j].Project
		}
		return keys[i].Group < keys[j].Group
	})
	return keys
}

// GroupsInProject returns the occupied group indices of one project.
func (r *Retriever) GroupsInProject(p int) []int {
	var out []int
	for _, key := range r.OccupiedGroups() {
		if key.Project == p {
			out = append(out, key.Group)
		}
	}
	return out
}

// UnassignedStudents returns the students left unassigned, in ID order.
func (r *Retriever) UnassignedStudents() []int { return r.unassigned }

// MutualPairsInGroup returns the reciprocal pairs realized within a group.
func (r *Retriever) MutualPairsInGroup(p, g int) []model.StudentPair {
	members := r.StudentsInGroup(p, g)
	inGroup := make(map[int]bool, len(members))
	for _, s := range members {
		inGroup[s] = true
	}
	var out []model.StudentPair
	for _, pair := range r.idx.MutualPairs {
		if inGroup[pair.A] && inGroup[pair.B] {
			out = append(out, pair)
		}
	}
	return out
}

// RealizedMutualPairs returns all realized reciprocal pairs.
func (r *Retriever) RealizedMutualPairs() []model.StudentPair {
	var out []model.StudentPair
	for _, key := range r.OccupiedGroups() {
		out = append(out, r.MutualPairsInGroup(key.Project, key.Group)...)
	}
	return out
}

// PreferencesInGroup returns the members' preference values for the group's
// project, parallel to StudentsInGroup.
func (r *Retriever) PreferencesInGroup(p, g int) []int {
	members := r.StudentsInGroup(p, g)
	prefs := make([]int, len(members))
	for i, s := range members {
		prefs[i] = r.idx.Preferences[s][p]
	}
	return prefs
}

// Checker verifies one solved state: the structural invariants and the
// agreement of the re-derived objective parts with the model's named
// expressions.
type Checker struct {
	in     *instance.Instance
	idx    *model.Indices
	comp   *model.Components
	values []float64
	ret    *Retriever
}

// NewChecker builds a checker over the given value snapshot.
func NewChecker(in *instance.Instance, idx *model.Indices, comp *model.Components, values []float64) *Checker {
	return &Checker{
		in:     in,
		idx:    idx,
		comp:   comp,
		values: values,
		ret:    NewRetriever(in, idx, comp, values),
	}
}

// Retriever exposes the underlying membership queries.
func (c *Checker) Retriever() *Retriever { return c.ret }

// EveryStudentAccountedOnce checks that assigned plus unassigned students
// cover every student exactly once.
func (c *Checker) EveryStudentAccountedOnce() bool {
	ids := append([]int(nil), c.ret.UnassignedStudents()...)
	for _, a := range c.ret.Assignments() {
		ids = append(ids, a.Student)
	}
	if len(ids) != c.idx.NumStudents {
		return false
	}
	sort.Ints(ids)
	for s, id := range ids {
		if id != s {
			return false
		}
	}
	return true
}

// GroupsOpenIffOccupied checks that the establish-group variables agree with
// derived group membership.
func (c *Checker) GroupsOpenIffOccupied() bool {
	occupied := make(map[model.GroupKey]bool)
	for _, key := range c.ret.OccupiedGroups() {
		occupied[key] = true
	}
	for i, key := range c.idx.Pairs {
		open := c.values[c.comp.Vars.Open[i].Index()] > 0.5
		if open != occupied[key] {
			return false
		}
	}
	return true
}

// GroupsCompacted checks that every project's occupied group indices are
// consecutive starting at zero.
func (c *Checker) GroupsCompacted() bool {
	for p := range c.in.Projects {
		for i, g := range c.ret.GroupsInProject(p) {
			if g != i {
				return false
			}
		}
	}
	return true
}

// GroupSizesWithinBounds checks min and max size of every occupied group.
func (c *Checker) GroupSizesWithinBounds() bool {
	for _, key := range c.ret.OccupiedGroups() {
		proj := c.in.Projects[key.Project]
		size := len(c.ret.StudentsInGroup(key.Project, key.Group))
		if size < proj.MinGroupSize || size > proj.MaxGroupSize {
			return false
		}
	}
	return true
}

// NoProjectOverGroupLimit checks the per-project group-count cap.
func (c *Checker) NoProjectOverGroupLimit() bool {
	for p, proj := range c.in.Projects {
		if len(c.ret.GroupsInProject(p)) > proj.MaxGroups {
			return false
		}
	}
	return true
}

// Valid reports whether all structural invariants hold.
func (c *Checker) Valid() bool {
	return c.EveryStudentAccountedOnce() &&
		c.GroupsOpenIffOccupied() &&
		c.GroupsCompacted() &&
		c.GroupSizesWithinBounds() &&
		c.NoProjectOverGroupLimit()
}

// ObjectiveParts re-derives the five objective parts from the assignment
// alone, without the model's expressions.
func (c *Checker) ObjectiveParts() (prefs, mutual, unassigned, surplusGroups, sizeDeviation int) {
	for _, a := range c.ret.Assignments() {
		prefs += c.idx.Preferences[a.Student][a.Project]
	}
	mutual = len(c.ret.RealizedMutualPairs()) * c.in.RewardMutualPair
	unassigned = len(c.ret.UnassignedStudents()) * c.in.PenaltyUnassigned
	for p, proj := range c.in.Projects {
		groups := c.ret.GroupsInProject(p)
		if extra := len(groups) - proj.DesiredGroups; extra > 0 {
			surplusGroups += extra * proj.SurplusGroupPenalty
		}
		for _, g := range groups {
			deviation := len(c.ret.StudentsInGroup(p, g)) - proj.IdealGroupSize
			if deviation < 0 {
				deviation = -deviation
			}
			sizeDeviation += deviation * proj.SizePenalty
		}
	}
	return prefs, mutual, unassigned, surplusGroups, sizeDeviation
}

// ObjectiveCorrect checks that every re-derived part agrees with the value
// of the model's named expression over the same snapshot.
func (c *Checker) ObjectiveCorrect() bool {
	prefs, mutual, unassigned, surplusGroups, sizeDeviation := c.ObjectiveParts()
	const tol = 1e-6
	matches := func(part int, value float64) bool {
		return math.Abs(float64(part)-value) <= tol
	}
	return matches(prefs, c.comp.Expr.RealizedPreferences.Value(c.values)) &&
		matches(mutual, c.comp.Expr.MutualReward.Value(c.values)) &&
		matches(unassigned, c.comp.Expr.UnassignedPenalties.Value(c.values)) &&
		matches(surplusGroups, c.comp.Expr.SurplusGroupPenalties.Value(c.values)) &&
		matches(sizeDeviation, c.comp.Expr.GroupSizePenalties.Value(c.values))
}

// Correct reports whether the solution is structurally valid and its
// objective decomposes correctly.
func (c *Checker) Correct() bool {
	return c.Valid() && c.ObjectiveCorrect()
}
