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
	"fmt"

	log "github.com/golang/glog"

	"github.com/spalloc/spalloc/instance"
	"github.com/spalloc/spalloc/mip"
)

// Build constructs the SPAwGBP mixed-integer program for the instance:
// variables, base constraints and the maximization objective
//
//	Σ pref(s,p)·assign − Σ penSize·(surplus+deficit)
//	− Σ penGroups·open[beyond desired] − penUnassigned·Σ unassigned
//	+ rewardMutual·Σ (1−unrealized)
//
// It must be called exactly once per instance. Search wrappers mutate the
// returned variables' bounds and add/remove their own constraints; the base
// constraints and the variables themselves persist for the whole run.
func Build(in *instance.Instance, idx *Indices) (*mip.Model, *Components, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	if err := checkGroupIDDominance(idx); err != nil {
		return nil, nil, err
	}

	m := mip.NewModel()
	comp := &Components{}

	buildVariables(m, idx, comp)
	buildObjective(m, in, idx, comp)
	buildAssignmentConstraints(m, in, idx, comp)
	buildGroupShapeConstraints(m, in, idx, comp)
	buildRealizedPairConstraints(m, idx, comp)

	log.V(1).Infof("built model: %d variables, %d constraints, %d mutual pairs",
		m.NumVars(), m.NumConstraints(), len(idx.MutualPairs))
	return m, comp, nil
}

// checkGroupIDDominance re-derives the numeric bound the realized-pair
// linearization rests on: the id-weighted difference of two assignment
// rows has magnitude at most maxID < NumProjects, so an unrealized variable
// scaled by NumProjects always dominates it. Group-count scaling that broke
// this would silently produce wrong unrealized values, so it is asserted
// here rather than assumed.
func checkGroupIDDominance(idx *Indices) error {
	if idx.MaxGroupCount < 1 {
		return fmt.Errorf("group id dominance: max group count %d < 1", idx.MaxGroupCount)
	}
	maxID := idx.GroupID(idx.NumProjects-1, idx.MaxGroupCount-1)
	if maxID >= float64(idx.NumProjects) {
		return fmt.Errorf("group id dominance: max identifier %v not dominated by %d projects", maxID, idx.NumProjects)
	}
	return nil
}

func buildVariables(m *mip.Model, idx *Indices, comp *Components) {
	vars := &comp.Vars

	vars.Assign = make([]mip.Var, len(idx.Triples))
	for i, t := range idx.Triples {
		vars.Assign[i] = m.NewBinaryVar(fmt.Sprintf("%s[%d,%d,%d]", NameAssignStudents, t.Project, t.Group, t.Student))
	}
	vars.Open = make([]mip.Var, len(idx.Pairs))
	vars.SizeSurplus = make([]mip.Var, len(idx.Pairs))
	vars.SizeDeficit = make([]mip.Var, len(idx.Pairs))
	for i, k := range idx.Pairs {
		vars.Open[i] = m.NewBinaryVar(fmt.Sprintf("%s[%d,%d]", NameEstablishGroups, k.Project, k.Group))
		vars.SizeSurplus[i] = m.NewContinuousVar(0, float64(idx.NumStudents), fmt.Sprintf("%s[%d,%d]", NameGroupSizeSurplus, k.Project, k.Group))
		vars.SizeDeficit[i] = m.NewContinuousVar(0, float64(idx.NumStudents), fmt.Sprintf("%s[%d,%d]", NameGroupSizeDeficit, k.Project, k.Group))
	}
	vars.MutualUnrealized = make([]mip.Var, len(idx.MutualPairs))
	for i, pair := range idx.MutualPairs {
		vars.MutualUnrealized[i] = m.NewBinaryVar(fmt.Sprintf("%s[%d,%d]", NameMutualUnrealized, pair.A, pair.B))
	}
	// Relaxed to {0,1} by the one-assignment constraints.
	vars.Unassigned = make([]mip.Var, idx.NumStudents)
	for s := range vars.Unassigned {
		vars.Unassigned[s] = m.NewContinuousVar(0, 1, fmt.Sprintf("%s[%d]", NameUnassignedStudents, s))
	}
}

func buildObjective(m *mip.Model, in *instance.Instance, idx *Indices, comp *Components) {
	vars := &comp.Vars

	prefs := mip.NewLinearExpr()
	for i, t := range idx.Triples {
		prefs.AddTerm(vars.Assign[i], float64(idx.Preferences[t.Student][t.Project]))
	}

	reward := mip.NewLinearExpr()
	for _, v := range vars.MutualUnrealized {
		reward.AddConstant(float64(in.RewardMutualPair))
		reward.AddTerm(v, -float64(in.RewardMutualPair))
	}

	unassigned := mip.NewLinearExpr()
	for _, v := range vars.Unassigned {
		unassigned.AddTerm(v, float64(in.PenaltyUnassigned))
	}

	surplusGroups := mip.NewLinearExpr()
	for i, k := range idx.Pairs {
		if k.Group >= in.Projects[k.Project].DesiredGroups {
			surplusGroups.AddTerm(vars.Open[i], float64(in.Projects[k.Project].SurplusGroupPenalty))
		}
	}

	sizeDeviation := mip.NewLinearExpr()
	for i, k := range idx.Pairs {
		pen := float64(in.Projects[k.Project].SizePenalty)
		sizeDeviation.AddTerm(vars.SizeSurplus[i], pen)
		sizeDeviation.AddTerm(vars.SizeDeficit[i], pen)
	}

	comp.Expr = LinExpressions{
		RealizedPreferences:   prefs,
		MutualReward:          reward,
		UnassignedPenalties:   unassigned,
		SurplusGroupPenalties: surplusGroups,
		GroupSizePenalties:    sizeDeviation,
	}

	obj := mip.NewLinearExpr().
		Add(prefs).
		Add(reward).
		AddTerm(unassigned, -1).
		AddTerm(surplusGroups, -1).
		AddTerm(sizeDeviation, -1)
	m.SetObjective(obj, true)
}

// groupSize returns the expression Σ_s assign[p,g,s].
func groupSize(idx *Indices, vars *Variables, pairIdx int) *mip.LinearExpr {
	size := mip.NewLinearExpr()
	base := pairIdx * idx.NumStudents
	for s := 0; s < idx.NumStudents; s++ {
		size.Add(vars.Assign[base+s])
	}
	return size
}

func buildAssignmentConstraints(m *mip.Model, in *instance.Instance, idx *Indices, comp *Components) {
	vars := &comp.Vars

	for s := 0; s < idx.NumStudents; s++ {
		expr := mip.NewLinearExpr().Add(vars.Unassigned[s])
		for pi := range idx.Pairs {
			expr.Add(vars.Assign[pi*idx.NumStudents+s])
		}
		comp.Base.OneAssignmentOrUnassigned = append(comp.Base.OneAssignmentOrUnassigned,
			m.AddConstraint(expr, mip.Equal, 1, fmt.Sprintf("%s[%d]", NameOneAssignmentOrUnassigned, s)))
	}

	// Groups within a project open in consecutive index order. The
	// realized-pair linearization and the fixing wrapper's relabeling both
	// rely on this; without it they break silently.
	for i, k := range idx.Pairs {
		if k.Group == 0 {
			continue
		}
		expr := mip.NewLinearExpr().Add(vars.Open[i]).Sub(vars.Open[i-1])
		comp.Base.OpenGroupsConsecutively = append(comp.Base.OpenGroupsConsecutively,
			m.AddConstraint(expr, mip.LessEqual, 0, fmt.Sprintf("%s[%d,%d]", NameOpenGroupsConsecutively, k.Project, k.Group)))
	}
}

func buildGroupShapeConstraints(m *mip.Model, in *instance.Instance, idx *Indices, comp *Components) {
	vars := &comp.Vars

	for i, k := range idx.Pairs {
		proj := in.Projects[k.Project]
		size := groupSize(idx, vars, i)

		minExpr := mip.NewLinearExpr().Add(size).AddTerm(vars.Open[i], -float64(proj.MinGroupSize))
		comp.Base.MinGroupSizeIfOpen = append(comp.Base.MinGroupSizeIfOpen,
			m.AddConstraint(minExpr, mip.GreaterEqual, 0, fmt.Sprintf("%s[%d,%d]", NameMinGroupSizeIfOpen, k.Project, k.Group)))

		maxExpr := mip.NewLinearExpr().Add(size).AddTerm(vars.Open[i], -float64(proj.MaxGroupSize))
		comp.Base.MaxGroupSizeIfOpen = append(comp.Base.MaxGroupSizeIfOpen,
			m.AddConstraint(maxExpr, mip.LessEqual, 0, fmt.Sprintf("%s[%d,%d]", NameMaxGroupSizeIfOpen, k.Project, k.Group)))

		// surplus >= size - ideal
		surplusExpr := mip.NewLinearExpr().Add(vars.SizeSurplus[i]).AddTerm(size, -1)
		comp.Base.SizeSurplusLowerBound = append(comp.Base.SizeSurplusLowerBound,
			m.AddConstraint(surplusExpr, mip.GreaterEqual, -float64(proj.IdealGroupSize),
				fmt.Sprintf("%s[%d,%d]", NameGroupSizeSurplusLB, k.Project, k.Group)))

		// deficit >= ideal - size - max*(1-open); only binding when the
		// group is open.
		deficitExpr := mip.NewLinearExpr().
			Add(vars.SizeDeficit[i]).
			AddTerm(size, 1).
			AddTerm(vars.Open[i], -float64(proj.MaxGroupSize))
		comp.Base.SizeDeficitLowerBound = append(comp.Base.SizeDeficitLowerBound,
			m.AddConstraint(deficitExpr, mip.GreaterEqual, float64(proj.IdealGroupSize-proj.MaxGroupSize),
				fmt.Sprintf("%s[%d,%d]", NameGroupSizeDeficitLB, k.Project, k.Group)))
	}
}

// buildRealizedPairConstraints forces mutual_unrealized[a,b] to 1 unless a
// and b sit in the same group. The signed sum Σ id(p,g)·(assign_a −
// assign_b) is zero iff both rows select the same group (or neither selects
// any), so two constraints bound it from both sides with an unrealized
// variable scaled by NumProjects, which dominates per checkGroupIDDominance.
// A third family handles the remaining case of unassigned pair members,
// where the signed sum cannot tell group (0,0) from no group at all.
func buildRealizedPairConstraints(m *mip.Model, idx *Indices, comp *Components) {
	vars := &comp.Vars
	scale := float64(idx.NumProjects)

	for pi, pair := range idx.MutualPairs {
		unrealized := vars.MutualUnrealized[pi]

		forward := mip.NewLinearExpr().AddTerm(unrealized, scale)
		backward := mip.NewLinearExpr().AddTerm(unrealized, scale)
		for i := range idx.Pairs {
			id := idx.GroupID(idx.Pairs[i].Project, idx.Pairs[i].Group)
			if id == 0 {
				continue
			}
			a := vars.Assign[i*idx.NumStudents+pair.A]
			b := vars.Assign[i*idx.NumStudents+pair.B]
			forward.AddTerm(a, -id).AddTerm(b, id)
			backward.AddTerm(a, id).AddTerm(b, -id)
		}
		comp.Base.RealizedPairsForward = append(comp.Base.RealizedPairsForward,
			m.AddConstraint(forward, mip.GreaterEqual, 0, fmt.Sprintf("%s[%d,%d]", NameRealizedPairsForward, pair.A, pair.B)))
		comp.Base.RealizedPairsBackward = append(comp.Base.RealizedPairsBackward,
			m.AddConstraint(backward, mip.GreaterEqual, 0, fmt.Sprintf("%s[%d,%d]", NameRealizedPairsBackward, pair.A, pair.B)))

		for _, s := range []int{pair.A, pair.B} {
			expr := mip.NewLinearExpr().Add(unrealized).Sub(vars.Unassigned[s])
			comp.Base.PairNeedsAssignment = append(comp.Base.PairNeedsAssignment,
				m.AddConstraint(expr, mip.GreaterEqual, 0, fmt.Sprintf("%s[%d,%d,%d]", NamePairNeedsAssignment, pair.A, pair.B, s)))
		}
	}
}
