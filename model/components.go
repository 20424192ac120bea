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
	"github.com/spalloc/spalloc/mip"
)

// Variable and constraint name prefixes. Names are diagnostics only; all
// lookups go through handles.
const (
	NameAssignStudents     = "assign_students"
	NameEstablishGroups    = "establish_groups"
	NameMutualUnrealized   = "mutual_unrealized"
	NameUnassignedStudents = "unassigned_students"
	NameGroupSizeSurplus   = "group_size_surplus"
	NameGroupSizeDeficit   = "group_size_deficit"

	NameOneAssignmentOrUnassigned = "one_assignment_or_unassigned"
	NameOpenGroupsConsecutively   = "open_groups_consecutively"
	NameMinGroupSizeIfOpen        = "min_group_size_if_open"
	NameMaxGroupSizeIfOpen        = "max_group_size_if_open"
	NameGroupSizeSurplusLB        = "lower_bound_group_size_surplus"
	NameGroupSizeDeficitLB        = "lower_bound_group_size_deficit"
	NameRealizedPairsForward      = "only_reward_materialized_pairs_1"
	NameRealizedPairsBackward     = "only_reward_materialized_pairs_2"
	NamePairNeedsAssignment       = "pair_unrealized_if_unassigned"
)

// Variables holds the decision-variable handles of the model, each slice
// parallel to the corresponding index set of Indices.
type Variables struct {
	// Assign is indexed by Indices.TripleIndex: student assigned to group.
	Assign []mip.Var
	// Open is indexed by Indices.PairIndex: group is established.
	Open []mip.Var
	// MutualUnrealized is parallel to Indices.MutualPairs: pair NOT
	// grouped together.
	MutualUnrealized []mip.Var
	// Unassigned is indexed by student ID.
	Unassigned []mip.Var
	// SizeSurplus and SizeDeficit are indexed by Indices.PairIndex; they
	// linearize |size − ideal| for opened groups.
	SizeSurplus []mip.Var
	SizeDeficit []mip.Var
}

// LinExpressions holds the named parts of the objective so later components
// can decompose the reported objective value.
type LinExpressions struct {
	RealizedPreferences   *mip.LinearExpr
	MutualReward          *mip.LinearExpr
	UnassignedPenalties   *mip.LinearExpr
	SurplusGroupPenalties *mip.LinearExpr
	GroupSizePenalties    *mip.LinearExpr
}

// BaseConstraints holds handles to the always-true constraints so they can
// be told apart from search cuts added later.
type BaseConstraints struct {
	OneAssignmentOrUnassigned []mip.Constraint
	OpenGroupsConsecutively   []mip.Constraint
	MinGroupSizeIfOpen        []mip.Constraint
	MaxGroupSizeIfOpen        []mip.Constraint
	SizeSurplusLowerBound     []mip.Constraint
	SizeDeficitLowerBound     []mip.Constraint
	RealizedPairsForward      []mip.Constraint
	RealizedPairsBackward     []mip.Constraint
	PairNeedsAssignment       []mip.Constraint
}

// Components bundles everything the builder returns: the variable handles,
// the named objective expressions and the base constraints of one model.
type Components struct {
	Vars Variables
	Expr LinExpressions
	Base BaseConstraints
}

// AssignVar returns the assignment variable of (project, group, student).
func (c *Components) AssignVar(idx *Indices, p, g, s int) mip.Var {
	return c.Vars.Assign[idx.TripleIndex(p, g, s)]
}

// OpenVar returns the establish-group variable of (project, group).
func (c *Components) OpenVar(idx *Indices, p, g int) mip.Var {
	return c.Vars.Open[idx.PairIndex(p, g)]
}
