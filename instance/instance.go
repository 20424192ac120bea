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

// Package instance holds the immutable data of a Student-Project Allocation
// problem with Group Bounds and Preferences (SPAwGBP): the projects with
// their group-shape parameters and the students with their project and
// partner preferences. An Instance is read-only input for the rest of the
// module; it is never mutated after construction.
package instance

import (
	"errors"
	"fmt"
)

// ErrInvalidInstance is wrapped by every validation error of this package.
var ErrInvalidInstance = errors.New("invalid instance")

// Project describes one project offering and the shape of the groups that
// may be formed for it.
type Project struct {
	// MinGroupSize and MaxGroupSize bound the size of every opened group.
	MinGroupSize int
	MaxGroupSize int
	// IdealGroupSize is the size a group should have; deviations in either
	// direction are charged SizePenalty per missing or surplus member.
	IdealGroupSize int
	// DesiredGroups is the number of groups the project would like to run.
	// Every opened group beyond it is charged SurplusGroupPenalty.
	DesiredGroups int
	// MaxGroups caps how many groups may be opened at all.
	MaxGroups int

	SizePenalty         int
	SurplusGroupPenalty int
}

// Student describes one student to be allocated.
type Student struct {
	// ProjectPrefs holds one ordinal preference value per project, indexed
	// by project ID. Higher values are better.
	ProjectPrefs []int
	// FavPartners holds the IDs of the students this student would like to
	// be grouped with. A pair is only rewarded when the preference is
	// reciprocated.
	FavPartners map[int]bool
}

// Instance bundles the full problem input together with the global
// reward/penalty coefficients.
type Instance struct {
	Projects []Project
	Students []Student

	// RewardMutualPair is earned once for every reciprocal partner pair
	// that ends up in the same group.
	RewardMutualPair int
	// PenaltyUnassigned is charged for every student left without a group.
	PenaltyUnassigned int
}

// NumProjects returns the number of projects.
func (in *Instance) NumProjects() int { return len(in.Projects) }

// NumStudents returns the number of students.
func (in *Instance) NumStudents() int { return len(in.Students) }

// Validate checks the structural consistency of the instance. The returned
// error wraps ErrInvalidInstance.
func (in *Instance) Validate() error {
	if len(in.Projects) == 0 {
		return fmt.Errorf("%w: no projects", ErrInvalidInstance)
	}
	if len(in.Students) == 0 {
		return fmt.Errorf("%w: no students", ErrInvalidInstance)
	}
	for p, proj := range in.Projects {
		switch {
		case proj.MinGroupSize < 1:
			return fmt.Errorf("%w: project %d: min group size %d < 1", ErrInvalidInstance, p, proj.MinGroupSize)
		case proj.MaxGroupSize < proj.MinGroupSize:
			return fmt.Errorf("%w: project %d: max group size %d < min %d", ErrInvalidInstance, p, proj.MaxGroupSize, proj.MinGroupSize)
		case proj.IdealGroupSize < proj.MinGroupSize || proj.IdealGroupSize > proj.MaxGroupSize:
			return fmt.Errorf("%w: project %d: ideal group size %d outside [%d,%d]", ErrInvalidInstance, p, proj.IdealGroupSize, proj.MinGroupSize, proj.MaxGroupSize)
		case proj.MaxGroups < 1:
			return fmt.Errorf("%w: project %d: max groups %d < 1", ErrInvalidInstance, p, proj.MaxGroups)
		case proj.DesiredGroups < 0 || proj.DesiredGroups > proj.MaxGroups:
			return fmt.Errorf("%w: project %d: desired groups %d outside [0,%d]", ErrInvalidInstance, p, proj.DesiredGroups, proj.MaxGroups)
		case proj.SizePenalty < 0 || proj.SurplusGroupPenalty < 0:
			return fmt.Errorf("%w: project %d: negative penalty", ErrInvalidInstance, p)
		}
	}
	for s, stud := range in.Students {
		if len(stud.ProjectPrefs) != len(in.Projects) {
			return fmt.Errorf("%w: student %d: %d preference values for %d projects", ErrInvalidInstance, s, len(stud.ProjectPrefs), len(in.Projects))
		}
		for partner := range stud.FavPartners {
			if partner < 0 || partner >= len(in.Students) {
				return fmt.Errorf("%w: student %d: favorite partner %d out of range", ErrInvalidInstance, s, partner)
			}
			if partner == s {
				return fmt.Errorf("%w: student %d lists itself as favorite partner", ErrInvalidInstance, s)
			}
		}
	}
	if in.PenaltyUnassigned < 0 || in.RewardMutualPair < 0 {
		return fmt.Errorf("%w: negative global coefficient", ErrInvalidInstance)
	}
	return nil
}
