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
	"fmt"
	"time"
)

// BranchingOptions tune the cut-based search. The radius percentages are
// taken of the maximum number of assignment changes between two solutions,
// which is twice the student count (every student can leave one group and
// enter another).
type BranchingOptions struct {
	// KMinPercent..KMaxPercent bound the shake band radius.
	KMinPercent  int
	KStepPercent int
	KMaxPercent  int
	// LMinPercent..LMaxPercent bound the descent radius.
	LMinPercent  int
	LStepPercent int
	LMaxPercent  int
	// MinPatience starts each descent; StepPatience is added every time
	// the radius widens, giving larger neighborhoods more time.
	MinPatience  time.Duration
	StepPatience time.Duration
	// DropConstraintsBeforeShake clears accumulated excluding cuts before
	// every diversification jump.
	DropConstraintsBeforeShake bool
}

// FixingOptions tune the bounds-based search. The shake percentages are
// taken of the student count.
type FixingOptions struct {
	// MinZones..MaxZones bound the line-up partition granularity. MinZones
	// must be at least 2: a single zone leaves nothing to pair.
	MinZones  int
	StepZones int
	MaxZones  int
	// MaxIterationsPerZoneCount caps the zone-pair solves at one
	// granularity before coarsening.
	MaxIterationsPerZoneCount int

	MinShakePercent  int
	StepShakePercent int
	MaxShakePercent  int

	MinPatience  time.Duration
	StepPatience time.Duration
}

// Options parameterize one search run. They are plain values handed to the
// driver once; nothing reads them ambiently afterwards.
type Options struct {
	// TotalTimeLimit is the wall-clock budget of the whole run, enforced
	// by shrinking every solve's own time limit to the remaining budget.
	TotalTimeLimit time.Duration
	// InitialPatience stops the exploratory solve when incumbents dry up.
	InitialPatience time.Duration
	// ShakePatience bounds every diversification solve.
	ShakePatience time.Duration
	// Seed diversifies solver tie-breaking.
	Seed int64

	Branching BranchingOptions
	Fixing    FixingOptions
}

// DefaultOptions returns the tuning that performed best on the benchmark
// instances.
func DefaultOptions() Options {
	return Options{
		TotalTimeLimit:  60 * time.Second,
		InitialPatience: 3 * time.Second,
		ShakePatience:   2 * time.Second,
		Branching: BranchingOptions{
			KMinPercent:  10,
			KStepPercent: 10,
			KMaxPercent:  80,
			LMinPercent:  10,
			LStepPercent: 10,
			LMaxPercent:  40,
			MinPatience:  3 * time.Second,
			StepPatience: time.Second,
		},
		Fixing: FixingOptions{
			MinZones:                  4,
			StepZones:                 1,
			MaxZones:                  6,
			MaxIterationsPerZoneCount: 20,
			MinShakePercent:           10,
			StepShakePercent:          10,
			MaxShakePercent:           80,
			MinPatience:               time.Second,
			StepPatience:              time.Second,
		},
	}
}

// Validate rejects option combinations the loops cannot run with.
func (o Options) Validate() error {
	if o.TotalTimeLimit <= 0 {
		return fmt.Errorf("total time limit must be positive, got %v", o.TotalTimeLimit)
	}
	if o.Fixing.MinZones < 2 {
		return fmt.Errorf("%w: minimum zone count %d", ErrTooFewZones, o.Fixing.MinZones)
	}
	if o.Fixing.MaxZones < o.Fixing.MinZones {
		return fmt.Errorf("maximum zone count %d below minimum %d", o.Fixing.MaxZones, o.Fixing.MinZones)
	}
	if o.Branching.KStepPercent <= 0 || o.Branching.LStepPercent <= 0 {
		return fmt.Errorf("branching step percentages must be positive")
	}
	if o.Fixing.StepShakePercent <= 0 || o.Fixing.StepZones <= 0 {
		return fmt.Errorf("fixing step sizes must be positive")
	}
	return nil
}

// percentOf rounds percent% of total to the nearest integer.
func percentOf(percent, total int) int {
	return int(float64(percent)/100*float64(total) + 0.5)
}
