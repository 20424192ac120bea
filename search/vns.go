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
	"math/rand"
	"time"

	"github.com/spalloc/spalloc/instance"
	"github.com/spalloc/spalloc/mip"
	"github.com/spalloc/spalloc/model"
	"github.com/spalloc/spalloc/solution"
)

// Outcome is the result of one search run. A run that found no feasible
// solution within budget reports Found=false instead of failing.
type Outcome struct {
	Found bool
	// Objective and Values describe the best solution found, valid when
	// Found.
	Objective int
	Values    []float64
	// Correct reports whether the best solution passed the structural
	// checks and the objective re-derivation.
	Correct bool
	// Report is the per-project breakdown of the best solution.
	Report *solution.Report
	// Progress is the time-ordered improvement log of the run.
	Progress []Summary
}

// SolverFactory produces the solver for one freshly built model. Solvers
// that need the variable handles (like the exhaustive test solver) read them
// from comp; engine-backed solvers can ignore both arguments.
type SolverFactory func(in *instance.Instance, idx *model.Indices, comp *model.Components) mip.Solver

// VNS drives the search: an initial exploratory solve, then interleaved
// intensification (neighborhood descent) and diversification (shake) through
// one of the two wrappers, until the wall-clock budget runs out.
type VNS struct {
	in      *instance.Instance
	idx     *model.Indices
	factory SolverFactory
	opts    Options
}

// New validates the options and derives the index sets.
func New(in *instance.Instance, factory SolverFactory, opts Options) (*VNS, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("search options: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &VNS{in: in, idx: model.NewIndices(in), factory: factory, opts: opts}, nil
}

func (v *VNS) remaining(start time.Time) time.Duration {
	left := v.opts.TotalTimeLimit - time.Since(start)
	if left < 0 {
		return 0
	}
	return left
}

func (v *VNS) timeOver(start time.Time) bool {
	return time.Since(start) > v.opts.TotalTimeLimit
}

// SolveDirect hands the whole budget to the solver in a single tracked call,
// with no neighborhood search. It is the baseline the two strategies are
// measured against.
func (v *VNS) SolveDirect() (Outcome, error) {
	mdl, comp, err := model.Build(v.in, v.idx)
	if err != nil {
		return Outcome{}, err
	}
	progress := &Log{}
	start := time.Now()

	opts := mip.DefaultRunOptions()
	opts.TimeLimit = v.opts.TotalTimeLimit
	opts.Seed = v.opts.Seed
	res, err := v.factory(v.in, v.idx, comp).Optimize(mdl, opts, boundProgressRecorder(progress, start))
	if err != nil {
		return Outcome{}, fmt.Errorf("direct solve: %w", err)
	}
	if res.SolutionCount == 0 {
		return Outcome{Progress: progress.Entries()}, nil
	}
	return v.outcome(comp, res, progress), nil
}

// RunLocalBranching searches with the cut-based wrapper: a VND descent over
// growing branching radii, then a shake over a distance band, repeated until
// the budget runs out.
func (v *VNS) RunLocalBranching() (Outcome, error) {
	mdl, comp, err := model.Build(v.in, v.idx)
	if err != nil {
		return Outcome{}, err
	}
	progress := &Log{}
	start := time.Now()
	lb := NewLocalBranching(mdl, comp, v.factory(v.in, v.idx, comp), progress, start)

	bo := v.opts.Branching
	maxChanges := 2 * v.idx.NumStudents
	kMin := percentOf(bo.KMinPercent, maxChanges)
	kStep := percentOf(bo.KStepPercent, maxChanges)
	kMax := percentOf(bo.KMaxPercent, maxChanges)
	lMin := percentOf(bo.LMinPercent, maxChanges)
	lStep := percentOf(bo.LStepPercent, maxChanges)
	lMax := percentOf(bo.LMaxPercent, maxChanges)

	// Lets the first shake begin at kMin even when the first descent finds
	// nothing better.
	kCur := kMin - kStep

	err = lb.Optimize(SolveSpec{
		Initial:   true,
		Patience:  v.opts.InitialPatience,
		TimeLimit: v.remaining(start),
		Seed:      v.opts.Seed,
	})
	if err != nil {
		return Outcome{}, err
	}
	if lb.SolutionCount() == 0 {
		return Outcome{Progress: progress.Entries()}, nil
	}
	lb.StoreSolution()
	lb.MakeCurrentBest()

	for !v.timeOver(start) {
		if err := v.descend(lb, start, lMin, lStep, lMax); err != nil {
			return Outcome{}, err
		}

		if lb.NewBestFound() {
			lb.MakeCurrentBest()
			kCur = kMin
		} else {
			kCur += kStep
			if kCur > kMax {
				kCur = kMin
			}
		}
		if bo.DropConstraintsBeforeShake {
			lb.DropAllBranchingConstraints()
		}

		for !v.timeOver(start) {
			lb.AddShakeConstraints(kCur, kStep)
			err := lb.Optimize(SolveSpec{
				Shake:     true,
				Patience:  v.opts.ShakePatience,
				TimeLimit: v.remaining(start),
				Seed:      v.opts.Seed,
			})
			lb.RemoveShakeConstraints()
			if err != nil {
				return Outcome{}, err
			}
			if lb.Status() == mip.StatusInfeasible {
				kCur += kStep
				if kCur > kMax {
					kCur = kMin
				}
				continue
			}
			if lb.SolutionCount() == 0 {
				// Budget ran out mid-jump; the outer loop exits next.
				break
			}
			lb.StoreSolution()
			break
		}
	}

	res, err := lb.RecoverToBest()
	if err != nil {
		return Outcome{}, err
	}
	return v.outcome(comp, res, progress), nil
}

// descend is the VND loop: search the smallest radius first, widen on
// infeasibility or cutoff, restart from the smallest radius on improvement.
// Every exhausted radius is excluded going forward so the same neighborhood
// is never searched twice from the same reference.
func (v *VNS) descend(lb *LocalBranching, start time.Time, lMin, lStep, lMax int) error {
	rhs := lMin
	patience := v.opts.Branching.MinPatience

	for !v.timeOver(start) {
		if rhs > lMax {
			return nil
		}
		lb.AddBounding(rhs)
		err := lb.Optimize(SolveSpec{
			Patience:  patience,
			TimeLimit: v.remaining(start),
			UseCutoff: true,
			Seed:      v.opts.Seed,
		})
		lb.PopBranchingConstraint()
		if err != nil {
			return err
		}

		switch lb.Status() {
		case mip.StatusInfeasible, mip.StatusCutoff:
			if rhs > lMin {
				lb.PopBranchingConstraint()
			}
			lb.AddExcluding(rhs)
			rhs += lStep
			patience += v.opts.Branching.StepPatience

		case mip.StatusOptimal:
			lb.StoreSolution()
			if rhs > lMin {
				lb.PopBranchingConstraint()
			}
			lb.AddExcluding(rhs)
			rhs = lMin
			patience = v.opts.Branching.MinPatience

		case mip.StatusInterrupted, mip.StatusTimeLimit, mip.StatusSolutionLimit:
			if lb.SolutionCount() == 0 {
				return nil
			}
			lb.StoreSolution()
			rhs = lMin
			patience = v.opts.Branching.MinPatience
		}
	}
	return nil
}

// RunVariableFixing searches with the bounds-based wrapper: an exhaustive
// zone-pair schedule from fine to coarse granularity, then a worst-k kick,
// repeated until the budget runs out.
func (v *VNS) RunVariableFixing() (Outcome, error) {
	mdl, comp, err := model.Build(v.in, v.idx)
	if err != nil {
		return Outcome{}, err
	}
	progress := &Log{}
	start := time.Now()
	rng := rand.New(rand.NewSource(v.opts.Seed))
	vf := NewVariableFixing(v.in, v.idx, mdl, comp, v.factory(v.in, v.idx, comp),
		progress, start, rng, v.opts.Seed)

	fo := v.opts.Fixing
	minShake := percentOf(fo.MinShakePercent, v.idx.NumStudents)
	stepShake := percentOf(fo.StepShakePercent, v.idx.NumStudents)
	maxShake := percentOf(fo.MaxShakePercent, v.idx.NumStudents)

	k := minShake - stepShake

	err = vf.Optimize(SolveSpec{
		Initial:   true,
		Patience:  v.opts.InitialPatience,
		TimeLimit: v.remaining(start),
	})
	if err != nil {
		return Outcome{}, err
	}
	if vf.SolutionCount() == 0 {
		return Outcome{Progress: progress.Entries()}, nil
	}
	vf.StoreSolution()
	vf.MakeCurrentBest()

	for !v.timeOver(start) {
		if err := v.zoneDescent(vf, start); err != nil {
			return Outcome{}, err
		}

		if vf.NewBestFound() {
			vf.MakeCurrentBest()
			k = minShake
		} else if k == maxShake {
			// The kick stopped helping at every strength; re-randomize the
			// zoning and the solver instead.
			k = minShake
			vf.IncrementSeed()
			vf.InvalidateZones()
		} else {
			k += stepShake
			if k > maxShake {
				k = maxShake
			}
		}

		vf.MakeBestCurrent()
		vf.ForceKWorstToChange(k)
		err := vf.Optimize(SolveSpec{
			Shake:     true,
			Patience:  v.opts.ShakePatience,
			TimeLimit: v.remaining(start),
		})
		if err != nil {
			return Outcome{}, err
		}
		if vf.Status() == mip.StatusTimeLimit || vf.SolutionCount() == 0 {
			break
		}
		vf.StoreSolution()
		if vf.NewBestFound() {
			vf.MakeCurrentBest()
			k = minShake - stepShake
		}
	}

	res, err := vf.RecoverToBest()
	if err != nil {
		return Outcome{}, err
	}
	return v.outcome(comp, res, progress), nil
}

// zoneDescent iterates the zone-pair schedule: all pairs at the current
// zone count; on improvement restart at the finest granularity; when a full
// pass or the iteration cap yields nothing, coarsen down to the floor.
func (v *VNS) zoneDescent(vf *VariableFixing, start time.Time) error {
	fo := v.opts.Fixing
	numZones := fo.MaxZones
	iterations := 0
	pairs := zonePairs(numZones)
	next := 0
	newPairs := false
	patience := fo.MinPatience

	for !v.timeOver(start) {
		if newPairs {
			pairs = zonePairs(numZones)
			next = 0
			newPairs = false
			iterations = 0
		}

		coarsen := func() bool {
			if numZones == fo.MinZones {
				return false
			}
			newPairs = true
			numZones -= fo.StepZones
			if numZones < fo.MinZones {
				numZones = fo.MinZones
			}
			patience += fo.StepPatience
			return true
		}

		if iterations > fo.MaxIterationsPerZoneCount || next >= len(pairs) {
			if !coarsen() {
				return nil
			}
			continue
		}

		pair := pairs[next]
		next++
		iterations++

		if err := vf.FreeZonePair(pair[0], pair[1], numZones); err != nil {
			return err
		}
		err := vf.Optimize(SolveSpec{
			Patience:  patience,
			TimeLimit: v.remaining(start),
			UseCutoff: true,
		})
		if err != nil {
			return err
		}
		if vf.SolutionCount() == 0 {
			continue
		}

		vf.StoreSolution()
		newPairs = true
		numZones = fo.MaxZones
		patience = fo.MinPatience
	}
	return nil
}

// zonePairs enumerates all unordered zone pairs in schedule order.
func zonePairs(numZones int) [][2]int {
	var pairs [][2]int
	for a := 0; a < numZones; a++ {
		for b := a + 1; b < numZones; b++ {
			pairs = append(pairs, [2]int{a, b})
		}
	}
	return pairs
}

// outcome runs the final validation over the recovered solution.
func (v *VNS) outcome(comp *model.Components, res mip.Result, progress *Log) Outcome {
	checker := solution.NewChecker(v.in, v.idx, comp, res.Values)
	return Outcome{
		Found:     true,
		Objective: round(res.Objective),
		Values:    append([]float64(nil), res.Values...),
		Correct:   checker.Correct(),
		Report:    solution.NewReport(checker.Retriever(), round(res.Objective)),
		Progress:  progress.Entries(),
	}
}
