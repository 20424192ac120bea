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
	"time"

	"github.com/spalloc/spalloc/mip"
)

// Phase tags progress-log entries with the search phase that produced them.
type Phase string

const (
	// PhaseInitial is the exploratory solve before any neighborhood search.
	PhaseInitial Phase = "initial_optimization"
	// PhaseVND is the intensification descent.
	PhaseVND Phase = "vnd"
	// PhaseShake is the diversification jump.
	PhaseShake Phase = "shake"
	// PhaseSolver is a plain tracked solve without neighborhood search.
	PhaseSolver Phase = "solver_alone"
)

// Summary is one progress-log record.
type Summary struct {
	Objective int
	// Bound is only meaningful when HasBound is set; neighborhood solves
	// have no useful global bound.
	Bound    int
	HasBound bool
	// Runtime is measured from the start of the whole search run.
	Runtime time.Duration
	Phase   Phase
}

// Log is the append-only progress log, the sole observability artifact of a
// run. Appends happen synchronously inside solver callbacks, so no entry is
// lost even when a solve is interrupted mid-callback.
type Log struct {
	entries []Summary
}

// Append adds one record.
func (l *Log) Append(s Summary) { l.entries = append(l.entries, s) }

// Entries returns a copy of all records in append order.
func (l *Log) Entries() []Summary {
	return append([]Summary(nil), l.entries...)
}

// Len returns the number of records.
func (l *Log) Len() int { return len(l.entries) }

// patienceOutside stops a solve when no new incumbent has arrived within
// the patience window, measured from the previous incumbent. Before the
// first incumbent it never stops: the exploratory solve outside local
// search must be given time to find anything at all.
func patienceOutside(patience time.Duration) mip.Callback {
	var lastIncumbent time.Time
	return func(e mip.Event) bool {
		if e.Kind == mip.EventIncumbent {
			lastIncumbent = time.Now()
			return false
		}
		if lastIncumbent.IsZero() {
			return false
		}
		return time.Since(lastIncumbent) > patience
	}
}

// patienceInside stops a solve when no incumbent at all has arrived within
// the patience window, measured from the solve's start. Inside local search
// even equal-value alternate solutions are informative, so every incumbent
// resets the window regardless of improvement.
func patienceInside(patience time.Duration) mip.Callback {
	reference := time.Now()
	return func(e mip.Event) bool {
		if e.Kind == mip.EventIncumbent {
			reference = time.Now()
			return false
		}
		return time.Since(reference) > patience
	}
}

// improvementRecorder appends a phase-tagged record whenever an incumbent
// improves on bestObj. Runtime is measured from searchStart, not from the
// individual solve.
func improvementRecorder(log *Log, phase Phase, bestObj int, searchStart time.Time) mip.Callback {
	best := bestObj
	return func(e mip.Event) bool {
		if e.Kind != mip.EventIncumbent {
			return false
		}
		if obj := round(e.Objective); obj > best {
			best = obj
			log.Append(Summary{Objective: obj, Runtime: time.Since(searchStart), Phase: phase})
		}
		return false
	}
}

// boundProgressRecorder appends a record whenever the incumbent or the
// proven bound improves. Used by the plain tracked solve.
func boundProgressRecorder(log *Log, searchStart time.Time) mip.Callback {
	bestObj := minInt
	bestBound := maxInt
	return func(e mip.Event) bool {
		if e.Kind != mip.EventIncumbent {
			return false
		}
		obj := round(e.Objective)
		bound := maxInt
		hasBound := false
		if e.Bound < float64(maxInt) {
			bound = round(e.Bound)
			hasBound = true
		}
		if obj > bestObj || bound < bestBound {
			bestObj = obj
			if hasBound {
				bestBound = bound
			}
			log.Append(Summary{
				Objective: obj,
				Bound:     bound,
				HasBound:  hasBound,
				Runtime:   time.Since(searchStart),
				Phase:     PhaseSolver,
			})
		}
		return false
	}
}

const (
	maxInt = int(^uint(0) >> 1)
	minInt = -maxInt - 1

	// cutoffTol keeps a cutoff of current+1 from rejecting the next
	// integer objective through float rounding.
	cutoffTol = 1e-6
)

// solveCallback builds the termination and recording callback of one
// wrapper solve from its spec.
func solveCallback(spec SolveSpec, progress *Log, bestObj int, start time.Time) mip.Callback {
	switch {
	case spec.Initial:
		return combine(
			patienceOutside(spec.Patience),
			improvementRecorder(progress, PhaseInitial, bestObj, start),
		)
	case spec.Shake:
		return combine(
			patienceInside(spec.Patience),
			improvementRecorder(progress, PhaseShake, bestObj, start),
		)
	}
	return combine(
		patienceInside(spec.Patience),
		improvementRecorder(progress, PhaseVND, bestObj, start),
	)
}

// combine runs callbacks in order; the solve stops when any of them asks
// for it, after every callback has seen the event.
func combine(cbs ...mip.Callback) mip.Callback {
	return func(e mip.Event) bool {
		stop := false
		for _, cb := range cbs {
			if cb != nil && cb(e) {
				stop = true
			}
		}
		return stop
	}
}
