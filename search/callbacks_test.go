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

	"github.com/google/go-cmp/cmp"

	"github.com/spalloc/spalloc/mip"
)

func incumbent(obj float64) mip.Event {
	return mip.Event{Kind: mip.EventIncumbent, Objective: obj, SolutionCount: 1}
}

func periodic() mip.Event {
	return mip.Event{Kind: mip.EventPeriodic}
}

func TestPatienceOutside_NeverStopsBeforeFirstIncumbent(t *testing.T) {
	cb := patienceOutside(time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	if cb(periodic()) {
		t.Error("stopped before any incumbent arrived")
	}
}

func TestPatienceOutside_StopsAfterStaleIncumbent(t *testing.T) {
	cb := patienceOutside(10 * time.Millisecond)

	if cb(incumbent(1)) {
		t.Fatal("stopped on the incumbent itself")
	}
	if cb(periodic()) {
		t.Error("stopped inside the patience window")
	}
	time.Sleep(30 * time.Millisecond)
	if !cb(periodic()) {
		t.Error("did not stop after the window elapsed")
	}
}

func TestPatienceInside_StopsWithoutAnyIncumbent(t *testing.T) {
	cb := patienceInside(10 * time.Millisecond)

	time.Sleep(30 * time.Millisecond)
	if !cb(periodic()) {
		t.Error("did not stop although no incumbent ever arrived")
	}
}

func TestPatienceInside_IncumbentResetsWindow(t *testing.T) {
	cb := patienceInside(25 * time.Millisecond)

	time.Sleep(15 * time.Millisecond)
	if cb(incumbent(1)) {
		t.Fatal("stopped on the incumbent itself")
	}
	time.Sleep(15 * time.Millisecond)
	// 30ms since start but only 15ms since the incumbent.
	if cb(periodic()) {
		t.Error("stopped although the incumbent reset the window")
	}
}

func TestImprovementRecorder(t *testing.T) {
	progress := &Log{}
	cb := improvementRecorder(progress, PhaseVND, 5, time.Now())

	cb(incumbent(5)) // not an improvement over bestObj
	cb(incumbent(6))
	cb(periodic())
	cb(incumbent(6)) // repeat
	cb(incumbent(7))

	entries := progress.Entries()
	var got []int
	for _, e := range entries {
		got = append(got, e.Objective)
		if e.Phase != PhaseVND {
			t.Errorf("entry phase = %v, want %v", e.Phase, PhaseVND)
		}
	}
	if diff := cmp.Diff([]int{6, 7}, got); diff != "" {
		t.Errorf("recorded objectives mismatch (-want +got):\n%s", diff)
	}
}

func TestBoundProgressRecorder(t *testing.T) {
	progress := &Log{}
	cb := boundProgressRecorder(progress, time.Now())

	ev := incumbent(3)
	ev.Bound = 10
	cb(ev)
	worse := incumbent(2)
	worse.Bound = 10
	cb(worse) // neither objective nor bound improved
	better := incumbent(4)
	better.Bound = 8
	cb(better)

	entries := progress.Entries()
	if len(entries) != 2 {
		t.Fatalf("Len() = %d, want 2", len(entries))
	}
	if entries[0].Objective != 3 || entries[0].Bound != 10 || !entries[0].HasBound {
		t.Errorf("first entry = %+v, want objective 3 bound 10", entries[0])
	}
	if entries[1].Objective != 4 || entries[1].Bound != 8 {
		t.Errorf("second entry = %+v, want objective 4 bound 8", entries[1])
	}
	if entries[0].Phase != PhaseSolver {
		t.Errorf("phase = %v, want %v", entries[0].Phase, PhaseSolver)
	}
}

func TestCombine_AllCallbacksSeeEveryEvent(t *testing.T) {
	var calls int
	count := func(mip.Event) bool { calls++; return false }
	stop := func(mip.Event) bool { return true }

	cb := combine(stop, count, nil, count)
	if !cb(periodic()) {
		t.Error("combined callback did not propagate the stop request")
	}
	if calls != 2 {
		t.Errorf("later callbacks ran %d times, want 2 despite the stop", calls)
	}
}

func TestSolveCallback_PhaseTags(t *testing.T) {
	testCases := []struct {
		name string
		spec SolveSpec
		want Phase
	}{
		{name: "Initial", spec: SolveSpec{Initial: true, Patience: time.Second}, want: PhaseInitial},
		{name: "Shake", spec: SolveSpec{Shake: true, Patience: time.Second}, want: PhaseShake},
		{name: "Descent", spec: SolveSpec{Patience: time.Second}, want: PhaseVND},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			progress := &Log{}
			cb := solveCallback(tc.spec, progress, 0, time.Now())
			cb(incumbent(1))
			entries := progress.Entries()
			if len(entries) != 1 {
				t.Fatalf("Len() = %d, want 1", len(entries))
			}
			if entries[0].Phase != tc.want {
				t.Errorf("phase = %v, want %v", entries[0].Phase, tc.want)
			}
		})
	}
}

func TestLog_EntriesIsACopy(t *testing.T) {
	progress := &Log{}
	progress.Append(Summary{Objective: 1})

	entries := progress.Entries()
	entries[0].Objective = 99
	if got := progress.Entries()[0].Objective; got != 1 {
		t.Errorf("mutating the returned slice changed the log: objective = %d", got)
	}
}
