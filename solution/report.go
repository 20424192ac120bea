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

package solution

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ProjectSummary aggregates one project's groups in a solved state.
type ProjectSummary struct {
	Project     int
	NumGroups   int
	NumStudents int
	MinSize     int
	MaxSize     int
	MeanSize    float64
	MinPref     int
	MaxPref     int
	MeanPref    float64
	MutualPairs int
}

// Report is the per-project breakdown of one solution. Only projects with at
// least one occupied group appear.
type Report struct {
	Objective  int
	Projects   []ProjectSummary
	Unassigned []int
}

// NewReport summarizes the retrieved solution.
func NewReport(ret *Retriever, objective int) *Report {
	rep := &Report{Objective: objective, Unassigned: ret.UnassignedStudents()}
	for p := range ret.in.Projects {
		groups := ret.GroupsInProject(p)
		if len(groups) == 0 {
			continue
		}
		var sizes, prefs []float64
		summary := ProjectSummary{Project: p, NumGroups: len(groups)}
		for _, g := range groups {
			members := ret.StudentsInGroup(p, g)
			sizes = append(sizes, float64(len(members)))
			summary.NumStudents += len(members)
			for _, pref := range ret.PreferencesInGroup(p, g) {
				prefs = append(prefs, float64(pref))
			}
			summary.MutualPairs += len(ret.MutualPairsInGroup(p, g))
		}
		summary.MinSize = int(floats.Min(sizes))
		summary.MaxSize = int(floats.Max(sizes))
		summary.MeanSize = stat.Mean(sizes, nil)
		summary.MinPref = int(floats.Min(prefs))
		summary.MaxPref = int(floats.Max(prefs))
		summary.MeanPref = stat.Mean(prefs, nil)
		rep.Projects = append(rep.Projects, summary)
	}
	return rep
}

// String renders the report as a fixed-width table.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "objective %d\n", r.Objective)
	fmt.Fprintf(&b, "%8s %7s %9s %8s %9s %9s %12s\n",
		"project", "groups", "students", "sizes", "mean_size", "prefs", "mutual_pairs")
	for _, p := range r.Projects {
		fmt.Fprintf(&b, "%8d %7d %9d %4d-%-3d %9.2f %4d-%-4d %12d\n",
			p.Project, p.NumGroups, p.NumStudents,
			p.MinSize, p.MaxSize, p.MeanSize,
			p.MinPref, p.MaxPref, p.MutualPairs)
	}
	if len(r.Unassigned) > 0 {
		fmt.Fprintf(&b, "unassigned students: %v\n", r.Unassigned)
	}
	return b.String()
}
