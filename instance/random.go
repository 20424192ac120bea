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

package instance

import (
	"math"
	"math/rand"
)

// GeneratorConfig controls Random.
type GeneratorConfig struct {
	NumProjects int
	NumStudents int

	// PartnerPrefsPerStudent is how many favorite partners each student
	// names.
	PartnerPrefsPerStudent int
	// Reciprocity is roughly the probability that a student names another
	// student back after being named by them.
	Reciprocity float64
	// PrefOverlap is the degree to which a student's project preferences
	// follow the average preferences of their already-generated favorite
	// partners instead of being drawn uniformly.
	PrefOverlap float64
	// MinPref and MaxPref bound the ordinal project preference values.
	MinPref int
	MaxPref int

	RewardMutualPair  int
	PenaltyUnassigned int
}

// DefaultGeneratorConfig returns the generator parameters used by the
// benchmark harness.
func DefaultGeneratorConfig(numProjects, numStudents int) GeneratorConfig {
	return GeneratorConfig{
		NumProjects:            numProjects,
		NumStudents:            numStudents,
		PartnerPrefsPerStudent: 2,
		Reciprocity:            0.7,
		PrefOverlap:            0.5,
		MinPref:                0,
		MaxPref:                10,
		RewardMutualPair:       2,
		PenaltyUnassigned:      3,
	}
}

// Random generates a pseudo-random instance. Partner preferences are biased
// towards reciprocity and project preferences are biased towards those of
// named partners, so generated instances carry realizable mutual pairs
// instead of almost none.
func Random(rng *rand.Rand, cfg GeneratorConfig) *Instance {
	in := &Instance{
		Projects:          randomProjects(rng, cfg),
		RewardMutualPair:  cfg.RewardMutualPair,
		PenaltyUnassigned: cfg.PenaltyUnassigned,
	}

	partners := randomPartnerPrefs(rng, cfg)
	prefs := randomProjectPrefs(rng, cfg, partners)
	in.Students = make([]Student, cfg.NumStudents)
	for s := range in.Students {
		favs := make(map[int]bool, len(partners[s]))
		for _, p := range partners[s] {
			favs[p] = true
		}
		in.Students[s] = Student{ProjectPrefs: prefs[s], FavPartners: favs}
	}
	return in
}

func randomProjects(rng *rand.Rand, cfg GeneratorConfig) []Project {
	// Size capacity so that the projects together can roughly hold all
	// students, with some slack on either side.
	perProject := cfg.NumStudents/cfg.NumProjects + 1
	projects := make([]Project, cfg.NumProjects)
	for p := range projects {
		ideal := 3 + rng.Intn(3)
		minSize := ideal - 1 - rng.Intn(2)
		if minSize < 1 {
			minSize = 1
		}
		maxSize := ideal + 1 + rng.Intn(2)
		maxGroups := perProject/ideal + 1 + rng.Intn(2)
		desired := maxGroups - rng.Intn(2)
		if desired < 0 {
			desired = 0
		}
		projects[p] = Project{
			MinGroupSize:        minSize,
			MaxGroupSize:        maxSize,
			IdealGroupSize:      ideal,
			DesiredGroups:       desired,
			MaxGroups:           maxGroups,
			SizePenalty:         1 + rng.Intn(3),
			SurplusGroupPenalty: 1 + rng.Intn(4),
		}
	}
	return projects
}

// randomPartnerPrefs draws favorite partners for every student in ID order.
// A student who has already been named by earlier students reciprocates each
// of those choices with probability cfg.Reciprocity and fills the rest
// uniformly.
func randomPartnerPrefs(rng *rand.Rand, cfg GeneratorConfig) [][]int {
	n := cfg.NumStudents
	k := cfg.PartnerPrefsPerStudent
	if k > n-1 {
		k = n - 1
	}
	chosenBy := make([][]int, n)
	prefs := make([][]int, n)

	for s := 0; s < n; s++ {
		taken := make(map[int]bool, k)
		var chosen []int

		applicable := chosenBy[s]
		if len(applicable) > k {
			perm := rng.Perm(len(applicable))[:k]
			trimmed := make([]int, 0, k)
			for _, i := range perm {
				trimmed = append(trimmed, applicable[i])
			}
			applicable = trimmed
		}
		for _, other := range applicable {
			if len(chosen) < k && rng.Float64() <= cfg.Reciprocity {
				chosen = append(chosen, other)
				taken[other] = true
			}
		}
		for len(chosen) < k {
			other := rng.Intn(n)
			if other == s || taken[other] {
				continue
			}
			chosen = append(chosen, other)
			taken[other] = true
		}

		prefs[s] = chosen
		for _, other := range chosen {
			chosenBy[other] = append(chosenBy[other], s)
		}
	}
	return prefs
}

func randomProjectPrefs(rng *rand.Rand, cfg GeneratorConfig, partners [][]int) [][]int {
	prefs := make([][]int, cfg.NumStudents)
	span := float64(cfg.MaxPref - cfg.MinPref)
	for s := range prefs {
		avg := partnerAverage(prefs[:s], partners[s], cfg.NumProjects)
		row := make([]int, cfg.NumProjects)
		for p := range row {
			uniform := float64(cfg.MinPref) + rng.Float64()*span
			v := uniform
			if avg != nil {
				v = cfg.PrefOverlap*avg[p] + (1-cfg.PrefOverlap)*uniform
			}
			row[p] = int(math.Round(v))
		}
		prefs[s] = row
	}
	return prefs
}

// partnerAverage returns the per-project mean preference among the given
// partners that already have preferences, or nil when none do.
func partnerAverage(soFar [][]int, partners []int, numProjects int) []float64 {
	var rows [][]int
	for _, partner := range partners {
		if partner < len(soFar) {
			rows = append(rows, soFar[partner])
		}
	}
	if len(rows) == 0 {
		return nil
	}
	avg := make([]float64, numProjects)
	for p := range avg {
		var sum float64
		for _, row := range rows {
			sum += float64(row[p])
		}
		avg[p] = sum / float64(len(rows))
	}
	return avg
}
