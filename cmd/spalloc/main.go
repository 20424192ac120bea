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

// spalloc solves randomly generated student-project allocation instances
// with one of the search strategies and prints the resulting assignment.
// The bundled exhaustive solver only handles small instances; larger runs
// need an engine-backed mip.Solver wired in here.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	log "github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/spalloc/spalloc/bruteforce"
	"github.com/spalloc/spalloc/instance"
	"github.com/spalloc/spalloc/mip"
	"github.com/spalloc/spalloc/model"
	"github.com/spalloc/spalloc/search"
)

var (
	numProjects       int
	numStudents       int
	seed              int64
	rewardMutualPair  int
	penaltyUnassigned int
	timeLimit         time.Duration
	showProgress      bool
)

func main() {
	root := &cobra.Command{
		Use:           "spalloc",
		Short:         "Solve student-project allocation with group bounds and preferences",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addFlags(root.PersistentFlags())

	root.AddCommand(
		runCommand("direct", "Hand the whole budget to the solver in one call",
			func(v *search.VNS) (search.Outcome, error) { return v.SolveDirect() }),
		runCommand("branching", "Search with local-branching cuts",
			func(v *search.VNS) (search.Outcome, error) { return v.RunLocalBranching() }),
		runCommand("fixing", "Search with zone-based variable fixing",
			func(v *search.VNS) (search.Outcome, error) { return v.RunVariableFixing() }),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func addFlags(flags *pflag.FlagSet) {
	flags.IntVar(&numProjects, "projects", 3, "number of projects to generate")
	flags.IntVar(&numStudents, "students", 10, "number of students to generate")
	flags.Int64Var(&seed, "seed", 0, "random seed for instance generation and search")
	flags.IntVar(&rewardMutualPair, "reward-mutual", 2, "reward per realized mutual partner pair")
	flags.IntVar(&penaltyUnassigned, "penalty-unassigned", 3, "penalty per unassigned student")
	flags.DurationVar(&timeLimit, "time-limit", 60*time.Second, "total wall-clock budget")
	flags.BoolVar(&showProgress, "progress", false, "print the improvement timeline")
	// glog's -v and -logtostderr flags.
	flags.AddGoFlagSet(flag.CommandLine)
}

func runCommand(use, short string, run func(*search.VNS) (search.Outcome, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := instance.DefaultGeneratorConfig(numProjects, numStudents)
			cfg.RewardMutualPair = rewardMutualPair
			cfg.PenaltyUnassigned = penaltyUnassigned
			in := instance.Random(rand.New(rand.NewSource(seed)), cfg)

			opts := search.DefaultOptions()
			opts.TotalTimeLimit = timeLimit
			opts.Seed = seed

			factory := func(in *instance.Instance, idx *model.Indices, comp *model.Components) mip.Solver {
				return bruteforce.New(in, idx, comp)
			}
			vns, err := search.New(in, factory, opts)
			if err != nil {
				return err
			}

			outcome, err := run(vns)
			if err != nil {
				return err
			}
			report(cmd, outcome)
			return nil
		},
	}
}

func report(cmd *cobra.Command, outcome search.Outcome) {
	if !outcome.Found {
		cmd.Println("no feasible solution found within the budget")
		return
	}
	if !outcome.Correct {
		log.Errorf("solution failed validation, objective %d", outcome.Objective)
	}
	cmd.Print(outcome.Report.String())

	if showProgress {
		for _, s := range outcome.Progress {
			line := fmt.Sprintf("%10.2fs %8d %s", s.Runtime.Seconds(), s.Objective, s.Phase)
			if s.HasBound {
				line += fmt.Sprintf(" (bound %d)", s.Bound)
			}
			cmd.Println(line)
		}
	}
}
