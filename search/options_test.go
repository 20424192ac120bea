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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions_Valid(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())
}

func TestOptions_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(o *Options)
	}{
		{name: "ZeroTimeLimit", mutate: func(o *Options) { o.TotalTimeLimit = 0 }},
		{name: "SingleZone", mutate: func(o *Options) { o.Fixing.MinZones = 1 }},
		{name: "MaxZonesBelowMin", mutate: func(o *Options) { o.Fixing.MaxZones = 2; o.Fixing.MinZones = 4 }},
		{name: "ZeroBranchingStep", mutate: func(o *Options) { o.Branching.KStepPercent = 0 }},
		{name: "ZeroShakeStep", mutate: func(o *Options) { o.Fixing.StepShakePercent = 0 }},
		{name: "ZeroZoneStep", mutate: func(o *Options) { o.Fixing.StepZones = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			o := DefaultOptions()
			tc.mutate(&o)
			assert.Error(t, o.Validate())
		})
	}
}

func TestOptions_ValidateSingleZoneError(t *testing.T) {
	o := DefaultOptions()
	o.Fixing.MinZones = 1
	assert.ErrorIs(t, o.Validate(), ErrTooFewZones)
}

func TestPercentOf(t *testing.T) {
	testCases := []struct {
		percent int
		total   int
		want    int
	}{
		{percent: 10, total: 20, want: 2},
		{percent: 15, total: 10, want: 2},
		{percent: 10, total: 6, want: 1},
		{percent: 80, total: 10, want: 8},
		{percent: 10, total: 4, want: 0},
		{percent: 100, total: 7, want: 7},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, percentOf(tc.percent, tc.total), "percentOf(%d, %d)", tc.percent, tc.total)
	}
}
