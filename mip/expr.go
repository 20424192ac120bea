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

package mip

import (
	log "github.com/golang/glog"
)

// LinearArgument provides an interface for Var and LinearExpr.
type LinearArgument interface {
	addToLinearExpr(e *LinearExpr, c float64)
}

// LinearExpr is a container for a linear expression with float64
// coefficients.
type LinearExpr struct {
	terms  []term
	offset float64
}

type term struct {
	ind   VarIndex
	coeff float64
}

// NewLinearExpr creates a new empty LinearExpr.
func NewLinearExpr() *LinearExpr {
	return &LinearExpr{}
}

// NewConstant creates and returns a LinearExpr containing the constant `c`.
func NewConstant(c float64) *LinearExpr {
	return &LinearExpr{offset: c}
}

// Add adds the linear argument term to the LinearExpr and returns itself.
func (l *LinearExpr) Add(la LinearArgument) *LinearExpr {
	return l.AddTerm(la, 1)
}

// Sub subtracts the linear argument term from the LinearExpr and returns
// itself.
func (l *LinearExpr) Sub(la LinearArgument) *LinearExpr {
	return l.AddTerm(la, -1)
}

// AddConstant adds the constant to the LinearExpr and returns itself.
func (l *LinearExpr) AddConstant(c float64) *LinearExpr {
	l.offset += c
	return l
}

// AddTerm adds the linear argument with the given coefficient to the
// LinearExpr and returns itself.
func (l *LinearExpr) AddTerm(la LinearArgument, coeff float64) *LinearExpr {
	la.addToLinearExpr(l, coeff)
	return l
}

// AddSum adds the sum of the linear arguments to the LinearExpr and returns
// itself.
func (l *LinearExpr) AddSum(las ...LinearArgument) *LinearExpr {
	for _, la := range las {
		l.Add(la)
	}
	return l
}

// AddWeightedSum adds the linear arguments with the corresponding
// coefficients to the LinearExpr and returns itself.
func (l *LinearExpr) AddWeightedSum(las []LinearArgument, coeffs []float64) *LinearExpr {
	if len(coeffs) != len(las) {
		log.Fatalf("las and coeffs must be the same length: %v != %v", len(las), len(coeffs))
	}
	for i, la := range las {
		l.AddTerm(la, coeffs[i])
	}
	return l
}

func (l *LinearExpr) addToLinearExpr(e *LinearExpr, c float64) {
	for _, t := range l.terms {
		e.terms = append(e.terms, term{ind: t.ind, coeff: t.coeff * c})
	}
	e.offset += l.offset * c
}

func (l *LinearExpr) clone() *LinearExpr {
	out := &LinearExpr{offset: l.offset}
	out.terms = append(out.terms, l.terms...)
	return out
}

// Value evaluates the expression under the given variable values.
func (l *LinearExpr) Value(values []float64) float64 {
	result := l.offset
	for _, t := range l.terms {
		result += values[t.ind] * t.coeff
	}
	return result
}
