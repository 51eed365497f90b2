// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package training

import (
	"math"

	"github.com/memrankd/memrankd/internal/autograd"
)

// DefaultLearningRate is the production Adam step size.
const DefaultLearningRate = 1e-3

// Adam holds per-parameter first and second moment estimates dimensioned
// identically to the parameter data. Moment buffers are allocated at
// construction, so the parameter shapes are frozen from that point on.
type Adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     uint64
	m     [][]float64
	v     [][]float64
}

// NewAdam builds optimizer state for every parameter currently in store.
func NewAdam(store *autograd.Params, lr float64) *Adam {
	m := make([][]float64, store.Len())
	v := make([][]float64, store.Len())
	for i, p := range store.All() {
		m[i] = make([]float64, len(p.Data))
		v[i] = make([]float64, len(p.Data))
	}
	return &Adam{
		lr:    lr,
		beta1: 0.9,
		beta2: 0.999,
		eps:   1e-8,
		m:     m,
		v:     v,
	}
}

// StepCount returns how many optimizer steps have been applied.
func (a *Adam) StepCount() uint64 {
	return a.t
}

// Step applies one bias-corrected Adam update to every parameter from its
// accumulated gradients. Gradients are left as they are; the next tape
// reset clears them.
func (a *Adam) Step(store *autograd.Params) {
	a.t++
	t := float64(a.t)
	biasCorr1 := 1.0 - math.Pow(a.beta1, t)
	biasCorr2 := 1.0 - math.Pow(a.beta2, t)

	for paramIdx, p := range store.All() {
		m := a.m[paramIdx]
		v := a.v[paramIdx]
		for i, grad := range p.Grad {
			m[i] = a.beta1*m[i] + (1.0-a.beta1)*grad
			v[i] = a.beta2*v[i] + (1.0-a.beta2)*grad*grad

			mHat := m[i] / biasCorr1
			vHat := v[i] / biasCorr2
			p.Data[i] -= a.lr * mHat / (math.Sqrt(vHat) + a.eps)
		}
	}
}
