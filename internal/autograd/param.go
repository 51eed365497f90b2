// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package autograd

// Param is a dense row-major matrix of float64 with a co-located gradient
// buffer of identical length. Parameters are created once during model
// construction and mutated only by optimizer steps.
type Param struct {
	Data []float64
	Grad []float64
	Rows int
	Cols int
}

// Matrix allocates a rows x cols parameter initialized from rng with a
// zero-mean Gaussian of the given standard deviation. Callers pass
// std = 1/sqrt(fan-in).
func Matrix(rng *Rng, rows, cols int, std float64) *Param {
	n := rows * cols
	data := make([]float64, n)
	for i := range data {
		data[i] = rng.Gauss(0.0, std)
	}
	return &Param{
		Data: data,
		Grad: make([]float64, n),
		Rows: rows,
		Cols: cols,
	}
}

// ZeroGrad clears the gradient buffer in place.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0.0
	}
}

// Params is the parameter store. Parameters are addressed by the dense
// integer index returned from Add, never by pointer; those indices are
// what the tape ops and the checkpoint codec record.
type Params struct {
	params []*Param
}

// NewParams returns an empty store.
func NewParams() *Params {
	return &Params{}
}

// Add appends p and returns its slot index.
func (ps *Params) Add(p *Param) int {
	ps.params = append(ps.params, p)
	return len(ps.params) - 1
}

// At returns the parameter at slot idx.
func (ps *Params) At(idx int) *Param {
	return ps.params[idx]
}

// Len returns the number of stored parameters.
func (ps *Params) Len() int {
	return len(ps.params)
}

// All returns the backing slice. Callers must not reorder it.
func (ps *Params) All() []*Param {
	return ps.params
}

// ZeroGrads clears every parameter gradient.
func (ps *Params) ZeroGrads() {
	for _, p := range ps.params {
		p.ZeroGrad()
	}
}
