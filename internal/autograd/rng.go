// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package autograd

import "math"

// Rng is a deterministic xorshift64 generator.
//
// It exists so that parameter initialization is reproducible from a seed
// alone: the same seed always yields the same model, which is what makes
// checkpoint-free test setups and bit-identical training runs possible.
// Not crypto-grade, not safe for concurrent use.
type Rng struct {
	state uint64
}

// NewRng returns a generator seeded with seed.
func NewRng(seed uint64) *Rng {
	return &Rng{state: seed}
}

// NextUint64 advances the xorshift state and returns it.
func (r *Rng) NextUint64() uint64 {
	r.state ^= r.state << 13
	r.state ^= r.state >> 7
	r.state ^= r.state << 17
	return r.state
}

// NextFloat64 returns a uniform value in [0, 1) with 53 bits of precision.
func (r *Rng) NextFloat64() float64 {
	return float64(r.NextUint64()>>11) / float64(uint64(1)<<53)
}

// Gauss returns a normally distributed value via Box-Muller.
// The first uniform is clamped to >= 1e-10 to keep the log finite.
func (r *Rng) Gauss(mean, std float64) float64 {
	u1 := math.Max(r.NextFloat64(), 1e-10)
	u2 := r.NextFloat64()
	z := math.Sqrt(-2.0*math.Log(u1)) * math.Cos(2.0*math.Pi*u2)
	return mean + std*z
}
