// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

// Package autograd implements a minimal reverse-mode automatic
// differentiation engine on a flat operation tape.
//
// The engine is deliberately framework-free: a Tape records primitive
// operations (embedding lookup, matvec, dot, softmax, layer-norm, ...) as
// it computes their forward values, then replays the record in strict
// reverse to accumulate gradients. Activations are plain integer handles
// into parallel value/gradient arrays owned by the tape; no pointer graph
// exists, and a Reset is O(ops).
//
// # Usage
//
//	store := autograd.NewParams()
//	rng := autograd.NewRng(42)
//	w := store.Add(autograd.Matrix(rng, 4, 8, 0.1))
//
//	tape := autograd.NewTape(store)
//	x := tape.Constant([]float64{...})
//	y := tape.MatVec(w, x)
//	loss := tape.Dot(y, y)
//	tape.Backward(loss)
//
// After Backward the op list is consumed; build a fresh forward pass
// before the next Backward. Reset invalidates every activation handle the
// tape has returned and zeroes all parameter gradients.
//
// # Shape errors
//
// Every primitive asserts its input shape preconditions and panics on
// violation. Callers validate external input widths before anything
// reaches the tape; a panic here is a programmer error, not a runtime
// condition to recover from.
//
// # Concurrency
//
// A Tape is a single-threaded builder. The parameter store outlives tape
// resets; activation storage does not.
package autograd
