// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

// Package training drives parameter updates for the cross-attention
// scorer: an Adam optimizer, a per-sample batch pass, a multi-epoch loop
// with early termination, and canary-based acceptance that decides whether
// a trained model may be persisted.
//
// Training is listwise: each sample contributes one KL loss over its whole
// candidate list at a configured temperature. A sample with a non-finite
// loss is skipped without an optimizer step so a single degenerate session
// cannot poison a run. Canary acceptance rescores a reserved prefix of the
// samples before and after training and rejects runs whose score
// distribution collapsed to uniform or whose top-5 rankings shuffled
// beyond the stability threshold.
package training
