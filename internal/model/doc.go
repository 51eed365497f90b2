// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

// Package model implements the cross-attention memory scorer.
//
// The scorer turns a context embedding and a set of candidate memories
// into a probability distribution, expressed entirely as compositions of
// autograd tape primitives so the same forward construction serves both
// scoring and training.
//
// # Architecture
//
// The query embedding is down-projected from the native width D to the
// internal width H, layer-normalized, and projected by Q. Each candidate
// is encoded to width H (down-projection for native embeddings, hash-trick
// token embeddings with mean pooling for raw text), projected by K and V,
// and scored as a scaled dot-product similarity plus a gated logit over
// the value vector, the candidate's feature row, a project-conditioning
// embedding, and a bias term. Candidate logits are concatenated and
// softmaxed at unit temperature.
//
// # Parameters
//
// Seven parameter slots in fixed order: down-projection, Q, K, V, gate,
// hash-embedding table, project-embedding table. ParamIndices exposes the
// order the checkpoint codec depends on.
package model
