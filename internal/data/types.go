// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package data

// TrainingSample is one labelled historical session: a context embedding,
// the candidate memories that were on offer, and a real-valued relevance
// label in [-1, 1] per candidate.
//
// The candidate lists are parallel: embeddings, texts, feature rows and
// labels are index-aligned. An individual candidate embedding may be empty
// when only text was captured for it; a nil text marks a candidate with no
// raw text. A session with zero candidates is legal and skipped by the
// trainer.
type TrainingSample struct {
	SessionID           string
	QueryEmbedding      []float64
	CandidateEmbeddings [][]float64
	CandidateTexts      []*string
	CandidateFeatures   [][]float64
	ProjectSlot         int
	Labels              []float64
}
