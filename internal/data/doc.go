// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

// Package data extracts labelled training samples from the session
// database.
//
// The database is DuckDB, accessed read-only through database/sql. Two
// tables hold the labelled history:
//
//	session_scores(session_key, project_slot, confidence,
//	               query_embedding, created_at)
//	session_candidates(session_key, position, embedding, text,
//	                   features, label)
//
// Embedding and feature columns are BLOBs of little-endian IEEE-754
// doubles. A candidate's embedding may be NULL when only text was
// captured; labels are real values in [-1, 1]; confidence is the session
// labeller's certainty and sessions below the caller's minimum are
// dropped.
//
// Loading is skip-and-count: a session with an undecodable blob or
// mismatched widths is skipped, never fatal, so one corrupt row cannot
// block a training run. The most recent sessions are loaded first.
package data
