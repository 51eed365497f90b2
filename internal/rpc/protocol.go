// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

// Package rpc adapts the service façade to a line-delimited JSON-RPC 2.0
// stream: one request per line on stdin, one response per line on stdout.
// Parsing, parameter defaulting and error-code mapping live here; the
// model semantics live behind the service entry points.
package rpc

import (
	"github.com/goccy/go-json"
)

// JSON-RPC 2.0 error codes used by the worker. Application-level failures
// (shape mismatches, encoding errors, rejected runs) map to CodeApp.
const (
	CodeParse          = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeApp            = -32000
)

// Request is one incoming JSON-RPC envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Response is one outgoing envelope; exactly one of Result and Error is
// set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func success(id json.RawMessage, result any) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func failure(id json.RawMessage, code int, message string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &Error{Code: code, Message: message}}
}

// ScoreParams ranks candidates against a context embedding. The candidate
// arrays are parallel to candidate_ids; embeddings, texts and features may
// each be omitted wholesale (no embeddings, no texts, zero feature rows
// respectively), but when present must match candidate_ids in length.
type ScoreParams struct {
	ContextEmbedding    []float64   `json:"context_embedding"`
	CandidateIDs        []string    `json:"candidate_ids"`
	CandidateEmbeddings [][]float64 `json:"candidate_embeddings"`
	CandidateTexts      []*string   `json:"candidate_texts"`
	CandidateFeatures   [][]float64 `json:"candidate_features"`
	ProjectSlot         int         `json:"project_slot"`
}

// ScoredMemory is one ranked entry.
type ScoredMemory struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Logit float64 `json:"logit"`
}

// ScoreResult is the score response payload.
type ScoreResult struct {
	Scores []ScoredMemory `json:"scores"`
}

// TrainParams trains on one externally labelled sample. Temperature
// defaults to 0.5 when omitted.
type TrainParams struct {
	ContextEmbedding    []float64   `json:"context_embedding"`
	CandidateEmbeddings [][]float64 `json:"candidate_embeddings"`
	CandidateFeatures   [][]float64 `json:"candidate_features"`
	Labels              []float64   `json:"labels"`
	ProjectSlot         int         `json:"project_slot"`
	Temperature         float64     `json:"temperature"`
}

// TrainResult is the train response payload.
type TrainResult struct {
	Loss float64 `json:"loss"`
	Step uint64  `json:"step"`
}

// TrainFromDBParams drives a database-backed training run. Zero values
// fall back to the configured defaults.
type TrainFromDBParams struct {
	DBPath         string  `json:"db_path"`
	CheckpointPath string  `json:"checkpoint_path"`
	Limit          int     `json:"limit"`
	Epochs         int     `json:"epochs"`
	Temperature    float64 `json:"temperature"`
	MinConfidence  float64 `json:"min_confidence"`
}

// TrainFromDBResult is the train_from_db response payload.
type TrainFromDBResult struct {
	Loss                float64 `json:"loss"`
	Step                uint64  `json:"step"`
	SamplesUsed         int     `json:"samples_used"`
	SamplesSkipped      int     `json:"samples_skipped"`
	DurationMs          int64   `json:"duration_ms"`
	CanaryScoreVariance float64 `json:"canary_score_variance"`
	CanaryTopKStability float64 `json:"canary_topk_stability"`
	CheckpointSaved     bool    `json:"checkpoint_saved"`
}

// SaveCheckpointParams persists the current model.
type SaveCheckpointParams struct {
	Path  string `json:"path"`
	Flags uint32 `json:"flags"`
}

// SaveCheckpointResult is the save_checkpoint response payload.
type SaveCheckpointResult struct {
	Saved bool `json:"saved"`
}

// StatusResult is the status response payload.
type StatusResult struct {
	Trained       bool    `json:"trained"`
	TrainingPairs int     `json:"training_pairs"`
	ModelVersion  uint64  `json:"model_version"`
	LastTrained   *string `json:"last_trained,omitempty"`
}
