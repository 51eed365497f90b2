// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package data

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/memrankd/memrankd/internal/logging"
	"github.com/memrankd/memrankd/internal/metrics"
)

// LoadOptions bound and filter a sample load.
type LoadOptions struct {
	// Limit caps how many of the most recent sessions are read.
	Limit int
	// MinConfidence drops sessions whose labeller confidence is below it.
	MinConfidence float64
	// NativeDim is the expected query/candidate embedding width.
	NativeDim int
	// FeatureWidth is the expected feature row width.
	FeatureWidth int
}

// LoadResult carries the extracted samples plus how many sessions were
// dropped on the way.
type LoadResult struct {
	Samples []TrainingSample
	Skipped int
}

const (
	sessionQuery = `
		SELECT session_key, project_slot, confidence, query_embedding
		FROM session_scores
		ORDER BY created_at DESC
		LIMIT ?`

	candidateQuery = `
		SELECT embedding, text, features, label
		FROM session_candidates
		WHERE session_key = ?
		ORDER BY position`
)

// Load reads up to opts.Limit recent sessions from the DuckDB database at
// dbPath. Sessions below the confidence floor or with malformed payloads
// are counted in Skipped; malformed ones are also logged at debug level.
func Load(ctx context.Context, dbPath string, opts LoadOptions) (*LoadResult, error) {
	db, err := sql.Open("duckdb", dbPath+"?access_mode=read_only")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("failed to close session database")
		}
	}()

	sessions, err := db.QueryContext(ctx, sessionQuery, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		_ = sessions.Close()
	}()

	candStmt, err := db.PrepareContext(ctx, candidateQuery)
	if err != nil {
		return nil, fmt.Errorf("prepare candidate query: %w", err)
	}
	defer func() {
		_ = candStmt.Close()
	}()

	result := &LoadResult{}
	for sessions.Next() {
		var (
			sessionKey  string
			projectSlot int
			confidence  float64
			queryBlob   []byte
		)
		if err := sessions.Scan(&sessionKey, &projectSlot, &confidence, &queryBlob); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}

		if confidence < opts.MinConfidence {
			result.Skipped++
			metrics.DBSessionsSkipped.WithLabelValues("low_confidence").Inc()
			continue
		}

		sample, err := buildSample(ctx, candStmt, sessionKey, projectSlot, queryBlob, opts)
		if err != nil {
			result.Skipped++
			metrics.DBSessionsSkipped.WithLabelValues("malformed").Inc()
			logging.Debug().Err(err).Str("session", sessionKey).Msg("skipping malformed session")
			continue
		}

		result.Samples = append(result.Samples, *sample)
		metrics.DBSessionsLoaded.Inc()
	}
	if err := sessions.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	logging.Info().
		Str("db", dbPath).
		Int("samples", len(result.Samples)).
		Int("skipped", result.Skipped).
		Msg("training samples loaded")
	return result, nil
}

// buildSample assembles one TrainingSample from its session row and
// candidate rows, validating every width.
func buildSample(ctx context.Context, candStmt *sql.Stmt, sessionKey string, projectSlot int, queryBlob []byte, opts LoadOptions) (*TrainingSample, error) {
	queryEmbedding, err := decodeFloats(queryBlob)
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	if len(queryEmbedding) != opts.NativeDim {
		return nil, fmt.Errorf("query embedding width %d, expected %d", len(queryEmbedding), opts.NativeDim)
	}

	rows, err := candStmt.QueryContext(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	sample := &TrainingSample{
		SessionID:      sessionKey,
		QueryEmbedding: queryEmbedding,
		ProjectSlot:    projectSlot,
	}

	for rows.Next() {
		var (
			embeddingBlob []byte
			text          sql.NullString
			featuresBlob  []byte
			label         float64
		)
		if err := rows.Scan(&embeddingBlob, &text, &featuresBlob, &label); err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}

		embedding, err := decodeFloats(embeddingBlob)
		if err != nil {
			return nil, fmt.Errorf("candidate embedding: %w", err)
		}
		if len(embedding) != 0 && len(embedding) != opts.NativeDim {
			return nil, fmt.Errorf("candidate embedding width %d, expected %d", len(embedding), opts.NativeDim)
		}

		features, err := decodeFloats(featuresBlob)
		if err != nil {
			return nil, fmt.Errorf("candidate features: %w", err)
		}
		if len(features) != opts.FeatureWidth {
			return nil, fmt.Errorf("feature row width %d, expected %d", len(features), opts.FeatureWidth)
		}

		var textPtr *string
		if text.Valid {
			t := text.String
			textPtr = &t
		}

		sample.CandidateEmbeddings = append(sample.CandidateEmbeddings, embedding)
		sample.CandidateTexts = append(sample.CandidateTexts, textPtr)
		sample.CandidateFeatures = append(sample.CandidateFeatures, features)
		sample.Labels = append(sample.Labels, clampLabel(label))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}

	return sample, nil
}

// decodeFloats unpacks a blob of little-endian doubles. A nil blob is an
// empty vector.
func decodeFloats(blob []byte) ([]float64, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob)%8 != 0 {
		return nil, fmt.Errorf("blob length %d not a multiple of 8", len(blob))
	}
	out := make([]float64, len(blob)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return out, nil
}

// clampLabel forces a stored label into [-1, 1].
func clampLabel(v float64) float64 {
	switch {
	case v < -1.0:
		return -1.0
	case v > 1.0:
		return 1.0
	default:
		return v
	}
}
