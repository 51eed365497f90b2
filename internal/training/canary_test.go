// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package training

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memrankd/memrankd/internal/data"
)

func numberedSample(i int) data.TrainingSample {
	s := basicSample()
	s.SessionID = fmt.Sprintf("session-%d", i)
	s.QueryEmbedding = []float64{0.1 + 0.01*float64(i), 0.2, 0.3, 0.4}
	return s
}

func TestRunAcceptsTrainingOnASingleSample(t *testing.T) {
	scorer, tape, optimizer := newFixture(42, 1e-3)
	samples := []data.TrainingSample{basicSample()}

	initial, err := TrainBatch(tape, scorer, samples, optimizer, 0.5)
	require.NoError(t, err)

	scorer2, tape2, optimizer2 := newFixture(42, 1e-3)
	run, err := Run(tape2, scorer2, samples, optimizer2, RunOptions{
		Temperature: 0.5,
		Epochs:      20,
	}, zerolog.Nop())
	require.NoError(t, err)

	assert.LessOrEqual(t, run.Loss, initial.Loss+1e-6)
	assert.Greater(t, run.ScoreVariance, 0.0)
	assert.GreaterOrEqual(t, run.TopKStability, 0.6)
	assert.True(t, run.Valid)
}

func TestRunTopKStabilityIsOneWhenParametersDoNotMove(t *testing.T) {
	scorer, tape, optimizer := newFixture(7, 1e-3)
	samples := []data.TrainingSample{basicSample()}

	// Zero epochs: pre- and post-training parameters are identical, so the
	// rankings must match exactly.
	run, err := Run(tape, scorer, samples, optimizer, RunOptions{
		Temperature: 0.5,
		Epochs:      0,
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1.0, run.TopKStability)
}

func TestRunSplitsCanaryPrefixFromTrainingSet(t *testing.T) {
	scorer, tape, optimizer := newFixture(11, 1e-3)
	samples := make([]data.TrainingSample, 14)
	for i := range samples {
		samples[i] = numberedSample(i)
	}

	run, err := Run(tape, scorer, samples, optimizer, RunOptions{
		Temperature: 0.5,
		Epochs:      1,
	}, zerolog.Nop())
	require.NoError(t, err)

	// 14 samples: 10 canary, 4 trained, one step each.
	assert.Equal(t, uint64(4), run.Steps)
	assert.Equal(t, 4, run.Samples)
}

func TestRunUsesAllSamplesWhenAtOrBelowCanarySize(t *testing.T) {
	scorer, tape, optimizer := newFixture(11, 1e-3)
	samples := make([]data.TrainingSample, 6)
	for i := range samples {
		samples[i] = numberedSample(i)
	}

	run, err := Run(tape, scorer, samples, optimizer, RunOptions{
		Temperature: 0.5,
		Epochs:      1,
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, uint64(6), run.Steps)
}

func TestRunIgnoresEmptyCanarySamples(t *testing.T) {
	scorer, tape, optimizer := newFixture(13, 1e-3)
	empty := data.TrainingSample{
		SessionID:      "empty",
		QueryEmbedding: []float64{0.1, 0.2, 0.3, 0.4},
	}
	samples := []data.TrainingSample{empty, basicSample()}

	run, err := Run(tape, scorer, samples, optimizer, RunOptions{
		Temperature: 0.5,
		Epochs:      2,
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Greater(t, run.ScoreVariance, 0.0)
	assert.GreaterOrEqual(t, run.TopKStability, 0.0)
}

func TestTopIndicesBreaksTiesByInsertionOrder(t *testing.T) {
	got := topIndices([]float64{0.25, 0.25, 0.25, 0.25}, 3)
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestPopulationVariance(t *testing.T) {
	assert.Equal(t, 0.0, populationVariance(nil))
	assert.Equal(t, 0.0, populationVariance([]float64{0.5, 0.5, 0.5}))
	assert.InDelta(t, 0.25, populationVariance([]float64{0.0, 1.0}), 1e-12)
}
