// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package training

import (
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/memrankd/memrankd/internal/autograd"
	"github.com/memrankd/memrankd/internal/data"
	"github.com/memrankd/memrankd/internal/model"
)

const (
	// DefaultCanarySize is how many leading samples are reserved to judge
	// a training run.
	DefaultCanarySize = 10

	// DefaultMinStability is the minimum mean top-K overlap between pre-
	// and post-training rankings for a run to be accepted.
	DefaultMinStability = 0.6

	// canaryTopK is the ranking depth compared for stability.
	canaryTopK = 5
)

// RunOptions configure a full training run with canary acceptance.
type RunOptions struct {
	Temperature  float64
	Epochs       int
	CanarySize   int
	MinStability float64
}

// RunStats reports a completed training run. Valid gates checkpoint
// persistence: it requires a finite final loss, a score variance strictly
// above zero (the model did not collapse to uniform) and top-K stability
// at or above the configured minimum (the model did not catastrophically
// shuffle).
type RunStats struct {
	EpochStats
	ScoreVariance float64
	TopKStability float64
	Valid         bool
}

// Run splits samples into a canary prefix and a training set, trains for
// the configured epochs, rescores the canary set and decides acceptance.
// With CanarySize or fewer samples available, every sample serves as both
// canary and training data.
func Run(tape *autograd.Tape, scorer *model.Scorer, samples []data.TrainingSample, optimizer *Adam, opts RunOptions, logger zerolog.Logger) (RunStats, error) {
	canarySize := opts.CanarySize
	if canarySize <= 0 {
		canarySize = DefaultCanarySize
	}
	minStability := opts.MinStability
	if minStability <= 0 {
		minStability = DefaultMinStability
	}

	canary := samples
	train := samples
	if len(samples) > canarySize {
		canary = samples[:canarySize]
		train = samples[canarySize:]
	}

	preTopK := make([][]int, len(canary))
	for i := range canary {
		preTopK[i] = canaryTopIndices(tape, scorer, &canary[i])
	}

	stats, err := TrainEpochs(tape, scorer, train, optimizer, opts.Temperature, opts.Epochs)
	if err != nil {
		return RunStats{EpochStats: stats}, err
	}

	var postProbs []float64
	postTopK := make([][]int, len(canary))
	for i := range canary {
		probs := canaryProbs(tape, scorer, &canary[i])
		postProbs = append(postProbs, probs...)
		postTopK[i] = topIndices(probs, canaryTopK)
	}

	variance := populationVariance(postProbs)
	stability := topKStability(preTopK, postTopK, canary)

	run := RunStats{
		EpochStats:    stats,
		ScoreVariance: variance,
		TopKStability: stability,
	}
	run.Valid = !math.IsNaN(stats.Loss) && !math.IsInf(stats.Loss, 0) &&
		variance > 0.0 &&
		stability >= minStability

	logger.Info().
		Float64("loss", stats.Loss).
		Float64("best_loss", stats.BestLoss).
		Uint64("steps", stats.Steps).
		Int("epochs", stats.Epochs).
		Float64("score_variance", variance).
		Float64("topk_stability", stability).
		Bool("valid", run.Valid).
		Msg("training run complete")

	return run, nil
}

// canaryProbs rescores one canary sample and returns its softmax
// probabilities in candidate order, or nil when the sample cannot be
// scored (empty or malformed samples never veto a run).
func canaryProbs(tape *autograd.Tape, scorer *model.Scorer, sample *data.TrainingSample) []float64 {
	if len(sample.CandidateEmbeddings) == 0 {
		return nil
	}
	candidates, err := sampleCandidates(sample, scorer.Config())
	if err != nil {
		return nil
	}

	tape.Reset()
	logits, err := scorer.ForwardLogits(tape, sample.QueryEmbedding, candidates, sample.ProjectSlot)
	if err != nil {
		return nil
	}
	probs := tape.Softmax(logits)
	return append([]float64(nil), tape.Value(probs)...)
}

func canaryTopIndices(tape *autograd.Tape, scorer *model.Scorer, sample *data.TrainingSample) []int {
	return topIndices(canaryProbs(tape, scorer, sample), canaryTopK)
}

// topIndices returns the indices of the k largest probabilities in
// descending order, ties broken by candidate insertion order.
func topIndices(probs []float64, k int) []int {
	if len(probs) == 0 {
		return nil
	}
	indices := make([]int, len(probs))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return probs[indices[a]] > probs[indices[b]]
	})
	if len(indices) > k {
		indices = indices[:k]
	}
	return indices
}

// populationVariance is the pooled variance over all canary
// probabilities. Exactly zero means the distribution collapsed.
func populationVariance(values []float64) float64 {
	if len(values) == 0 {
		return 0.0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return variance / float64(len(values))
}

// topKStability averages |pre ∩ post| / min(K, candidate_count) over
// canary samples where both rankings are non-empty.
func topKStability(pre, post [][]int, canary []data.TrainingSample) float64 {
	total := 0.0
	counted := 0
	for i := range canary {
		if len(pre[i]) == 0 || len(post[i]) == 0 {
			continue
		}
		inPre := make(map[int]struct{}, len(pre[i]))
		for _, idx := range pre[i] {
			inPre[idx] = struct{}{}
		}
		overlap := 0
		for _, idx := range post[i] {
			if _, ok := inPre[idx]; ok {
				overlap++
			}
		}
		denom := canaryTopK
		if n := len(canary[i].Labels); n < denom {
			denom = n
		}
		if denom == 0 {
			continue
		}
		total += float64(overlap) / float64(denom)
		counted++
	}
	if counted == 0 {
		return 0.0
	}
	return total / float64(counted)
}
