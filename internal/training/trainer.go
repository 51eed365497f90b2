// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package training

import (
	"errors"
	"fmt"
	"math"

	"github.com/memrankd/memrankd/internal/autograd"
	"github.com/memrankd/memrankd/internal/data"
	"github.com/memrankd/memrankd/internal/model"
)

// ErrInvalidSample reports a training sample whose internal widths
// disagree. The batch stops at that sample; no partial update from it is
// applied.
var ErrInvalidSample = errors.New("invalid training sample")

// epochLossFloor ends a multi-epoch run early once an epoch's mean loss
// falls below it.
const epochLossFloor = 1e-6

// BatchStats summarizes one pass over a batch of samples.
type BatchStats struct {
	// Loss is the mean listwise loss over accepted steps.
	Loss float64
	// Steps counts optimizer steps taken (samples neither skipped nor
	// rejected).
	Steps uint64
	// Samples counts every sample seen, including skipped ones.
	Samples int
}

// EpochStats extends BatchStats over a multi-epoch run.
type EpochStats struct {
	// Loss is the mean loss of the most recent completed epoch. This is
	// the quantity canary acceptance evaluates; it is not monotone.
	Loss float64
	// BestLoss is the minimum epoch mean over the run, for consumers that
	// want a monotone metric.
	BestLoss float64
	// Steps counts optimizer steps across all epochs.
	Steps uint64
	// Samples counts samples seen across all epochs.
	Samples int
	// Epochs counts completed epochs (may be fewer than requested when the
	// loss floor ends the run early).
	Epochs int
}

// sampleCandidates materializes the scorer inputs for one sample,
// validating the parallel list widths. A missing feature table becomes
// zero rows; an empty embedding falls back to the candidate's text.
func sampleCandidates(sample *data.TrainingSample, cfg model.Config) ([]model.Candidate, error) {
	n := len(sample.CandidateEmbeddings)
	if n != len(sample.Labels) {
		return nil, fmt.Errorf("%w: sample %s has %d candidates but %d labels",
			ErrInvalidSample, sample.SessionID, n, len(sample.Labels))
	}
	if len(sample.QueryEmbedding) != cfg.NativeDim {
		return nil, fmt.Errorf("%w: sample %s query dim %d, expected %d",
			ErrInvalidSample, sample.SessionID, len(sample.QueryEmbedding), cfg.NativeDim)
	}
	if len(sample.CandidateTexts) != 0 && len(sample.CandidateTexts) != n {
		return nil, fmt.Errorf("%w: sample %s has %d candidates but %d texts",
			ErrInvalidSample, sample.SessionID, n, len(sample.CandidateTexts))
	}
	if len(sample.CandidateFeatures) != 0 && len(sample.CandidateFeatures) != n {
		return nil, fmt.Errorf("%w: sample %s has %d candidates but %d feature rows",
			ErrInvalidSample, sample.SessionID, n, len(sample.CandidateFeatures))
	}

	candidates := make([]model.Candidate, n)
	for i := 0; i < n; i++ {
		c := model.Candidate{ID: fmt.Sprintf("%s/%d", sample.SessionID, i)}
		if len(sample.CandidateEmbeddings[i]) == cfg.NativeDim {
			c.Embedding = sample.CandidateEmbeddings[i]
		}
		if len(sample.CandidateTexts) == n {
			c.Text = sample.CandidateTexts[i]
		}
		if len(sample.CandidateFeatures) == n {
			if len(sample.CandidateFeatures[i]) != cfg.ExtraFeatures {
				return nil, fmt.Errorf("%w: sample %s feature row %d has width %d, expected %d",
					ErrInvalidSample, sample.SessionID, i, len(sample.CandidateFeatures[i]), cfg.ExtraFeatures)
			}
			c.Features = sample.CandidateFeatures[i]
		} else {
			c.Features = make([]float64, cfg.ExtraFeatures)
		}
		candidates[i] = c
	}
	return candidates, nil
}

// TrainBatch runs one forward/backward/step cycle per sample. Samples with
// an empty candidate list are skipped; samples whose loss is non-finite
// are skipped without an optimizer step; malformed samples abort the batch
// with ErrInvalidSample.
func TrainBatch(tape *autograd.Tape, scorer *model.Scorer, samples []data.TrainingSample, optimizer *Adam, temperature float64) (BatchStats, error) {
	if !(temperature > 0.0) || math.IsInf(temperature, 0) {
		return BatchStats{}, fmt.Errorf("%w: temperature must be > 0", ErrInvalidSample)
	}

	cfg := scorer.Config()
	totalLoss := 0.0
	var steps uint64

	for i := range samples {
		sample := &samples[i]
		if len(sample.CandidateEmbeddings) != len(sample.Labels) {
			return BatchStats{}, fmt.Errorf("%w: sample %s has %d candidates but %d labels",
				ErrInvalidSample, sample.SessionID, len(sample.CandidateEmbeddings), len(sample.Labels))
		}
		if len(sample.CandidateEmbeddings) == 0 {
			continue
		}

		candidates, err := sampleCandidates(sample, cfg)
		if err != nil {
			return BatchStats{}, err
		}

		tape.Reset()
		logits, err := scorer.ForwardLogits(tape, sample.QueryEmbedding, candidates, sample.ProjectSlot)
		if err != nil {
			return BatchStats{}, err
		}
		targets := tape.Constant(sample.Labels)
		loss := tape.ListwiseLoss(logits, targets, temperature)
		lossValue := tape.Scalar(loss)
		if math.IsNaN(lossValue) || math.IsInf(lossValue, 0) {
			continue
		}

		tape.Backward(loss)
		optimizer.Step(tape.Params())
		totalLoss += lossValue
		steps++
	}

	avgLoss := 0.0
	if steps > 0 {
		avgLoss = totalLoss / float64(steps)
	}
	return BatchStats{Loss: avgLoss, Steps: steps, Samples: len(samples)}, nil
}

// TrainEpochs repeats the batch pass up to epochs times, ending early once
// an epoch's mean loss drops below the loss floor with at least one step
// taken. The reported Loss is the most recent epoch's mean.
func TrainEpochs(tape *autograd.Tape, scorer *model.Scorer, samples []data.TrainingSample, optimizer *Adam, temperature float64, epochs int) (EpochStats, error) {
	stats := EpochStats{BestLoss: math.Inf(1)}

	for epoch := 0; epoch < epochs; epoch++ {
		batch, err := TrainBatch(tape, scorer, samples, optimizer, temperature)
		if err != nil {
			return stats, err
		}

		stats.Loss = batch.Loss
		stats.Steps += batch.Steps
		stats.Samples += batch.Samples
		stats.Epochs++
		if batch.Steps > 0 && batch.Loss < stats.BestLoss {
			stats.BestLoss = batch.Loss
		}

		if batch.Steps > 0 && batch.Loss < epochLossFloor {
			break
		}
	}

	if math.IsInf(stats.BestLoss, 1) {
		stats.BestLoss = stats.Loss
	}
	return stats, nil
}
