// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

// Package service owns the worker's in-memory model state: one tape, one
// scorer, one optimizer, and the training counters. It is the typed entry
// point layer the transport adapts; it performs no JSON handling of its
// own.
//
// The service is strictly sequential. Requests mutate the tape and the
// parameter store in place, so the transport must never dispatch two
// calls concurrently.
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memrankd/memrankd/internal/autograd"
	"github.com/memrankd/memrankd/internal/checkpoint"
	"github.com/memrankd/memrankd/internal/config"
	"github.com/memrankd/memrankd/internal/data"
	"github.com/memrankd/memrankd/internal/logging"
	"github.com/memrankd/memrankd/internal/metrics"
	"github.com/memrankd/memrankd/internal/model"
	"github.com/memrankd/memrankd/internal/training"
)

// ErrBadRequest reports caller input that fails validation before it
// reaches the model.
var ErrBadRequest = errors.New("bad request")

// Service is the worker façade. Construct with New; the parameter shapes
// are frozen from that point on.
type Service struct {
	cfg       *config.Config
	store     *autograd.Params
	tape      *autograd.Tape
	scorer    *model.Scorer
	optimizer *training.Adam
	logger    zerolog.Logger

	trainSteps    uint64
	trainingPairs int
	modelVersion  uint64
	lastTrained   string
}

// TrainResult reports a direct training call.
type TrainResult struct {
	Loss float64
	Step uint64
}

// TrainFromDBResult reports a database-driven training run.
type TrainFromDBResult struct {
	Loss                float64
	Step                uint64
	SamplesUsed         int
	SamplesSkipped      int
	DurationMs          int64
	CanaryScoreVariance float64
	CanaryTopKStability float64
	CheckpointSaved     bool
}

// Status is the worker's externally visible training state.
type Status struct {
	Trained       bool
	TrainingPairs int
	ModelVersion  uint64
	LastTrained   string
}

// New builds the model from the configured seed, then attempts to restore
// the configured checkpoint when one exists on disk. A checkpoint that
// cannot be read or applied is logged and ignored; the worker starts
// fresh rather than refusing to come up.
func New(cfg *config.Config) *Service {
	store := autograd.NewParams()
	rng := autograd.NewRng(cfg.Seed)
	scorer := model.NewScorer(store, rng, cfg.Model)

	s := &Service{
		cfg:          cfg,
		store:        store,
		tape:         autograd.NewTape(store),
		scorer:       scorer,
		optimizer:    training.NewAdam(store, cfg.Training.LearningRate),
		logger:       logging.With().Str("component", "service").Logger(),
		modelVersion: 1,
	}

	if path := cfg.Checkpoint.Path; path != "" {
		if _, err := os.Stat(path); err == nil {
			s.restoreCheckpoint(path)
		}
	}

	metrics.ModelVersion.Set(float64(s.modelVersion))
	return s
}

func (s *Service) restoreCheckpoint(path string) {
	loaded, err := checkpoint.Load(path)
	if err != nil {
		metrics.CheckpointLoads.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("path", path).Msg("checkpoint load failed, starting fresh")
		return
	}
	if err := loaded.Apply(s.scorer, s.store); err != nil {
		metrics.CheckpointLoads.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("path", path).Msg("checkpoint apply failed, starting fresh")
		return
	}
	s.modelVersion = uint64(loaded.Version)
	metrics.CheckpointLoads.WithLabelValues("ok").Inc()
	s.logger.Info().Str("path", path).Uint32("version", loaded.Version).Msg("checkpoint restored")
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Score ranks candidates against the query embedding and returns them
// sorted by probability descending.
func (s *Service) Score(query []float64, candidates []model.Candidate, projectSlot int) ([]model.Scored, error) {
	scored, err := s.scorer.Score(s.tape, query, candidates, projectSlot)
	if err != nil {
		return nil, err
	}
	metrics.CandidatesScored.Add(float64(len(scored)))
	return scored, nil
}

// Train applies one batch pass over a single externally supplied sample.
func (s *Service) Train(query []float64, candidateEmbeddings, candidateFeatures [][]float64, labels []float64, projectSlot int, temperature float64) (*TrainResult, error) {
	if len(candidateEmbeddings) != len(labels) {
		return nil, fmt.Errorf("%w: %d candidate embeddings but %d labels",
			ErrBadRequest, len(candidateEmbeddings), len(labels))
	}
	if !(temperature > 0.0) || math.IsInf(temperature, 0) {
		return nil, fmt.Errorf("%w: temperature must be > 0", ErrBadRequest)
	}

	sample := data.TrainingSample{
		SessionID:           "rpc-" + uuid.NewString(),
		QueryEmbedding:      query,
		CandidateEmbeddings: candidateEmbeddings,
		CandidateFeatures:   candidateFeatures,
		ProjectSlot:         projectSlot,
		Labels:              labels,
	}

	stats, err := training.TrainBatch(s.tape, s.scorer, []data.TrainingSample{sample}, s.optimizer, temperature)
	if err != nil {
		return nil, err
	}

	s.noteTraining(stats.Steps, len(labels), stats.Loss)
	return &TrainResult{Loss: stats.Loss, Step: s.trainSteps}, nil
}

// TrainFromDB loads labelled sessions from the database and runs a full
// canary-gated training pass. checkpointPath overrides the configured
// checkpoint location; pass "" to use the configured one. Only a valid
// run is persisted.
func (s *Service) TrainFromDB(ctx context.Context, dbPath, checkpointPath string, limit, epochs int, temperature, minConfidence float64) (*TrainFromDBResult, error) {
	start := time.Now()

	if limit <= 0 {
		limit = s.cfg.Training.Limit
	}
	if epochs <= 0 {
		epochs = s.cfg.Training.Epochs
	}
	if temperature <= 0 {
		temperature = s.cfg.Training.Temperature
	}
	if minConfidence <= 0 {
		minConfidence = s.cfg.Training.MinConfidence
	}

	loaded, err := data.Load(ctx, dbPath, data.LoadOptions{
		Limit:         limit,
		MinConfidence: minConfidence,
		NativeDim:     s.cfg.Model.NativeDim,
		FeatureWidth:  s.cfg.Model.ExtraFeatures,
	})
	if err != nil {
		return nil, err
	}

	run, err := training.Run(s.tape, s.scorer, loaded.Samples, s.optimizer, training.RunOptions{
		Temperature:  temperature,
		Epochs:       epochs,
		CanarySize:   s.cfg.Training.CanarySize,
		MinStability: s.cfg.Training.MinStability,
	}, s.logger)
	if err != nil {
		return nil, err
	}

	pairs := 0
	for i := range loaded.Samples {
		pairs += len(loaded.Samples[i].Labels)
	}
	s.noteTraining(run.Steps, pairs, run.Loss)
	metrics.TrainSamplesUsed.Add(float64(len(loaded.Samples)))
	metrics.TrainSamplesSkipped.Add(float64(loaded.Skipped))

	result := &TrainFromDBResult{
		Loss:                run.Loss,
		Step:                s.trainSteps,
		SamplesUsed:         len(loaded.Samples),
		SamplesSkipped:      loaded.Skipped,
		CanaryScoreVariance: run.ScoreVariance,
		CanaryTopKStability: run.TopKStability,
	}

	if run.Valid {
		if path := s.checkpointTarget(checkpointPath); path != "" {
			if err := s.SaveCheckpoint(path, 0); err != nil {
				s.logger.Error().Err(err).Str("path", path).Msg("checkpoint save failed")
			} else {
				result.CheckpointSaved = true
			}
		}
	} else {
		metrics.TrainRunsRejected.Inc()
		s.logger.Warn().
			Float64("score_variance", run.ScoreVariance).
			Float64("topk_stability", run.TopKStability).
			Msg("training run rejected by canary acceptance, not persisting")
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

// checkpointTarget resolves where an accepted run should be persisted.
func (s *Service) checkpointTarget(override string) string {
	if override != "" {
		return override
	}
	if s.cfg.Checkpoint.AutoSave {
		return s.cfg.Checkpoint.Path
	}
	return ""
}

// SaveCheckpoint persists the current parameters to path.
func (s *Service) SaveCheckpoint(path string, flags uint32) error {
	if path == "" {
		return fmt.Errorf("%w: checkpoint path required", ErrBadRequest)
	}
	if err := checkpoint.Save(path, s.scorer, s.store, flags); err != nil {
		metrics.CheckpointSaves.WithLabelValues("error").Inc()
		return err
	}
	metrics.CheckpointSaves.WithLabelValues("ok").Inc()
	s.logger.Info().Str("path", path).Msg("checkpoint saved")
	return nil
}

// Status reports the training counters.
func (s *Service) Status() Status {
	return Status{
		Trained:       s.trainSteps > 0,
		TrainingPairs: s.trainingPairs,
		ModelVersion:  s.modelVersion,
		LastTrained:   s.lastTrained,
	}
}

// noteTraining folds one training call into the counters. Any call that
// produced at least one optimizer step bumps the model version and
// refreshes the timestamp.
func (s *Service) noteTraining(steps uint64, pairs int, loss float64) {
	s.trainSteps += steps
	s.trainingPairs += pairs
	metrics.TrainSteps.Add(float64(steps))
	if steps > 0 {
		metrics.TrainLoss.Set(loss)
		s.modelVersion++
		metrics.ModelVersion.Set(float64(s.modelVersion))
		s.lastTrained = time.Now().UTC().Format(time.RFC3339)
	}
}
