// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

// Package metrics registers the worker's Prometheus collectors and serves
// the optional exposition endpoint. The worker is fully functional with
// the endpoint disabled; collectors are cheap to update unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RPC transport metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memrankd_requests_total",
			Help: "Total number of JSON-RPC requests by method and outcome",
		},
		[]string{"method", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memrankd_request_duration_seconds",
			Help:    "JSON-RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// Scoring metrics
	CandidatesScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memrankd_candidates_scored_total",
			Help: "Total number of candidates scored",
		},
	)

	// Training metrics
	TrainSteps = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memrankd_train_steps_total",
			Help: "Total number of optimizer steps applied",
		},
	)

	TrainLoss = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memrankd_train_loss",
			Help: "Mean listwise loss of the most recent training call",
		},
	)

	TrainSamplesUsed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memrankd_train_samples_used_total",
			Help: "Training samples loaded for database training runs",
		},
	)

	TrainSamplesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memrankd_train_samples_skipped_total",
			Help: "Training samples skipped by the database loader (low confidence or malformed)",
		},
	)

	TrainRunsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memrankd_train_runs_rejected_total",
			Help: "Training runs rejected by canary acceptance",
		},
	)

	ModelVersion = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "memrankd_model_version",
			Help: "Current model version",
		},
	)

	// Checkpoint metrics
	CheckpointSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memrankd_checkpoint_saves_total",
			Help: "Checkpoint save attempts by outcome",
		},
		[]string{"status"},
	)

	CheckpointLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memrankd_checkpoint_loads_total",
			Help: "Checkpoint load attempts by outcome",
		},
		[]string{"status"},
	)

	// Data loader metrics
	DBSessionsLoaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "memrankd_db_sessions_loaded_total",
			Help: "Training sessions successfully loaded from the database",
		},
	)

	DBSessionsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memrankd_db_sessions_skipped_total",
			Help: "Training sessions skipped during load",
		},
		[]string{"reason"}, // "low_confidence", "malformed"
	)
)
