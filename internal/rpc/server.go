// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package rpc

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/memrankd/memrankd/internal/logging"
	"github.com/memrankd/memrankd/internal/metrics"
	"github.com/memrankd/memrankd/internal/model"
	"github.com/memrankd/memrankd/internal/service"
)

// maxLineBytes bounds one request line. A full-width score call carries
// hundreds of 768-float embeddings, so the default bufio limit is far too
// small.
const maxLineBytes = 64 << 20

// Server reads requests line by line and dispatches them sequentially to
// the service. It implements suture.Service; Serve returns nil on input
// EOF. Suture would restart a service that returns nil, so the worker's
// entry point wraps the server to turn that return into tree termination.
type Server struct {
	svc    *service.Service
	in     io.Reader
	out    io.Writer
	logger zerolog.Logger
}

// NewServer wires a server over the given streams. For the worker these
// are stdin and stdout; tests substitute buffers.
func NewServer(svc *service.Service, in io.Reader, out io.Writer) *Server {
	return &Server{
		svc:    svc,
		in:     in,
		out:    out,
		logger: logging.With().Str("component", "rpc").Logger(),
	}
}

// Serve processes requests until the input stream ends or ctx is
// cancelled. Requests are handled strictly in arrival order; cancellation
// is only observed between requests, never mid-call.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	out := bufio.NewWriter(s.out)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("read input: %w", err)
				}
				s.logger.Info().Msg("input stream closed, shutting down")
				return nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			s.writeResponse(out, s.handleLine(ctx, line))
		}
	}
}

func (s *Server) String() string {
	return "rpc-server"
}

// handleLine parses one request line and dispatches it.
func (s *Server) handleLine(ctx context.Context, line string) Response {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return failure(nil, CodeParse, fmt.Sprintf("invalid JSON: %v", err))
	}
	if req.JSONRPC != "2.0" {
		return failure(req.ID, CodeInvalidRequest, "jsonrpc must be '2.0'")
	}

	start := time.Now()
	resp := s.dispatch(ctx, &req)

	status := "ok"
	if resp.Error != nil {
		status = "error"
	}
	metrics.RequestsTotal.WithLabelValues(req.Method, status).Inc()
	metrics.RequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	s.logger.Debug().
		Str("method", req.Method).
		Str("status", status).
		Dur("elapsed", time.Since(start)).
		Msg("request handled")

	return resp
}

func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	switch req.Method {
	case "status":
		return s.handleStatus(req)
	case "score":
		return s.handleScore(req)
	case "train":
		return s.handleTrain(req)
	case "train_from_db":
		return s.handleTrainFromDB(ctx, req)
	case "save_checkpoint":
		return s.handleSaveCheckpoint(req)
	default:
		return failure(req.ID, CodeMethodNotFound, "method not found")
	}
}

func (s *Server) handleStatus(req *Request) Response {
	st := s.svc.Status()
	result := StatusResult{
		Trained:       st.Trained,
		TrainingPairs: st.TrainingPairs,
		ModelVersion:  st.ModelVersion,
	}
	if st.LastTrained != "" {
		result.LastTrained = &st.LastTrained
	}
	return success(req.ID, result)
}

func (s *Server) handleScore(req *Request) Response {
	var params ScoreParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return failure(req.ID, CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	candidates, err := assembleCandidates(&params, s.svc.Config().Model.ExtraFeatures)
	if err != nil {
		return failure(req.ID, CodeApp, err.Error())
	}

	scored, err := s.svc.Score(params.ContextEmbedding, candidates, params.ProjectSlot)
	if err != nil {
		return failure(req.ID, CodeApp, err.Error())
	}

	result := ScoreResult{Scores: make([]ScoredMemory, len(scored))}
	for i, sc := range scored {
		result.Scores[i] = ScoredMemory{ID: sc.ID, Score: sc.Score, Logit: sc.Logit}
	}
	return success(req.ID, result)
}

// assembleCandidates applies the transport's defaulting rules: wholesale
// omitted arrays are legal, partial ones must line up with candidate_ids.
func assembleCandidates(params *ScoreParams, featureWidth int) ([]model.Candidate, error) {
	n := len(params.CandidateIDs)
	if len(params.CandidateEmbeddings) != 0 && len(params.CandidateEmbeddings) != n {
		return nil, fmt.Errorf("candidate_ids and candidate_embeddings length mismatch")
	}
	if len(params.CandidateTexts) != 0 && len(params.CandidateTexts) != n {
		return nil, fmt.Errorf("candidate_ids and candidate_texts length mismatch")
	}
	if len(params.CandidateFeatures) != 0 && len(params.CandidateFeatures) != n {
		return nil, fmt.Errorf("candidate_ids and candidate_features length mismatch")
	}

	candidates := make([]model.Candidate, n)
	for i, id := range params.CandidateIDs {
		c := model.Candidate{ID: id}
		if len(params.CandidateEmbeddings) == n {
			c.Embedding = params.CandidateEmbeddings[i]
		}
		if len(params.CandidateTexts) == n {
			c.Text = params.CandidateTexts[i]
		}
		if len(params.CandidateFeatures) == n {
			c.Features = params.CandidateFeatures[i]
		} else {
			c.Features = make([]float64, featureWidth)
		}
		candidates[i] = c
	}
	return candidates, nil
}

func (s *Server) handleTrain(req *Request) Response {
	var params TrainParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return failure(req.ID, CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if params.Temperature == 0 {
		params.Temperature = 0.5
	}

	result, err := s.svc.Train(
		params.ContextEmbedding,
		params.CandidateEmbeddings,
		params.CandidateFeatures,
		params.Labels,
		params.ProjectSlot,
		params.Temperature,
	)
	if err != nil {
		return failure(req.ID, CodeApp, err.Error())
	}
	return success(req.ID, TrainResult{Loss: result.Loss, Step: result.Step})
}

func (s *Server) handleTrainFromDB(ctx context.Context, req *Request) Response {
	var params TrainFromDBParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return failure(req.ID, CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if params.DBPath == "" {
		return failure(req.ID, CodeInvalidParams, "db_path required")
	}

	result, err := s.svc.TrainFromDB(ctx,
		params.DBPath,
		params.CheckpointPath,
		params.Limit,
		params.Epochs,
		params.Temperature,
		params.MinConfidence,
	)
	if err != nil {
		return failure(req.ID, CodeApp, err.Error())
	}
	return success(req.ID, TrainFromDBResult{
		Loss:                result.Loss,
		Step:                result.Step,
		SamplesUsed:         result.SamplesUsed,
		SamplesSkipped:      result.SamplesSkipped,
		DurationMs:          result.DurationMs,
		CanaryScoreVariance: result.CanaryScoreVariance,
		CanaryTopKStability: result.CanaryTopKStability,
		CheckpointSaved:     result.CheckpointSaved,
	})
}

func (s *Server) handleSaveCheckpoint(req *Request) Response {
	var params SaveCheckpointParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return failure(req.ID, CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	if err := s.svc.SaveCheckpoint(params.Path, params.Flags); err != nil {
		return failure(req.ID, CodeApp, err.Error())
	}
	return success(req.ID, SaveCheckpointResult{Saved: true})
}

// writeResponse serializes one response and flushes it as a single line.
func (s *Server) writeResponse(out *bufio.Writer, resp Response) {
	payload, err := json.Marshal(resp)
	if err != nil {
		// The response itself failed to serialize; emit a minimal internal
		// error so the peer's request does not hang.
		payload = []byte(fmt.Sprintf(
			`{"jsonrpc":"2.0","id":null,"error":{"code":%d,"message":"response serialization error"}}`,
			CodeInternal))
	}
	if _, err := out.Write(payload); err != nil {
		s.logger.Error().Err(err).Msg("write response")
		return
	}
	if err := out.WriteByte('\n'); err != nil {
		s.logger.Error().Err(err).Msg("write response delimiter")
		return
	}
	if err := out.Flush(); err != nil {
		s.logger.Error().Err(err).Msg("flush response")
	}
}
