// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package model

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/memrankd/memrankd/internal/autograd"
)

var (
	// ErrShapeMismatch reports an input whose width disagrees with the
	// configured dimensions. The call is rejected before the mismatched
	// input reaches the tape.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrEmptyCandidates reports a score call with no candidates.
	ErrEmptyCandidates = errors.New("empty candidate set")

	// ErrNoContent reports a candidate with neither a native embedding nor
	// raw text to encode.
	ErrNoContent = errors.New("candidate has neither embedding nor text")
)

// Config holds the scorer dimensions. It is serialized verbatim into the
// checkpoint config blob, so field names are part of the on-disk format.
type Config struct {
	NativeDim     int `json:"native_dim" koanf:"native_dim" validate:"gt=0"`
	InternalDim   int `json:"internal_dim" koanf:"internal_dim" validate:"gt=0"`
	ValueDim      int `json:"value_dim" koanf:"value_dim" validate:"gt=0"`
	ExtraFeatures int `json:"extra_features" koanf:"extra_features" validate:"gte=0"`
	HashBuckets   int `json:"hash_buckets" koanf:"hash_buckets" validate:"gt=0"`
	ProjectSlots  int `json:"project_slots" koanf:"project_slots" validate:"gt=0"`
}

// DefaultConfig returns the production dimensions.
func DefaultConfig() Config {
	return Config{
		NativeDim:     768,
		InternalDim:   64,
		ValueDim:      32,
		ExtraFeatures: 12,
		HashBuckets:   16384,
		ProjectSlots:  32,
	}
}

// Validate checks that every dimension is usable.
func (c Config) Validate() error {
	if c.NativeDim <= 0 || c.InternalDim <= 0 || c.ValueDim <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrShapeMismatch)
	}
	if c.ExtraFeatures < 0 {
		return fmt.Errorf("%w: extra_features must be >= 0", ErrShapeMismatch)
	}
	if c.HashBuckets <= 0 || c.ProjectSlots <= 0 {
		return fmt.Errorf("%w: table sizes must be positive", ErrShapeMismatch)
	}
	return nil
}

// Candidate is one memory under consideration. Embedding, when non-nil,
// must have the native width; Text, when non-nil, is the hash-trick
// fallback. A candidate must provide at least one of the two.
type Candidate struct {
	ID        string
	Embedding []float64
	Text      *string
	Features  []float64
}

// Scored is one ranked output entry: softmax probability plus the raw
// pre-softmax logit.
type Scored struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Logit float64 `json:"logit"`
}

// Scorer wires tape primitives into the cross-attention scoring function.
// Construction allocates the seven parameter slots in checkpoint order;
// the scorer itself is stateless between calls apart from those
// parameters.
type Scorer struct {
	config Config

	downProj     int
	qProj        int
	kProj        int
	vProj        int
	gateProj     int
	hashEmbed    int
	projectEmbed int

	tokenizer *Tokenizer
}

// NewScorer allocates the scorer's parameters in store, initialized from
// rng with std = 1/sqrt(fan-in): the native width for the down-projection,
// the internal width for everything else.
func NewScorer(store *autograd.Params, rng *autograd.Rng, config Config) *Scorer {
	dStd := 1.0 / math.Sqrt(float64(config.NativeDim))
	hStd := 1.0 / math.Sqrt(float64(config.InternalDim))

	gateWidth := config.ValueDim + config.ExtraFeatures + config.InternalDim + 1

	return &Scorer{
		config:       config,
		downProj:     store.Add(autograd.Matrix(rng, config.InternalDim, config.NativeDim, dStd)),
		qProj:        store.Add(autograd.Matrix(rng, config.InternalDim, config.InternalDim, hStd)),
		kProj:        store.Add(autograd.Matrix(rng, config.InternalDim, config.InternalDim, hStd)),
		vProj:        store.Add(autograd.Matrix(rng, config.ValueDim, config.InternalDim, hStd)),
		gateProj:     store.Add(autograd.Matrix(rng, 1, gateWidth, hStd)),
		hashEmbed:    store.Add(autograd.Matrix(rng, config.HashBuckets, config.InternalDim, hStd)),
		projectEmbed: store.Add(autograd.Matrix(rng, config.ProjectSlots, config.InternalDim, hStd)),
		tokenizer:    NewTokenizer(config.HashBuckets),
	}
}

// Config returns the scorer dimensions.
func (s *Scorer) Config() Config {
	return s.config
}

// ParamIndices returns the seven parameter slots in the fixed checkpoint
// order: down-proj, Q, K, V, gate, hash-embedding, project-embedding.
func (s *Scorer) ParamIndices() [7]int {
	return [7]int{
		s.downProj,
		s.qProj,
		s.kProj,
		s.vProj,
		s.gateProj,
		s.hashEmbed,
		s.projectEmbed,
	}
}

// encodeCandidate produces the internal-width encoding of one candidate:
// down-projected and layer-normalized native embedding when present,
// otherwise mean-pooled hash-trick token embeddings. An empty token list
// encodes to the zero vector.
func (s *Scorer) encodeCandidate(tape *autograd.Tape, c *Candidate) (autograd.Act, error) {
	if len(c.Embedding) == s.config.NativeDim {
		emb := tape.Constant(c.Embedding)
		down := tape.MatVec(s.downProj, emb)
		return tape.LayerNorm(down), nil
	}

	if c.Text != nil {
		tokenIDs := s.tokenizer.TokenIndices(*c.Text)
		if len(tokenIDs) == 0 {
			return tape.Constant(make([]float64, s.config.InternalDim)), nil
		}
		embeds := make([]autograd.Act, len(tokenIDs))
		for i, idx := range tokenIDs {
			embeds[i] = tape.EmbedRow(s.hashEmbed, idx)
		}
		pooled := tape.MeanPool(embeds)
		return tape.LayerNorm(pooled), nil
	}

	return 0, fmt.Errorf("%w: candidate %q", ErrNoContent, c.ID)
}

// ForwardLogits builds the forward DAG and returns the length-N activation
// of pre-softmax candidate logits. The caller owns tape lifecycle; this
// does not reset the tape, so training can extend the same DAG with a
// loss node.
func (s *Scorer) ForwardLogits(tape *autograd.Tape, query []float64, candidates []Candidate, projectSlot int) (autograd.Act, error) {
	if len(query) != s.config.NativeDim {
		return 0, fmt.Errorf("%w: query dim %d, expected %d", ErrShapeMismatch, len(query), s.config.NativeDim)
	}
	if len(candidates) == 0 {
		return 0, ErrEmptyCandidates
	}

	queryAct := tape.Constant(query)
	queryDown := tape.MatVec(s.downProj, queryAct)
	queryNorm := tape.LayerNorm(queryDown)
	q := tape.MatVec(s.qProj, queryNorm)

	slot := projectSlot % s.config.ProjectSlots
	if slot < 0 {
		slot += s.config.ProjectSlots
	}
	projectEmbedding := tape.EmbedRow(s.projectEmbed, slot)

	invSqrtDim := 1.0 / math.Sqrt(float64(s.config.InternalDim))
	logits := make([]autograd.Act, 0, len(candidates))

	for i := range candidates {
		c := &candidates[i]
		if len(c.Features) != s.config.ExtraFeatures {
			return 0, fmt.Errorf("%w: candidate %q feature dim %d, expected %d",
				ErrShapeMismatch, c.ID, len(c.Features), s.config.ExtraFeatures)
		}

		encoded, err := s.encodeCandidate(tape, c)
		if err != nil {
			return 0, err
		}
		k := tape.MatVec(s.kProj, encoded)
		v := tape.MatVec(s.vProj, encoded)

		similarity := tape.Dot(q, k)
		scaledSimilarity := tape.Scale(similarity, invSqrtDim)

		featureAct := tape.Constant(c.Features)
		bias := tape.Constant([]float64{1.0})
		gateInput := tape.FeatureConcat([]autograd.Act{v, featureAct, projectEmbedding, bias})
		gateLogit := tape.MatVec(s.gateProj, gateInput)

		logits = append(logits, tape.VecAdd(scaledSimilarity, gateLogit))
	}

	return tape.FeatureConcat(logits), nil
}

// Score resets the tape, builds a fresh forward pass, and returns the
// candidates sorted by softmax probability descending. Candidates with
// exactly equal probability keep their insertion order.
func (s *Scorer) Score(tape *autograd.Tape, query []float64, candidates []Candidate, projectSlot int) ([]Scored, error) {
	tape.Reset()

	logits, err := s.ForwardLogits(tape, query, candidates, projectSlot)
	if err != nil {
		return nil, err
	}
	probs := tape.Softmax(logits)

	probValues := tape.Value(probs)
	logitValues := tape.Value(logits)

	scored := make([]Scored, len(candidates))
	for i := range candidates {
		scored[i] = Scored{
			ID:    candidates[i].ID,
			Score: probValues[i],
			Logit: logitValues[i],
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	return scored, nil
}
