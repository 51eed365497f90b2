// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package model

const (
	fnvOffset = 0xcbf29ce484222325
	fnvPrime  = 0x100000001b3
)

// Tokenizer hashes text tokens into a fixed number of embedding buckets.
// Tokens share an embedding row per bucket (the hash trick), so the
// vocabulary never grows and no token table is persisted.
type Tokenizer struct {
	buckets int
}

// NewTokenizer returns a tokenizer over the given bucket count.
func NewTokenizer(buckets int) *Tokenizer {
	if buckets <= 0 {
		panic("model: tokenizer buckets must be > 0")
	}
	return &Tokenizer{buckets: buckets}
}

// Buckets returns the configured bucket count.
func (tk *Tokenizer) Buckets() int {
	return tk.buckets
}

// TokenIndices splits text on any character that is not ASCII
// alphanumeric, '_' or '-', drops empty tokens, and maps each token to
// its FNV-1a bucket. Empty text yields an empty slice.
func (tk *Tokenizer) TokenIndices(text string) []int {
	var indices []int
	start := -1
	for i := 0; i <= len(text); i++ {
		if i < len(text) && isTokenByte(text[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			h := fnv1a([]byte(text[start:i]))
			indices = append(indices, int(h%uint64(tk.buckets)))
			start = -1
		}
	}
	return indices
}

func isTokenByte(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return true
	case b == '_', b == '-':
		return true
	}
	return false
}

// fnv1a is the 64-bit FNV-1a hash. The offset and prime are pinned here
// rather than taken from hash/fnv because bucket assignments are part of
// the checkpoint compatibility contract.
func fnv1a(bytes []byte) uint64 {
	hash := uint64(fnvOffset)
	for _, b := range bytes {
		hash ^= uint64(b)
		hash *= fnvPrime
	}
	return hash
}
