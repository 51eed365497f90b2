// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

package checkpoint

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memrankd/memrankd/internal/autograd"
	"github.com/memrankd/memrankd/internal/model"
)

func testConfig() model.Config {
	return model.Config{
		NativeDim:     8,
		InternalDim:   4,
		ValueDim:      2,
		ExtraFeatures: 3,
		HashBuckets:   32,
		ProjectSlots:  4,
	}
}

func newScorer(seed uint64, cfg model.Config) (*model.Scorer, *autograd.Params) {
	store := autograd.NewParams()
	scorer := model.NewScorer(store, autograd.NewRng(seed), cfg)
	return scorer, store
}

func TestRoundTripRestoresParametersBitExactly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt")
	scorer, store := newScorer(42, testConfig())

	require.NoError(t, Save(path, scorer, store, 7))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Version, loaded.Version)
	assert.Equal(t, uint32(7), loaded.Flags)
	assert.Equal(t, testConfig(), loaded.Config)

	// A fresh scorer from a different seed starts with different weights;
	// apply must restore every slot to bit equality with the saved one.
	fresh, freshStore := newScorer(999, testConfig())
	require.NoError(t, loaded.Apply(fresh, freshStore))

	origIdx := scorer.ParamIndices()
	freshIdx := fresh.ParamIndices()
	for slot := range origIdx {
		orig := store.At(origIdx[slot]).Data
		restored := freshStore.At(freshIdx[slot]).Data
		require.Len(t, restored, len(orig), "slot %d", slot)
		for i := range orig {
			if orig[i] != restored[i] {
				t.Fatalf("slot %d element %d not bit-equal: %v != %v", slot, i, orig[i], restored[i])
			}
		}
	}
}

func TestHeaderLayoutIsByteExact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt")
	scorer, store := newScorer(1, testConfig())
	require.NoError(t, Save(path, scorer, store, 0xdeadbeef))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	require.Equal(t, []byte("SGPT"), raw[:4])
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(raw[4:8]))
	assert.Equal(t, uint32(0xdeadbeef), binary.LittleEndian.Uint32(raw[8:12]))

	cfgLen := binary.LittleEndian.Uint32(raw[12:16])
	cfgEnd := 16 + int(cfgLen)
	assert.JSONEq(t,
		`{"native_dim":8,"internal_dim":4,"value_dim":2,"extra_features":3,"hash_buckets":32,"project_slots":4}`,
		string(raw[16:cfgEnd]))
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(raw[cfgEnd:cfgEnd+4]))
}

func TestLoadRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ckpt")
	require.NoError(t, os.WriteFile(path, []byte("NOPE then some bytes"), 0o600))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrFormat)
}

func TestLoadRejectsTruncatedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt")
	scorer, store := newScorer(3, testConfig())
	require.NoError(t, Save(path, scorer, store, 0))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, cut := range []int{3, 10, len(raw) / 2, len(raw) - 1} {
		short := filepath.Join(dir, "short.ckpt")
		require.NoError(t, os.WriteFile(short, raw[:cut], 0o600))
		_, err := Load(short)
		require.ErrorIs(t, err, ErrFormat, "cut at %d bytes", cut)
	}
}

func TestLoadPropagatesMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.ckpt"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrFormat)
}

func TestApplyRejectsMismatchedShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt")
	scorer, store := newScorer(5, testConfig())
	require.NoError(t, Save(path, scorer, store, 0))

	loaded, err := Load(path)
	require.NoError(t, err)

	bigger := testConfig()
	bigger.InternalDim = 8
	other, otherStore := newScorer(5, bigger)
	require.ErrorIs(t, loaded.Apply(other, otherStore), ErrFormat)

	loaded.Params = loaded.Params[:6]
	same, sameStore := newScorer(5, testConfig())
	require.ErrorIs(t, loaded.Apply(same, sameStore), ErrFormat)
}

func TestApplyShapeFailureLeavesTargetUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.ckpt")
	scorer, store := newScorer(5, testConfig())
	require.NoError(t, Save(path, scorer, store, 0))

	loaded, err := Load(path)
	require.NoError(t, err)
	// Corrupt one payload length; apply must reject before copying anything.
	loaded.Params[3] = loaded.Params[3][:1]

	target, targetStore := newScorer(777, testConfig())
	before := append([]float64(nil), targetStore.At(target.ParamIndices()[0]).Data...)
	require.ErrorIs(t, loaded.Apply(target, targetStore), ErrFormat)
	assert.Equal(t, before, targetStore.At(target.ParamIndices()[0]).Data)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "model.ckpt")
	scorer, store := newScorer(5, testConfig())

	require.NoError(t, Save(path, scorer, store, 1))
	require.NoError(t, Save(path, scorer, store, 2))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), loaded.Flags)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no temp files left behind")
}
