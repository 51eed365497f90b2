// Memrankd - Context Memory Ranking and Training Worker
// Copyright 2026 Memrankd Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/memrankd/memrankd

// Package checkpoint reads and writes the binary model container.
//
// The format is little-endian throughout:
//
//	magic    : 4 bytes, ASCII "SGPT"
//	version  : u32 (current = 1)
//	flags    : u32 (caller-defined, opaque)
//	cfg_len  : u32
//	cfg      : cfg_len bytes of JSON scorer configuration
//	n_params : u32
//	per parameter, in the fixed 7-slot order:
//	  data_len : u32
//	  data     : data_len IEEE-754 doubles
//
// Save writes atomically: the payload goes to a temporary file in the
// target directory and is renamed into place, so a crashed save never
// leaves a truncated checkpoint at the configured path.
package checkpoint

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/memrankd/memrankd/internal/autograd"
	"github.com/memrankd/memrankd/internal/model"
)

var magic = [4]byte{'S', 'G', 'P', 'T'}

// Version is the current container version.
const Version uint32 = 1

// ErrFormat reports a malformed checkpoint: wrong magic, truncated
// payload, or a parameter count/length that disagrees with the target
// scorer on apply. Plain I/O failures are returned unwrapped.
var ErrFormat = errors.New("invalid checkpoint format")

// Loaded is a checkpoint read back from disk, not yet applied to a
// scorer.
type Loaded struct {
	Version uint32
	Flags   uint32
	Config  model.Config
	Params  [][]float64
}

// Save serializes the scorer configuration and its seven parameter slots
// to path.
func Save(path string, scorer *model.Scorer, store *autograd.Params, flags uint32) error {
	configJSON, err := json.Marshal(scorer.Config())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return err
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	w := bufio.NewWriter(tmp)
	if err := writeBody(w, configJSON, scorer, store, flags); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

func writeBody(w io.Writer, configJSON []byte, scorer *model.Scorer, store *autograd.Params, flags uint32) error {
	if _, err := w.Write(magic[:]); err != nil {
		return err
	}
	for _, v := range []uint32{Version, flags, uint32(len(configJSON))} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if _, err := w.Write(configJSON); err != nil {
		return err
	}

	indices := scorer.ParamIndices()
	if err := binary.Write(w, binary.LittleEndian, uint32(len(indices))); err != nil {
		return err
	}
	buf := make([]byte, 8)
	for _, idx := range indices {
		p := store.At(idx)
		if err := binary.Write(w, binary.LittleEndian, uint32(len(p.Data))); err != nil {
			return err
		}
		for _, v := range p.Data {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			if _, err := w.Write(buf); err != nil {
				return err
			}
		}
	}
	return nil
}

// Load reads and validates a checkpoint from path. I/O errors propagate;
// a bad magic or truncated payload is an ErrFormat.
func Load(path string) (*Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	r := bufio.NewReader(f)

	var gotMagic [4]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, truncated(err)
	}
	if !bytes.Equal(gotMagic[:], magic[:]) {
		return nil, fmt.Errorf("%w: bad magic %q", ErrFormat, gotMagic)
	}

	version, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	flags, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	configLen, err := readUint32(r)
	if err != nil {
		return nil, err
	}

	configBytes := make([]byte, configLen)
	if _, err := io.ReadFull(r, configBytes); err != nil {
		return nil, truncated(err)
	}
	var config model.Config
	if err := json.Unmarshal(configBytes, &config); err != nil {
		return nil, fmt.Errorf("%w: config blob: %v", ErrFormat, err)
	}

	paramCount, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	params := make([][]float64, 0, paramCount)
	buf := make([]byte, 8)
	for i := uint32(0); i < paramCount; i++ {
		dataLen, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		values := make([]float64, dataLen)
		for j := range values {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, truncated(err)
			}
			values[j] = math.Float64frombits(binary.LittleEndian.Uint64(buf))
		}
		params = append(params, values)
	}

	return &Loaded{
		Version: version,
		Flags:   flags,
		Config:  config,
		Params:  params,
	}, nil
}

// Apply copies the loaded parameter payloads into the target scorer's
// store by slot index. The parameter count and every length must agree
// with the live scorer.
func (l *Loaded) Apply(scorer *model.Scorer, store *autograd.Params) error {
	indices := scorer.ParamIndices()
	if len(l.Params) != len(indices) {
		return fmt.Errorf("%w: parameter count mismatch: %d != %d",
			ErrFormat, len(l.Params), len(indices))
	}

	for slot, idx := range indices {
		target := store.At(idx)
		if len(target.Data) != len(l.Params[slot]) {
			return fmt.Errorf("%w: parameter %d size mismatch: %d != %d",
				ErrFormat, slot, len(target.Data), len(l.Params[slot]))
		}
	}
	for slot, idx := range indices {
		copy(store.At(idx).Data, l.Params[slot])
	}
	return nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, truncated(err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// truncated maps an unexpected EOF mid-structure to ErrFormat; other read
// failures stay I/O errors.
func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated file", ErrFormat)
	}
	return err
}
