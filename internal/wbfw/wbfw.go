// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package wbfw parses and serializes WBFW firmware artifacts: a fixed
// 16-register INFO header followed by zero or more DATA chunks of up to 68
// registers each, per spec.md §4.4. Every register is a big-endian u16, so
// the file on disk is always an even number of bytes.
package wbfw

import (
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
)

// InfoBlockLen and DataChunkLen are register counts, not byte counts -
// spec.md §4.4/§4.5.
const (
	InfoBlockLen = 16
	DataChunkLen = 68

	infoBlockBytes = InfoBlockLen * 2
	dataChunkBytes = DataChunkLen * 2
)

// Artifact is a fully-parsed WBFW file: the INFO header and the ordered
// DATA chunks that follow it. The last chunk may be shorter than
// DataChunkLen registers - it is sent short and unpadded, never zero-padded
// up to a full chunk (see SPEC_FULL.md Open Question Decision #1).
type Artifact struct {
	Info   [InfoBlockLen]uint16
	Chunks [][]uint16
}

// Parse memory-maps path and decodes it into an Artifact. The mapping is
// released before Parse returns; Artifact owns its own copies of the data.
func Parse(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer data.Unmap()

	return decode(data)
}

func decode(data []byte) (*Artifact, error) {
	if len(data)%2 != 0 {
		return nil, &errs.IncorrectFwError{Reason: "file length is not a whole number of 16-bit registers"}
	}
	if len(data) < infoBlockBytes {
		return nil, &errs.IncorrectFwError{Reason: "file is shorter than the INFO block"}
	}

	art := &Artifact{}
	for idx := 0; idx < InfoBlockLen; idx++ {
		art.Info[idx] = binary.BigEndian.Uint16(data[idx*2:])
	}

	rest := data[infoBlockBytes:]
	for len(rest) > 0 {
		n := len(rest)
		if n > dataChunkBytes {
			n = dataChunkBytes
		}
		if n%2 != 0 {
			return nil, &errs.IncorrectFwError{Reason: "trailing chunk is not a whole number of registers"}
		}
		words := make([]uint16, n/2)
		for idx := range words {
			words[idx] = binary.BigEndian.Uint16(rest[idx*2:])
		}
		art.Chunks = append(art.Chunks, words)
		rest = rest[n:]
	}
	return art, nil
}

// Serialize renders an Artifact back to the byte layout Parse reads,
// primarily for tests and for building synthetic artifacts.
func Serialize(art *Artifact) []byte {
	out := make([]byte, infoBlockBytes, infoBlockBytes+len(art.Chunks)*dataChunkBytes)
	for idx, v := range art.Info {
		binary.BigEndian.PutUint16(out[idx*2:], v)
	}
	for _, chunk := range art.Chunks {
		buf := make([]byte, len(chunk)*2)
		for idx, v := range chunk {
			binary.BigEndian.PutUint16(buf[idx*2:], v)
		}
		out = append(out, buf...)
	}
	return out
}

// ChunkOffset returns the register address where chunk index idx begins in
// the device's DATA address space - spec.md §4.5 writes each chunk at
// DataBlockStart + idx*DataChunkLen.
func ChunkOffset(idx int) uint16 {
	return uint16(idx * DataChunkLen)
}
