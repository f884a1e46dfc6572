// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package wbfw

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wirenboard/wb-fw-updater/internal/errs"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "firmware.wbfw")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestParse_ThreeChunkArtifact(t *testing.T) {
	art := &Artifact{
		Chunks: [][]uint16{
			make([]uint16, DataChunkLen),
			make([]uint16, DataChunkLen),
			make([]uint16, 20),
		},
	}
	for idx := range art.Info {
		art.Info[idx] = uint16(idx)
	}
	data := Serialize(art)
	if len(data) != 344 {
		t.Fatalf("Serialize() produced %d bytes, want 344", len(data))
	}

	got, err := Parse(writeTemp(t, data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got.Chunks) != 3 {
		t.Fatalf("Parse() chunks = %d, want 3", len(got.Chunks))
	}
	wantLens := []int{68, 68, 20}
	for idx, chunk := range got.Chunks {
		if len(chunk) != wantLens[idx] {
			t.Errorf("chunk %d length = %d, want %d", idx, len(chunk), wantLens[idx])
		}
	}
	if got.Info != art.Info {
		t.Fatalf("Parse() info = %v, want %v", got.Info, art.Info)
	}
}

func TestParse_RejectsOddLength(t *testing.T) {
	data := make([]byte, 33)
	_, err := Parse(writeTemp(t, data))

	var incorrect *errs.IncorrectFwError
	if !errors.As(err, &incorrect) {
		t.Fatalf("Parse() error = %v, want *errs.IncorrectFwError", err)
	}
}

func TestParse_RejectsTruncatedInfoBlock(t *testing.T) {
	data := make([]byte, 20)
	_, err := Parse(writeTemp(t, data))

	var incorrect *errs.IncorrectFwError
	if !errors.As(err, &incorrect) {
		t.Fatalf("Parse() error = %v, want *errs.IncorrectFwError", err)
	}
}

func TestChunkOffset(t *testing.T) {
	if got := ChunkOffset(0); got != 0 {
		t.Errorf("ChunkOffset(0) = %d, want 0", got)
	}
	if got := ChunkOffset(2); got != 136 {
		t.Errorf("ChunkOffset(2) = %d, want 136", got)
	}
}
