// Copyright (c) 2016-2019 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage binds a torrent's piece/file model to actual bytes on
// disk: write policy (which files a piece's bytes overlap), padding-file
// skipping, and lazy piece reads for the peer-wire uploader.
package storage

import (
	"errors"
	"io"

	"github.com/willf/bitset"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/metainfo"
)

// ErrPieceComplete occurs when a write targets a piece that has already
// validated and been written.
var ErrPieceComplete = errors.New("piece is already complete")

// ErrWritePieceConflict occurs when a write targets a piece that another
// goroutine is concurrently writing.
var ErrWritePieceConflict = errors.New("piece is already being written to")

// ErrInvalidPieceData occurs when a piece's assembled parts fail to
// validate against its expected hash. The piece is reset, not written, and
// its length is added to WastedBytes.
var ErrInvalidPieceData = errors.New("piece data does not match expected hash")

// PieceReader defines operations for lazy piece reading, so that a piece's
// bytes aren't pulled into memory until a peer actually requests them.
type PieceReader interface {
	io.ReadCloser
	Length() int
}

// Torrent is the read/write storage interface a torrent coordinator drives.
// A piece spans one or more files; once WritePart assembles and validates
// all of a piece's parts, its bytes are fanned out to every file it
// overlaps.
type Torrent interface {
	InfoHash() core.InfoHash
	NumPieces() int
	Length() int64
	PieceLength(piece int) int64
	MaxPieceLength() int64
	Complete() bool
	BytesDownloaded() int64
	// WastedBytes returns the total bytes discarded to failed piece hash
	// checks over the life of the torrent.
	WastedBytes() int64
	Bitfield() *bitset.BitSet
	String() string

	HasPiece(piece int) bool
	MissingPieces() []int

	// WritePart writes a single received block to piece's assembly buffer
	// at byte offset begin. begin and len(data) must exactly match one of
	// the piece's part boundaries (see piece.SplitParts). Reports whether
	// the piece is now complete. If the piece's assembled bytes fail to
	// validate against its expected hash once all parts arrive, the piece
	// is reset and ErrInvalidPieceData is returned.
	WritePart(data []byte, piece, begin int) (complete bool, err error)
	GetPieceReader(piece int) (PieceReader, error)
	// GetBlockReader returns a lazy reader for the byte range
	// [begin, begin+length) of piece. piece must be complete.
	GetBlockReader(piece, begin, length int) (PieceReader, error)
}

// Archive creates and opens torrent storage backed by a given info hash.
type Archive interface {
	Stat(ih core.InfoHash) (*TorrentInfo, error)
	CreateTorrent(mi *metainfo.TorrentMetadata) (Torrent, error)
	GetTorrent(ih core.InfoHash) (Torrent, error)
	DeleteTorrent(ih core.InfoHash) error
}
