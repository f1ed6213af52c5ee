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
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/willf/bitset"
	"go.uber.org/atomic"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/metainfo"
	"github.com/coreswarm/torrent/lib/torrent/piece"
	"github.com/coreswarm/torrent/lib/torrent/storage/piecereader"
)

type pieceStatus int32

const (
	_empty pieceStatus = iota
	_dirty
	_complete
)

// trackedPiece pairs a piece.Piece's hash/part bookkeeping with the
// write-claim state needed to finalize it exactly once when its last part
// arrives.
type trackedPiece struct {
	*piece.Piece

	mu     sync.RWMutex
	status pieceStatus
}

func (p *trackedPiece) complete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == _complete
}

// tryMarkDirty transitions an empty piece to dirty, claiming the exclusive
// right to validate and write it. Reports the piece's prior state.
func (p *trackedPiece) tryMarkDirty() (alreadyDirty, alreadyComplete bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.status {
	case _empty:
		p.status = _dirty
	case _dirty:
		alreadyDirty = true
	case _complete:
		alreadyComplete = true
	}
	return
}

func (p *trackedPiece) markEmpty() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = _empty
}

func (p *trackedPiece) markComplete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = _complete
}

// LocalTorrent implements Torrent on top of a local filesystem directory,
// fanning each validated piece out to the files it overlaps per the
// torrent's metainfo. Allows concurrent writes on distinct pieces and
// concurrent reads on all pieces.
type LocalTorrent struct {
	mi          *metainfo.TorrentMetadata
	baseDir     string
	pieces      []*trackedPiece
	pool        *piece.Pool
	numComplete *atomic.Int32
	wasted      *atomic.Int64
}

// NewLocalTorrent creates a LocalTorrent rooted at baseDir. Any piece
// already fully present on disk should be marked complete by the caller via
// RestoreCompletedPieces before serving; a fresh torrent starts fully
// empty.
func NewLocalTorrent(baseDir string, mi *metainfo.TorrentMetadata) (*LocalTorrent, error) {
	if !mi.HasInfo() {
		return nil, &core.InvalidMetadataError{Reason: "cannot open storage for a torrent with no info dictionary"}
	}
	pieces := make([]*trackedPiece, mi.Info.NumPieces())
	for i := range pieces {
		offset := int64(i) * mi.Info.PieceLength
		length := mi.Info.PieceLengthAt(i)
		pieces[i] = &trackedPiece{
			Piece: piece.New(i, offset, length, mi.Info.Pieces[i], piece.DefaultPartLength, piece.Normal),
		}
	}
	return &LocalTorrent{
		mi:          mi,
		baseDir:     baseDir,
		pieces:      pieces,
		pool:        piece.NewPool(),
		numComplete: atomic.NewInt32(0),
		wasted:      atomic.NewInt64(0),
	}, nil
}

// RestoreCompletedPieces marks every piece index in done as already
// complete, used on startup to resume a partially downloaded torrent
// without re-verifying data known good from a prior run's bitfield.
func (t *LocalTorrent) RestoreCompletedPieces(done []int) {
	for _, i := range done {
		if i < 0 || i >= len(t.pieces) {
			continue
		}
		if !t.pieces[i].complete() {
			t.pieces[i].markComplete()
			t.numComplete.Inc()
		}
	}
}

// InfoHash returns the torrent's info hash.
func (t *LocalTorrent) InfoHash() core.InfoHash {
	return t.mi.InfoHash
}

// NumPieces returns the number of pieces in the torrent.
func (t *LocalTorrent) NumPieces() int {
	return len(t.pieces)
}

// Length returns the torrent's total length, padding files included.
func (t *LocalTorrent) Length() int64 {
	return t.mi.Info.TotalLength()
}

// PieceLength returns the length of piece pi.
func (t *LocalTorrent) PieceLength(pi int) int64 {
	return t.mi.Info.PieceLengthAt(pi)
}

// MaxPieceLength returns the longest piece length of the torrent.
func (t *LocalTorrent) MaxPieceLength() int64 {
	return t.mi.Info.PieceLength
}

// Complete indicates whether every piece has been written.
func (t *LocalTorrent) Complete() bool {
	return int(t.numComplete.Load()) == len(t.pieces)
}

// BytesDownloaded estimates the number of bytes downloaded so far.
func (t *LocalTorrent) BytesDownloaded() int64 {
	return min64(int64(t.numComplete.Load())*t.mi.Info.PieceLength, t.Length())
}

// WastedBytes returns the total bytes discarded to failed piece hash checks.
func (t *LocalTorrent) WastedBytes() int64 {
	return t.wasted.Load()
}

// Bitfield returns a snapshot of which pieces are complete.
func (t *LocalTorrent) Bitfield() *bitset.BitSet {
	b := bitset.New(uint(len(t.pieces)))
	for i, p := range t.pieces {
		if p.complete() {
			b.Set(uint(i))
		}
	}
	return b
}

func (t *LocalTorrent) String() string {
	pct := 0
	if len(t.pieces) > 0 {
		pct = int(t.numComplete.Load()) * 100 / len(t.pieces)
	}
	return fmt.Sprintf("torrent(hash=%s, downloaded=%d%%)", t.InfoHash().Hex(), pct)
}

func (t *LocalTorrent) getPiece(pi int) (*trackedPiece, error) {
	if pi < 0 || pi >= len(t.pieces) {
		return nil, &core.InvalidRangeError{
			Reason: fmt.Sprintf("piece index %d out of range [0,%d)", pi, len(t.pieces)),
		}
	}
	return t.pieces[pi], nil
}

// HasPiece reports whether piece pi is complete.
func (t *LocalTorrent) HasPiece(pi int) bool {
	p, err := t.getPiece(pi)
	return err == nil && p.complete()
}

// MissingPieces returns the indices of all incomplete pieces.
func (t *LocalTorrent) MissingPieces() []int {
	var missing []int
	for i, p := range t.pieces {
		if !p.complete() {
			missing = append(missing, i)
		}
	}
	return missing
}

// WritePart records a single received block at byte offset begin within
// piece pi's assembly buffer. begin and len(data) must exactly match one of
// the piece's part boundaries. Once every part of pi has arrived, the
// assembled bytes are validated against pi's expected hash: on success they
// are fanned out to every file the piece overlaps (padding files skipped)
// and pi is marked complete; on failure the piece's parts are reset, its
// length is added to WastedBytes, and ErrInvalidPieceData is returned.
func (t *LocalTorrent) WritePart(data []byte, pi, begin int) (bool, error) {
	p, err := t.getPiece(pi)
	if err != nil {
		return false, err
	}
	if p.complete() {
		return false, ErrPieceComplete
	}

	part, err := partForRange(p.Piece, begin, len(data))
	if err != nil {
		return false, err
	}

	t.pool.PutPart(pi, p.Length(), part, data)

	if !p.MarkPartComplete(part.Index) {
		return false, nil
	}

	// The part that completed the piece claims the exclusive right to
	// validate and write it; a concurrent duplicate (endgame mode can
	// request the same piece from multiple peers) just observes the
	// outcome.
	alreadyDirty, alreadyComplete := p.tryMarkDirty()
	if alreadyDirty {
		return false, ErrWritePieceConflict
	}
	if alreadyComplete {
		return true, ErrPieceComplete
	}

	assembled := t.pool.Assembled(pi)
	if !p.Validate(assembled) {
		p.ResetCompletedParts()
		t.pool.Release(pi)
		p.markEmpty()
		t.wasted.Add(p.Length())
		return false, ErrInvalidPieceData
	}

	if err := t.writePieceToFiles(assembled, pi); err != nil {
		p.ResetCompletedParts()
		t.pool.Release(pi)
		p.markEmpty()
		return false, fmt.Errorf("write piece %d: %s", pi, err)
	}

	t.pool.Release(pi)
	p.markComplete()
	t.numComplete.Inc()
	return true, nil
}

// partForRange finds the part of p whose boundaries exactly match
// [begin, begin+length), rejecting requests that don't land on a part
// boundary.
func partForRange(p *piece.Piece, begin, length int) (piece.Part, error) {
	idx := begin / piece.DefaultPartLength
	parts := p.Parts()
	if idx < 0 || idx >= len(parts) {
		return piece.Part{}, &core.InvalidRangeError{
			Reason: fmt.Sprintf("piece %d: part begin %d out of range", p.Index(), begin),
		}
	}
	part := parts[idx]
	if int64(begin) != part.Begin || int64(length) != part.Length {
		return piece.Part{}, &core.InvalidRangeError{
			Reason: fmt.Sprintf("piece %d: part [%d,%d) does not match expected boundary [%d,%d)",
				p.Index(), begin, begin+length, part.Begin, part.Begin+part.Length),
		}
	}
	return part, nil
}

func (t *LocalTorrent) writePieceToFiles(data []byte, pi int) error {
	start, end := t.pieceRange(pi)
	for _, span := range overlappingFiles(t.mi.Info.Files, start, end) {
		if span.file.Padding {
			continue
		}
		path := filepath.Join(t.baseDir, span.file.IOPath)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("mkdir: %s", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open %s: %s", path, err)
		}
		_, werr := f.WriteAt(data[span.dataOffset:span.dataOffset+span.length], span.fileOffset)
		cerr := f.Close()
		if werr != nil {
			return fmt.Errorf("write %s: %s", path, werr)
		}
		if cerr != nil {
			return fmt.Errorf("close %s: %s", path, cerr)
		}
	}
	return nil
}

// GetPieceReader returns a lazy reader for piece pi. pi must be complete.
func (t *LocalTorrent) GetPieceReader(pi int) (PieceReader, error) {
	p, err := t.getPiece(pi)
	if err != nil {
		return nil, err
	}
	if !p.complete() {
		return nil, &core.InvalidRangeError{Reason: fmt.Sprintf("piece %d not complete", pi)}
	}
	start, end := t.pieceRange(pi)
	return t.readerForRange(start, end)
}

// GetBlockReader returns a lazy reader for the byte range [begin, begin+length)
// of piece pi. pi must be complete.
func (t *LocalTorrent) GetBlockReader(pi, begin, length int) (PieceReader, error) {
	p, err := t.getPiece(pi)
	if err != nil {
		return nil, err
	}
	if !p.complete() {
		return nil, &core.InvalidRangeError{Reason: fmt.Sprintf("piece %d not complete", pi)}
	}
	if begin < 0 || length < 0 || int64(begin+length) > p.Length() {
		return nil, &core.InvalidRangeError{
			Reason: fmt.Sprintf("piece %d: block [%d,%d) out of range [0,%d)", pi, begin, begin+length, p.Length()),
		}
	}
	pieceStart, _ := t.pieceRange(pi)
	start := pieceStart + int64(begin)
	return t.readerForRange(start, start+int64(length))
}

// readerForRange returns a lazy reader for the torrent-wide byte range
// [start, end), which must lie entirely within already-written pieces.
func (t *LocalTorrent) readerForRange(start, end int64) (PieceReader, error) {
	spans := overlappingFiles(t.mi.Info.Files, start, end)

	if len(spans) == 1 && !spans[0].file.Padding {
		span := spans[0]
		path := filepath.Join(t.baseDir, span.file.IOPath)
		return piecereader.NewFileReader(span.fileOffset, span.length, fileOpener(path)), nil
	}

	// Spans a file boundary or consists solely of padding: assemble into
	// an in-memory buffer rather than exposing a multi-file reader.
	buf := make([]byte, end-start)
	for _, span := range spans {
		if span.file.Padding {
			continue
		}
		path := filepath.Join(t.baseDir, span.file.IOPath)
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %s", path, err)
		}
		_, rerr := f.ReadAt(buf[span.dataOffset:span.dataOffset+span.length], span.fileOffset)
		f.Close()
		if rerr != nil {
			return nil, fmt.Errorf("read %s: %s", path, rerr)
		}
	}
	return piecereader.NewBuffer(buf), nil
}

func (t *LocalTorrent) pieceRange(pi int) (start, end int64) {
	start = int64(pi) * t.mi.Info.PieceLength
	end = start + t.PieceLength(pi)
	return
}

type fileOpener string

func (o fileOpener) Open() (*os.File, error) {
	return os.Open(string(o))
}
