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
package piece

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/coreswarm/torrent/lib/torrent/metainfo"
)

// Piece is a single fixed-size content unit of a torrent: its hash, its
// constituent parts, and the bookkeeping needed to track completion.
type Piece struct {
	index           int
	offsetInTorrent int64
	length          int64
	hash            metainfo.PieceHashes
	parts           []Part

	priority     *atomic.Int32
	availability *atomic.Int32

	mu             sync.RWMutex
	completedParts []bool
}

// New builds a Piece with the given torrent-wide index, byte offset,
// length, hash, part size, and initial priority.
func New(index int, offsetInTorrent, length int64, hash metainfo.PieceHashes, partLength int64, priority Priority) *Piece {
	parts := splitParts(length, partLength)
	return &Piece{
		index:           index,
		offsetInTorrent: offsetInTorrent,
		length:          length,
		hash:            hash,
		parts:           parts,
		priority:        atomic.NewInt32(int32(priority)),
		availability:    atomic.NewInt32(0),
		completedParts:  make([]bool, len(parts)),
	}
}

// Index returns the piece's torrent-wide index.
func (p *Piece) Index() int { return p.index }

// OffsetInTorrent returns the piece's byte offset within the concatenation
// of all files, padding included.
func (p *Piece) OffsetInTorrent() int64 { return p.offsetInTorrent }

// Length returns the piece's byte length.
func (p *Piece) Length() int64 { return p.length }

// Range returns the piece's [start, end) byte range within the torrent.
func (p *Piece) Range() (start, end int64) {
	return p.offsetInTorrent, p.offsetInTorrent + p.length
}

// Hash returns the piece's v1/v2 hash pair.
func (p *Piece) Hash() metainfo.PieceHashes { return p.hash }

// Parts returns the piece's fixed-size parts, in order.
func (p *Piece) Parts() []Part { return p.parts }

// NumParts returns the number of parts in the piece.
func (p *Piece) NumParts() int { return len(p.parts) }

// Priority returns the piece's current download priority.
func (p *Piece) Priority() Priority {
	return Priority(p.priority.Load())
}

// SetPriority updates the piece's download priority.
func (p *Piece) SetPriority(pri Priority) {
	p.priority.Store(int32(pri))
}

// Availability returns the number of connected peers known to have this
// piece.
func (p *Piece) Availability() int32 {
	return p.availability.Load()
}

// IncAvailability records that one more connected peer has this piece.
func (p *Piece) IncAvailability() {
	p.availability.Inc()
}

// DecAvailability records that a peer with this piece disconnected.
func (p *Piece) DecAvailability() {
	if p.availability.Load() > 0 {
		p.availability.Dec()
	}
}

// MarkPartComplete records that partIndex has been fully received and
// reports whether every part of the piece is now complete.
func (p *Piece) MarkPartComplete(partIndex int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if partIndex < 0 || partIndex >= len(p.completedParts) {
		return false
	}
	p.completedParts[partIndex] = true
	return p.allPartsCompleteLocked()
}

// AllPartsComplete reports whether every part bit is set, independent of
// whether the assembled bytes have been hash-validated.
func (p *Piece) AllPartsComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.allPartsCompleteLocked()
}

func (p *Piece) allPartsCompleteLocked() bool {
	for _, done := range p.completedParts {
		if !done {
			return false
		}
	}
	return true
}

// ResetCompletedParts clears every part bit, used after a failed hash
// validation or an invalid-data report from a peer.
func (p *Piece) ResetCompletedParts() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.completedParts {
		p.completedParts[i] = false
	}
}

// MissingParts returns the indices of parts that have not yet been
// received, in order.
func (p *Piece) MissingParts() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var missing []int
	for i, done := range p.completedParts {
		if !done {
			missing = append(missing, i)
		}
	}
	return missing
}

// Validate reports whether assembled matches the piece's stored hash.
// Prefers the v2 (SHA-256) hash when both are present.
func (p *Piece) Validate(assembled []byte) bool {
	if int64(len(assembled)) != p.length {
		return false
	}
	if p.hash.V2 != nil {
		return p.hash.V2.Matches(assembled)
	}
	if p.hash.V1 != nil {
		return p.hash.V1.Matches(assembled)
	}
	return false
}
