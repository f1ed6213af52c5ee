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

import "sync"

// Pool assembles part data into whole-piece buffers, keyed by piece index.
// A torrent coordinator feeds it every received (piece, part, data) triple
// and asks for the assembled bytes once a piece's parts are all present.
type Pool struct {
	mu      sync.Mutex
	buffers map[int][]byte
}

// NewPool creates an empty chunk pool.
func NewPool() *Pool {
	return &Pool{buffers: make(map[int][]byte)}
}

// PutPart writes data at part.Begin within the buffer for pieceIndex,
// allocating the buffer on first use. pieceLength is needed to size the
// buffer on allocation; it is ignored on subsequent calls for the same
// piece.
func (p *Pool) PutPart(pieceIndex int, pieceLength int64, part Part, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf, ok := p.buffers[pieceIndex]
	if !ok {
		buf = make([]byte, pieceLength)
		p.buffers[pieceIndex] = buf
	}
	copy(buf[part.Begin:part.Begin+int64(len(data))], data)
}

// Assembled returns the current buffer for pieceIndex, or nil if no parts
// have been written for it yet. The returned slice is owned by the pool and
// must not be retained past the next mutating call.
func (p *Pool) Assembled(pieceIndex int) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.buffers[pieceIndex]
}

// Release drops the buffer for pieceIndex, whether the piece validated
// successfully or was discarded after a failed check.
func (p *Pool) Release(pieceIndex int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.buffers, pieceIndex)
}

// Len returns the number of pieces currently buffered in the pool.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.buffers)
}
