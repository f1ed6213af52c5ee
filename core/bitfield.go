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
package core

import (
	"bytes"
	"sync"

	"github.com/willf/bitset"
)

// Bitfield is a thread-safe packed bitset tracking piece availability. It is
// shared between a peer's read loop and any goroutine inspecting the peer's
// advertised pieces, so every access is synchronized.
type Bitfield struct {
	mu sync.RWMutex
	b  *bitset.BitSet
}

// NewBitfield creates a Bitfield with n bits, all unset.
func NewBitfield(n uint) *Bitfield {
	return &Bitfield{b: bitset.New(n)}
}

// NewBitfieldFromBytes decodes a wire bitfield (BEP 3 §"bitfield"): the most
// significant bit of the first byte is piece 0.
func NewBitfieldFromBytes(raw []byte, numPieces uint) *Bitfield {
	b := bitset.New(numPieces)
	for i := uint(0); i < numPieces; i++ {
		byteIdx := i / 8
		if int(byteIdx) >= len(raw) {
			break
		}
		bitIdx := 7 - (i % 8)
		if raw[byteIdx]&(1<<bitIdx) != 0 {
			b.Set(i)
		}
	}
	return &Bitfield{b: b}
}

// Bytes encodes the bitfield in wire form, padded with zero bits to a byte
// boundary.
func (f *Bitfield) Bytes() []byte {
	f.mu.RLock()
	defer f.mu.RUnlock()

	n := f.b.Len()
	out := make([]byte, (n+7)/8)
	for i := uint(0); i < n; i++ {
		if f.b.Test(i) {
			out[i/8] |= 1 << (7 - (i % 8))
		}
	}
	return out
}

// Len returns the number of pieces tracked.
func (f *Bitfield) Len() uint {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.b.Len()
}

// Has returns whether piece i is set.
func (f *Bitfield) Has(i uint) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return i < f.b.Len() && f.b.Test(i)
}

// Set sets piece i to v.
func (f *Bitfield) Set(i uint, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.extendLocked(i + 1)
	f.b.SetTo(i, v)
}

// SetAll sets every tracked piece to v. Used for HaveAll/HaveNone.
func (f *Bitfield) SetAll(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := uint(0); i < f.b.Len(); i++ {
		f.b.SetTo(i, v)
	}
}

// Extend grows the bitfield to n bits if it is currently smaller, leaving
// new bits unset. Used when a Have arrives before metadata is known.
func (f *Bitfield) Extend(n uint) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.extendLocked(n)
}

func (f *Bitfield) extendLocked(n uint) {
	if f.b.Len() < n {
		nb := bitset.New(n)
		f.b.Copy(nb)
		f.b = nb
	}
}

// Complete returns true if every tracked bit is set.
func (f *Bitfield) Complete() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.b.Len() > 0 && f.b.All()
}

// CountOnes returns the number of set bits.
func (f *Bitfield) CountOnes() uint {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.b.Count()
}

// Any returns true if at least one bit is set.
func (f *Bitfield) Any() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.b.Any()
}

// Copy returns an independent copy of the underlying bitset.
func (f *Bitfield) Copy() *bitset.BitSet {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.b.Clone()
}

// Intersection returns the set of bits set in both f and other.
func (f *Bitfield) Intersection(other *bitset.BitSet) *bitset.BitSet {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.b.Intersection(other)
}

// AllSet returns the indices of every set bit.
func (f *Bitfield) AllSet() []uint {
	f.mu.RLock()
	defer f.mu.RUnlock()

	all := make([]uint, 0, f.b.Count())
	buf := make([]uint, f.b.Len())
	j := uint(0)
	for j, buf = f.b.NextSetMany(j, buf); len(buf) > 0; j, buf = f.b.NextSetMany(j, buf) {
		all = append(all, buf...)
		j++
	}
	return all
}

func (f *Bitfield) String() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var buf bytes.Buffer
	for i := uint(0); i < f.b.Len(); i++ {
		if f.b.Test(i) {
			buf.WriteByte('1')
		} else {
			buf.WriteByte('0')
		}
	}
	return buf.String()
}
