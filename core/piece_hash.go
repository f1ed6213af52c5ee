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
	"crypto/sha1"
	"crypto/sha256"
	"hash"
)

// PieceHash is the expected digest of a single piece, either the 20-byte
// SHA-1 sum (v1) or the 32-byte SHA-256 sum (v2).
type PieceHash struct {
	sum [32]byte
	n   int
}

// NewPieceHashV1 wraps a 20-byte SHA-1 piece sum.
func NewPieceHashV1(b []byte) PieceHash {
	var h PieceHash
	copy(h.sum[:], b)
	h.n = 20
	return h
}

// NewPieceHashV2 wraps a 32-byte SHA-256 piece sum.
func NewPieceHashV2(b []byte) PieceHash {
	var h PieceHash
	copy(h.sum[:], b)
	h.n = 32
	return h
}

// Bytes returns the raw digest.
func (h PieceHash) Bytes() []byte {
	return h.sum[:h.n]
}

// V2 reports whether h is a SHA-256 (v2) hash.
func (h PieceHash) V2() bool {
	return h.n == 32
}

// NewHasher returns a hash.Hash matching h's algorithm, for validating
// assembled piece bytes.
func (h PieceHash) NewHasher() hash.Hash {
	if h.V2() {
		return sha256.New()
	}
	return sha1.New()
}

// Matches returns true if the digest of data equals h.
func (h PieceHash) Matches(data []byte) bool {
	hasher := h.NewHasher()
	hasher.Write(data)
	return bytes.Equal(hasher.Sum(nil), h.Bytes())
}
