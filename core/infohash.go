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
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// InfoHash is the content identifier of a torrent: the SHA-1 digest of the
// bencoded info dictionary for v1 torrents (20 bytes), or the SHA-256 digest
// for v2 torrents (32 bytes). It is immutable and identifies a torrent
// end-to-end regardless of which peers or trackers are involved.
type InfoHash struct {
	b [32]byte
	n int
}

// NewInfoHashV1FromBytes hashes b with SHA-1 to produce a v1 InfoHash.
func NewInfoHashV1FromBytes(b []byte) InfoHash {
	sum := sha1.Sum(b)
	var h InfoHash
	copy(h.b[:], sum[:])
	h.n = len(sum)
	return h
}

// NewInfoHashV2FromBytes hashes b with SHA-256 to produce a v2 InfoHash.
func NewInfoHashV2FromBytes(b []byte) InfoHash {
	sum := sha256.Sum256(b)
	var h InfoHash
	copy(h.b[:], sum[:])
	h.n = len(sum)
	return h
}

// NewInfoHashFromHex decodes a hex-encoded info hash. Accepts either 40
// characters (v1, SHA-1) or 64 characters (v2, SHA-256).
func NewInfoHashFromHex(s string) (InfoHash, error) {
	switch len(s) {
	case 40, 64:
	default:
		return InfoHash{}, fmt.Errorf("invalid hash: expected 40 or 64 characters, got %d", len(s))
	}
	var h InfoHash
	n, err := hex.Decode(h.b[:], []byte(s))
	if err != nil {
		return InfoHash{}, fmt.Errorf("invalid hex: %s", err)
	}
	h.n = n
	return h, nil
}

// NewInfoHashFromBytes wraps raw digest bytes (20 or 32 of them) as an
// InfoHash without re-hashing.
func NewInfoHashFromBytes(b []byte) (InfoHash, error) {
	var h InfoHash
	switch len(b) {
	case 20, 32:
	default:
		return InfoHash{}, fmt.Errorf("invalid info hash length: %d", len(b))
	}
	copy(h.b[:], b)
	h.n = len(b)
	return h, nil
}

// V2 returns true if h is a 32-byte SHA-256 info hash.
func (h InfoHash) V2() bool {
	return h.n == 32
}

// Bytes converts h to raw bytes.
func (h InfoHash) Bytes() []byte {
	return h.b[:h.n]
}

// Handshake20 returns the 20-byte value carried in a peer-wire handshake's
// info_hash field. v1 hashes are used as-is; v2 hashes are truncated to
// their first 20 bytes, per BEP 52's hybrid/v2-only wire compatibility.
func (h InfoHash) Handshake20() [20]byte {
	var b [20]byte
	copy(b[:], h.b[:20])
	return b
}

// Hex converts h into a hexadecimal string.
func (h InfoHash) Hex() string {
	return hex.EncodeToString(h.Bytes())
}

func (h InfoHash) String() string {
	return h.Hex()
}

// Equal returns whether h and o identify the same torrent.
func (h InfoHash) Equal(o InfoHash) bool {
	return h.n == o.n && h.b == o.b
}
