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

// DefaultPartLength is the standard block size exchanged in a single
// Request/Piece message pair: 16 KiB.
const DefaultPartLength = 16 * 1024

// Part is a sub-range of a piece exchanged in a single wire-level
// Request/Piece message.
type Part struct {
	// Index is the part's position within its owning piece, not a
	// torrent-wide index.
	Index int
	// Begin is the byte offset of the part within its piece.
	Begin int64
	// Length is the part's byte length. Every part is DefaultPartLength
	// except possibly the last one in a piece.
	Length int64
}

// SplitParts divides a piece of the given length into fixed-size parts of
// partLength bytes (DefaultPartLength if partLength <= 0). Exposed so
// callers that need to compute a request's part boundaries without holding
// a full Piece can reuse the same splitting logic.
func SplitParts(pieceLength, partLength int64) []Part {
	return splitParts(pieceLength, partLength)
}

// splitParts divides a piece of the given length into fixed-size parts.
func splitParts(pieceLength int64, partLength int64) []Part {
	if partLength <= 0 {
		partLength = DefaultPartLength
	}
	n := int((pieceLength + partLength - 1) / partLength)
	parts := make([]Part, n)
	for i := 0; i < n; i++ {
		begin := int64(i) * partLength
		length := partLength
		if begin+length > pieceLength {
			length = pieceLength - begin
		}
		parts[i] = Part{Index: i, Begin: begin, Length: length}
	}
	return parts
}
