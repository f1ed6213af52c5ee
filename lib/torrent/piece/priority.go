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

// Package piece models the piece/part unit of a torrent: fixed-size parts
// within a piece, per-piece priority and availability, the completed-parts
// bitset, and the pool that assembles received parts into whole pieces for
// hash validation.
package piece

import "fmt"

// Priority controls whether and how eagerly a piece is requested from
// peers. None pieces are never requested and never written to storage.
type Priority int

const (
	// None excludes the piece from download entirely.
	None Priority = iota
	// Normal is the default download priority.
	Normal
	// High is requested ahead of Normal pieces.
	High
	// Readahead is used for sequential playback lookahead, ranked above
	// High but below Now.
	Readahead
	// Now is requested immediately, ahead of every other priority.
	Now
)

func (p Priority) String() string {
	switch p {
	case None:
		return "None"
	case Normal:
		return "Normal"
	case High:
		return "High"
	case Readahead:
		return "Readahead"
	case Now:
		return "Now"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// Less reports whether p should be served after o, i.e. o has strictly
// higher download urgency.
func (p Priority) Less(o Priority) bool {
	return p < o
}
