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
	"github.com/willf/bitset"

	"github.com/coreswarm/torrent/core"
)

// TorrentInfo encapsulates read-only torrent storage information, a
// snapshot safe to hand out to callers without exposing the mutable
// Torrent itself.
type TorrentInfo struct {
	infoHash          core.InfoHash
	bitfield          *bitset.BitSet
	percentDownloaded int
	totalWasted       int64
}

// NewTorrentInfo creates a new TorrentInfo from a snapshot bitfield and the
// total bytes discarded to failed hash validation so far.
func NewTorrentInfo(ih core.InfoHash, bitfield *bitset.BitSet, totalWasted int64) *TorrentInfo {
	var downloaded int
	if bitfield.Len() > 0 {
		downloaded = int(float64(bitfield.Count()) / float64(bitfield.Len()) * 100)
	}
	return &TorrentInfo{ih, bitfield, downloaded, totalWasted}
}

func (i *TorrentInfo) String() string {
	return i.infoHash.Hex()
}

// InfoHash returns the torrent's info hash.
func (i *TorrentInfo) InfoHash() core.InfoHash {
	return i.infoHash
}

// PercentDownloaded returns the percent of pieces downloaded, 0 to 100.
func (i *TorrentInfo) PercentDownloaded() int {
	return i.percentDownloaded
}

// Bitfield returns the piece completion bitfield. This is a snapshot and
// may be stale.
func (i *TorrentInfo) Bitfield() *bitset.BitSet {
	return i.bitfield
}

// TotalWasted returns the cumulative bytes discarded to failed piece hash
// validation.
func (i *TorrentInfo) TotalWasted() int64 {
	return i.totalWasted
}
