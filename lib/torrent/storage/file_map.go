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

import "github.com/coreswarm/torrent/lib/torrent/metainfo"

// fileSpan is the portion of a piece that falls within a single file:
// [dataOffset, dataOffset+length) of the piece's bytes belongs at
// [fileOffset, fileOffset+length) of that file.
type fileSpan struct {
	file       metainfo.File
	fileOffset int64
	dataOffset int64
	length     int64
}

// overlappingFiles returns, in file order, every file that overlaps the
// byte range [pieceStart, pieceEnd) of the torrent, with the portion of
// that range each file is responsible for. Padding files are included so
// callers can explicitly skip them, per the write policy.
func overlappingFiles(files []metainfo.File, pieceStart, pieceEnd int64) []fileSpan {
	var spans []fileSpan
	for _, f := range files {
		fStart := f.OffsetInTorrent
		fEnd := f.OffsetInTorrent + f.Length
		if fEnd <= pieceStart || fStart >= pieceEnd {
			continue
		}
		start := max64(fStart, pieceStart)
		end := min64(fEnd, pieceEnd)
		spans = append(spans, fileSpan{
			file:       f,
			fileOffset: start - fStart,
			dataOffset: start - pieceStart,
			length:     end - start,
		})
	}
	return spans
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
