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

// Package metainfo parses and builds .torrent metadata: the info dictionary,
// its file list, and the v1/v2 piece hash vectors.
package metainfo

import (
	"path"
	"strings"

	"github.com/coreswarm/torrent/core"
)

const (
	sha1Size   = 20
	sha256Size = 32
)

// File describes a single file within a torrent's info dictionary.
type File struct {
	// TorrentPath is the path as declared in the torrent, joined with "/".
	TorrentPath string
	// IOPath is the path used for on-disk storage. Equal to TorrentPath
	// except for padding files, which storage never materializes.
	IOPath string
	// Length is the file's byte length, including padding files.
	Length int64
	// OffsetInTorrent is the byte offset of the file's first byte within
	// the concatenation of all files, padding included.
	OffsetInTorrent int64
	// Padding marks a BEP 47 padding file, inserted to align the next
	// file to a piece boundary.
	Padding bool
	// Executable marks a BEP 47 executable attribute file.
	Executable bool
	// Symlink marks a BEP 47 symlink attribute file.
	Symlink bool
	// PiecesRoot is the BEP 52 v2 merkle root of this file's piece
	// layer. Zero value if the torrent carries no v2 data for this file.
	PiecesRoot core.PieceHash
}

// PieceHashes carries the hash(es) available for a single piece. A hybrid
// torrent carries both; a pure v1 or v2 torrent carries only one.
type PieceHashes struct {
	V1 *core.PieceHash
	V2 *core.PieceHash
}

// Info is the parsed "info" dictionary of a .torrent file.
type Info struct {
	Name        string
	PieceLength int64
	Pieces      []PieceHashes
	Files       []File
	Private     bool
	MetaVersion int
}

// V2 reports whether the torrent carries BEP 52 v2 data.
func (info *Info) V2() bool {
	return info.MetaVersion >= 2
}

// TotalLength returns the sum of all file lengths, padding included. This is
// the value that piece offsets are computed against.
func (info *Info) TotalLength() int64 {
	var n int64
	for _, f := range info.Files {
		n += f.Length
	}
	return n
}

// VisibleFiles returns the file list with padding files filtered out, in the
// order they should be reported to callers.
func (info *Info) VisibleFiles() []File {
	out := make([]File, 0, len(info.Files))
	for _, f := range info.Files {
		if f.Padding {
			continue
		}
		out = append(out, f)
	}
	return out
}

// NumPieces returns the number of pieces described by the info dictionary.
func (info *Info) NumPieces() int {
	return len(info.Pieces)
}

// PieceLengthAt returns the length of piece i, accounting for the torrent's
// final, possibly truncated, piece.
func (info *Info) PieceLengthAt(i int) int64 {
	if i < 0 || i >= len(info.Pieces) {
		return 0
	}
	if i == len(info.Pieces)-1 {
		return info.TotalLength() - info.PieceLength*int64(i)
	}
	return info.PieceLength
}

// rawFile mirrors a single entry of the v1 "files" list.
type rawFile struct {
	length int64
	path   []string
	attr   string
}

func (rf rawFile) torrentPath() string {
	return strings.Join(rf.path, "/")
}

func (rf rawFile) padding() bool {
	return strings.ContainsRune(rf.attr, 'p')
}

func (rf rawFile) executable() bool {
	return strings.ContainsRune(rf.attr, 'x')
}

func (rf rawFile) symlink() bool {
	return strings.ContainsRune(rf.attr, 'l')
}

// ioPath strips padding files down to a path that is never joined into
// storage; callers must check Padding before using IOPath.
func ioPath(torrentPath string, padding bool) string {
	if padding {
		return ""
	}
	return path.Clean(torrentPath)
}

// buildFiles assembles the final File list (with offsets) from a decoded v1
// file list plus an optional set of v2 pieces roots keyed by torrent path.
func buildFiles(name string, raws []rawFile, singleLength int64, rootsByPath map[string]core.PieceHash) []File {
	if len(raws) == 0 {
		// Single-file torrent: the one file takes the torrent's name.
		raws = []rawFile{{length: singleLength, path: []string{name}}}
	}

	files := make([]File, 0, len(raws))
	var offset int64
	for _, rf := range raws {
		tp := rf.torrentPath()
		f := File{
			TorrentPath:     tp,
			IOPath:          ioPath(tp, rf.padding()),
			Length:          rf.length,
			OffsetInTorrent: offset,
			Padding:         rf.padding(),
			Executable:      rf.executable(),
			Symlink:         rf.symlink(),
		}
		if root, ok := rootsByPath[tp]; ok {
			f.PiecesRoot = root
		}
		files = append(files, f)
		offset += rf.length
	}
	return files
}
