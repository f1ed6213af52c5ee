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
package metainfo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSingleFileTorrent(t *testing.T) {
	require := require.New(t)

	content := bytes.Repeat([]byte("a"), 100)
	raw, want := SingleFileFixture("movie.mkv", content, 40)

	got, err := Parse(raw)
	require.NoError(err)
	require.True(want.InfoHash.Equal(got.InfoHash))
	require.True(got.HasInfo())
	require.Equal("movie.mkv", got.Info.Name)
	require.EqualValues(40, got.Info.PieceLength)
	require.Equal(3, got.Info.NumPieces()) // 100 bytes / 40 = 3 pieces, last truncated
	require.EqualValues(20, got.Info.PieceLengthAt(2))
	require.Equal("udp://tracker.example.com:80/announce", got.Announce)

	files := got.Info.VisibleFiles()
	require.Len(files, 1)
	require.Equal("movie.mkv", files[0].TorrentPath)
	require.EqualValues(100, files[0].Length)
	require.False(files[0].Padding)
}

func TestParseMissingInfo(t *testing.T) {
	require := require.New(t)

	_, err := Parse([]byte("d8:announce3:fooe"))
	require.Error(err)
}

func TestParseMultiFileWithPadding(t *testing.T) {
	require := require.New(t)

	info := map[string]interface{}{
		"name":         "pack",
		"piece length": int64(16),
		"pieces":       string(make([]byte, 20*3)),
		"files": []interface{}{
			map[string]interface{}{
				"length": int64(10),
				"path":   []interface{}{"a.txt"},
			},
			map[string]interface{}{
				"length": int64(6),
				"path":   []interface{}{".pad", "6"},
				"attr":   "p",
			},
			map[string]interface{}{
				"length": int64(20),
				"path":   []interface{}{"b.txt"},
			},
		},
	}

	m, err := decodeInfo(info)
	require.NoError(err)
	require.Len(m.Files, 3)
	require.True(m.Files[1].Padding)
	require.Empty(m.Files[1].IOPath)

	visible := m.VisibleFiles()
	require.Len(visible, 2)
	require.Equal("a.txt", visible[0].TorrentPath)
	require.Equal("b.txt", visible[1].TorrentPath)
	require.EqualValues(36, m.TotalLength())
}

func TestMagnetFillInfo(t *testing.T) {
	require := require.New(t)

	content := bytes.Repeat([]byte("b"), 64)
	raw, want := SingleFileFixture("book.epub", content, 32)
	full, err := Parse(raw)
	require.NoError(err)

	m := NewMagnet(want.InfoHash)
	require.False(m.HasInfo())

	err = m.FillInfo(full.RawInfo())
	require.NoError(err)
	require.True(m.HasInfo())
	require.Equal("book.epub", m.Info.Name)
}

func TestMagnetFillInfoHashMismatch(t *testing.T) {
	require := require.New(t)

	_, a := SingleFileFixture("a.bin", []byte("aaaa"), 4)
	b, _ := SingleFileFixture("b.bin", []byte("bbbb"), 4)

	bMeta, err := Parse(b)
	require.NoError(err)

	m := NewMagnet(a.InfoHash)
	err = m.FillInfo(bMeta.RawInfo())
	require.Error(err)
	require.False(m.HasInfo())
}
