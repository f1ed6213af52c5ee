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
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreswarm/torrent/lib/torrent/metainfo"
)

func TestLocalTorrentWriteAndReadPiece(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "localtorrent")
	require.NoError(err)
	defer os.RemoveAll(dir)

	content := []byte("0123456789abcdef0123456789abcdef")
	_, mi := metainfo.SingleFileFixture("data.bin", content, 16)

	lt, err := NewLocalTorrent(dir, mi)
	require.NoError(err)
	require.Equal(mi.Info.NumPieces(), lt.NumPieces())
	require.False(lt.Complete())

	for i := 0; i < lt.NumPieces(); i++ {
		start := int64(i) * 16
		end := start + lt.PieceLength(i)
		complete, err := lt.WritePart(content[start:end], i, 0)
		require.NoError(err)
		require.True(complete)
	}
	require.True(lt.Complete())

	raw, err := ioutil.ReadFile(filepath.Join(dir, "data.bin"))
	require.NoError(err)
	require.Equal(content, raw)

	r, err := lt.GetPieceReader(0)
	require.NoError(err)
	defer r.Close()
	got := make([]byte, r.Length())
	_, err = r.Read(got)
	require.NoError(err)
	require.Equal(content[:16], got)
}

func TestLocalTorrentWriteConflicts(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "localtorrent")
	require.NoError(err)
	defer os.RemoveAll(dir)

	content := []byte("0123456789abcdef")
	_, mi := metainfo.SingleFileFixture("f.bin", content, 16)
	lt, err := NewLocalTorrent(dir, mi)
	require.NoError(err)

	complete, err := lt.WritePart(content, 0, 0)
	require.NoError(err)
	require.True(complete)

	_, err = lt.WritePart(content, 0, 0)
	require.Equal(ErrPieceComplete, err)
}

func TestLocalTorrentRestoreCompletedPieces(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "localtorrent")
	require.NoError(err)
	defer os.RemoveAll(dir)

	content := []byte("0123456789abcdef0123456789abcdef")
	_, mi := metainfo.SingleFileFixture("r.bin", content, 16)
	lt, err := NewLocalTorrent(dir, mi)
	require.NoError(err)

	lt.RestoreCompletedPieces([]int{0})
	require.True(lt.HasPiece(0))
	require.False(lt.HasPiece(1))
}
