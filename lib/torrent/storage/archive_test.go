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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreswarm/torrent/lib/torrent/metainfo"
)

func TestLocalArchiveLifecycle(t *testing.T) {
	require := require.New(t)

	dir, err := ioutil.TempDir("", "archive")
	require.NoError(err)
	defer os.RemoveAll(dir)

	a := NewLocalArchive(dir)
	_, mi := metainfo.SingleFileFixture("x.bin", []byte("0123456789abcdef"), 16)

	_, err = a.GetTorrent(mi.InfoHash)
	require.Equal(ErrNotFound, err)

	tr, err := a.CreateTorrent(mi)
	require.NoError(err)
	require.NotNil(tr)

	_, err = a.CreateTorrent(mi)
	require.Error(err)

	got, err := a.GetTorrent(mi.InfoHash)
	require.NoError(err)
	require.Equal(tr, got)

	info, err := a.Stat(mi.InfoHash)
	require.NoError(err)
	require.Equal(0, info.PercentDownloaded())

	require.NoError(a.DeleteTorrent(mi.InfoHash))
	_, err = a.GetTorrent(mi.InfoHash)
	require.Equal(ErrNotFound, err)
}
