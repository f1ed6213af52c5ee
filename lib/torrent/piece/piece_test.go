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

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/metainfo"
)

func hashOf(data []byte) metainfo.PieceHashes {
	sum := sha1.Sum(data)
	h := core.NewPieceHashV1(sum[:])
	return metainfo.PieceHashes{V1: &h}
}

func TestPieceSplitsIntoParts(t *testing.T) {
	require := require.New(t)

	data := make([]byte, 40)
	p := New(0, 0, 40, hashOf(data), 16, Normal)

	require.Equal(3, p.NumParts())
	require.EqualValues(16, p.Parts()[0].Length)
	require.EqualValues(16, p.Parts()[1].Length)
	require.EqualValues(8, p.Parts()[2].Length)
}

func TestPieceCompletionAndValidation(t *testing.T) {
	require := require.New(t)

	data := []byte("0123456789abcdef0123456789abcdef01234567")
	p := New(3, 300, int64(len(data)), hashOf(data), 16, Now)

	require.False(p.AllPartsComplete())
	for i := range p.Parts() {
		complete := p.MarkPartComplete(i)
		if i < p.NumParts()-1 {
			require.False(complete)
		} else {
			require.True(complete)
		}
	}
	require.True(p.AllPartsComplete())
	require.True(p.Validate(data))
	require.False(p.Validate([]byte("wrong")))

	p.ResetCompletedParts()
	require.False(p.AllPartsComplete())
	require.Len(p.MissingParts(), p.NumParts())
}

func TestPieceAvailability(t *testing.T) {
	require := require.New(t)

	p := New(0, 0, 16, hashOf(make([]byte, 16)), 16, None)
	require.EqualValues(0, p.Availability())
	p.IncAvailability()
	p.IncAvailability()
	require.EqualValues(2, p.Availability())
	p.DecAvailability()
	require.EqualValues(1, p.Availability())
}

func TestPriorityOrdering(t *testing.T) {
	require := require.New(t)

	require.True(None.Less(Normal))
	require.True(Normal.Less(High))
	require.True(High.Less(Readahead))
	require.True(Readahead.Less(Now))
}
