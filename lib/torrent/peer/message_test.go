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
package peer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"

	"github.com/coreswarm/torrent/lib/torrent/storage/piecereader"
)

func roundTrip(t *testing.T, msg *Message) *Message {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, nil, msg))
	got, err := ReadMessage(&buf, nil)
	require.NoError(t, err)
	return got
}

func TestMessageRoundTripSimple(t *testing.T) {
	for _, typ := range []Type{Choke, Unchoke, Interested, NotInterested, HaveAll, HaveNone, KeepAlive} {
		got := roundTrip(t, &Message{Type: typ})
		require.Equal(t, typ, got.Type)
	}
}

func TestMessageRoundTripHave(t *testing.T) {
	require := require.New(t)
	got := roundTrip(t, NewHave(42))
	require.Equal(Have, got.Type)
	require.Equal(42, got.Piece)
}

func TestMessageRoundTripRequestAndCancel(t *testing.T) {
	require := require.New(t)
	b := BlockRequest{Piece: 3, Begin: 16384, Length: 16384}

	got := roundTrip(t, NewRequest(b))
	require.Equal(Request, got.Type)
	require.Equal(b.Piece, got.Piece)
	require.Equal(b.Begin, got.Begin)
	require.Equal(b.Length, got.Length)

	got = roundTrip(t, NewCancel(b))
	require.Equal(Cancel, got.Type)
}

func TestMessageRoundTripBitfield(t *testing.T) {
	require := require.New(t)

	bits := bitset.New(10)
	bits.Set(0)
	bits.Set(9)

	got := roundTrip(t, NewBitfield(bits, 10))
	require.Equal(Bitfield, got.Type)
	require.True(got.Bits.Test(0))
	require.True(got.Bits.Test(9))
	require.False(got.Bits.Test(5))
}

func TestMessageRoundTripPiece(t *testing.T) {
	require := require.New(t)

	block := []byte("some piece data")
	got := roundTrip(t, NewPiece(1, 0, piecereader.NewBuffer(block)))
	require.Equal(Piece, got.Type)
	require.Equal(1, got.Piece)

	read := make([]byte, got.Payload.Length())
	_, err := got.Payload.Read(read)
	require.NoError(err)
	require.Equal(block, read)
}

func TestMessageRoundTripExtended(t *testing.T) {
	require := require.New(t)

	got := roundTrip(t, &Message{Type: Extended, ExtendedID: 1, ExtendedPayload: []byte("d1:md11:ut_metadatai1eee")})
	require.Equal(Extended, got.Type)
	require.Equal(byte(1), got.ExtendedID)
	require.Equal([]byte("d1:md11:ut_metadatai1eee"), got.ExtendedPayload)
}
