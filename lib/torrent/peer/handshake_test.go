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

	"github.com/coreswarm/torrent/core"
)

func TestHandshakeRoundTrip(t *testing.T) {
	require := require.New(t)

	peerID, err := core.RandomPeerID()
	require.NoError(err)

	ih := core.NewInfoHashV1FromBytes([]byte("hello world"))

	h := Handshake{
		Reserved: NewReserved(false, true, true),
		InfoHash: ih.Handshake20(),
		PeerID:   peerID,
	}

	var buf bytes.Buffer
	require.NoError(h.WriteTo(&buf))
	require.Equal(handshakeLen, buf.Len())

	got, err := ReadHandshake(&buf)
	require.NoError(err)
	require.Equal(h.Reserved, got.Reserved)
	require.Equal(h.InfoHash, got.InfoHash)
	require.Equal(h.PeerID, got.PeerID)
	require.True(got.Reserved.SupportsFast())
	require.True(got.Reserved.SupportsExtended())
	require.False(got.Reserved.SupportsDHT())
}

func TestReservedAnd(t *testing.T) {
	require := require.New(t)

	a := NewReserved(true, true, false)
	b := NewReserved(true, false, true)
	and := a.And(b)

	require.True(and.SupportsDHT())
	require.False(and.SupportsFast())
	require.False(and.SupportsExtended())
}

func TestReadHandshakeRejectsWrongProtocol(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	buf.WriteByte(4)
	buf.WriteString("nope")
	buf.Write(make([]byte, 48))

	_, err := ReadHandshake(&buf)
	require.Error(err)
}
