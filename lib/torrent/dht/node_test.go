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
package dht

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommonPrefixLen(t *testing.T) {
	require := require.New(t)

	var a, b NodeID
	require.Equal(160, CommonPrefixLen(a, b))

	b[0] = 0x80
	require.Equal(0, CommonPrefixLen(a, b))

	b[0] = 0x00
	b[1] = 0x01
	require.Equal(15, CommonPrefixLen(a, b))
}

func TestCompactNodeInfoRoundTrip(t *testing.T) {
	require := require.New(t)

	id1, err := RandomNodeID()
	require.NoError(err)
	id2, err := RandomNodeID()
	require.NoError(err)

	nodes := []Node{
		{ID: id1, Addr: &net.UDPAddr{IP: net.ParseIP("1.2.3.4").To4(), Port: 6881}},
		{ID: id2, Addr: &net.UDPAddr{IP: net.ParseIP("5.6.7.8").To4(), Port: 6882}},
	}

	b := EncodeCompactNodeInfo(nodes)
	require.Len(b, 2*compactNodeInfoLen)

	decoded, err := DecodeCompactNodeInfo(b)
	require.NoError(err)
	require.Len(decoded, 2)
	require.Equal(nodes[0].ID, decoded[0].ID)
	require.True(nodes[0].Addr.IP.Equal(decoded[0].Addr.IP))
	require.Equal(nodes[0].Addr.Port, decoded[0].Addr.Port)
}

func TestCompactPeerInfoRoundTrip(t *testing.T) {
	require := require.New(t)

	addr := &net.UDPAddr{IP: net.ParseIP("10.0.0.1").To4(), Port: 51413}
	b := EncodeCompactPeerInfo(addr)
	require.Len(b, compactPeerInfoLen)

	decoded, err := DecodeCompactPeerInfo(b)
	require.NoError(err)
	require.True(addr.IP.Equal(decoded.IP))
	require.Equal(addr.Port, decoded.Port)
}
