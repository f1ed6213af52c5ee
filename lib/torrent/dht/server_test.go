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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreswarm/torrent/core"
)

func TestServerPing(t *testing.T) {
	require := require.New(t)

	a, cleanupA := ServerFixture()
	defer cleanupA()
	b, cleanupB := ServerFixture()
	defer cleanupB()

	n, err := a.Ping(b.LocalAddr())
	require.NoError(err)
	require.Equal(b.ID(), n.ID)
	require.Equal(1, a.Table().Len())
}

func TestServerFindNode(t *testing.T) {
	require := require.New(t)

	a, cleanupA := ServerFixture()
	defer cleanupA()
	b, cleanupB := ServerFixture()
	defer cleanupB()
	c, cleanupC := ServerFixture()
	defer cleanupC()

	// Seed b's table with c, so a's find_node through b discovers c.
	_, err := b.Ping(c.LocalAddr())
	require.NoError(err)

	target, err := RandomNodeID()
	require.NoError(err)

	nodes, err := a.FindNode(b.LocalAddr(), target)
	require.NoError(err)
	require.Len(nodes, 1)
	require.Equal(c.ID(), nodes[0].ID)
}

func TestServerGetPeersAndAnnouncePeer(t *testing.T) {
	require := require.New(t)

	a, cleanupA := ServerFixture()
	defer cleanupA()
	b, cleanupB := ServerFixture()
	defer cleanupB()

	h := core.InfoHashFixture()

	// No peers announced yet: b should return closer nodes instead.
	result, err := a.GetPeers(b.LocalAddr(), h)
	require.NoError(err)
	require.Empty(result.Peers)
	require.NotEmpty(result.Token)

	require.NoError(a.AnnouncePeer(b.LocalAddr(), h, 6969, result.Token))

	result2, err := a.GetPeers(b.LocalAddr(), h)
	require.NoError(err)
	require.Len(result2.Peers, 1)
	require.Equal(6969, result2.Peers[0].Port)
}

func TestServerAnnouncePeerRejectsBadToken(t *testing.T) {
	require := require.New(t)

	a, cleanupA := ServerFixture()
	defer cleanupA()
	b, cleanupB := ServerFixture()
	defer cleanupB()

	h := core.InfoHashFixture()
	err := a.AnnouncePeer(b.LocalAddr(), h, 6969, "not-a-real-token")
	require.Error(err)
}
