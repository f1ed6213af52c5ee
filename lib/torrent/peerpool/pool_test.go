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
package peerpool

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/networkevent"
	"github.com/coreswarm/torrent/lib/torrent/peer"
)

func testPool(config Config, clk clock.Clock) *Pool {
	return New(config, clk, core.PeerIDFixture(), networkevent.NewTestProducer(), zap.NewNop().Sugar())
}

func TestPoolBlacklist(t *testing.T) {
	require := require.New(t)

	config := Config{BlacklistDuration: 30 * time.Second}
	clk := clock.NewMock()
	p := testPool(config, clk)

	peerID := core.PeerIDFixture()
	h := core.InfoHashFixture()

	require.NoError(p.Blacklist(peerID, h))
	require.True(p.Blacklisted(peerID, h))
	require.Error(p.Blacklist(peerID, h))

	clk.Add(config.BlacklistDuration + 1)

	require.False(p.Blacklisted(peerID, h))
	require.NoError(p.Blacklist(peerID, h))
}

func TestPoolBlacklistSnapshot(t *testing.T) {
	require := require.New(t)

	config := Config{BlacklistDuration: 30 * time.Second}
	clk := clock.NewMock()
	p := testPool(config, clk)

	peerID := core.PeerIDFixture()
	h := core.InfoHashFixture()

	require.NoError(p.Blacklist(peerID, h))

	expected := []BlacklistedConn{{peerID, h, config.BlacklistDuration}}
	require.Equal(expected, p.BlacklistSnapshot())
}

func TestPoolClearBlacklist(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{}, clock.NewMock())

	h := core.InfoHashFixture()

	var peers []core.PeerID
	for i := 0; i < 10; i++ {
		peerID := core.PeerIDFixture()
		peers = append(peers, peerID)
		require.NoError(p.Blacklist(peerID, h))
		require.True(p.Blacklisted(peerID, h))
	}

	p.ClearBlacklist(h)

	for _, peerID := range peers {
		require.False(p.Blacklisted(peerID, h))
	}
}

func TestPoolAddPendingPreventsDuplicates(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{}, clock.New())

	peerID := core.PeerIDFixture()
	h := core.InfoHashFixture()

	require.NoError(p.AddPending(peerID, h, nil))
	require.Equal(ErrConnAlreadyPending, p.AddPending(peerID, h, nil))
}

func TestPoolAddPendingReservesCapacity(t *testing.T) {
	require := require.New(t)

	config := Config{PeersUpperLimit: 10}
	p := testPool(config, clock.New())

	h := core.InfoHashFixture()

	for i := 0; i < config.PeersUpperLimit; i++ {
		require.NoError(p.AddPending(core.PeerIDFixture(), h, nil))
	}
	require.Equal(ErrTorrentAtCapacity, p.AddPending(core.PeerIDFixture(), h, nil))
}

func TestPoolDeletePendingAllowsFutureAddPending(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{}, clock.New())

	peerID := core.PeerIDFixture()
	h := core.InfoHashFixture()

	require.NoError(p.AddPending(peerID, h, nil))
	p.DeletePending(peerID, h)
	require.NoError(p.AddPending(peerID, h, nil))
}

func TestPoolDeletePendingFreesCapacity(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{PeersUpperLimit: 1}, clock.New())

	h := core.InfoHashFixture()
	p1 := core.PeerIDFixture()
	p2 := core.PeerIDFixture()

	require.NoError(p.AddPending(p1, h, nil))
	require.Equal(ErrTorrentAtCapacity, p.AddPending(p2, h, nil))
	p.DeletePending(p1, h)
	require.NoError(p.AddPending(p2, h, nil))
}

func TestPoolMovePendingToActivePreventsFuturePending(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{}, clock.New())

	c, cleanup := peer.Fixture()
	defer cleanup()

	require.NoError(p.AddPending(c.PeerID(), c.InfoHash(), nil))
	require.NoError(p.MovePendingToActive(c))
	require.Equal(ErrConnAlreadyActive, p.AddPending(c.PeerID(), c.InfoHash(), nil))
}

func TestPoolMovePendingToActiveRejectsNonPendingConns(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{}, clock.New())

	c, cleanup := peer.Fixture()
	defer cleanup()

	require.Equal(ErrInvalidActiveTransition, p.MovePendingToActive(c))

	require.NoError(p.AddPending(c.PeerID(), c.InfoHash(), nil))
	require.NoError(p.MovePendingToActive(c))
	require.Equal(ErrInvalidActiveTransition, p.MovePendingToActive(c))
}

func TestPoolMovePendingToActiveRejectsClosedConns(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{}, clock.New())

	c, cleanup := peer.Fixture()
	defer cleanup()

	require.NoError(p.AddPending(c.PeerID(), c.InfoHash(), nil))
	c.Close()
	require.Equal(ErrConnClosed, p.MovePendingToActive(c))
}

func TestPoolDeleteActiveFreesCapacity(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{PeersUpperLimit: 1}, clock.New())

	c, cleanup := peer.Fixture()
	defer cleanup()

	p2 := core.PeerIDFixture()

	require.NoError(p.AddPending(c.PeerID(), c.InfoHash(), nil))
	require.NoError(p.MovePendingToActive(c))
	require.Equal(ErrTorrentAtCapacity, p.AddPending(p2, c.InfoHash(), nil))
	p.DeleteActive(c)
	require.NoError(p.AddPending(p2, c.InfoHash(), nil))
}

func TestPoolDeleteActiveNoopsWhenConnIsNotActive(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{PeersUpperLimit: 1}, clock.New())

	c, cleanup := peer.Fixture()
	defer cleanup()

	require.NoError(p.AddPending(core.PeerIDFixture(), c.InfoHash(), nil))

	p.DeleteActive(c)

	require.Equal(ErrTorrentAtCapacity, p.AddPending(core.PeerIDFixture(), c.InfoHash(), nil))
}

func TestPoolActiveConns(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{}, clock.New())

	h := core.InfoHashFixture()
	conns := make(map[core.PeerID]*peer.Conn)
	for i := 0; i < 10; i++ {
		c, _, cleanup := peer.PipeFixture(peer.Config{}, h)
		defer cleanup()

		conns[c.PeerID()] = c

		require.NoError(p.AddPending(c.PeerID(), c.InfoHash(), nil))
		require.NoError(p.MovePendingToActive(c))
	}

	result := p.ActiveConns(h)
	require.Len(result, len(conns))
	for _, c := range result {
		require.Equal(conns[c.PeerID()], c)
	}

	for _, c := range conns {
		p.DeleteActive(c)
	}
	require.Empty(p.ActiveConns(h))
}

func TestPoolSaturated(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{PeersUpperLimit: 10}, clock.New())

	h := core.InfoHashFixture()

	var conns []*peer.Conn
	for i := 0; i < 10; i++ {
		c, _, cleanup := peer.PipeFixture(peer.Config{}, h)
		defer cleanup()

		require.NoError(p.AddPending(c.PeerID(), h, nil))
		conns = append(conns, c)
	}

	// Pending conns do not count towards saturated.
	require.False(p.Saturated(h))

	for i := 0; i < 9; i++ {
		require.NoError(p.MovePendingToActive(conns[i]))
		require.False(p.Saturated(h))
	}

	require.NoError(p.MovePendingToActive(conns[9]))
	require.True(p.Saturated(h))

	p.DeleteActive(conns[5])
	require.False(p.Saturated(h))
}

func TestPoolNeedsMorePeers(t *testing.T) {
	require := require.New(t)

	p := testPool(Config{PeersLowerLimit: 2, PeersUpperLimit: 10}, clock.New())

	h := core.InfoHashFixture()
	require.True(p.NeedsMorePeers(h))

	var conns []*peer.Conn
	for i := 0; i < 2; i++ {
		c, _, cleanup := peer.PipeFixture(peer.Config{}, h)
		defer cleanup()
		require.NoError(p.AddPending(c.PeerID(), h, nil))
		require.NoError(p.MovePendingToActive(c))
		conns = append(conns, c)
	}

	require.False(p.NeedsMorePeers(h))
}

func TestMaxMutualConns(t *testing.T) {
	require := require.New(t)

	mutualConnLimit := 5
	p := testPool(Config{
		MaxMutualConnections: mutualConnLimit, PeersUpperLimit: 20}, clock.New())

	neighbors := make([]core.PeerID, 10)
	h := core.InfoHashFixture()
	for i := 0; i < 10; i++ {
		peerID := core.PeerIDFixture()
		neighbors[i] = peerID
		require.NoError(p.AddPending(peerID, h, nil))
	}
	require.Equal(p.AddPending(core.PeerIDFixture(), h, neighbors), ErrTooManyMutualConns)
	require.Equal(p.AddPending(core.PeerIDFixture(), h, neighbors[:mutualConnLimit+1]), ErrTooManyMutualConns)
	require.NoError(p.AddPending(core.PeerIDFixture(), h, neighbors[:mutualConnLimit]))
}
