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
package announcer

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/dht"
)

// How long to wait for the Ticker goroutine to fire / not fire. Fairly large
// to prevent flakey tests.
const _tickerTimeout = time.Second

type mockEvents struct {
	tick chan struct{}
}

func newMockEvents() *mockEvents {
	return &mockEvents{make(chan struct{}, 1)}
}

func (e *mockEvents) AnnounceTick() { e.tick <- struct{}{} }

func (e *mockEvents) expectTick(t *testing.T) {
	select {
	case <-e.tick:
	case <-time.After(_tickerTimeout):
		require.FailNow(t, "Tick timed out")
	}
}

func (e *mockEvents) expectNoTick(t *testing.T) {
	select {
	case <-e.tick:
		require.FailNow(t, "Unexpected tick")
	case <-time.After(_tickerTimeout):
	}
}

// seed makes b reachable from a's routing table without going through real
// bootstrapping.
func seed(a, b *dht.Server) {
	a.Table().Add(dht.Node{ID: b.ID(), Addr: b.LocalAddr()})
}

func TestAnnouncerTicker(t *testing.T) {
	s, cleanup := dht.ServerFixture()
	defer cleanup()

	events := newMockEvents()
	clk := clock.NewMock()

	config := Config{DefaultInterval: 5 * time.Second}
	a := New(config, s, 6969, events, clk, zap.NewNop().Sugar())

	go a.Ticker(nil)

	clk.Add(config.DefaultInterval)
	events.expectTick(t)

	clk.Add(config.DefaultInterval)
	events.expectTick(t)
}

func TestAnnouncerTickerStopsOnDone(t *testing.T) {
	s, cleanup := dht.ServerFixture()
	defer cleanup()

	events := newMockEvents()
	clk := clock.NewMock()

	config := Config{DefaultInterval: 5 * time.Second}
	a := New(config, s, 6969, events, clk, zap.NewNop().Sugar())

	done := make(chan struct{})
	go a.Ticker(done)
	close(done)

	clk.Add(config.DefaultInterval)
	events.expectNoTick(t)
}

func TestAnnouncerAnnounceAdvertisesAndFindsPeers(t *testing.T) {
	require := require.New(t)

	s1, cleanup1 := dht.ServerFixture()
	defer cleanup1()
	s2, cleanup2 := dht.ServerFixture()
	defer cleanup2()

	seed(s1, s2)
	seed(s2, s1)

	h := core.InfoHashFixture()

	a1 := New(Config{}, s1, 6969, newMockEvents(), clock.New(), zap.NewNop().Sugar())
	peers, err := a1.Announce(h, true)
	require.NoError(err)
	require.Empty(peers, "no one has announced yet")

	a2 := New(Config{}, s2, 7777, newMockEvents(), clock.New(), zap.NewNop().Sugar())
	peers, err = a2.Announce(h, true)
	require.NoError(err)
	require.Len(peers, 1)
	require.Equal(6969, peers[0].Port)
}

func TestAnnouncerAnnounceErrOnEmptyRoutingTable(t *testing.T) {
	s, cleanup := dht.ServerFixture()
	defer cleanup()

	a := New(Config{}, s, 6969, newMockEvents(), clock.New(), zap.NewNop().Sugar())

	_, err := a.Announce(core.InfoHashFixture(), true)
	require.Error(t, err)
}
