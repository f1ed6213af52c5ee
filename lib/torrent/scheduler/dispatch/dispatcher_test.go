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
package dispatch

import (
	"errors"
	"io/ioutil"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/metainfo"
	wire "github.com/coreswarm/torrent/lib/torrent/peer"
	"github.com/coreswarm/torrent/lib/torrent/networkevent"
	"github.com/coreswarm/torrent/lib/torrent/scheduler/torrentlog"
	"github.com/coreswarm/torrent/lib/torrent/storage"
	"github.com/coreswarm/torrent/lib/torrent/storage/piecereader"
	"github.com/coreswarm/torrent/utils/bitsetutil"
)

type mockMessages struct {
	sent     []*wire.Message
	receiver chan *wire.Message
	closed   bool
}

func newMockMessages() *mockMessages {
	return &mockMessages{receiver: make(chan *wire.Message)}
}

func (m *mockMessages) Send(msg *wire.Message) error {
	if m.closed {
		return errors.New("messages closed")
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockMessages) Receiver() <-chan *wire.Message { return m.receiver }

func (m *mockMessages) Close() {
	if m.closed {
		return
	}
	close(m.receiver)
	m.closed = true
}

func numRequestsPerPiece(messages Messages) map[int]int {
	requests := make(map[int]int)
	for _, msg := range messages.(*mockMessages).sent {
		if msg.Type == wire.Request {
			requests[msg.Piece]++
		}
	}
	return requests
}

func haveSentPieces(messages Messages) []int {
	var ps []int
	for _, msg := range messages.(*mockMessages).sent {
		if msg.Type == wire.Have {
			ps = append(ps, msg.Piece)
		}
	}
	return ps
}

func hasHaveAll(messages Messages) bool {
	for _, m := range messages.(*mockMessages).sent {
		if m.Type == wire.HaveAll {
			return true
		}
	}
	return false
}

func closed(messages Messages) bool {
	return messages.(*mockMessages).closed
}

// unchoke marks the remote side of p as having unchoked us, the BEP 3
// precondition for requesting non-fast-set pieces.
func unchoke(d *Dispatcher, p *peer) {
	if err := d.dispatch(p, &wire.Message{Type: wire.Unchoke}); err != nil {
		panic(err)
	}
}

type noopEvents struct{}

func (e noopEvents) DispatcherComplete(*Dispatcher) {}

func (e noopEvents) PeerRemoved(core.PeerID, core.InfoHash) {}

// newTestTorrent creates a fresh on-disk torrent with the given number of
// 1-byte pieces, none of which are written yet.
func newTestTorrent(numPieces int) (storage.Torrent, []byte, func()) {
	content := make([]byte, numPieces)
	for i := range content {
		content[i] = byte(i)
	}
	_, mi := metainfo.SingleFileFixture("data.bin", content, 1)

	dir, err := ioutil.TempDir("", "dispatch_test")
	if err != nil {
		panic(err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	torrent, err := storage.NewLocalTorrent(dir, mi)
	if err != nil {
		cleanup()
		panic(err)
	}
	return torrent, content, cleanup
}

func testDispatcher(config Config, clk clock.Clock, t storage.Torrent) *Dispatcher {
	d, err := newDispatcher(
		config,
		tally.NoopScope,
		clk,
		networkevent.NewTestProducer(),
		noopEvents{},
		core.PeerIDFixture(),
		t,
		zap.NewNop().Sugar(),
		torrentlog.NewNopLogger())
	if err != nil {
		panic(err)
	}
	return d
}

func TestDispatcherSendUniquePieceRequestsWithinLimit(t *testing.T) {
	require := require.New(t)

	config := Config{
		PipelineLimit: 3,
	}
	clk := clock.NewMock()

	torrent, _, cleanup := newTestTorrent(100)
	defer cleanup()

	d := testDispatcher(config, clk, torrent)

	var mu sync.Mutex
	var requestCount int
	totalRequestsPerPiece := make(map[int]int)
	totalRequestPerPeer := make(map[core.PeerID]int)

	// Add a bunch of peers concurrently which are saturated with pieces d needs.
	// We should send exactly <pipelineLimit> piece requests per peer.
	peerBitfield := bitset.New(uint(torrent.NumPieces())).Complement()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(peerBitfield, torrent.NumPieces()), newMockMessages())
			require.NoError(err)
			unchoke(d, p)
			d.maybeRequestMorePieces(p)
			for i, n := range numRequestsPerPiece(p.messages) {
				require.True(n <= 1)
				mu.Lock()
				requestCount += n
				totalRequestsPerPiece[i] += n
				require.True(totalRequestsPerPiece[i] <= 1)
				totalRequestPerPeer[p.id] += n
				require.True(totalRequestPerPeer[p.id] <= config.PipelineLimit)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(config.PipelineLimit*10, requestCount)

	buffer := make([]uint, peerBitfield.Len())
	_, buffer = peerBitfield.NextSetMany(uint(0), buffer)
	for _, i := range buffer {
		count := d.numPeersByPiece.Get(int(i))
		require.Equal(10, count)
	}
}

func TestDispatcherResendFailedPieceRequests(t *testing.T) {
	require := require.New(t)

	config := Config{
		DisableEndgame: true,
	}
	clk := clock.NewMock()

	torrent, _, cleanup := newTestTorrent(2)
	defer cleanup()

	d := testDispatcher(config, clk, torrent)

	// p1 has both pieces and sends requests for both.
	p1, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(true, true), 2), newMockMessages())
	require.NoError(err)
	unchoke(d, p1)
	d.maybeRequestMorePieces(p1)
	require.Equal(map[int]int{
		0: 1,
		1: 1,
	}, numRequestsPerPiece(p1.messages))

	// p2 has piece 0 and sends no piece requests.
	p2, err := d.addPeer(
		core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(true, false), 2), newMockMessages())
	require.NoError(err)
	unchoke(d, p2)
	d.maybeRequestMorePieces(p2)
	require.Equal(map[int]int{}, numRequestsPerPiece(p2.messages))

	// p3 has piece 1 and sends no piece requests.
	p3, err := d.addPeer(
		core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(false, true), 2), newMockMessages())
	require.NoError(err)
	unchoke(d, p3)
	d.maybeRequestMorePieces(p3)
	require.Equal(map[int]int{}, numRequestsPerPiece(p3.messages))

	clk.Add(d.pieceRequestTimeout + 1)

	d.resendFailedPieceRequests()

	// p1 was not sent any new piece requests.
	require.Equal(map[int]int{
		0: 1,
		1: 1,
	}, numRequestsPerPiece(p1.messages))

	// p2 was sent a piece request for piece 0.
	require.Equal(map[int]int{
		0: 1,
	}, numRequestsPerPiece(p2.messages))

	// p3 was sent a piece request for piece 1.
	require.Equal(map[int]int{
		1: 1,
	}, numRequestsPerPiece(p3.messages))
}

func TestDispatcherSendErrorsMarksPieceRequestsUnsent(t *testing.T) {
	require := require.New(t)

	config := Config{
		DisableEndgame: true,
	}
	clk := clock.NewMock()

	torrent, _, cleanup := newTestTorrent(1)
	defer cleanup()

	d := testDispatcher(config, clk, torrent)

	p1, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(true), 1), newMockMessages())
	require.NoError(err)
	p1.setRemoteChoking(false)

	p1.messages.Close()

	// Send should fail since p1 messages are closed.
	d.maybeRequestMorePieces(p1)

	require.Equal(map[int]int{}, numRequestsPerPiece(p1.messages))

	p2, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(true), 1), newMockMessages())
	require.NoError(err)
	unchoke(d, p2)

	// Send should succeed since pending requests were marked unsent.
	d.maybeRequestMorePieces(p2)

	require.Equal(map[int]int{
		0: 1,
	}, numRequestsPerPiece(p2.messages))
}

func TestDispatcherCalcPieceRequestTimeout(t *testing.T) {
	config := Config{
		PieceRequestMinTimeout:   5 * time.Second,
		PieceRequestTimeoutPerMb: 2 * time.Second,
	}

	tests := []struct {
		maxPieceLength uint64
		expected       time.Duration
	}{
		{512 * 1024, 5 * time.Second},
		{1024 * 1024, 5 * time.Second},
		{4 * 1024 * 1024, 8 * time.Second},
		{8 * 1024 * 1024, 16 * time.Second},
	}
	for _, test := range tests {
		timeout := config.calcPieceRequestTimeout(int64(test.maxPieceLength))
		require.Equal(t, test.expected, timeout)
	}
}

func TestDispatcherEndgame(t *testing.T) {
	require := require.New(t)

	config := Config{
		PipelineLimit:   1,
		EndgameFraction: 0.5,
	}
	clk := clock.NewMock()

	torrent, content, cleanup := newTestTorrent(2)
	defer cleanup()

	d := testDispatcher(config, clk, torrent)

	// Completing piece 0 of 2 reaches the 0.5 endgame fraction.
	_, err := torrent.WritePart(content[0:1], 0, 0)
	require.NoError(err)

	p1, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(true, true), 2), newMockMessages())
	require.NoError(err)
	unchoke(d, p1)

	d.maybeRequestMorePieces(p1)
	require.Equal(map[int]int{1: 1}, numRequestsPerPiece(p1.messages))

	p2, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(true, true), 2), newMockMessages())
	require.NoError(err)
	unchoke(d, p2)

	// Should send duplicate request for piece 1 since we're in endgame.
	d.maybeRequestMorePieces(p2)
	require.Equal(map[int]int{1: 1}, numRequestsPerPiece(p2.messages))
}

func TestDispatcherHandlePieceAnnouncesHave(t *testing.T) {
	require := require.New(t)

	torrent, content, cleanup := newTestTorrent(2)
	defer cleanup()

	d := testDispatcher(Config{}, clock.NewMock(), torrent)

	p1, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(false, false), 2), newMockMessages())
	require.NoError(err)

	p2, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(false, false), 2), newMockMessages())
	require.NoError(err)

	msg := wire.NewPiece(0, 0, piecereader.NewBuffer(content[0:1]))

	require.NoError(d.dispatch(p1, msg))

	// Should not announce to the peer who sent the payload.
	require.Empty(haveSentPieces(p1.messages))

	// Should announce to other peers.
	require.Equal([]int{0}, haveSentPieces(p2.messages))
}

func TestDispatcherHandlePieceSendsHaveAllWhenComplete(t *testing.T) {
	require := require.New(t)

	torrent, content, cleanup := newTestTorrent(1)
	defer cleanup()

	d := testDispatcher(Config{}, clock.NewMock(), torrent)

	p1, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(false), 1), newMockMessages())
	require.NoError(err)

	p2, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(false), 1), newMockMessages())
	require.NoError(err)

	msg := wire.NewPiece(0, 0, piecereader.NewBuffer(content[0:1]))

	require.NoError(d.dispatch(p1, msg))

	require.True(hasHaveAll(p2.messages))
}

func TestDispatcherClosesCompletedPeersWhenComplete(t *testing.T) {
	require := require.New(t)

	torrent, content, cleanup := newTestTorrent(1)
	defer cleanup()

	d := testDispatcher(Config{}, clock.NewMock(), torrent)

	completedPeer, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(true), 1), newMockMessages())
	require.NoError(err)

	incompletePeer, err := d.addPeer(
		core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(false), 1), newMockMessages())
	require.NoError(err)

	msg := wire.NewPiece(0, 0, piecereader.NewBuffer(content[0:1]))

	// Completed peers are closed when the dispatcher completes.
	require.NoError(d.dispatch(completedPeer, msg))
	require.True(closed(completedPeer.messages))
	require.False(closed(incompletePeer.messages))
}

func TestDispatcherHandleHaveAllRequestsPieces(t *testing.T) {
	require := require.New(t)

	torrent, _, cleanup := newTestTorrent(1)
	defer cleanup()

	d := testDispatcher(Config{}, clock.NewMock(), torrent)

	p, err := d.addPeer(core.PeerIDFixture(), true, nil, newMockMessages())
	require.NoError(err)
	unchoke(d, p)

	require.Empty(numRequestsPerPiece(p.messages))

	require.NoError(d.dispatch(p, &wire.Message{Type: wire.HaveAll}))

	require.Equal(map[int]int{0: 1}, numRequestsPerPiece(p.messages))
	require.False(closed(p.messages))
}

func TestDispatcherPeerPieceCounts(t *testing.T) {
	require := require.New(t)

	torrent, _, cleanup := newTestTorrent(3)
	defer cleanup()

	d := testDispatcher(Config{}, clock.NewMock(), torrent)

	var err error

	p, err := d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(false, false, false), 3), newMockMessages())
	require.NoError(err)

	require.Equal(0, d.numPeersByPiece.Get(0))
	require.Equal(0, d.numPeersByPiece.Get(1))
	require.Equal(0, d.numPeersByPiece.Get(2))

	d.dispatch(p, wire.NewHave(2))

	require.Equal(1, d.numPeersByPiece.Get(2))

	d.dispatch(p, wire.NewHave(0))
	d.dispatch(p, wire.NewHave(0))

	require.Equal(1, d.numPeersByPiece.Get(0))

	_, err = d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(true, true, true), 3), newMockMessages())
	require.NoError(err)

	require.Equal(2, d.numPeersByPiece.Get(0))
	require.Equal(1, d.numPeersByPiece.Get(1))
	require.Equal(2, d.numPeersByPiece.Get(2))

	_, err = d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(true, false, true), 3), newMockMessages())
	require.NoError(err)

	require.Equal(3, d.numPeersByPiece.Get(0))
	require.Equal(1, d.numPeersByPiece.Get(1))
	require.Equal(3, d.numPeersByPiece.Get(2))

	_, err = d.addPeer(core.PeerIDFixture(), false, wire.NewBitfield(bitsetutil.FromBools(false, false, false), 3), newMockMessages())
	require.NoError(err)

	require.Equal(3, d.numPeersByPiece.Get(0))
	require.Equal(1, d.numPeersByPiece.Get(1))
	require.Equal(3, d.numPeersByPiece.Get(2))

	d.removePeer(p)

	require.Equal(2, d.numPeersByPiece.Get(0))
	require.Equal(1, d.numPeersByPiece.Get(1))
	require.Equal(2, d.numPeersByPiece.Get(2))
}
