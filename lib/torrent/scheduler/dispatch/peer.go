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
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/willf/bitset"

	"github.com/coreswarm/torrent/core"
)

// peer consolidates bookkeeping for a remote peer connected for a single
// torrent: its wire connection, its piece bitfield, and the choke/interest
// state that gates uploading and downloading to it.
type peer struct {
	id core.PeerID

	// Tracks the pieces which the remote peer has.
	bitfield *syncBitfield

	// fastSet tracks pieces the remote peer advertised as AllowedFast (BEP
	// 6): requestable even while the remote chokes us.
	fastSet *syncBitfield

	// fastEnabled reports whether both ends of the connection negotiated
	// the Fast extension (BEP 6) during the handshake. Fast-only message
	// types received from a peer for which this is false are a protocol
	// violation.
	fastEnabled bool

	messages Messages

	clk clock.Clock

	// May be accessed outside of the peer struct.
	pstats *peerStats

	mu             sync.Mutex // Protects the following fields:
	clientChoke    bool       // We are choking the remote. Starts true.
	remoteChoke    bool       // The remote is choking us. Starts true.
	clientInterest bool       // We are interested in the remote.
	remoteInterest bool       // The remote is interested in us.
	uploadPermit   bool       // We currently hold an upload permit for this peer.

	lastGoodPieceReceived time.Time
	lastPieceSent         time.Time
}

func newPeer(
	peerID core.PeerID,
	b *bitset.BitSet,
	fastEnabled bool,
	messages Messages,
	clk clock.Clock,
	pstats *peerStats) *peer {

	return &peer{
		id:          peerID,
		bitfield:    newSyncBitfield(b),
		fastSet:     newSyncBitfield(bitset.New(b.Len())),
		fastEnabled: fastEnabled,
		messages:    messages,
		clk:         clk,
		pstats:      pstats,
		clientChoke: true,
		remoteChoke: true,
	}
}

func (p *peer) String() string {
	return p.id.String()
}

func (p *peer) getLastGoodPieceReceived() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastGoodPieceReceived
}

func (p *peer) touchLastGoodPieceReceived() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastGoodPieceReceived = p.clk.Now()
}

func (p *peer) getLastPieceSent() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastPieceSent
}

func (p *peer) touchLastPieceSent() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastPieceSent = p.clk.Now()
}

func (p *peer) isRemoteChoking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteChoke
}

func (p *peer) setRemoteChoking(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteChoke = v
}

func (p *peer) isRemoteInterested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteInterest
}

func (p *peer) setRemoteInterested(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteInterest = v
}

func (p *peer) isClientChoking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientChoke
}

func (p *peer) isClientInterested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientInterest
}

func (p *peer) setClientInterested(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientInterest = v
}

// acquireUploadPermit transitions p to unchoked if not already holding a
// permit, returning whether a transition happened (i.e. a Choke/Unchoke
// message needs to be sent).
func (p *peer) acquireUploadPermit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.uploadPermit {
		return false
	}
	p.uploadPermit = true
	p.clientChoke = false
	return true
}

// releaseUploadPermit transitions p to choked if currently holding a
// permit, returning whether a transition happened, which is also whether a
// permit was released.
func (p *peer) releaseUploadPermit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.uploadPermit {
		return false
	}
	p.uploadPermit = false
	p.clientChoke = true
	return true
}

func (p *peer) hasUploadPermit() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.uploadPermit
}

// peerStats wraps stats collected for a given peer.
type peerStats struct {
	mu                    sync.Mutex
	pieceRequestsSent     int // Pieces we requested from the peer.
	pieceRequestsReceived int // Pieces the peer requested from us.
	piecesSent            int // Pieces we sent to the peer.

	// Pieces we received from the peer that we didn't already have.
	goodPiecesReceived int
	// Pieces we received from the peer that we already had.
	duplicatePiecesReceived int
}

func (s *peerStats) getPieceRequestsSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pieceRequestsSent
}

func (s *peerStats) incrementPieceRequestsSent() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pieceRequestsSent++
}

func (s *peerStats) getPieceRequestsReceived() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pieceRequestsReceived
}

func (s *peerStats) incrementPieceRequestsReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pieceRequestsReceived++
}

func (s *peerStats) getPiecesSent() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.piecesSent
}

func (s *peerStats) incrementPiecesSent() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.piecesSent++
}

func (s *peerStats) getGoodPiecesReceived() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.goodPiecesReceived
}

func (s *peerStats) incrementGoodPiecesReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.goodPiecesReceived++
}

func (s *peerStats) getDuplicatePiecesReceived() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.duplicatePiecesReceived
}

func (s *peerStats) incrementDuplicatePiecesReceived() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.duplicatePiecesReceived++
}
