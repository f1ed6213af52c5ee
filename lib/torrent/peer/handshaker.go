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
	"fmt"
	"net"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/storage"
	"github.com/coreswarm/torrent/utils/bandwidth"
)

// PendingConn is a connection which has completed dialing/accepting but has
// not yet performed the BEP 3 handshake.
type PendingConn struct {
	nc             net.Conn
	openedByRemote bool
}

// Close closes the underlying net.Conn without completing a handshake.
func (pc *PendingConn) Close() {
	pc.nc.Close()
}

// HandshakeResult is the product of a successful handshake: an established
// Conn, not yet started, plus the extensions the remote peer negotiated.
type HandshakeResult struct {
	Conn       *Conn
	Bitfield   *Message // Optional bitfield/have-all/have-none sent immediately after handshake.
	Extensions Reserved
}

// Handshaker performs the BEP 3 handshake and the initial bitfield exchange
// on raw connections, producing Conns ready to Start. It does not send or
// read the BEP 10 extended handshake.
type Handshaker struct {
	config    Config
	stats     tally.Scope
	clk       clock.Clock
	bandwidth *bandwidth.Limiter
	peerID    core.PeerID
	events    Events
	logger    *zap.SugaredLogger
}

// NewHandshaker creates a new Handshaker.
func NewHandshaker(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	peerID core.PeerID,
	events Events,
	logger *zap.SugaredLogger) (*Handshaker, error) {

	config = config.applyDefaults()

	limiter, err := bandwidth.NewLimiter(config.Bandwidth)
	if err != nil {
		return nil, fmt.Errorf("bandwidth: %s", err)
	}

	return &Handshaker{
		config:    config,
		stats:     stats,
		clk:       clk,
		bandwidth: limiter,
		peerID:    peerID,
		events:    events,
		logger:    logger,
	}, nil
}

// Accept wraps an inbound connection as a PendingConn.
func (h *Handshaker) Accept(nc net.Conn) *PendingConn {
	return &PendingConn{nc: nc, openedByRemote: true}
}

// Establish dials addr and wraps the resulting connection as a PendingConn.
func (h *Handshaker) Establish(addr string) (*PendingConn, error) {
	nc, err := net.DialTimeout("tcp", addr, h.config.HandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial: %s", err)
	}
	return &PendingConn{nc: nc, openedByRemote: false}, nil
}

// Initialize performs the BEP 3 handshake over pc, followed by the initial
// bitfield/have-all/have-none exchange. t must already exist in local
// storage (either populated or freshly created) so its info hash and
// bitfield are known. Used for outgoing connections, where the torrent is
// known before dialing.
func (h *Handshaker) Initialize(pc *PendingConn, t storage.Torrent, expectedPeerID *core.PeerID) (*HandshakeResult, error) {
	if err := pc.nc.SetDeadline(h.clk.Now().Add(h.config.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}

	local := Handshake{
		Reserved: NewReserved(false, !h.config.DisableFast, !h.config.DisableExtended),
		InfoHash: t.InfoHash().Handshake20(),
		PeerID:   h.peerID,
	}
	if err := local.WriteTo(pc.nc); err != nil {
		return nil, fmt.Errorf("write handshake: %s", err)
	}
	remote, err := readAndValidateHandshake(pc.nc, t.InfoHash(), expectedPeerID)
	if err != nil {
		return nil, err
	}

	return h.exchangeBitfields(pc, local, remote, t)
}

// ReadIncomingHandshake reads and parses the BEP 3 handshake off a
// connection accepted via Accept, without yet knowing which torrent it is
// for. The caller uses the returned Handshake's InfoHash to look up local
// torrent storage before calling EstablishIncoming.
func (h *Handshaker) ReadIncomingHandshake(pc *PendingConn) (*Handshake, error) {
	if err := pc.nc.SetDeadline(h.clk.Now().Add(h.config.HandshakeTimeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}
	return ReadHandshake(pc.nc)
}

// EstablishIncoming completes a handshake for a connection accepted via
// Accept and read via ReadIncomingHandshake, once the caller has resolved
// remote's info hash to local torrent storage t.
func (h *Handshaker) EstablishIncoming(pc *PendingConn, remote *Handshake, t storage.Torrent) (*HandshakeResult, error) {
	local := Handshake{
		Reserved: NewReserved(false, !h.config.DisableFast, !h.config.DisableExtended),
		InfoHash: t.InfoHash().Handshake20(),
		PeerID:   h.peerID,
	}
	if err := local.WriteTo(pc.nc); err != nil {
		return nil, fmt.Errorf("write handshake: %s", err)
	}
	return h.exchangeBitfields(pc, local, remote, t)
}

// exchangeBitfields performs the initial bitfield/have-all/have-none
// exchange that follows the raw BEP 3 handshake, then builds the
// resulting Conn.
func (h *Handshaker) exchangeBitfields(
	pc *PendingConn, local Handshake, remote *Handshake, t storage.Torrent) (*HandshakeResult, error) {

	extensions := local.Reserved.And(remote.Reserved)

	var initial *Message
	if extensions.SupportsFast() {
		if t.Complete() {
			initial = &Message{Type: HaveAll}
		} else if len(t.MissingPieces()) == t.NumPieces() {
			initial = &Message{Type: HaveNone}
		}
	}
	if initial == nil {
		initial = NewBitfield(t.Bitfield(), t.NumPieces())
	}
	if err := WriteMessage(pc.nc, nil, initial); err != nil {
		return nil, fmt.Errorf("write initial bitfield: %s", err)
	}

	peerBitfield, err := ReadMessage(pc.nc, nil)
	if err != nil {
		return nil, fmt.Errorf("read initial bitfield: %s", err)
	}
	switch peerBitfield.Type {
	case Bitfield, HaveAll, HaveNone:
	default:
		return nil, fmt.Errorf("expected bitfield-like message after handshake, got %s", peerBitfield.Type)
	}

	if err := pc.nc.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear deadline: %s", err)
	}

	c, err := newConn(
		h.config, h.stats, h.clk, h.bandwidth, h.events,
		pc.nc, h.peerID, remote.PeerID, t.InfoHash(), extensions, pc.openedByRemote, h.logger)
	if err != nil {
		return nil, fmt.Errorf("new conn: %s", err)
	}

	return &HandshakeResult{Conn: c, Bitfield: peerBitfield, Extensions: extensions}, nil
}

func readAndValidateHandshake(nc net.Conn, infoHash core.InfoHash, expectedPeerID *core.PeerID) (*Handshake, error) {
	h, err := ReadHandshake(nc)
	if err != nil {
		return nil, fmt.Errorf("read handshake: %s", err)
	}
	if h.InfoHash != infoHash.Handshake20() {
		return nil, fmt.Errorf("info hash mismatch")
	}
	if expectedPeerID != nil && h.PeerID != *expectedPeerID {
		return nil, fmt.Errorf("peer id mismatch: expected %s, got %s", expectedPeerID, h.PeerID)
	}
	return h, nil
}
