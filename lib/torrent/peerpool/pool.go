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

// Package peerpool tracks the lifecycle of peer-wire connections across all
// torrents the client is managing, enforcing per-torrent connection limits
// and temporary blacklisting of misbehaving peers.
package peerpool

import (
	"errors"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/networkevent"
	"github.com/coreswarm/torrent/lib/torrent/peer"
)

// Pool errors.
var (
	ErrTorrentAtCapacity       = errors.New("torrent is at capacity")
	ErrConnAlreadyPending      = errors.New("conn is already pending")
	ErrConnAlreadyActive       = errors.New("conn is already active")
	ErrConnClosed              = errors.New("conn is closed")
	ErrInvalidActiveTransition = errors.New("conn must be pending to transition to active")
	ErrTooManyMutualConns      = errors.New("conn has too many mutual connections")

	errUnknownStatus = errors.New("invariant violation: unknown status")
)

type status int

const (
	_uninit status = iota
	_pending
	_active
)

type entry struct {
	status status
	conn   *peer.Conn
}

type connKey struct {
	hash   core.InfoHash
	peerID core.PeerID
}

type blacklistEntry struct {
	expiration time.Time
}

func (e *blacklistEntry) Blacklisted(now time.Time) bool {
	return e.Remaining(now) > 0
}

func (e *blacklistEntry) Remaining(now time.Time) time.Duration {
	return e.expiration.Sub(now)
}

// Pool provides connection lifecycle management and enforces connection
// limits across all torrents a client manages. A connection to a peer is
// identified by torrent info hash and peer id. Each connection exists in
// one of three states: pending, active, or blacklisted. Pending connections
// are unestablished connections which reserve capacity until they finish
// handshaking. Active connections are established connections ready to
// exchange pieces. Blacklisted connections are failed connections which
// should be skipped on the next peer handout from the DHT or tracker.
//
// Pool is NOT thread-safe. Synchronization must be provided by the caller,
// typically a single torrent coordinator goroutine.
type Pool struct {
	config      Config
	clk         clock.Clock
	netevents   networkevent.Producer
	localPeerID core.PeerID
	logger      *zap.SugaredLogger

	conns     map[core.InfoHash]map[core.PeerID]entry
	blacklist map[connKey]*blacklistEntry
}

// New creates a new Pool.
func New(
	config Config,
	clk clock.Clock,
	localPeerID core.PeerID,
	netevents networkevent.Producer,
	logger *zap.SugaredLogger) *Pool {

	config = config.applyDefaults()

	return &Pool{
		config:      config,
		clk:         clk,
		netevents:   netevents,
		localPeerID: localPeerID,
		logger:      logger,
		conns:       make(map[core.InfoHash]map[core.PeerID]entry),
		blacklist:   make(map[connKey]*blacklistEntry),
	}
}

// ActiveConns returns all active connections for h.
func (p *Pool) ActiveConns(h core.InfoHash) []*peer.Conn {
	var active []*peer.Conn
	for _, e := range p.conns[h] {
		if e.status == _active {
			active = append(active, e.conn)
		}
	}
	return active
}

// NumActive returns the number of active connections for h.
func (p *Pool) NumActive(h core.InfoHash) int {
	var n int
	for _, e := range p.conns[h] {
		if e.status == _active {
			n++
		}
	}
	return n
}

// Saturated returns true if h is at capacity and all its conns are active.
func (p *Pool) Saturated(h core.InfoHash) bool {
	return p.NumActive(h) == p.config.PeersUpperLimit
}

// NeedsMorePeers returns true if h has fewer active connections than the
// configured lower limit, indicating the torrent should request more peer
// candidates from the DHT or tracker.
func (p *Pool) NeedsMorePeers(h core.InfoHash) bool {
	return p.NumActive(h) < p.config.PeersLowerLimit
}

// Blacklist blacklists peerID/h for the configured BlacklistDuration.
func (p *Pool) Blacklist(peerID core.PeerID, h core.InfoHash) error {
	if p.config.DisableBlacklist {
		return nil
	}

	k := connKey{h, peerID}
	if e, ok := p.blacklist[k]; ok && e.Blacklisted(p.clk.Now()) {
		return errors.New("conn is already blacklisted")
	}
	p.blacklist[k] = &blacklistEntry{p.clk.Now().Add(p.config.BlacklistDuration)}

	p.log("peer", peerID, "hash", h).Infof(
		"Connection blacklisted for %s", p.config.BlacklistDuration)
	p.netevents.Produce(
		networkevent.BlacklistConnEvent(h, p.localPeerID, peerID, p.config.BlacklistDuration))

	return nil
}

// Blacklisted returns true if peerID/h is blacklisted.
func (p *Pool) Blacklisted(peerID core.PeerID, h core.InfoHash) bool {
	e, ok := p.blacklist[connKey{h, peerID}]
	return ok && e.Blacklisted(p.clk.Now())
}

// ClearBlacklist un-blacklists all connections for h.
func (p *Pool) ClearBlacklist(h core.InfoHash) {
	for k := range p.blacklist {
		if k.hash == h {
			delete(p.blacklist, k)
		}
	}
}

// AddPending reserves capacity for an in-progress handshake with peerID/h.
func (p *Pool) AddPending(peerID core.PeerID, h core.InfoHash, neighbors []core.PeerID) error {
	if len(p.conns[h]) == p.config.PeersUpperLimit {
		return ErrTorrentAtCapacity
	}
	switch p.get(h, peerID).status {
	case _uninit:
		if p.numMutualConns(h, neighbors) > p.config.MaxMutualConnections {
			return ErrTooManyMutualConns
		}
		p.put(h, peerID, entry{status: _pending})
		p.log("hash", h, "peer", peerID).Infof(
			"Added pending conn, capacity now at %d", p.capacity(h))
		return nil
	case _pending:
		return ErrConnAlreadyPending
	case _active:
		return ErrConnAlreadyActive
	default:
		return errUnknownStatus
	}
}

// DeletePending deletes the pending connection for peerID/h and frees capacity.
func (p *Pool) DeletePending(peerID core.PeerID, h core.InfoHash) {
	if p.get(h, peerID).status != _pending {
		return
	}
	p.delete(h, peerID)
	p.log("hash", h, "peer", peerID).Infof(
		"Deleted pending conn, capacity now at %d", p.capacity(h))
}

// MovePendingToActive sets a previously pending connection as active.
func (p *Pool) MovePendingToActive(c *peer.Conn) error {
	if c.IsClosed() {
		return ErrConnClosed
	}
	if p.get(c.InfoHash(), c.PeerID()).status != _pending {
		return ErrInvalidActiveTransition
	}
	p.put(c.InfoHash(), c.PeerID(), entry{status: _active, conn: c})

	p.log("hash", c.InfoHash(), "peer", c.PeerID()).Info("Moved conn from pending to active")
	p.netevents.Produce(networkevent.AddActiveConnEvent(c.InfoHash(), p.localPeerID, c.PeerID()))

	return nil
}

// DeleteActive deletes c. No-ops if c is not the active conn on record.
func (p *Pool) DeleteActive(c *peer.Conn) {
	e := p.get(c.InfoHash(), c.PeerID())
	if e.status != _active {
		return
	}
	if e.conn != c {
		// A new conn may have already replaced c under the same hash/peer key.
		return
	}
	p.delete(c.InfoHash(), c.PeerID())

	p.log("hash", c.InfoHash(), "peer", c.PeerID()).Infof(
		"Deleted active conn, capacity now at %d", p.capacity(c.InfoHash()))
	p.netevents.Produce(networkevent.DropActiveConnEvent(
		c.InfoHash(), p.localPeerID, c.PeerID()))
}

func (p *Pool) numMutualConns(h core.InfoHash, neighbors []core.PeerID) int {
	var n int
	for _, id := range neighbors {
		e := p.get(h, id)
		if e.status == _pending || e.status == _active {
			n++
		}
	}
	return n
}

// BlacklistedConn represents a connection which has been blacklisted.
type BlacklistedConn struct {
	PeerID    core.PeerID   `json:"peer_id"`
	InfoHash  core.InfoHash `json:"info_hash"`
	Remaining time.Duration `json:"remaining"`
}

// BlacklistSnapshot returns a snapshot of all valid blacklist entries.
func (p *Pool) BlacklistSnapshot() []BlacklistedConn {
	var conns []BlacklistedConn
	for k, e := range p.blacklist {
		conns = append(conns, BlacklistedConn{
			PeerID:    k.peerID,
			InfoHash:  k.hash,
			Remaining: e.Remaining(p.clk.Now()),
		})
	}
	return conns
}

func (p *Pool) get(h core.InfoHash, peerID core.PeerID) entry {
	peers, ok := p.conns[h]
	if !ok {
		return entry{}
	}
	return peers[peerID]
}

func (p *Pool) put(h core.InfoHash, peerID core.PeerID, e entry) {
	peers, ok := p.conns[h]
	if !ok {
		peers = make(map[core.PeerID]entry)
		p.conns[h] = peers
	}
	peers[peerID] = e
}

func (p *Pool) delete(h core.InfoHash, peerID core.PeerID) {
	peers, ok := p.conns[h]
	if !ok {
		return
	}
	delete(peers, peerID)
	if len(peers) == 0 {
		delete(p.conns, h)
	}
}

func (p *Pool) capacity(h core.InfoHash) int {
	return p.config.PeersUpperLimit - len(p.conns[h])
}

func (p *Pool) log(args ...interface{}) *zap.SugaredLogger {
	return p.logger.With(args...)
}
