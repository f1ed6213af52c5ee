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

// Package dispatch coordinates a single torrent's piece exchange across
// all of its connected peers: the choke/interest state machine, piece
// request pipelining and timeouts, and upload permit scheduling.
package dispatch

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"github.com/willf/bitset"
	"go.uber.org/zap"
	"golang.org/x/sync/syncmap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/networkevent"
	wire "github.com/coreswarm/torrent/lib/torrent/peer"
	"github.com/coreswarm/torrent/lib/torrent/piece"
	"github.com/coreswarm/torrent/lib/torrent/piecerequest"
	"github.com/coreswarm/torrent/lib/torrent/scheduler/torrentlog"
	"github.com/coreswarm/torrent/lib/torrent/storage"
	"github.com/coreswarm/torrent/utils/syncutil"
)

const maxRequestLength = piece.DefaultPartLength

var (
	errPieceOutOfBounds        = errors.New("piece index out of bounds")
	errChunkNotSupported       = errors.New("request does not match a 16 KiB part boundary")
	errRequestTooLarge         = errors.New("requested length exceeds 16 KiB")
	errRepeatedBitfieldMessage = errors.New("received repeated bitfield message")
)

// Events defines Dispatcher events.
type Events interface {
	DispatcherComplete(*Dispatcher)
	PeerRemoved(core.PeerID, core.InfoHash)
}

// Messages defines the subset of wire.Conn methods Dispatcher needs to
// communicate with a remote peer.
type Messages interface {
	Send(msg *wire.Message) error
	Receiver() <-chan *wire.Message
	Close()
}

// Dispatcher coordinates torrent state with sending / receiving messages between multiple
// peers. As such, Dispatcher and Torrent have a one-to-one relationship, while Dispatcher
// and Conn have a one-to-many relationship.
type Dispatcher struct {
	config                Config
	stats                 tally.Scope
	clk                   clock.Clock
	createdAt             time.Time
	localPeerID           core.PeerID
	torrent               *torrentAccessWatcher
	peers                 syncmap.Map // core.PeerID -> *peer
	peerStats             syncmap.Map // core.PeerID -> *peerStats, persists on peer removal.
	numPeersByPiece       syncutil.Counters
	netevents             networkevent.Producer
	pieceRequestTimeout   time.Duration
	pieceRequestManager   *piecerequest.Manager
	uploadSlots           chan struct{}
	pendingPiecesDoneOnce sync.Once
	pendingPiecesDone     chan struct{}
	completeOnce          sync.Once
	events                Events
	logger                *zap.SugaredLogger
	torrentlog            *torrentlog.Logger
}

// New creates a new Dispatcher.
func New(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	netevents networkevent.Producer,
	events Events,
	peerID core.PeerID,
	t storage.Torrent,
	logger *zap.SugaredLogger,
	tlog *torrentlog.Logger) (*Dispatcher, error) {

	d, err := newDispatcher(config, stats, clk, netevents, events, peerID, t, logger, tlog)
	if err != nil {
		return nil, err
	}

	// Exits when d.pendingPiecesDone is closed.
	go d.watchPendingPieceRequests()

	if t.Complete() {
		d.complete()
	}

	return d, nil
}

// newDispatcher creates a new Dispatcher with no side-effects for testing purposes.
func newDispatcher(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	netevents networkevent.Producer,
	events Events,
	peerID core.PeerID,
	t storage.Torrent,
	logger *zap.SugaredLogger,
	tlog *torrentlog.Logger) (*Dispatcher, error) {

	config = config.applyDefaults()

	stats = stats.Tagged(map[string]string{
		"module": "dispatch",
	})

	pieceRequestTimeout := config.calcPieceRequestTimeout(t.MaxPieceLength())
	pieceRequestManager, err := piecerequest.NewManager(
		clk, pieceRequestTimeout, config.PieceRequestPolicy, config.PipelineLimit)
	if err != nil {
		return nil, fmt.Errorf("piece request manager: %s", err)
	}

	return &Dispatcher{
		config:              config,
		stats:               stats,
		clk:                 clk,
		createdAt:           clk.Now(),
		localPeerID:         peerID,
		torrent:             newTorrentAccessWatcher(t, clk),
		numPeersByPiece:     syncutil.NewCounters(t.NumPieces()),
		netevents:           netevents,
		pieceRequestTimeout: pieceRequestTimeout,
		pieceRequestManager: pieceRequestManager,
		uploadSlots:         make(chan struct{}, config.UploadSlots),
		pendingPiecesDone:   make(chan struct{}),
		events:              events,
		logger:              logger,
		torrentlog:          tlog,
	}, nil
}

// InfoHash returns d's torrent hash.
func (d *Dispatcher) InfoHash() core.InfoHash {
	return d.torrent.InfoHash()
}

// Length returns d's torrent length.
func (d *Dispatcher) Length() int64 {
	return d.torrent.Length()
}

// Stat returns d's TorrentInfo.
func (d *Dispatcher) Stat() *storage.TorrentInfo {
	return storage.NewTorrentInfo(d.torrent.InfoHash(), d.torrent.Bitfield(), d.torrent.WastedBytes())
}

// Complete returns true if d's torrent is complete.
func (d *Dispatcher) Complete() bool {
	return d.torrent.Complete()
}

// CreatedAt returns when d was created.
func (d *Dispatcher) CreatedAt() time.Time {
	return d.createdAt
}

// LastGoodPieceReceived returns when d last received a valid and needed piece
// from peerID.
func (d *Dispatcher) LastGoodPieceReceived(peerID core.PeerID) time.Time {
	v, ok := d.peers.Load(peerID)
	if !ok {
		return time.Time{}
	}
	return v.(*peer).getLastGoodPieceReceived()
}

// LastPieceSent returns when d last sent a piece to peerID.
func (d *Dispatcher) LastPieceSent(peerID core.PeerID) time.Time {
	v, ok := d.peers.Load(peerID)
	if !ok {
		return time.Time{}
	}
	return v.(*peer).getLastPieceSent()
}

// LastReadTime returns when d's torrent was last read from.
func (d *Dispatcher) LastReadTime() time.Time {
	return d.torrent.getLastReadTime()
}

// LastWriteTime returns when d's torrent was last written to.
func (d *Dispatcher) LastWriteTime() time.Time {
	return d.torrent.getLastWriteTime()
}

// Empty returns true if the Dispatcher has no peers.
func (d *Dispatcher) Empty() bool {
	empty := true
	d.peers.Range(func(k, v interface{}) bool {
		empty = false
		return false
	})
	return empty
}

// AddPeer registers a new peer with the Dispatcher. initialBitfield is the
// peer's advertised bitfield resolved from its handshake's bitfield/
// have-all/have-none message. fastEnabled reports whether both ends of the
// connection negotiated the Fast extension (BEP 6) during the handshake.
func (d *Dispatcher) AddPeer(
	peerID core.PeerID, fastEnabled bool, initialBitfield *wire.Message, messages Messages) error {

	p, err := d.addPeer(peerID, fastEnabled, initialBitfield, messages)
	if err != nil {
		return err
	}
	go d.maybeRequestMorePieces(p)
	go d.feed(p)
	return nil
}

// addPeer creates and inserts a new peer into the Dispatcher. Split from AddPeer
// with no goroutine side-effects for testing purposes.
func (d *Dispatcher) addPeer(
	peerID core.PeerID, fastEnabled bool, initialBitfield *wire.Message, messages Messages) (*peer, error) {

	var b *bitset.BitSet
	switch {
	case initialBitfield == nil:
		b = bitset.New(uint(d.torrent.NumPieces()))
	case initialBitfield.Type == wire.HaveAll:
		b = bitset.New(uint(d.torrent.NumPieces())).Complement()
	case initialBitfield.Type == wire.HaveNone:
		b = bitset.New(uint(d.torrent.NumPieces()))
	default:
		b = initialBitfield.Bits
	}

	pstats := &peerStats{}
	if s, ok := d.peerStats.LoadOrStore(peerID, pstats); ok {
		pstats = s.(*peerStats)
	}

	p := newPeer(peerID, b, fastEnabled, messages, d.clk, pstats)
	if _, ok := d.peers.LoadOrStore(peerID, p); ok {
		return nil, errors.New("peer already exists")
	}

	for _, i := range p.bitfield.GetAllSet() {
		d.numPeersByPiece.Increment(int(i))
	}
	return p, nil
}

func (d *Dispatcher) removePeer(p *peer) error {
	d.peers.Delete(p.id)
	d.pieceRequestManager.ClearPeer(p.id)
	d.releaseUploadPermit(p)

	for _, i := range p.bitfield.GetAllSet() {
		d.numPeersByPiece.Decrement(int(i))
	}
	return nil
}

// TearDown closes all Dispatcher connections.
func (d *Dispatcher) TearDown() {
	d.pendingPiecesDoneOnce.Do(func() {
		close(d.pendingPiecesDone)
	})

	d.peers.Range(func(k, v interface{}) bool {
		p := v.(*peer)
		d.log("peer", p).Info("Dispatcher teardown closing connection")
		p.messages.Close()
		return true
	})

	summaries := make(torrentlog.LeecherSummaries, 0)
	d.peerStats.Range(func(k, v interface{}) bool {
		peerID := k.(core.PeerID)
		pstats := v.(*peerStats)
		summaries = append(summaries, torrentlog.LeecherSummary{
			PeerID:           peerID,
			RequestsReceived: pstats.getPieceRequestsReceived(),
			PiecesSent:       pstats.getPiecesSent(),
		})
		return true
	})

	if err := d.torrentlog.LeecherSummaries(d.torrent.InfoHash(), summaries); err != nil {
		d.log().Errorf("Error logging incoming piece request summary: %s", err)
	}
}

func (d *Dispatcher) String() string {
	return fmt.Sprintf("Dispatcher(%s)", d.torrent)
}

func (d *Dispatcher) complete() {
	d.completeOnce.Do(func() { go d.events.DispatcherComplete(d) })
	d.pendingPiecesDoneOnce.Do(func() { close(d.pendingPiecesDone) })

	d.peers.Range(func(k, v interface{}) bool {
		p := v.(*peer)
		if p.bitfield.Complete() {
			// Close connections to other completed peers since those connections
			// are now useless.
			d.log("peer", p).Info("Closing connection to completed peer")
			p.messages.Close()
		} else {
			p.messages.Send(&wire.Message{Type: wire.HaveAll})
		}
		return true
	})

	var piecesRequestedTotal int
	summaries := make(torrentlog.SeederSummaries, 0)
	d.peerStats.Range(func(k, v interface{}) bool {
		peerID := k.(core.PeerID)
		pstats := v.(*peerStats)
		requested := pstats.getPieceRequestsSent()
		piecesRequestedTotal += requested
		summaries = append(summaries, torrentlog.SeederSummary{
			PeerID:                  peerID,
			RequestsSent:            requested,
			GoodPiecesReceived:      pstats.getGoodPiecesReceived(),
			DuplicatePiecesReceived: pstats.getDuplicatePiecesReceived(),
		})
		return true
	})

	// Only log if we actually requested pieces from others.
	if piecesRequestedTotal > 0 {
		if err := d.torrentlog.SeederSummaries(d.torrent.InfoHash(), summaries); err != nil {
			d.log().Errorf("Error logging outgoing piece request summary: %s", err)
		}
	}
}

// endgame reports whether the fraction of completed pieces has crossed the
// configured threshold, at which point duplicate piece requests to
// multiple peers are allowed.
func (d *Dispatcher) endgame() bool {
	if d.config.DisableEndgame {
		return false
	}
	n := d.torrent.NumPieces()
	if n == 0 {
		return false
	}
	completed := int(d.torrent.Bitfield().Count())
	return float64(completed)/float64(n) >= d.config.EndgameFraction
}

func (d *Dispatcher) maybeRequestMorePieces(p *peer) (bool, error) {
	if p.isRemoteChoking() {
		// Fast-extension allowed-fast pieces remain requestable while choked.
		candidates := p.fastSet.Intersection(d.torrent.Bitfield().Complement())
		if candidates.Count() == 0 {
			return false, nil
		}
		return d.maybeSendPieceRequests(p, candidates)
	}

	candidates := p.bitfield.Intersection(d.torrent.Bitfield().Complement())
	return d.maybeSendPieceRequests(p, candidates)
}

func (d *Dispatcher) maybeSendPieceRequests(p *peer, candidates *bitset.BitSet) (bool, error) {
	pieces, err := d.pieceRequestManager.ReservePieces(p.id, candidates, d.numPeersByPiece, d.endgame())
	if err != nil {
		return false, err
	}
	if len(pieces) == 0 {
		return false, nil
	}
	if !p.isClientInterested() {
		p.setClientInterested(true)
		p.messages.Send(&wire.Message{Type: wire.Interested})
	}
	for _, i := range pieces {
		for _, part := range piece.SplitParts(d.torrent.PieceLength(i), piece.DefaultPartLength) {
			req := wire.BlockRequest{Piece: i, Begin: int(part.Begin), Length: int(part.Length)}
			if err := p.messages.Send(wire.NewRequest(req)); err != nil {
				// Connection closed.
				d.pieceRequestManager.MarkUnsent(p.id, i)
				return false, err
			}
			p.pstats.incrementPieceRequestsSent()
		}
		d.netevents.Produce(
			networkevent.RequestPieceEvent(d.torrent.InfoHash(), d.localPeerID, p.id, i))
	}
	return true, nil
}

func (d *Dispatcher) resendFailedPieceRequests() {
	failedRequests := d.pieceRequestManager.GetFailedRequests()
	if len(failedRequests) > 0 {
		d.log().Infof("Resending %d failed piece requests", len(failedRequests))
		d.stats.Counter("piece_request_failures").Inc(int64(len(failedRequests)))
	}

	var sentCount int
	for _, r := range failedRequests {
		sent := false
		d.peers.Range(func(k, v interface{}) bool {
			p := v.(*peer)
			if (r.Status == piecerequest.StatusExpired || r.Status == piecerequest.StatusInvalid) &&
				r.PeerID == p.id {
				// Do not resend to the same peer for expired or invalid requests.
				return true
			}

			b := d.torrent.Bitfield()
			candidates := p.bitfield.Intersection(b.Complement())
			if candidates.Test(uint(r.Piece)) {
				nb := bitset.New(b.Len()).Set(uint(r.Piece))
				if ok, err := d.maybeSendPieceRequests(p, nb); ok && err == nil {
					sent = true
					return false
				}
			}
			return true
		})
		if sent {
			sentCount++
		}
	}

	unsent := len(failedRequests) - sentCount
	if unsent > 0 {
		d.log().Infof("Nowhere to resend %d / %d failed piece requests", unsent, len(failedRequests))
	}
}

func (d *Dispatcher) watchPendingPieceRequests() {
	for {
		select {
		case <-d.clk.After(d.pieceRequestTimeout / 2):
			d.resendFailedPieceRequests()
		case <-d.pendingPiecesDone:
			return
		}
	}
}

// feed reads off of peer and handles incoming messages. When peer's messages close,
// the feed goroutine removes peer from the Dispatcher and exits.
func (d *Dispatcher) feed(p *peer) {
	for msg := range p.messages.Receiver() {
		if err := d.dispatch(p, msg); err != nil {
			d.log().Errorf("Error dispatching message: %s", err)
		}
	}
	d.removePeer(p)
	d.events.PeerRemoved(p.id, d.torrent.InfoHash())
}

// fastOnlyMessage reports whether msg's type is only valid once the Fast
// extension (BEP 6) has been negotiated on both ends of the connection.
func fastOnlyMessage(t wire.Type) bool {
	switch t {
	case wire.HaveAll, wire.HaveNone, wire.AllowedFast, wire.SuggestPiece, wire.RejectRequest:
		return true
	default:
		return false
	}
}

func (d *Dispatcher) dispatch(p *peer, msg *wire.Message) error {
	if fastOnlyMessage(msg.Type) && !p.fastEnabled {
		p.messages.Close()
		return &core.FastProtocolError{
			Reason: fmt.Sprintf("received %s without Fast extension negotiated", msg.Type),
		}
	}

	switch msg.Type {
	case wire.KeepAlive:
	case wire.Choke:
		d.handleChoke(p)
	case wire.Unchoke:
		d.handleUnchoke(p)
	case wire.Interested:
		d.handleInterested(p)
	case wire.NotInterested:
		d.handleNotInterested(p)
	case wire.Have:
		d.handleHave(p, msg.Piece)
	case wire.Bitfield:
		return errRepeatedBitfieldMessage
	case wire.Request:
		d.handleRequest(p, msg)
	case wire.Piece:
		d.handlePiece(p, msg)
	case wire.Cancel:
		// No-op: cancelling not supported because all received messages are
		// synchronized -- by the time we receive a cancel, we've likely
		// already read and sent the piece.
	case wire.RejectRequest:
		d.handleRejectRequest(p, msg)
	case wire.SuggestPiece:
		d.handleSuggestPiece(p, msg.Piece)
	case wire.AllowedFast:
		d.handleAllowedFast(p, msg.Piece)
	case wire.HaveAll:
		d.handleHave2(p, true)
	case wire.HaveNone:
		d.handleHave2(p, false)
	case wire.Port:
		// DHT port announcement: no local action, DHT discovery is driven
		// independently of individual peer connections.
	default:
		return fmt.Errorf("unhandled message type: %s", msg.Type)
	}
	return nil
}

func (d *Dispatcher) handleChoke(p *peer) {
	p.setRemoteChoking(true)
	d.pieceRequestManager.ClearPeer(p.id)
}

func (d *Dispatcher) handleUnchoke(p *peer) {
	p.setRemoteChoking(false)
	d.maybeRequestMorePieces(p)
}

func (d *Dispatcher) handleInterested(p *peer) {
	p.setRemoteInterested(true)
	d.maybeGrantUploadPermit(p)
}

func (d *Dispatcher) handleNotInterested(p *peer) {
	p.setRemoteInterested(false)
	d.releaseUploadPermit(p)
}

func (d *Dispatcher) handleHave(p *peer, piece int) {
	if piece < 0 || piece >= d.torrent.NumPieces() {
		d.log("peer", p).Errorf("Have piece out of bounds: %d", piece)
		return
	}
	if !p.bitfield.Has(uint(piece)) {
		p.bitfield.Set(uint(piece), true)
		d.numPeersByPiece.Increment(piece)
	}
	d.maybeRequestMorePieces(p)
}

func (d *Dispatcher) handleHave2(p *peer, all bool) {
	for i := 0; i < d.torrent.NumPieces(); i++ {
		if p.bitfield.Has(uint(i)) != all {
			p.bitfield.Set(uint(i), all)
			if all {
				d.numPeersByPiece.Increment(i)
			} else {
				d.numPeersByPiece.Decrement(i)
			}
		}
	}
	d.maybeRequestMorePieces(p)
}

func (d *Dispatcher) handleAllowedFast(p *peer, piece int) {
	if piece < 0 || piece >= d.torrent.NumPieces() {
		return
	}
	p.fastSet.Set(uint(piece), true)
	d.maybeRequestMorePieces(p)
}

// handleRejectRequest processes a peer's refusal to serve a block we
// requested (BEP 6): the matching pending request is marked unsent so the
// next resend pass retries it with any peer that has the piece, this one
// included.
func (d *Dispatcher) handleRejectRequest(p *peer, msg *wire.Message) {
	i := msg.Piece
	if i < 0 || i >= d.torrent.NumPieces() {
		return
	}
	d.log("peer", p, "piece", i).Info("Peer rejected piece request")
	d.pieceRequestManager.MarkUnsent(p.id, i)
}

// handleSuggestPiece processes a peer's hint (BEP 6) that we should request
// the given piece next. Ignored if we already have it or the peer doesn't.
func (d *Dispatcher) handleSuggestPiece(p *peer, piece int) {
	if piece < 0 || piece >= d.torrent.NumPieces() {
		return
	}
	if d.torrent.HasPiece(piece) || !p.bitfield.Has(uint(piece)) {
		return
	}
	candidates := bitset.New(uint(d.torrent.NumPieces())).Set(uint(piece))
	d.maybeSendPieceRequests(p, candidates)
}

// isValidPart reports whether [begin, begin+length) exactly matches one of
// piece i's 16 KiB part boundaries (see piece.SplitParts).
func (d *Dispatcher) isValidPart(i, begin, length int) bool {
	parts := piece.SplitParts(d.torrent.PieceLength(i), piece.DefaultPartLength)
	idx := begin / piece.DefaultPartLength
	if idx < 0 || idx >= len(parts) {
		return false
	}
	part := parts[idx]
	return int64(begin) == part.Begin && int64(length) == part.Length
}

func (d *Dispatcher) handleRequest(p *peer, msg *wire.Message) {
	p.pstats.incrementPieceRequestsReceived()

	i := msg.Piece
	if i < 0 || i >= d.torrent.NumPieces() {
		d.log("peer", p, "piece", i).Error("Rejecting piece request: out of bounds")
		return
	}
	if msg.Length > maxRequestLength {
		d.log("peer", p, "piece", i).Error("Rejecting piece request: too large")
		return
	}
	if !d.isValidPart(i, msg.Begin, msg.Length) {
		d.log("peer", p, "piece", i).Error("Rejecting piece request: chunk not supported")
		return
	}
	if p.isClientChoking() {
		d.log("peer", p, "piece", i).Info("Rejecting piece request: peer is choked")
		if p.fastEnabled {
			p.messages.Send(&wire.Message{Type: wire.RejectRequest, Piece: i, Begin: msg.Begin, Length: msg.Length})
		}
		return
	}
	if !d.torrent.HasPiece(i) {
		d.log("peer", p, "piece", i).Error("Rejecting piece request: piece not owned")
		if p.fastEnabled {
			p.messages.Send(&wire.Message{Type: wire.RejectRequest, Piece: i, Begin: msg.Begin, Length: msg.Length})
		}
		return
	}

	payload, err := d.torrent.GetBlockReader(i, msg.Begin, msg.Length)
	if err != nil {
		d.log("peer", p, "piece", i).Errorf("Error getting reader for requested piece: %s", err)
		return
	}

	if err := p.messages.Send(wire.NewPiece(i, msg.Begin, payload)); err != nil {
		return
	}

	p.touchLastPieceSent()
	p.pstats.incrementPiecesSent()
}

func (d *Dispatcher) handlePiece(p *peer, msg *wire.Message) {
	payload := msg.Payload
	defer payload.Close()

	i := msg.Piece
	if i < 0 || i >= d.torrent.NumPieces() {
		d.log("peer", p, "piece", i).Error("Rejecting piece payload: out of bounds")
		d.pieceRequestManager.MarkInvalid(p.id, i)
		return
	}
	if !d.isValidPart(i, msg.Begin, payload.Length()) {
		d.log("peer", p, "piece", i).Error("Rejecting piece payload: chunk not supported")
		d.pieceRequestManager.MarkInvalid(p.id, i)
		return
	}

	data, err := io.ReadAll(payload)
	if err != nil {
		d.log("peer", p, "piece", i).Errorf("Error reading piece payload: %s", err)
		d.pieceRequestManager.MarkInvalid(p.id, i)
		return
	}

	complete, err := d.torrent.WritePart(data, i, msg.Begin)
	if err != nil {
		switch err {
		case storage.ErrPieceComplete, storage.ErrWritePieceConflict:
			// Another part (or peer, in endgame mode) already finished this
			// piece; not a protocol violation.
			p.pstats.incrementDuplicatePiecesReceived()
		case storage.ErrInvalidPieceData:
			d.log("peer", p, "piece", i).Error("Discarding piece: failed hash validation")
			d.pieceRequestManager.MarkInvalid(p.id, i)
		default:
			d.log("peer", p, "piece", i).Errorf("Error writing piece payload: %s", err)
			d.pieceRequestManager.MarkInvalid(p.id, i)
		}
		return
	}
	if !complete {
		// Part accepted, but the piece still has parts outstanding.
		return
	}

	d.netevents.Produce(
		networkevent.ReceivePieceEvent(d.torrent.InfoHash(), d.localPeerID, p.id, i))

	p.pstats.incrementGoodPiecesReceived()
	p.touchLastGoodPieceReceived()
	if d.torrent.Complete() {
		d.complete()
	}

	d.pieceRequestManager.Clear(i)

	d.maybeRequestMorePieces(p)

	d.peers.Range(func(k, v interface{}) bool {
		if k.(core.PeerID) == p.id {
			return true
		}
		pp := v.(*peer)
		pp.messages.Send(wire.NewHave(i))
		return true
	})
}

// maybeGrantUploadPermit attempts to acquire a free upload slot for p,
// unchoking it on success. Non-blocking: if no slot is free, p stays
// choked. Releasing a slot does not unchoke waiting peers; p is considered
// again only when it next sends Interested.
func (d *Dispatcher) maybeGrantUploadPermit(p *peer) {
	if !p.isRemoteInterested() || p.hasUploadPermit() {
		return
	}
	select {
	case d.uploadSlots <- struct{}{}:
	default:
		return
	}
	if p.acquireUploadPermit() {
		p.messages.Send(&wire.Message{Type: wire.Unchoke})
	}
}

func (d *Dispatcher) releaseUploadPermit(p *peer) {
	if p.releaseUploadPermit() {
		select {
		case <-d.uploadSlots:
		default:
		}
		p.messages.Send(&wire.Message{Type: wire.Choke})
	}
}

func (d *Dispatcher) log(args ...interface{}) *zap.SugaredLogger {
	args = append(args, "torrent", d.torrent)
	return d.logger.With(args...)
}
