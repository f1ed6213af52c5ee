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

// Package scheduler coordinates every torrent a peer is downloading or
// seeding: it owns the DHT-driven announce loop, handshakes incoming and
// outgoing connections, and dispatches established connections to the
// per-torrent dispatch.Dispatcher that drives piece exchange.
package scheduler

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/announcequeue"
	"github.com/coreswarm/torrent/lib/torrent/dht"
	"github.com/coreswarm/torrent/lib/torrent/metainfo"
	"github.com/coreswarm/torrent/lib/torrent/networkevent"
	"github.com/coreswarm/torrent/lib/torrent/peer"
	"github.com/coreswarm/torrent/lib/torrent/peerpool"
	"github.com/coreswarm/torrent/lib/torrent/scheduler/announcer"
	"github.com/coreswarm/torrent/lib/torrent/scheduler/torrentlog"
	"github.com/coreswarm/torrent/lib/torrent/storage"
)

// Scheduler errors.
var (
	ErrTorrentNotFound   = errors.New("torrent not found")
	ErrSchedulerStopped  = errors.New("scheduler has been stopped")
	ErrTorrentTimeout    = errors.New("torrent timed out")
	ErrTorrentRemoved    = errors.New("torrent manually removed")
	ErrSendEventTimedOut = errors.New("event loop send timed out")
)

// Scheduler defines operations for scheduler.
type Scheduler interface {
	Stop()
	Download(mi *metainfo.TorrentMetadata) error
	BlacklistSnapshot() ([]peerpool.BlacklistedConn, error)
	RemoveTorrent(h core.InfoHash) error
	Probe() error
}

// scheduler manages global state for the peer. This includes:
// - Opening torrents.
// - Announcing to the DHT.
// - Handshaking incoming connections.
// - Initializing outgoing connections.
// - Dispatching connections to torrents.
// - Pre-empting existing connections when better options are available (TODO).
type scheduler struct {
	pctx           core.PeerContext
	config         Config
	clock          clock.Clock
	torrentArchive storage.Archive
	stats          tally.Scope

	handshaker *peer.Handshaker

	eventLoop *liftedEventLoop

	listener net.Listener

	preemptionTick <-chan time.Time
	emitStatsTick  <-chan time.Time

	dht       *dht.Server
	announcer *announcer.Announcer

	netevents networkevent.Producer

	torrentlog *torrentlog.Logger

	logger *zap.SugaredLogger

	// The following fields orchestrate the stopping of the scheduler.
	stopOnce sync.Once      // Ensures the stop sequence is executed only once.
	done     chan struct{}  // Signals all goroutines to exit.
	wg       sync.WaitGroup // Waits for the event, listen, ticker and announce loops to exit.
}

// schedOverrides defines scheduler fields which may be overrided for testing
// purposes.
type schedOverrides struct {
	clock     clock.Clock
	eventLoop eventLoop
}

type option func(*schedOverrides)

func withClock(c clock.Clock) option {
	return func(o *schedOverrides) { o.clock = c }
}

func withEventLoop(l eventLoop) option {
	return func(o *schedOverrides) { o.eventLoop = l }
}

// newScheduler creates a scheduler without starting its loops (see start).
// d must already be started;
// the scheduler only queries it, it does not own its lifecycle.
func newScheduler(
	config Config,
	ta storage.Archive,
	stats tally.Scope,
	pctx core.PeerContext,
	d *dht.Server,
	netevents networkevent.Producer,
	logger *zap.SugaredLogger,
	options ...option) (*scheduler, error) {

	config = config.applyDefaults()

	done := make(chan struct{})

	stats = stats.Tagged(map[string]string{
		"module": "scheduler",
	})

	overrides := schedOverrides{
		clock:     clock.New(),
		eventLoop: newEventLoop(),
	}
	for _, opt := range options {
		opt(&overrides)
	}

	eventLoop := liftEventLoop(overrides.eventLoop)

	var preemptionTick <-chan time.Time
	if !config.DisablePreemption {
		preemptionTick = overrides.clock.Tick(config.PreemptionInterval)
	}

	handshaker, err := peer.NewHandshaker(
		config.Peer, stats, overrides.clock, pctx.PeerID, eventLoop, logger)
	if err != nil {
		return nil, fmt.Errorf("peer: %s", err)
	}

	tlog := torrentlog.New(logger.Desugar())

	s := &scheduler{
		pctx:           pctx,
		config:         config,
		clock:          overrides.clock,
		torrentArchive: ta,
		stats:          stats,
		handshaker:     handshaker,
		eventLoop:      eventLoop,
		preemptionTick: preemptionTick,
		emitStatsTick:  overrides.clock.Tick(config.EmitStatsInterval),
		dht:            d,
		announcer:      announcer.Default(d, pctx.Port, eventLoop, overrides.clock, logger),
		netevents:      netevents,
		torrentlog:     tlog,
		logger:         logger,
		done:           done,
	}

	if config.DisablePreemption {
		s.log().Warn("Preemption disabled")
	}
	if config.PeerPool.DisableBlacklist {
		s.log().Warn("Blacklisting disabled")
	}

	return s, nil
}

// start asynchronously starts all scheduler loops.
//
// Note: this has been split from the constructor so we can test against an
// "unstarted" scheduler in certain cases.
func (s *scheduler) start(aq announcequeue.Queue) error {
	s.log().Infof(
		"Scheduler starting as peer %s on addr %s:%d",
		s.pctx.PeerID, s.pctx.IP, s.pctx.Port)

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.pctx.Port))
	if err != nil {
		return err
	}
	s.listener = l

	s.wg.Add(4)
	go s.runEventLoop(aq) // Careful, this should be the only reference to aq.
	go s.listenLoop()
	go s.tickerLoop()
	go s.announceLoop()

	return nil
}

// Stop shuts down the scheduler.
func (s *scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.log().Info("Stopping scheduler...")

		close(s.done)
		s.listener.Close()
		s.eventLoop.send(shutdownEvent{})

		// Waits for all loops to stop.
		s.wg.Wait()

		s.torrentlog.Sync()

		s.log().Info("Scheduler stopped")
	})
}

func (s *scheduler) doDownload(mi *metainfo.TorrentMetadata) (size int64, err error) {
	t, err := s.torrentArchive.CreateTorrent(mi)
	if err != nil {
		if err == storage.ErrNotFound {
			return 0, ErrTorrentNotFound
		}
		return 0, fmt.Errorf("create torrent: %s", err)
	}

	// Buffer size of 1 so sends do not block.
	errc := make(chan error, 1)
	if !s.eventLoop.send(newTorrentEvent{t, errc}) {
		return 0, ErrSchedulerStopped
	}
	return t.Length(), <-errc
}

// Download downloads the torrent described by mi. Once the torrent is
// downloaded, it will begin seeding asynchronously.
func (s *scheduler) Download(mi *metainfo.TorrentMetadata) error {
	start := time.Now()
	size, err := s.doDownload(mi)
	if err != nil {
		var errTag string
		switch err {
		case ErrTorrentNotFound:
			errTag = "not_found"
		case ErrTorrentTimeout:
			errTag = "timeout"
		case ErrSchedulerStopped:
			errTag = "scheduler_stopped"
		case ErrTorrentRemoved:
			errTag = "removed"
		default:
			errTag = "unknown"
		}
		s.stats.Tagged(map[string]string{
			"error": errTag,
		}).Counter("download_errors").Inc(1)
		s.torrentlog.DownloadFailure(mi.InfoHash, size, err)
	} else {
		downloadTime := time.Since(start)
		recordDownloadTime(s.stats, size, downloadTime)
		s.torrentlog.DownloadSuccess(mi.InfoHash, size, downloadTime)
	}
	return err
}

// BlacklistSnapshot returns a snapshot of the current connection blacklist.
func (s *scheduler) BlacklistSnapshot() ([]peerpool.BlacklistedConn, error) {
	result := make(chan []peerpool.BlacklistedConn)
	if !s.eventLoop.send(blacklistSnapshotEvent{result}) {
		return nil, ErrSchedulerStopped
	}
	return <-result, nil
}

// RemoveTorrent forcibly stops leeching / seeding torrent h and removes
// the torrent from disk.
func (s *scheduler) RemoveTorrent(h core.InfoHash) error {
	// Buffer size of 1 so sends do not block.
	errc := make(chan error, 1)
	if !s.eventLoop.send(removeTorrentEvent{h, errc}) {
		return ErrSchedulerStopped
	}
	return <-errc
}

// Probe verifies that the scheduler event loop is running and unblocked.
func (s *scheduler) Probe() error {
	return s.eventLoop.sendTimeout(probeEvent{}, s.config.ProbeTimeout)
}

func (s *scheduler) runEventLoop(aq announcequeue.Queue) {
	defer s.wg.Done()

	s.eventLoop.run(newState(s, aq))
}

// listenLoop accepts incoming connections.
func (s *scheduler) listenLoop() {
	defer s.wg.Done()

	s.log().Infof("Listening on %s", s.listener.Addr().String())
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			// TODO Need some way to make this gracefully exit.
			s.log().Infof("Error accepting new conn, exiting listen loop: %s", err)
			return
		}
		go func() {
			pc := s.handshaker.Accept(nc)
			handshake, err := s.handshaker.ReadIncomingHandshake(pc)
			if err != nil {
				s.log().Infof("Error reading incoming handshake, closing net conn: %s", err)
				pc.Close()
				return
			}
			s.eventLoop.send(incomingHandshakeEvent{pc, handshake})
		}()
	}
}

// tickerLoop periodically emits various tick events.
func (s *scheduler) tickerLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.preemptionTick:
			s.eventLoop.send(preemptionTickEvent{})
		case <-s.emitStatsTick:
			s.eventLoop.send(emitStatsEvent{})
		case <-s.done:
			return
		}
	}
}

// announceLoop runs the announcer ticker.
func (s *scheduler) announceLoop() {
	defer s.wg.Done()

	s.announcer.Ticker(s.done)
}

func (s *scheduler) announce(h core.InfoHash, complete bool) {
	peers, err := s.announcer.Announce(h, complete)
	if err != nil {
		s.eventLoop.send(announceErrEvent{h, err})
		return
	}
	s.eventLoop.send(announceResultEvent{h, peers})
}

func (s *scheduler) failIncomingHandshake(
	pc *peer.PendingConn, peerID core.PeerID, infoHash core.InfoHash, err error) {

	s.log("peer", peerID, "hash", infoHash).Infof("Error accepting incoming handshake: %s", err)
	pc.Close()
	s.eventLoop.send(failedIncomingHandshakeEvent{peerID, infoHash})
}

// establishIncomingHandshake attempts to establish a pending conn initialized
// by a remote peer. Success / failure is communicated via events.
func (s *scheduler) establishIncomingHandshake(
	pc *peer.PendingConn, handshake *peer.Handshake, infoHash core.InfoHash) {

	info, err := s.torrentArchive.Stat(infoHash)
	if err != nil {
		s.failIncomingHandshake(pc, handshake.PeerID, infoHash, fmt.Errorf("torrent stat: %s", err))
		return
	}
	t, err := s.torrentArchive.GetTorrent(infoHash)
	if err != nil {
		s.failIncomingHandshake(pc, handshake.PeerID, infoHash, fmt.Errorf("get torrent: %s", err))
		return
	}
	result, err := s.handshaker.EstablishIncoming(pc, handshake, t)
	if err != nil {
		s.failIncomingHandshake(pc, handshake.PeerID, infoHash, fmt.Errorf("establish handshake: %s", err))
		return
	}
	s.torrentlog.IncomingConnectionAccept(infoHash, handshake.PeerID)
	s.eventLoop.send(incomingConnEvent{result.Conn, result.Bitfield, info})
}

// initializeOutgoingHandshake attempts to initialize a conn to a DHT-discovered
// peer address. The remote peer ID is unknown until the handshake completes.
// Success / failure is communicated via events.
func (s *scheduler) initializeOutgoingHandshake(addr *net.UDPAddr, info *storage.TorrentInfo) {
	t, err := s.torrentArchive.GetTorrent(info.InfoHash())
	if err != nil {
		s.log("hash", info.InfoHash(), "addr", addr).Infof("Error loading torrent: %s", err)
		return
	}
	pc, err := s.handshaker.Establish(addr.String())
	if err != nil {
		s.log("hash", info.InfoHash(), "addr", addr).Infof("Error dialing outgoing conn: %s", err)
		return
	}
	result, err := s.handshaker.Initialize(pc, t, nil)
	if err != nil {
		s.log("hash", info.InfoHash(), "addr", addr).Infof("Error initializing outgoing handshake: %s", err)
		return
	}
	s.torrentlog.OutgoingConnectionAccept(info.InfoHash(), result.Conn.PeerID())
	s.eventLoop.send(outgoingConnEvent{result.Conn, result.Bitfield, info})
}

func (s *scheduler) log(args ...interface{}) *zap.SugaredLogger {
	return s.logger.With(args...)
}
