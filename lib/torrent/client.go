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
package torrent

import (
	"fmt"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/dht"
	"github.com/coreswarm/torrent/lib/torrent/metainfo"
	"github.com/coreswarm/torrent/lib/torrent/networkevent"
	"github.com/coreswarm/torrent/lib/torrent/peerpool"
	"github.com/coreswarm/torrent/lib/torrent/scheduler"
	"github.com/coreswarm/torrent/lib/torrent/scheduler/announcer"
	"github.com/coreswarm/torrent/lib/torrent/scheduler/dispatch"
	"github.com/coreswarm/torrent/lib/torrent/storage"
)

// Client coordinates every torrent this peer downloads or seeds: it owns
// the DHT node, the local torrent archive, and the scheduler that drives
// handshakes and piece exchange for each torrent.
type Client struct {
	config    Config
	pctx      core.PeerContext
	archive   storage.Archive
	dht       *dht.Server
	netevents networkevent.Producer
	scheduler scheduler.ReloadableScheduler
}

// NewClient builds and starts a Client: it binds the DHT listener, opens
// the on-disk torrent archive rooted at downloadDir, and starts the
// scheduler's listen/announce/ticker loops. The returned Client owns the
// lifecycle of all of these; call Stop to tear them down.
func NewClient(
	config Config,
	pctx core.PeerContext,
	downloadDir string,
	stats tally.Scope,
	logger *zap.SugaredLogger) (*Client, error) {

	config = config.applyDefaults()

	nodeID, err := core.RandomPeerID()
	if err != nil {
		return nil, fmt.Errorf("new node id: %s", err)
	}

	d, err := dht.NewServer(config.DHT, nodeID, stats, clock.New(), logger)
	if err != nil {
		return nil, fmt.Errorf("new dht server: %s", err)
	}
	d.Start()

	archive := storage.NewLocalArchive(downloadDir)

	netevents, err := networkevent.NewProducer(config.NetworkEvent, logger)
	if err != nil {
		return nil, fmt.Errorf("new network event producer: %s", err)
	}

	peerConfig := config.Peer
	peerConfig.HandshakeTimeout = config.PeerConnectionTimeout

	schedConfig := scheduler.Config{
		SeederTTI:          config.SeederTTI,
		LeecherTTI:         config.LeecherTTI,
		ConnTTI:            config.PeerConnectionTimeout,
		PreemptionInterval: config.PreemptionInterval,
		EmitStatsInterval:  config.EmitStatsInterval,
		DisablePreemption:  config.DisablePreemption,
		PeerPool:           config.PeerPool,
		Peer:               peerConfig,
		Dispatch:           dispatch.Config{EndgameFraction: config.EndGameThreshold, UploadSlots: config.PeersUploadSlots},
		DHT:                config.DHT,
		Announcer:          announcer.Config{},
	}

	s, err := scheduler.New(schedConfig, archive, stats, pctx, d, netevents, logger)
	if err != nil {
		d.Close()
		netevents.Close()
		return nil, fmt.Errorf("new scheduler: %s", err)
	}

	return &Client{
		config:    config,
		pctx:      pctx,
		archive:   archive,
		dht:       d,
		netevents: netevents,
		scheduler: s,
	}, nil
}

// Download adds a torrent identified by mi to the client and blocks until
// it finishes downloading, then begins seeding it asynchronously.
func (c *Client) Download(mi *metainfo.TorrentMetadata) error {
	return c.scheduler.Download(mi)
}

// DownloadMagnet parses uri and downloads the torrent it identifies, once
// its metadata has been resolved via ut_metadata.
func (c *Client) DownloadMagnet(uri string) error {
	mi, err := metainfo.ParseMagnet(uri)
	if err != nil {
		return fmt.Errorf("parse magnet: %s", err)
	}
	return c.scheduler.Download(mi)
}

// RemoveTorrent stops leeching/seeding h and deletes it from disk.
func (c *Client) RemoveTorrent(h core.InfoHash) error {
	return c.scheduler.RemoveTorrent(h)
}

// Stat returns the on-disk status of torrent h.
func (c *Client) Stat(h core.InfoHash) (*storage.TorrentInfo, error) {
	return c.archive.Stat(h)
}

// BlacklistSnapshot returns a snapshot of every currently blacklisted conn.
func (c *Client) BlacklistSnapshot() ([]peerpool.BlacklistedConn, error) {
	return c.scheduler.BlacklistSnapshot()
}

// Probe verifies that the scheduler's event loop is running and unblocked.
func (c *Client) Probe() error {
	return c.scheduler.Probe()
}

// Reload restarts the scheduler with new configuration.
func (c *Client) Reload(config scheduler.Config) {
	c.scheduler.Reload(config)
}

// Stop tears down the scheduler, DHT server, and network event producer.
func (c *Client) Stop() {
	c.scheduler.Stop()
	c.dht.Close()
	c.netevents.Close()
}
