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

// Package torrent is a BitTorrent client core: a per-torrent coordinator
// that drives peer discovery (DHT), the peer-wire protocol over TCP, piece
// selection, and storage to disk. Peer connections use TCP only; the utp
// package is not used by the client.
package torrent

import (
	"time"

	"github.com/coreswarm/torrent/lib/torrent/dht"
	"github.com/coreswarm/torrent/lib/torrent/networkevent"
	"github.com/coreswarm/torrent/lib/torrent/peer"
	"github.com/coreswarm/torrent/lib/torrent/peerpool"
	"github.com/coreswarm/torrent/lib/torrent/utp"
)

// TorrentFlags is a bitmask of per-torrent behavior switches. No component
// of the client reads a TorrentFlags value, so setting a flag has no effect.
type TorrentFlags uint32

const (
	// FlagSeedMode skips hash-checking and assumes all pieces are valid.
	FlagSeedMode TorrentFlags = 1 << iota

	// FlagUploadMode allows the torrent to serve pieces to peers.
	FlagUploadMode

	// FlagDownloadMode allows the torrent to request pieces from peers.
	FlagDownloadMode

	// FlagShareMode prioritizes rarest pieces across all torrents to
	// maximize upload ratio rather than completion speed.
	FlagShareMode

	// FlagApplyIPFilter rejects peers matching the client's IP filter.
	FlagApplyIPFilter

	// FlagPaused suspends all network activity for the torrent.
	FlagPaused

	// FlagMetadata indicates the torrent is fetching metadata (e.g. via a
	// magnet link) and has not yet resolved a metainfo.
	FlagMetadata

	// FlagSequentialDownload requests pieces in index order instead of
	// rarest-first.
	FlagSequentialDownload

	// FlagStopWhenReady pauses the torrent as soon as metadata resolves,
	// before any pieces are downloaded.
	FlagStopWhenReady

	// FlagAutoManaged lets the client decide when to start and stop the
	// torrent based on queueing rules, rather than requiring an explicit
	// Resume call.
	FlagAutoManaged
)

// DefaultTorrentFlags is AutoManaged with both download and upload enabled,
// and metadata resolution pending.
const DefaultTorrentFlags = FlagAutoManaged | FlagMetadata | FlagDownloadMode | FlagUploadMode

// Config is the top-level configuration for a torrent client: the knobs
// shared by every torrent the client coordinates, plus the sub-configs for
// each protocol layer it wires together.
type Config struct {

	// ClientName is an informational name for the client. It is not sent in
	// handshakes or written to logs; NewClient does not read it.
	ClientName string `yaml:"client_name"`

	// PeersLowerLimit is the minimum number of active peers a torrent tries
	// to maintain before requesting more candidates from the DHT. NewClient
	// does not read it.
	PeersLowerLimit int `yaml:"peers_lower_limit"`

	// PeersUpperLimit is the maximum number of connections maintained at
	// once for a torrent. NewClient does not read it.
	PeersUpperLimit int `yaml:"peers_upper_limit"`

	// PeersInFlight bounds the number of peers a torrent will have
	// in-progress connection attempts to at once. NewClient does not read it.
	PeersInFlight int `yaml:"peers_in_flight"`

	// PeersUploadSlots is the size of the torrent-wide upload permit
	// semaphore.
	PeersUploadSlots int `yaml:"peers_upload_slots"`

	// PeerConnectionTimeout bounds dialing and the handshake write/read.
	// NewClient passes it on as Peer.HandshakeTimeout, replacing any value
	// set there, and as the scheduler's ConnTTI.
	PeerConnectionTimeout time.Duration `yaml:"peer_connection_timeout"`

	// MaxInFlightPieces bounds the number of pieces a torrent may have
	// outstanding download permits for at once. Relaxed during end-game.
	// NewClient does not read it.
	MaxInFlightPieces int `yaml:"max_in_flight_pieces"`

	// EndGameThreshold is the fraction of the torrent's pieces completed at
	// or above which duplicate piece requests are allowed.
	EndGameThreshold float64 `yaml:"end_game_threshold"`

	// PendingPieceTimeout is how long a requested piece may remain
	// unanswered before end-game treats it as re-requestable. NewClient does
	// not read it.
	PendingPieceTimeout time.Duration `yaml:"pending_piece_timeout"`

	// SeederTTI is the duration a seeding torrent exists without being read
	// from before being cancelled.
	SeederTTI time.Duration `yaml:"seeder_tti"`

	// LeecherTTI is the duration a leeching torrent exists without being
	// written to before being cancelled.
	LeecherTTI time.Duration `yaml:"leecher_tti"`

	// PreemptionInterval is the interval at which the client analyzes
	// existing peer connections and decides whether to preempt them.
	PreemptionInterval time.Duration `yaml:"preemption_interval"`

	// EmitStatsInterval is the interval at which introspective stats are
	// emitted from each torrent.
	EmitStatsInterval time.Duration `yaml:"emit_stats_interval"`

	// DisablePreemption disables resource preemption. Should only be used
	// for testing purposes.
	DisablePreemption bool `yaml:"disable_preemption"`

	// DefaultFlags are the TorrentFlags applied to a torrent added without
	// explicit flags. NewClient does not read it.
	DefaultFlags TorrentFlags `yaml:"-"`

	PeerPool peerpool.Config `yaml:"peerpool"`

	Peer peer.Config `yaml:"peer"`

	DHT dht.Config `yaml:"dht"`

	// UTP is given defaults but NewClient does not read it; the client opens
	// no uTP socket.
	UTP utp.Config `yaml:"utp"`

	NetworkEvent networkevent.Config `yaml:"network_event"`
}

func (c Config) applyDefaults() Config {
	if c.ClientName == "" {
		c.ClientName = "coreswarm"
	}
	if c.PeersLowerLimit == 0 {
		c.PeersLowerLimit = 10
	}
	if c.PeersUpperLimit == 0 {
		c.PeersUpperLimit = 200
	}
	if c.PeersInFlight == 0 {
		c.PeersInFlight = 25
	}
	if c.PeersUploadSlots == 0 {
		c.PeersUploadSlots = 50
	}
	if c.PeerConnectionTimeout == 0 {
		c.PeerConnectionTimeout = 6 * time.Second
	}
	if c.MaxInFlightPieces == 0 {
		c.MaxInFlightPieces = 128
	}
	if c.EndGameThreshold == 0 {
		c.EndGameThreshold = 0.97
	}
	if c.PendingPieceTimeout == 0 {
		c.PendingPieceTimeout = 10 * time.Second
	}
	if c.SeederTTI == 0 {
		c.SeederTTI = 5 * time.Minute
	}
	if c.LeecherTTI == 0 {
		c.LeecherTTI = 5 * time.Minute
	}
	if c.PreemptionInterval == 0 {
		c.PreemptionInterval = 30 * time.Second
	}
	if c.EmitStatsInterval == 0 {
		c.EmitStatsInterval = 1 * time.Second
	}
	if c.DefaultFlags == 0 {
		c.DefaultFlags = DefaultTorrentFlags
	}

	c.PeerPool = c.PeerPool.applyDefaults()
	c.Peer = c.Peer.applyDefaults()
	c.DHT = c.DHT.applyDefaults()
	c.UTP.applyDefaults()

	return c
}
