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
	"net"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/dht"
)

// Config defines Announcer configuration.
type Config struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
}

func (c Config) applyDefaults() Config {
	if c.DefaultInterval == 0 {
		c.DefaultInterval = 5 * time.Second
	}
	if c.MaxInterval == 0 {
		c.MaxInterval = time.Minute
	}
	return c
}

// Events defines Announcer events.
type Events interface {
	AnnounceTick()
}

// Announcer is a thin wrapper around a dht.Server which turns its
// single-hop query primitives into full iterative lookups. There is no
// central tracker to hand
// out an interval, so the interval never changes from its configured
// default; it exists purely so Ticker's pacing matches the tracker-backed
// announcer it replaces and can still be tuned without a code change.
type Announcer struct {
	config   Config
	dht      *dht.Server
	port     int
	events   Events
	interval *atomic.Int64
	timer    *clock.Timer
	logger   *zap.SugaredLogger
}

// New creates a new Announcer. port is the local client's listen port,
// advertised to the DHT when announcing as a peer for a torrent.
func New(
	config Config,
	d *dht.Server,
	port int,
	events Events,
	clk clock.Clock,
	logger *zap.SugaredLogger) *Announcer {

	config = config.applyDefaults()
	return &Announcer{
		config:   config,
		dht:      d,
		port:     port,
		events:   events,
		interval: atomic.NewInt64(int64(config.DefaultInterval)),
		timer:    clk.Timer(config.DefaultInterval),
		logger:   logger,
	}
}

// Default creates a default Announcer.
func Default(d *dht.Server, port int, events Events, clk clock.Clock, logger *zap.SugaredLogger) *Announcer {
	return New(Config{}, d, port, events, clk, logger)
}

// Announce performs an iterative DHT lookup for h and returns the peers
// found. complete is unused: DHT get_peers carries no notion of seed vs.
// leech, unlike a tracker announce.
func (a *Announcer) Announce(h core.InfoHash, complete bool) ([]*net.UDPAddr, error) {
	peers, err := a.dht.Lookup(h, a.port)
	if err != nil {
		return nil, err
	}
	return peers, nil
}

// Ticker emits AnnounceTick events at the announce interval, which stays at
// the configured DefaultInterval; Announce does not change it. Ticker exits
// when done is closed.
func (a *Announcer) Ticker(done <-chan struct{}) {
	for {
		select {
		case <-a.timer.C:
			a.events.AnnounceTick()
			a.timer.Reset(time.Duration(a.interval.Load()))
		case <-done:
			return
		}
	}
}
