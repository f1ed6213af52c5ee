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
	"net"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/utils/bandwidth"
)

type noopEvents struct{}

func (e noopEvents) ConnClosed(*Conn) {}

// noopDeadline wraps a net.Conn which does not support deadlines (e.g.
// net.Pipe) and makes it accept them as no-ops.
type noopDeadline struct {
	net.Conn
}

func (n noopDeadline) SetDeadline(t time.Time) error      { return nil }
func (n noopDeadline) SetReadDeadline(t time.Time) error  { return nil }
func (n noopDeadline) SetWriteDeadline(t time.Time) error { return nil }

// ConfigFixture returns a Config for testing.
func ConfigFixture() Config {
	return Config{}.applyDefaults()
}

// LimiterFixture returns a bandwidth.Limiter for testing.
func LimiterFixture() *bandwidth.Limiter {
	l, err := bandwidth.NewLimiter(bandwidth.Config{})
	if err != nil {
		panic(err)
	}
	return l
}

// PipeFixture returns Conns for both sides of a live, already-started
// connection to h, skipping the handshake.
func PipeFixture(config Config, h core.InfoHash) (local *Conn, remote *Conn, cleanup func()) {
	config = config.applyDefaults()

	nc1, nc2 := net.Pipe()

	localPeerID := core.PeerIDFixture()
	remotePeerID := core.PeerIDFixture()
	extensions := NewReserved(true, true, true)

	var err error
	local, err = newConn(
		config, tally.NewTestScope("", nil), clock.New(), LimiterFixture(), noopEvents{},
		noopDeadline{nc1}, localPeerID, remotePeerID, h, extensions, false, zap.NewNop().Sugar())
	if err != nil {
		panic(err)
	}
	local.Start()

	remote, err = newConn(
		config, tally.NewTestScope("", nil), clock.New(), LimiterFixture(), noopEvents{},
		noopDeadline{nc2}, remotePeerID, localPeerID, h, extensions, true, zap.NewNop().Sugar())
	if err != nil {
		panic(err)
	}
	remote.Start()

	return local, remote, func() {
		nc1.Close()
		nc2.Close()
	}
}

// Fixture returns a single local Conn for testing.
func Fixture() (*Conn, func()) {
	local, _, cleanup := PipeFixture(Config{}, core.InfoHashFixture())
	return local, cleanup
}
