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

// Package peer implements the BitTorrent peer-wire protocol: the BEP 3
// handshake, standard/Fast/Extended wire messages, and the per-connection
// read/write loops that multiplex them.
package peer

import (
	"time"

	"github.com/coreswarm/torrent/utils/bandwidth"
	"github.com/coreswarm/torrent/utils/memsize"
)

// Config is the configuration for individual peer connections.
type Config struct {

	// HandshakeTimeout bounds dialing, writing, and reading the handshake.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// SenderBufferSize is the size of the sender channel for a connection.
	SenderBufferSize int `yaml:"sender_buffer_size"`

	// ReceiverBufferSize is the size of the receiver channel for a connection.
	ReceiverBufferSize int `yaml:"receiver_buffer_size"`

	// KeepAliveInterval is how often a keep-alive message is sent on an
	// otherwise idle connection.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// DisableFast disables advertising BEP 6 Fast extension support.
	DisableFast bool `yaml:"disable_fast"`

	// DisableExtended disables advertising BEP 10 extended messaging support.
	DisableExtended bool `yaml:"disable_extended"`

	Bandwidth bandwidth.Config `yaml:"bandwidth"`
}

func (c Config) applyDefaults() Config {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.SenderBufferSize == 0 {
		c.SenderBufferSize = 1000
	}
	if c.ReceiverBufferSize == 0 {
		c.ReceiverBufferSize = 1000
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 90 * time.Second
	}
	if c.Bandwidth.EgressBitsPerSec == 0 {
		c.Bandwidth.EgressBitsPerSec = 200 * 8 * memsize.Mbit
	}
	if c.Bandwidth.IngressBitsPerSec == 0 {
		c.Bandwidth.IngressBitsPerSec = 300 * 8 * memsize.Mbit
	}
	return c
}
