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
package utp

import "time"

// Config holds tunables for a Socket and the Streams it creates.
//
// Exposed as a dedicated struct rather than package-level constants since
// the reference implementation this protocol is ported from treats these
// as per-socket tunables (max retransmits, initial timeout, keepalive).
type Config struct {
	// MaxPacketSize bounds a single UDP datagram, header included.
	MaxPacketSize int `yaml:"max_packet_size"`

	// MaxUnackedPackets bounds how far ahead of Ack an out-of-order inbound
	// packet may be buffered before it's dropped.
	MaxUnackedPackets int `yaml:"max_unacked_packets"`

	// MaxReadBuffer bounds total buffered-but-unread inbound bytes,
	// advertised to the remote as window_size.
	MaxReadBuffer int `yaml:"max_read_buffer"`

	// RetransmitTick is how often the pending-packet resend timer fires.
	RetransmitTick time.Duration `yaml:"retransmit_tick"`

	// MaxResendsPerTick caps how many pending packets are resent on a
	// single retransmit tick, to avoid bursting the socket.
	MaxResendsPerTick int `yaml:"max_resends_per_tick"`

	// MinRetransmitTimeout floors the computed per-packet resend deadline.
	MinRetransmitTimeout time.Duration `yaml:"min_retransmit_timeout"`

	// MaxRetransmitTimeout ceils the computed per-packet resend deadline.
	MaxRetransmitTimeout time.Duration `yaml:"max_retransmit_timeout"`

	// MaxRetransmits is how many times a single packet is resent before
	// the stream gives up and closes with an IO error.
	MaxRetransmits int `yaml:"max_retransmits"`

	// AcceptBacklog bounds the number of inbound Syn-initiated streams
	// queued for Accept before new Syns are dropped.
	AcceptBacklog int `yaml:"accept_backlog"`
}

func (c *Config) applyDefaults() {
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = 65535
	}
	if c.MaxUnackedPackets == 0 {
		c.MaxUnackedPackets = 128
	}
	if c.MaxReadBuffer == 0 {
		c.MaxReadBuffer = 1 << 20 // 1 MiB
	}
	if c.RetransmitTick == 0 {
		c.RetransmitTick = 500 * time.Millisecond
	}
	if c.MaxResendsPerTick == 0 {
		c.MaxResendsPerTick = 10
	}
	if c.MinRetransmitTimeout == 0 {
		c.MinRetransmitTimeout = 500 * time.Millisecond
	}
	if c.MaxRetransmitTimeout == 0 {
		c.MaxRetransmitTimeout = 5 * time.Second
	}
	if c.MaxRetransmits == 0 {
		c.MaxRetransmits = 10
	}
	if c.AcceptBacklog == 0 {
		c.AcceptBacklog = 64
	}
}

// maxPacketPayloadSize returns the largest payload a single Data packet may
// carry, leaving room for the header.
func (c *Config) maxPacketPayloadSize() int {
	return c.MaxPacketSize - headerLen
}
