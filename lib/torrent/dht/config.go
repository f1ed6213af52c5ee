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

// Package dht implements a Mainline DHT node: KRPC bencode messages over
// UDP, a k-bucket routing table, and the ping/find_node/get_peers/
// announce_peer queries a BitTorrent client needs to discover peers for a
// torrent without a tracker.
package dht

import "time"

// Config defines Server configuration.
type Config struct {

	// ListenAddr is the local UDP address the server binds to, e.g. ":6881".
	ListenAddr string `yaml:"listen_addr"`

	// BootstrapNodes are well-known router addresses used to seed the
	// routing table. They are never returned in a find_node/get_peers
	// response to other nodes.
	BootstrapNodes []string `yaml:"bootstrap_nodes"`

	// BucketSize is the maximum number of nodes held per k-bucket.
	BucketSize int `yaml:"bucket_size"`

	// QueryTimeout bounds how long a query waits for a response before its
	// transaction is swept as failed.
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// SweepInterval is how often the transaction table is checked for
	// expired queries.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// RefreshInterval is how often the routing table re-bootstraps from
	// BootstrapNodes and refreshes stale buckets.
	RefreshInterval time.Duration `yaml:"refresh_interval"`

	// MaxPacketSize bounds a single inbound UDP datagram.
	MaxPacketSize int `yaml:"max_packet_size"`
}

// DefaultBootstrapNodes are public DHT routers used to seed a fresh
// routing table.
var DefaultBootstrapNodes = []string{
	"router.utorrent.com:6881",
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
}

func (c Config) applyDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = ":6881"
	}
	if len(c.BootstrapNodes) == 0 {
		c.BootstrapNodes = DefaultBootstrapNodes
	}
	if c.BucketSize == 0 {
		c.BucketSize = 8
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 8 * time.Second
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 2 * time.Second
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 15 * time.Minute
	}
	if c.MaxPacketSize == 0 {
		c.MaxPacketSize = 65535
	}
	return c
}
