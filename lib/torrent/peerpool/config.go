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
package peerpool

import "time"

// Config defines Pool configuration.
type Config struct {

	// PeersUpperLimit is the maximum number of connections which will be
	// maintained at once for each torrent.
	PeersUpperLimit int `yaml:"peers_upper_limit"`

	// PeersLowerLimit is the minimum number of active peers a torrent will
	// try to maintain before requesting more candidates from the DHT.
	PeersLowerLimit int `yaml:"peers_lower_limit"`

	// MaxMutualConnections is the maximum number of mutual connections a peer
	// can have and still connect with us.
	MaxMutualConnections int `yaml:"max_mutual_conn"`

	// DisableBlacklist disables the blacklisting of peers. Should only be used
	// for testing purposes.
	DisableBlacklist bool `yaml:"disable_blacklist"`

	// BlacklistDuration is the duration a connection will remain blacklisted.
	BlacklistDuration time.Duration `yaml:"blacklist_duration"`
}

func (c Config) applyDefaults() Config {
	if c.PeersUpperLimit == 0 {
		c.PeersUpperLimit = 200
	}
	if c.PeersLowerLimit == 0 {
		c.PeersLowerLimit = 10
	}
	// Defaults to no mutual connection limit.
	if c.MaxMutualConnections == 0 {
		c.MaxMutualConnections = c.PeersUpperLimit
	}
	if c.BlacklistDuration == 0 {
		c.BlacklistDuration = 30 * time.Second
	}
	return c
}
