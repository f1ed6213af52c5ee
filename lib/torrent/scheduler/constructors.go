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
package scheduler

import (
	"fmt"

	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/announcequeue"
	"github.com/coreswarm/torrent/lib/torrent/dht"
	"github.com/coreswarm/torrent/lib/torrent/networkevent"
	"github.com/coreswarm/torrent/lib/torrent/storage"
)

// New creates and starts a ReloadableScheduler. d must already be started;
// the scheduler only queries it for lookups, it does not own its lifecycle.
func New(
	config Config,
	ta storage.Archive,
	stats tally.Scope,
	pctx core.PeerContext,
	d *dht.Server,
	netevents networkevent.Producer,
	logger *zap.SugaredLogger) (ReloadableScheduler, error) {

	s, err := newScheduler(config, ta, stats, pctx, d, netevents, logger)
	if err != nil {
		return nil, fmt.Errorf("new scheduler: %s", err)
	}

	aq := func() announcequeue.Queue { return announcequeue.New() }
	rs := makeReloadable(s, aq)
	if err := rs.start(aq()); err != nil {
		return nil, fmt.Errorf("start: %s", err)
	}
	return rs, nil
}
