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
package dht

import (
	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
)

// ServerFixture returns a Server bound to an ephemeral local port, with
// bootstrapping disabled so tests don't reach the network.
func ServerFixture() (*Server, func()) {
	id, err := RandomNodeID()
	if err != nil {
		panic(err)
	}
	config := Config{ListenAddr: "127.0.0.1:0", BootstrapNodes: []string{}}
	s, err := NewServer(config, id, tally.NewTestScope("", nil), clock.New(), zap.NewNop().Sugar())
	if err != nil {
		panic(err)
	}
	s.Start()
	return s, s.Close
}
