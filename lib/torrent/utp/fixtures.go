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

import (
	"github.com/andres-erbsen/clock"
	"go.uber.org/zap"
)

// ConfigFixture returns a Config with defaults applied.
func ConfigFixture() Config {
	var c Config
	c.applyDefaults()
	return c
}

// SocketFixture binds a Socket to an ephemeral loopback port and starts it.
func SocketFixture() (*Socket, func()) {
	s, err := NewSocket("127.0.0.1:0", ConfigFixture(), clock.New(), zap.NewNop().Sugar())
	if err != nil {
		panic(err)
	}
	s.Start()
	return s, func() { s.Close() }
}
