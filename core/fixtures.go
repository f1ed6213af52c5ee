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
package core

import (
	"crypto/rand"
	"fmt"
	mrand "math/rand"
)

// PeerIDFixture returns a randomly generated PeerID.
func PeerIDFixture() PeerID {
	p, err := RandomPeerID()
	if err != nil {
		panic(err)
	}
	return p
}

// InfoHashFixture returns a randomly generated v1 InfoHash.
func InfoHashFixture() InfoHash {
	b := make([]byte, 32)
	rand.Read(b)
	return NewInfoHashV1FromBytes(b)
}

// PeerContextFixture returns a randomly generated PeerContext.
func PeerContextFixture() PeerContext {
	pctx, err := NewPeerContext(
		RandomPeerIDFactory, fixtureIP(), fixturePort(), "coreswarm/test")
	if err != nil {
		panic(err)
	}
	return pctx
}

func fixtureIP() string {
	return fmt.Sprintf("127.0.0.%d", 1+mrand.Intn(254))
}

func fixturePort() int {
	return 10000 + mrand.Intn(50000)
}
