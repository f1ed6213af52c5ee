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

// Package bandwidth provides a token-bucket egress/ingress rate limiter for
// peer-wire connections.
package bandwidth

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/coreswarm/torrent/utils/memsize"
)

// Config defines Limiter configuration.
type Config struct {
	EgressBitsPerSec  uint64 `yaml:"egress_bits_per_sec"`
	IngressBitsPerSec uint64 `yaml:"ingress_bits_per_sec"`

	// TokenSize defines the granularity of a token in the bucket, avoiding
	// integer overflow that would occur if every bit were mapped to a token.
	TokenSize uint64 `yaml:"token_size"`

	Enable bool `yaml:"enable"`
}

func (c Config) applyDefaults() Config {
	if c.TokenSize == 0 {
		c.TokenSize = memsize.Mbit
	}
	return c
}

// Limiter limits egress and ingress bandwidth via token-bucket rate
// limiting. A disabled Limiter never blocks.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	egress  *rate.Limiter
	ingress *rate.Limiter

	egressLimit  int64
	ingressLimit int64
}

// NewLimiter creates a new Limiter. Returns an error if either direction's
// rate is unset while the limiter is enabled.
func NewLimiter(config Config) (*Limiter, error) {
	config = config.applyDefaults()

	if config.Enable {
		if config.EgressBitsPerSec == 0 {
			return nil, fmt.Errorf("egress_bits_per_sec must be set")
		}
		if config.IngressBitsPerSec == 0 {
			return nil, fmt.Errorf("ingress_bits_per_sec must be set")
		}
	}

	l := &Limiter{config: config}
	if config.Enable {
		if err := l.Adjust(1); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Adjust rescales the limiter's rates by dividing the configured bits per
// second by denom, with a floor of one token per second. Used to share
// bandwidth fairly across a growing or shrinking number of active torrents.
func (l *Limiter) Adjust(denom int) error {
	if denom <= 0 {
		return fmt.Errorf("denom must be positive, got %d", denom)
	}

	etps := tokensPerSec(l.config.EgressBitsPerSec, l.config.TokenSize, denom)
	itps := tokensPerSec(l.config.IngressBitsPerSec, l.config.TokenSize, denom)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.egress = rate.NewLimiter(rate.Limit(etps), int(etps))
	l.ingress = rate.NewLimiter(rate.Limit(itps), int(itps))
	l.egressLimit = etps
	l.ingressLimit = itps
	return nil
}

func tokensPerSec(bitsPerSec, tokenSize uint64, denom int) int64 {
	tps := int64(bitsPerSec/tokenSize) / int64(denom)
	if tps < 1 {
		tps = 1
	}
	return tps
}

// EgressLimit returns the current egress rate, in tokens per second.
func (l *Limiter) EgressLimit() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.egressLimit
}

// IngressLimit returns the current ingress rate, in tokens per second.
func (l *Limiter) IngressLimit() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ingressLimit
}

func (l *Limiter) reserve(rl *rate.Limiter, nbytes int64) error {
	if rl == nil {
		return nil
	}
	tokens := nbytes * 8 / int64(l.config.TokenSize)
	if tokens == 0 {
		tokens = 1
	}
	r := rl.ReserveN(time.Now(), int(tokens))
	if !r.OK() {
		return fmt.Errorf(
			"cannot reserve %s of bandwidth, exceeds bucket capacity", memsize.Format(uint64(nbytes)))
	}
	time.Sleep(r.Delay())
	return nil
}

// ReserveEgress blocks until egress bandwidth for nbytes is available.
func (l *Limiter) ReserveEgress(nbytes int64) error {
	l.mu.Lock()
	rl := l.egress
	l.mu.Unlock()
	return l.reserve(rl, nbytes)
}

// ReserveIngress blocks until ingress bandwidth for nbytes is available.
func (l *Limiter) ReserveIngress(nbytes int64) error {
	l.mu.Lock()
	rl := l.ingress
	l.mu.Unlock()
	return l.reserve(rl, nbytes)
}
