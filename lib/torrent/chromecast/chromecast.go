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

// Package chromecast defines the player facade boundary: PlayRequest in,
// PlayerEvent out. Casting hardware control is out of scope; StubPlayer
// drives the same state machine a real Chromecast sender would, so
// callers on either side of the boundary can be built and tested against
// it without a physical device.
package chromecast

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/coreswarm/torrent/lib/torrent/playlist"
)

// State is a player lifecycle state.
type State int

// Possible player states.
const (
	Ready State = iota
	Loading
	Buffering
	Playing
	Paused
	Stopped
	Error
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Loading:
		return "loading"
	case Buffering:
		return "buffering"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// PlayRequest describes a media item to begin playing.
type PlayRequest struct {
	Item          playlist.Item
	StartOffsetMS int64
}

// EventKind discriminates PlayerEvent payloads.
type EventKind int

// Possible event kinds.
const (
	StateChanged EventKind = iota
	TimeChanged
	DurationChanged
)

// PlayerEvent is emitted by a Player as playback progresses.
type PlayerEvent struct {
	Kind       EventKind
	State      State
	TimeMS     int64
	DurationMS int64
}

// Events receives PlayerEvents emitted by a Player. Implementations must
// not block, consistent with the narrow callback interfaces used
// elsewhere in this module (peer.Events, dispatch.Events).
type Events interface {
	OnPlayerEvent(PlayerEvent)
}

var (
	// ErrNoActiveMedia occurs when an operation requiring active media is
	// invoked while the player is Ready or Stopped.
	ErrNoActiveMedia = errors.New("no active media")

	// ErrInvalidTransition occurs when an operation is invoked in a state
	// it is not defined for.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// Player is the facade a caller drives to control playback on a cast
// device or equivalent. Real implementations speak the device's remote
// control protocol; StubPlayer below exercises the state machine without
// one.
type Player interface {
	Play(PlayRequest) error
	Pause() error
	Resume() error
	Seek(ms int64) error
	Stop() error
	State() State
	Request() (PlayRequest, bool)
}

// StubPlayer is an in-memory Player implementation. It drives the same
// state machine and event sequence a networked cast sender would, minus
// any actual device communication.
type StubPlayer struct {
	mu     sync.Mutex
	state  State
	req    PlayRequest
	hasReq bool
	timeMS int64
	events Events
	logger *zap.SugaredLogger
}

// NewStubPlayer returns a new StubPlayer in the Ready state.
func NewStubPlayer(events Events, logger *zap.SugaredLogger) *StubPlayer {
	return &StubPlayer{
		state:  Ready,
		events: events,
		logger: logger,
	}
}

func (p *StubPlayer) setState(s State) {
	p.state = s
	if p.logger != nil {
		p.logger.Debugf("Player state -> %s", s)
	}
	p.emit(PlayerEvent{Kind: StateChanged, State: s})
}

func (p *StubPlayer) emit(e PlayerEvent) {
	if p.events != nil {
		p.events.OnPlayerEvent(e)
	}
}

// Play loads and begins playing req.Item from req.StartOffsetMS. Valid
// from any state.
func (p *StubPlayer) Play(req PlayRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.req = req
	p.hasReq = true
	p.timeMS = req.StartOffsetMS
	p.setState(Loading)
	p.emit(PlayerEvent{Kind: TimeChanged, TimeMS: p.timeMS})
	p.setState(Buffering)
	p.setState(Playing)
	return nil
}

// Pause pauses playback. Valid only while Playing.
func (p *StubPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Playing {
		return ErrInvalidTransition
	}
	p.setState(Paused)
	return nil
}

// Resume resumes playback. Valid only while Paused.
func (p *StubPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Paused {
		return ErrInvalidTransition
	}
	p.setState(Playing)
	return nil
}

// Seek moves the playhead to ms. Valid while Playing or Paused.
func (p *StubPlayer) Seek(ms int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != Playing && p.state != Paused {
		return ErrNoActiveMedia
	}
	p.timeMS = ms
	p.emit(PlayerEvent{Kind: TimeChanged, TimeMS: ms})
	return nil
}

// Stop halts playback and clears the active request.
func (p *StubPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == Ready || p.state == Stopped {
		return ErrNoActiveMedia
	}
	p.hasReq = false
	p.timeMS = 0
	p.setState(Stopped)
	return nil
}

// State returns the player's current state.
func (p *StubPlayer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Request returns the currently loaded PlayRequest, if any.
func (p *StubPlayer) Request() (PlayRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.req, p.hasReq
}
