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
package chromecast

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreswarm/torrent/lib/torrent/playlist"
)

type recordingEvents struct {
	events []PlayerEvent
}

func (r *recordingEvents) OnPlayerEvent(e PlayerEvent) {
	r.events = append(r.events, e)
}

func TestStubPlayerPlayTransitionsThroughLoadingToPlaying(t *testing.T) {
	require := require.New(t)

	rec := &recordingEvents{}
	p := NewStubPlayer(rec, nil)

	require.Equal(Ready, p.State())

	err := p.Play(PlayRequest{Item: playlist.Item{Title: "a"}})
	require.NoError(err)
	require.Equal(Playing, p.State())

	req, ok := p.Request()
	require.True(ok)
	require.Equal("a", req.Item.Title)
}

func TestStubPlayerPauseResume(t *testing.T) {
	require := require.New(t)

	p := NewStubPlayer(nil, nil)
	require.NoError(p.Play(PlayRequest{}))

	require.NoError(p.Pause())
	require.Equal(Paused, p.State())

	require.NoError(p.Resume())
	require.Equal(Playing, p.State())
}

func TestStubPlayerPauseWhileNotPlayingFails(t *testing.T) {
	require := require.New(t)

	p := NewStubPlayer(nil, nil)
	require.Equal(ErrInvalidTransition, p.Pause())
}

func TestStubPlayerSeekRequiresActiveMedia(t *testing.T) {
	require := require.New(t)

	p := NewStubPlayer(nil, nil)
	require.Equal(ErrNoActiveMedia, p.Seek(1000))

	require.NoError(p.Play(PlayRequest{}))
	require.NoError(p.Seek(5000))
}

func TestStubPlayerStopClearsActiveRequest(t *testing.T) {
	require := require.New(t)

	p := NewStubPlayer(nil, nil)
	require.NoError(p.Play(PlayRequest{}))

	require.NoError(p.Stop())
	require.Equal(Stopped, p.State())

	_, ok := p.Request()
	require.False(ok)
}
