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

// Package playlist implements a FIFO queue of media items consumed by a
// player facade. It has no knowledge of torrents beyond the metadata an
// item optionally carries; the boundary with lib/torrent/chromecast is
// the player facade itself, not this package.
package playlist

import (
	"container/list"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/storage"
)

// Item is a single queued media entry. Optional fields use the zero value
// to mean "absent" so that two items with the same set of present fields
// compare equal regardless of how they were constructed.
type Item struct {
	URL                 string
	Title               string
	Caption             string
	Thumbnail           string
	ParentMedia         string
	Media               string
	TorrentInfo         *storage.TorrentInfo
	TorrentFileInfo     core.InfoHash
	Quality             string
	AutoResumeTimestamp int64
	SubtitlesEnabled    bool
}

// Equal reports whether i and other refer to the same media item. Equality
// is defined on identifying fields only (url, title, thumbnail, media,
// quality) per the spec; absent optional fields on either side are treated
// as equal to absent fields on the other.
func (i Item) Equal(other Item) bool {
	return i.URL == other.URL &&
		i.Title == other.Title &&
		i.Thumbnail == other.Thumbnail &&
		i.Media == other.Media &&
		i.Quality == other.Quality
}

// Playlist is a FIFO queue of Items. Playlist is not thread safe --
// synchronization must be provided by clients, consistent with
// announcequeue.QueueImpl in the same module.
type Playlist struct {
	items *list.List
}

// New returns a new, empty Playlist.
func New() *Playlist {
	return &Playlist{items: list.New()}
}

// FromSlice returns a new Playlist pre-populated with xs, in order.
func FromSlice(xs []Item) *Playlist {
	p := New()
	for _, x := range xs {
		p.Add(x)
	}
	return p
}

// Add appends x to the back of the queue.
func (p *Playlist) Add(x Item) {
	p.items.PushBack(x)
}

// Remove removes the first item equal to x, if any, and reports whether a
// matching item was found and removed.
func (p *Playlist) Remove(x Item) bool {
	for e := p.items.Front(); e != nil; e = e.Next() {
		if e.Value.(Item).Equal(x) {
			p.items.Remove(e)
			return true
		}
	}
	return false
}

// Clear empties the queue.
func (p *Playlist) Clear() {
	p.items.Init()
}

// HasNext reports whether the queue has an item to pop.
func (p *Playlist) HasNext() bool {
	return p.items.Front() != nil
}

// Next pops and returns the item at the front of the queue. Returns false
// if the queue is empty.
func (p *Playlist) Next() (Item, bool) {
	e := p.items.Front()
	if e == nil {
		return Item{}, false
	}
	p.items.Remove(e)
	return e.Value.(Item), true
}

// Peek returns the item at the front of the queue without removing it.
// Returns false if the queue is empty.
func (p *Playlist) Peek() (Item, bool) {
	e := p.items.Front()
	if e == nil {
		return Item{}, false
	}
	return e.Value.(Item), true
}

// Len returns the number of items currently queued.
func (p *Playlist) Len() int {
	return p.items.Len()
}
