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
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/lib/torrent/metainfo"
)

// ErrNotFound occurs when an Archive cannot find a torrent by info hash.
var ErrNotFound = errors.New("torrent not found")

// LocalArchive is an Archive backed by a root directory on the local
// filesystem, with one subdirectory per torrent keyed by info hash.
type LocalArchive struct {
	mu       sync.Mutex
	rootDir  string
	torrents map[core.InfoHash]*LocalTorrent
}

// NewLocalArchive creates a LocalArchive rooted at rootDir.
func NewLocalArchive(rootDir string) *LocalArchive {
	return &LocalArchive{
		rootDir:  rootDir,
		torrents: make(map[core.InfoHash]*LocalTorrent),
	}
}

func (a *LocalArchive) torrentDir(ih core.InfoHash) string {
	return filepath.Join(a.rootDir, ih.Hex())
}

// Stat returns a snapshot of the named torrent's storage state.
func (a *LocalArchive) Stat(ih core.InfoHash) (*TorrentInfo, error) {
	a.mu.Lock()
	t, ok := a.torrents[ih]
	a.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return NewTorrentInfo(ih, t.Bitfield(), t.WastedBytes()), nil
}

// CreateTorrent creates fresh, empty storage for mi, failing if storage for
// its info hash already exists.
func (a *LocalArchive) CreateTorrent(mi *metainfo.TorrentMetadata) (Torrent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.torrents[mi.InfoHash]; ok {
		return nil, fmt.Errorf("torrent %s already exists", mi.InfoHash.Hex())
	}

	dir := a.torrentDir(mi.InfoHash)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir: %s", err)
	}
	t, err := NewLocalTorrent(dir, mi)
	if err != nil {
		return nil, err
	}
	a.torrents[mi.InfoHash] = t
	return t, nil
}

// GetTorrent returns previously created storage for ih.
func (a *LocalArchive) GetTorrent(ih core.InfoHash) (Torrent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.torrents[ih]
	if !ok {
		return nil, ErrNotFound
	}
	return t, nil
}

// DeleteTorrent removes a torrent's storage state and, if present, its
// on-disk files.
func (a *LocalArchive) DeleteTorrent(ih core.InfoHash) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.torrents[ih]; !ok {
		return ErrNotFound
	}
	delete(a.torrents, ih)
	return os.RemoveAll(a.torrentDir(ih))
}
