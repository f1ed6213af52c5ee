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

// TorrentState enumerates the coarse-grained lifecycle states of a torrent,
// recomputed from its flags and piece completion whenever either changes.
type TorrentState int

const (
	// TorrentStateIdle is a freshly created torrent with no mode flags set.
	TorrentStateIdle TorrentState = iota
	// TorrentStatePaused is a torrent with the Paused flag set.
	TorrentStatePaused
	// TorrentStateDownloading is an incomplete torrent in DownloadMode.
	TorrentStateDownloading
	// TorrentStateSeeding is a complete torrent with UploadMode or SeedMode set.
	TorrentStateSeeding
	// TorrentStateFinished is a complete torrent not actively uploading.
	TorrentStateFinished
	// TorrentStateError is a torrent that hit an unrecoverable storage error.
	TorrentStateError
)

func (s TorrentState) String() string {
	switch s {
	case TorrentStateIdle:
		return "idle"
	case TorrentStatePaused:
		return "paused"
	case TorrentStateDownloading:
		return "downloading"
	case TorrentStateSeeding:
		return "seeding"
	case TorrentStateFinished:
		return "finished"
	case TorrentStateError:
		return "error"
	default:
		return "unknown"
	}
}
