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
package filestorage

import (
	"io/ioutil"
	"os"

	"github.com/riptide-p2p/riptide/core"
)

// TorrentFixture creates a Torrent in a temporary directory for f, plus a
// cleanup function.
func TorrentFixture(f *core.TorrentFixture) (*Torrent, func()) {
	dir, err := ioutil.TempDir("", "filestorage_fixture_")
	if err != nil {
		panic(err)
	}
	t, err := NewTorrent(dir, f.MetaInfo)
	if err != nil {
		os.RemoveAll(dir)
		panic(err)
	}
	return t, func() {
		t.Close()
		os.RemoveAll(dir)
	}
}

// CompleteTorrentFixture creates a Torrent which has fully downloaded f's
// content, plus a cleanup function.
func CompleteTorrentFixture(f *core.TorrentFixture) (*Torrent, func()) {
	t, cleanup := TorrentFixture(f)
	for i := 0; i < f.NumPieces(); i++ {
		if err := t.WriteBlock(i, 0, f.Piece(i)); err != nil {
			cleanup()
			panic(err)
		}
	}
	return t, cleanup
}
