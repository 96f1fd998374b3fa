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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/storage"
)

func TestTorrentWriteBlocksOutOfOrder(t *testing.T) {
	require := require.New(t)

	f := core.SizedTorrentFixture(128, 32)
	tor, cleanup := TorrentFixture(f)
	defer cleanup()

	require.False(tor.Complete())
	require.Equal([]int{0, 1, 2, 3}, tor.MissingPieces())

	// Piece 1 assembled from two blocks, second half first.
	require.NoError(tor.WriteBlock(1, 16, f.Piece(1)[16:]))
	require.False(tor.HasPiece(1))
	require.NoError(tor.WriteBlock(1, 0, f.Piece(1)[:16]))
	require.True(tor.HasPiece(1))
	require.Equal([]int{0, 2, 3}, tor.MissingPieces())

	for _, i := range []int{3, 0, 2} {
		require.NoError(tor.WriteBlock(i, 0, f.Piece(i)))
	}
	require.True(tor.Complete())
	require.Equal(f.MetaInfo.Length(), tor.BytesDownloaded())

	result, err := ioutil.ReadFile(downloadPath(tor))
	require.NoError(err)
	require.Equal(f.Content, result)
}

func TestTorrentWriteBlockRejectsDuplicates(t *testing.T) {
	require := require.New(t)

	f := core.SizedTorrentFixture(64, 32)
	tor, cleanup := TorrentFixture(f)
	defer cleanup()

	require.NoError(tor.WriteBlock(0, 0, f.Piece(0)[:16]))
	require.Equal(storage.ErrDuplicateBlock, tor.WriteBlock(0, 0, f.Piece(0)[:16]))

	require.NoError(tor.WriteBlock(0, 16, f.Piece(0)[16:]))
	require.Equal(storage.ErrPieceComplete, tor.WriteBlock(0, 0, f.Piece(0)[:16]))
}

func TestTorrentWriteBlockChecksumFailureResetsPiece(t *testing.T) {
	require := require.New(t)

	f := core.SizedTorrentFixture(64, 32)
	tor, cleanup := TorrentFixture(f)
	defer cleanup()

	corrupt := make([]byte, 32)
	err := tor.WriteBlock(0, 0, corrupt)
	require.Error(err)
	require.True(storage.IsPieceChecksumError(err))
	require.False(tor.HasPiece(0))

	// The piece is writable again after the failure.
	require.NoError(tor.WriteBlock(0, 0, f.Piece(0)))
	require.True(tor.HasPiece(0))
}

func TestTorrentWriteBlockBounds(t *testing.T) {
	require := require.New(t)

	f := core.SizedTorrentFixture(64, 32)
	tor, cleanup := TorrentFixture(f)
	defer cleanup()

	require.Error(tor.WriteBlock(0, 24, make([]byte, 16)))
	require.Error(tor.WriteBlock(0, -1, make([]byte, 8)))
	require.Error(tor.WriteBlock(8, 0, make([]byte, 8)))
}

func TestTorrentGetBlockReader(t *testing.T) {
	require := require.New(t)

	f := core.SizedTorrentFixture(64, 32)
	tor, cleanup := TorrentFixture(f)
	defer cleanup()

	_, err := tor.GetBlockReader(1, 0, 8)
	require.Equal(errPieceNotComplete, err)

	require.NoError(tor.WriteBlock(1, 0, f.Piece(1)))

	r, err := tor.GetBlockReader(1, 8, 16)
	require.NoError(err)
	defer r.Close()
	require.Equal(16, r.Length())
	b, err := ioutil.ReadAll(r)
	require.NoError(err)
	require.Equal(f.Piece(1)[8:24], b)

	_, err = tor.GetBlockReader(1, 24, 16)
	require.Error(err)
}

func TestTorrentBitfield(t *testing.T) {
	require := require.New(t)

	f := core.SizedTorrentFixture(96, 32)
	tor, cleanup := TorrentFixture(f)
	defer cleanup()

	require.NoError(tor.WriteBlock(2, 0, f.Piece(2)))

	b := tor.Bitfield()
	require.False(b.Test(0))
	require.False(b.Test(1))
	require.True(b.Test(2))
}

func downloadPath(t *Torrent) string {
	return filepath.Join(filepath.Dir(t.f.Name()), filepath.Base(t.Name()))
}

func TestNewTorrentTruncatesPreviousDownload(t *testing.T) {
	require := require.New(t)

	f := core.SizedTorrentFixture(64, 32)

	dir, err := ioutil.TempDir("", "filestorage_test_")
	require.NoError(err)
	defer os.RemoveAll(dir)

	require.NoError(
		ioutil.WriteFile(filepath.Join(dir, f.MetaInfo.Name()), []byte("stale"), 0644))

	tor, err := NewTorrent(dir, f.MetaInfo)
	require.NoError(err)
	defer tor.Close()

	b, err := ioutil.ReadFile(filepath.Join(dir, f.MetaInfo.Name()))
	require.NoError(err)
	require.Empty(b)
}
