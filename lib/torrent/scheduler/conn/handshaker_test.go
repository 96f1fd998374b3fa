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
package conn

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/willf/bitset"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/storage"
)

func torrentInfoFixture(mi *core.MetaInfo) *storage.TorrentInfo {
	return storage.NewTorrentInfo(mi, bitset.New(uint(mi.NumPieces())))
}

func TestHandshakerInitializeAndAccept(t *testing.T) {
	require := require.New(t)

	mi := core.MetaInfoFixture()
	info := torrentInfoFixture(mi)

	dialer := HandshakerFixture(Config{})
	acceptor := HandshakerFixture(Config{})

	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(err)
	defer lis.Close()

	done := make(chan *Conn)
	go func() {
		nc, err := lis.Accept()
		require.NoError(err)
		pc, err := acceptor.Accept(nc)
		require.NoError(err)
		require.Equal(mi.InfoHash(), pc.InfoHash())
		require.Equal(dialer.peerID, pc.PeerID())
		c, err := acceptor.Establish(pc, info)
		require.NoError(err)
		done <- c
	}()

	local, err := dialer.Initialize(lis.Addr().String(), info)
	require.NoError(err)
	defer local.Close()

	remote := <-done
	defer remote.Close()

	require.Equal(acceptor.peerID, local.PeerID())
	require.Equal(mi.InfoHash(), local.InfoHash())
	require.False(local.OpenedByRemote())
	require.True(remote.OpenedByRemote())

	// The established conns speak framed messages.
	local.Start()
	remote.Start()
	require.NoError(local.Send(NewInterestedMessage()))
	require.Equal(MessageInterested, receiveWithTimeout(t, remote).ID)
}

func TestHandshakerInitializeRejectsInfoHashMismatch(t *testing.T) {
	require := require.New(t)

	dialer := HandshakerFixture(Config{})

	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(err)
	defer lis.Close()

	go func() {
		nc, err := lis.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		if _, err := DecodeHandshake(nc); err != nil {
			return
		}
		// Reply with a handshake for a different torrent.
		reply := &Handshake{
			InfoHash: core.InfoHashFixture(),
			PeerID:   core.PeerIDFixture(),
		}
		nc.Write(reply.Encode())
	}()

	_, err = dialer.Initialize(
		lis.Addr().String(), torrentInfoFixture(core.MetaInfoFixture()))
	require.Equal(ErrHandshakeRejected, err)
}

func TestHandshakerEstablishRejectsInfoHashMismatch(t *testing.T) {
	require := require.New(t)

	// Short handshake timeout: the acceptor rejects without replying, so the
	// dialer read must expire.
	dialer := HandshakerFixture(Config{HandshakeTimeout: time.Second})
	acceptor := HandshakerFixture(Config{})

	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(err)
	defer lis.Close()

	done := make(chan error)
	go func() {
		nc, err := lis.Accept()
		if err != nil {
			done <- err
			return
		}
		pc, err := acceptor.Accept(nc)
		if err != nil {
			done <- err
			return
		}
		_, err = acceptor.Establish(pc, torrentInfoFixture(core.MetaInfoFixture()))
		done <- err
	}()

	// The dialer will fail its own handshake read; we only care that the
	// acceptor rejected the mismatched torrent.
	dialer.Initialize(
		lis.Addr().String(), torrentInfoFixture(core.MetaInfoFixture()))

	require.Equal(ErrHandshakeRejected, <-done)
}