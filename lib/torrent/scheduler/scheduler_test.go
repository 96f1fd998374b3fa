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
package scheduler

import (
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/storage"
	"github.com/riptide-p2p/riptide/lib/torrent/storage/filestorage"
	"github.com/riptide-p2p/riptide/tracker/announceclient"
	"github.com/riptide-p2p/riptide/utils/backoff"
	"github.com/riptide-p2p/riptide/utils/log"
)

const testTimeout = 30 * time.Second

// testTracker is an in-process HTTP tracker whose peer handout may be swapped
// at runtime.
type testTracker struct {
	server *httptest.Server

	mu    sync.Mutex
	peers []*core.PeerInfo
	fail  string
}

func newTestTracker() *testTracker {
	tr := &testTracker{}
	tr.server = httptest.NewServer(http.HandlerFunc(tr.handle))
	return tr
}

func (tr *testTracker) handle(w http.ResponseWriter, r *http.Request) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.fail != "" {
		fmt.Fprintf(w, "d14:failure reason%d:%se", len(tr.fail), tr.fail)
		return
	}
	resp := "d8:intervali60e5:peersl"
	for _, p := range tr.peers {
		resp += fmt.Sprintf("d2:ip%d:%s4:porti%dee", len(p.IP), p.IP, p.Port)
	}
	resp += "ee"
	fmt.Fprint(w, resp)
}

func (tr *testTracker) setPeers(peers ...*core.PeerInfo) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.peers = peers
}

func (tr *testTracker) setFailure(reason string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.fail = reason
}

func (tr *testTracker) close() {
	tr.server.Close()
}

func (tr *testTracker) torrentFixture(size, pieceLength uint64) *core.TorrentFixture {
	content := make([]byte, size)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	return core.CustomTorrentFixture(
		content, "test_blob", tr.server.URL+"/announce", pieceLength)
}

func testConfig() Config {
	return Config{
		AnnounceBackoff: backoff.Config{
			Min:          10 * time.Millisecond,
			Max:          20 * time.Millisecond,
			RetryTimeout: 100 * time.Millisecond,
			NoJitter:     true,
		},
		Log: log.Config{Disable: true},
	}
}

func newTestScheduler(
	t *testing.T, config Config, f *core.TorrentFixture, tor storage.Torrent) *Scheduler {

	ac := announceclient.New(
		announceclient.Config{Timeout: 5 * time.Second, DisableRetry: true}, f.MetaInfo)
	s, err := New(
		config, tor, tally.NoopScope, core.PeerIDFixture(), ac, "localhost:0")
	require.NoError(t, err)
	return s
}

func downloadWithTimeout(t *testing.T, s *Scheduler) error {
	result := make(chan error, 1)
	go func() { result <- s.Download() }()
	select {
	case err := <-result:
		return err
	case <-time.After(testTimeout):
		t.Fatal("download timed out")
		return nil
	}
}

// TestSchedulerDownloadsFromSeeder downloads a small torrent from a single
// in-process seeder discovered through the tracker.
func TestSchedulerDownloadsFromSeeder(t *testing.T) {
	require := require.New(t)

	tracker := newTestTracker()
	defer tracker.close()

	// Four pieces of two blocks each, to exercise pipelining.
	f := tracker.torrentFixture(128, 32)

	config := testConfig()
	config.Dispatch.BlockSize = 16

	seederTorrent, seederCleanup := filestorage.CompleteTorrentFixture(f)
	defer seederCleanup()
	seeder := newTestScheduler(t, config, f, seederTorrent)
	defer seeder.Stop()

	tracker.setPeers(&core.PeerInfo{IP: "127.0.0.1", Port: seeder.listenPort})

	leecherTorrent, leecherCleanup := filestorage.TorrentFixture(f)
	defer leecherCleanup()
	leecher := newTestScheduler(t, config, f, leecherTorrent)
	defer leecher.Stop()

	require.NoError(downloadWithTimeout(t, leecher))
	require.True(leecherTorrent.Complete())

	for i := 0; i < f.NumPieces(); i++ {
		r, err := leecherTorrent.GetBlockReader(i, 0, int(f.MetaInfo.GetPieceLength(i)))
		require.NoError(err)
		b, err := ioutil.ReadAll(r)
		r.Close()
		require.NoError(err)
		require.Equal(f.Piece(i), b)
	}
}

// TestSchedulerSinglePieceDownload covers the smallest end-to-end case: one
// piece, one seeder, final bitfield with exactly bit 0 set.
func TestSchedulerSinglePieceDownload(t *testing.T) {
	require := require.New(t)

	tracker := newTestTracker()
	defer tracker.close()

	f := tracker.torrentFixture(32, 32)

	seederTorrent, seederCleanup := filestorage.CompleteTorrentFixture(f)
	defer seederCleanup()
	seeder := newTestScheduler(t, testConfig(), f, seederTorrent)
	defer seeder.Stop()

	tracker.setPeers(&core.PeerInfo{IP: "127.0.0.1", Port: seeder.listenPort})

	leecherTorrent, leecherCleanup := filestorage.TorrentFixture(f)
	defer leecherCleanup()
	leecher := newTestScheduler(t, testConfig(), f, leecherTorrent)
	defer leecher.Stop()

	require.NoError(downloadWithTimeout(t, leecher))

	b := leecherTorrent.Bitfield()
	require.Equal(uint(1), b.Count())
	require.True(b.Test(0))
}

func TestSchedulerTrackerFailureReason(t *testing.T) {
	require := require.New(t)

	tracker := newTestTracker()
	defer tracker.close()
	tracker.setFailure("torrent not registered")

	f := tracker.torrentFixture(32, 32)

	tor, cleanup := filestorage.TorrentFixture(f)
	defer cleanup()
	s := newTestScheduler(t, testConfig(), f, tor)
	defer s.Stop()

	err := downloadWithTimeout(t, s)
	require.Error(err)
	require.True(announceclient.IsTrackerError(err))
}

func TestSchedulerTrackerUnreachable(t *testing.T) {
	require := require.New(t)

	f := core.CustomTorrentFixture(
		make([]byte, 32), "test_blob", "http://127.0.0.1:1/announce", 32)

	tor, cleanup := filestorage.TorrentFixture(f)
	defer cleanup()
	s := newTestScheduler(t, testConfig(), f, tor)
	defer s.Stop()

	err := downloadWithTimeout(t, s)
	require.Error(err)
	require.True(announceclient.IsUnreachableError(err))
}

func TestSchedulerNoUsablePeers(t *testing.T) {
	require := require.New(t)

	tracker := newTestTracker()
	defer tracker.close()

	// The only handed out peer refuses connections.
	tracker.setPeers(&core.PeerInfo{IP: "127.0.0.1", Port: 1})

	f := tracker.torrentFixture(32, 32)

	tor, cleanup := filestorage.TorrentFixture(f)
	defer cleanup()
	s := newTestScheduler(t, testConfig(), f, tor)
	defer s.Stop()

	require.Equal(ErrNoUsablePeers, downloadWithTimeout(t, s))
}

func TestSchedulerStopResolvesDownload(t *testing.T) {
	require := require.New(t)

	tracker := newTestTracker()
	defer tracker.close()

	f := tracker.torrentFixture(32, 32)

	tor, cleanup := filestorage.TorrentFixture(f)
	defer cleanup()
	s := newTestScheduler(t, testConfig(), f, tor)

	go s.Stop()
	require.Equal(ErrSchedulerStopped, downloadWithTimeout(t, s))
}
