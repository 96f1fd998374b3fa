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
package torrent

import (
	"fmt"

	"github.com/uber-go/tally"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler"
	"github.com/riptide-p2p/riptide/lib/torrent/storage"
	"github.com/riptide-p2p/riptide/lib/torrent/storage/filestorage"
	"github.com/riptide-p2p/riptide/tracker/announceclient"
)

// Client downloads a single torrent into local file storage, seeding it to
// incoming peers while it runs.
type Client interface {
	Download() error
	Stat() *storage.TorrentInfo
	NumPeers() int
	Close() error
}

// SchedulerClient is a Client backed by a scheduler.Scheduler.
type SchedulerClient struct {
	config    Config
	stats     tally.Scope
	torrent   *filestorage.Torrent
	scheduler *scheduler.Scheduler
}

// NewSchedulerClient creates a new SchedulerClient for the torrent described
// by mi.
func NewSchedulerClient(
	config Config,
	stats tally.Scope,
	peerID core.PeerID,
	mi *core.MetaInfo) (Client, error) {

	config = config.applyDefaults()

	t, err := filestorage.NewTorrent(config.DownloadDir, mi)
	if err != nil {
		return nil, fmt.Errorf("storage: %s", err)
	}
	sched, err := scheduler.New(
		config.Scheduler,
		t,
		stats,
		peerID,
		announceclient.New(config.AnnounceClient, mi),
		fmt.Sprintf(":%d", config.ListenPort))
	if err != nil {
		t.Close()
		return nil, fmt.Errorf("scheduler: %s", err)
	}
	return &SchedulerClient{
		config:    config,
		stats:     stats,
		torrent:   t,
		scheduler: sched,
	}, nil
}

// Download blocks until the torrent completes or fails terminally.
func (c *SchedulerClient) Download() error {
	return c.scheduler.Download()
}

// Stat returns a snapshot of download progress.
func (c *SchedulerClient) Stat() *storage.TorrentInfo {
	return c.scheduler.Stat()
}

// NumPeers returns the number of connected peers.
func (c *SchedulerClient) NumPeers() int {
	return c.scheduler.NumPeers()
}

// Close stops the scheduler and releases the download file handle.
func (c *SchedulerClient) Close() error {
	c.scheduler.Stop()
	return c.torrent.Close()
}
