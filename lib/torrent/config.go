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
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler"
	"github.com/riptide-p2p/riptide/tracker/announceclient"
)

// Config contains torrent client config.
type Config struct {

	// DownloadDir is the directory the target file is written into.
	DownloadDir string `yaml:"download_dir"`

	// ListenPort is the port incoming peer connections are accepted on, and
	// the port advertised to the tracker. Zero picks a random free port.
	ListenPort int `yaml:"listen_port"`

	Scheduler scheduler.Config `yaml:"scheduler"`

	AnnounceClient announceclient.Config `yaml:"announce_client"`
}

func (c Config) applyDefaults() Config {
	if c.DownloadDir == "" {
		c.DownloadDir = "."
	}
	return c
}
