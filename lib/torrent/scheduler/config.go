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
	"time"

	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/conn"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/connstate"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/dispatch"
	"github.com/riptide-p2p/riptide/utils/backoff"
	"github.com/riptide-p2p/riptide/utils/log"
)

// Config is the Scheduler configuration.
type Config struct {

	// AnnounceInterval is the fallback re-announce interval, used when the
	// tracker does not dictate one.
	AnnounceInterval time.Duration `yaml:"announce_interval"`

	ConnState connstate.Config `yaml:"connstate"`

	Conn conn.Config `yaml:"conn"`

	Dispatch dispatch.Config `yaml:"dispatch"`

	// AnnounceBackoff configures retries of failed announces. Announces which
	// the tracker explicitly rejected are never retried.
	AnnounceBackoff backoff.Config `yaml:"announce_backoff"`

	Log log.Config `yaml:"log"`
}

func (c Config) applyDefaults() Config {
	if c.AnnounceInterval == 0 {
		c.AnnounceInterval = time.Minute
	}
	if c.AnnounceBackoff.RetryTimeout == 0 {
		c.AnnounceBackoff.RetryTimeout = 2 * time.Minute
	}
	return c
}
