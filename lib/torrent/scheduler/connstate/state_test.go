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
package connstate

import (
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/conn"
)

func stateFixture(config Config, clk clock.Clock) *State {
	return New(config, clk, core.PeerIDFixture(), zap.NewNop().Sugar())
}

func TestStatePendingCapacity(t *testing.T) {
	require := require.New(t)

	s := stateFixture(Config{MaxOpenConnections: 2}, clock.NewMock())

	require.NoError(s.AddPending("1.1.1.1:1001"))
	require.NoError(s.AddPending("1.1.1.2:1002"))
	require.Equal(ErrAtCapacity, s.AddPending("1.1.1.3:1003"))

	s.DeletePending("1.1.1.1:1001")
	require.NoError(s.AddPending("1.1.1.3:1003"))
}

func TestStateDuplicatePending(t *testing.T) {
	require := require.New(t)

	s := stateFixture(Config{}, clock.NewMock())

	require.NoError(s.AddPending("1.1.1.1:1001"))
	require.Equal(ErrConnAlreadyPending, s.AddPending("1.1.1.1:1001"))
}

func TestStateBlacklistExpires(t *testing.T) {
	require := require.New(t)

	clk := clock.NewMock()
	s := stateFixture(Config{BlacklistDuration: 30 * time.Second}, clk)

	addr := "1.1.1.1:1001"
	s.Blacklist(addr)
	require.True(s.Blacklisted(addr))
	require.Equal(ErrAddrBlacklisted, s.AddPending(addr))

	clk.Add(31 * time.Second)
	require.False(s.Blacklisted(addr))
	require.NoError(s.AddPending(addr))
}

func TestStateActiveConns(t *testing.T) {
	require := require.New(t)

	s := stateFixture(Config{}, clock.NewMock())

	c, _, cleanup := conn.PipeFixture(conn.Config{}, core.InfoHashFixture())
	defer cleanup()

	require.NoError(s.AddActive(c))
	require.Equal(ErrConnAlreadyActive, s.AddActive(c))
	require.True(s.HasActive(c.PeerID()))
	require.Equal(1, s.NumActive())
	require.Len(s.ActiveConns(), 1)

	s.DeleteActive(c)
	require.False(s.HasActive(c.PeerID()))
}

func TestStateDisableBlacklist(t *testing.T) {
	require := require.New(t)

	s := stateFixture(Config{DisableBlacklist: true}, clock.NewMock())

	addr := "1.1.1.1:1001"
	s.Blacklist(addr)
	require.False(s.Blacklisted(addr))
}
