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

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/riptide-p2p/riptide/core"
)

type noopEvents struct{}

func (e noopEvents) ConnClosed(*Conn) {}

// NoopEvents returns Events which do nothing.
func NoopEvents() Events {
	return noopEvents{}
}

// HandshakerFixture creates a Handshaker with default fixture dependencies.
func HandshakerFixture(config Config) *Handshaker {
	return NewHandshaker(
		config,
		tally.NoopScope,
		clock.New(),
		core.PeerIDFixture(),
		NoopEvents(),
		zap.NewNop().Sugar())
}

// PipeFixture returns two started Conns connected to each other via an
// in-memory pipe, plus a cleanup function.
func PipeFixture(config Config, infoHash core.InfoHash) (local, remote *Conn, cleanup func()) {
	return pipeFixture(config, clock.New(), infoHash)
}

// MockClockPipeFixture is PipeFixture with an injected clock.
func MockClockPipeFixture(
	config Config, clk clock.Clock, infoHash core.InfoHash) (local, remote *Conn, cleanup func()) {

	return pipeFixture(config, clk, infoHash)
}

func pipeFixture(
	config Config, clk clock.Clock, infoHash core.InfoHash) (local, remote *Conn, cleanup func()) {

	config = config.applyDefaults()

	localNC, remoteNC := net.Pipe()

	local = connFixture(config, clk, localNC, infoHash, false)
	remote = connFixture(config, clk, remoteNC, infoHash, true)
	local.Start()
	remote.Start()

	return local, remote, func() {
		local.Close()
		remote.Close()
	}
}

func connFixture(
	config Config, clk clock.Clock, nc net.Conn, infoHash core.InfoHash, openedByRemote bool) *Conn {

	c, err := newConn(
		config,
		tally.NoopScope,
		clk,
		NoopEvents(),
		nc,
		core.PeerIDFixture(),
		core.PeerIDFixture(),
		infoHash,
		openedByRemote,
		zap.NewNop().Sugar())
	if err != nil {
		panic(err)
	}
	return c
}
