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
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/zap"

	"github.com/riptide-p2p/riptide/core"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/conn"
	"github.com/riptide-p2p/riptide/lib/torrent/scheduler/dispatch"
	"github.com/riptide-p2p/riptide/lib/torrent/storage"
	"github.com/riptide-p2p/riptide/tracker/announceclient"
	"github.com/riptide-p2p/riptide/utils/backoff"
	"github.com/riptide-p2p/riptide/utils/log"
)

// Scheduler errors.
var (
	ErrSchedulerStopped  = errors.New("scheduler has been stopped")
	ErrNoUsablePeers     = errors.New("no usable peers for torrent")
	ErrSendEventTimedOut = errors.New("event loop send timed out")
)

// Scheduler manages global state for one torrent download. This includes:
// - Announcing to the tracker.
// - Handshaking incoming connections.
// - Initializing outgoing connections.
// - Dispatching connections to the torrent.
type Scheduler struct {
	config Config
	clock  clock.Clock
	stats  tally.Scope
	peerID core.PeerID

	handshaker *conn.Handshaker
	dispatcher *dispatch.Dispatcher

	eventLoop *liftedEventLoop

	listener   net.Listener
	listenPort int

	announceClient  announceclient.Client
	announceBackoff *backoff.Backoff
	announceNow     chan struct{}

	logger *zap.SugaredLogger

	// The following fields orchestrate the stopping of the scheduler.
	stopOnce sync.Once      // Ensures the stop sequence is executed only once.
	done     chan struct{}  // Signals all goroutines to exit.
	wg       sync.WaitGroup // Waits for event, listen and announce loops to exit.

	// The download result, resolved exactly once.
	resolveOnce sync.Once
	result      chan error
}

// schedOverrides defines Scheduler fields which may be overridden for testing
// purposes.
type schedOverrides struct {
	clock     clock.Clock
	eventLoop eventLoop
}

type option func(*schedOverrides)

func withClock(c clock.Clock) option {
	return func(o *schedOverrides) { o.clock = c }
}

func withEventLoop(l eventLoop) option {
	return func(o *schedOverrides) { o.eventLoop = l }
}

// New creates and starts a Scheduler downloading t, listening for incoming
// peer connections on listenAddr.
func New(
	config Config,
	t storage.Torrent,
	stats tally.Scope,
	peerID core.PeerID,
	announceClient announceclient.Client,
	listenAddr string,
	options ...option) (*Scheduler, error) {

	config = config.applyDefaults()

	logger, err := log.New(config.Log, nil)
	if err != nil {
		return nil, fmt.Errorf("log: %s", err)
	}
	slogger := logger.Sugar()

	stats = stats.Tagged(map[string]string{
		"module": "scheduler",
	})

	overrides := schedOverrides{
		clock:     clock.New(),
		eventLoop: newEventLoop(),
	}
	for _, opt := range options {
		opt(&overrides)
	}

	eventLoop := liftEventLoop(overrides.eventLoop)

	handshaker := conn.NewHandshaker(
		config.Conn, stats, overrides.clock, peerID, eventLoop, slogger)

	dispatcher, err := dispatch.New(
		config.Dispatch, stats, overrides.clock, eventLoop, peerID, t, slogger)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %s", err)
	}

	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen: %s", err)
	}
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("split listen addr: %s", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("parse listen port: %s", err)
	}

	s := &Scheduler{
		config:          config,
		clock:           overrides.clock,
		stats:           stats,
		peerID:          peerID,
		handshaker:      handshaker,
		dispatcher:      dispatcher,
		eventLoop:       eventLoop,
		listener:        l,
		listenPort:      port,
		announceClient:  announceClient,
		announceBackoff: backoff.New(config.AnnounceBackoff),
		announceNow:     make(chan struct{}, 1),
		logger:          slogger,
		done:            make(chan struct{}),
		result:          make(chan error, 1),
	}

	s.log("peer", peerID, "torrent", t.Name()).Infof(
		"Scheduler starting, listening on port %d", s.listenPort)

	s.wg.Add(3)
	go s.runEventLoop()
	go s.listenLoop()
	go s.announceLoop()

	return s, nil
}

// Download blocks until the torrent is complete or the download failed
// terminally.
func (s *Scheduler) Download() error {
	return <-s.result
}

// Stop shuts down the scheduler.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.log().Info("Stopping scheduler...")

		go s.announceEvent(announceclient.EventStopped)

		close(s.done)
		s.listener.Close()
		s.eventLoop.send(shutdownEvent{})

		// Waits for all loops to stop.
		s.wg.Wait()

		s.log().Info("Scheduler stopped")
	})
}

// Stat returns a snapshot of the torrent's storage info.
func (s *Scheduler) Stat() *storage.TorrentInfo {
	return s.dispatcher.Stat()
}

// NumPeers returns the number of peers currently dispatched.
func (s *Scheduler) NumPeers() int {
	return s.dispatcher.NumPeers()
}

// resolve settles the Download result. Only the first resolution counts.
func (s *Scheduler) resolve(err error) {
	s.resolveOnce.Do(func() {
		s.result <- err
	})
}

func (s *Scheduler) runEventLoop() {
	defer s.wg.Done()

	s.eventLoop.run(newState(s))
}

// listenLoop accepts incoming connections.
func (s *Scheduler) listenLoop() {
	defer s.wg.Done()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			// listener.Close exits the loop on shutdown.
			s.log().Infof("Exiting listen loop: %s", err)
			return
		}
		go func() {
			pc, err := s.handshaker.Accept(nc)
			if err != nil {
				s.log().Infof("Error accepting handshake, closing net conn: %s", err)
				nc.Close()
				return
			}
			s.eventLoop.send(incomingHandshakeEvent{pc})
		}()
	}
}

// announceLoop announces at the tracker-dictated interval, or immediately
// when the event loop runs out of connections.
func (s *Scheduler) announceLoop() {
	defer s.wg.Done()

	event := announceclient.EventStarted
	for {
		resp, err := s.announceWithBackoff(event)
		if err != nil {
			s.eventLoop.send(announceErrEvent{err})
			return
		}
		event = announceclient.EventNone
		s.eventLoop.send(announceResultEvent{resp.Peers})

		interval := resp.Interval
		if interval == 0 {
			interval = s.config.AnnounceInterval
		}
		select {
		case <-s.done:
			return
		case <-s.announceNow:
		case <-s.clock.After(interval):
		}
	}
}

// announceWithBackoff retries transport-level announce failures per the
// configured backoff. Announces the tracker explicitly rejected fail
// immediately.
func (s *Scheduler) announceWithBackoff(
	event announceclient.Event) (*announceclient.Response, error) {

	var lastErr error
	a := s.announceBackoff.Attempts()
	for a.WaitForNext() {
		select {
		case <-s.done:
			return nil, ErrSchedulerStopped
		default:
		}
		resp, err := s.announceClient.Announce(s.announceRequest(event))
		if err != nil {
			if announceclient.IsTrackerError(err) {
				return nil, err
			}
			s.log().Warnf("Announce error, will retry: %s", err)
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// announceEvent fires a single best-effort announce carrying event, without
// retries. Used for completed / stopped notifications.
func (s *Scheduler) announceEvent(event announceclient.Event) {
	if _, err := s.announceClient.Announce(s.announceRequest(event)); err != nil {
		s.log().Infof("Error announcing %q event: %s", event, err)
	}
}

func (s *Scheduler) announceRequest(event announceclient.Event) *announceclient.Request {
	downloaded := s.dispatcher.BytesDownloaded()
	return &announceclient.Request{
		PeerID:     s.peerID,
		Port:       s.listenPort,
		Uploaded:   0,
		Downloaded: downloaded,
		Left:       s.dispatcher.Length() - downloaded,
		Event:      event,
	}
}

// initializeOutgoingHandshake attempts to initialize a conn to a remote peer.
// Success / failure is communicated via events.
func (s *Scheduler) initializeOutgoingHandshake(addr string) {
	c, err := s.handshaker.Initialize(addr, s.dispatcher.Stat())
	if err != nil {
		s.log("addr", addr).Infof("Error initializing outgoing handshake: %s", err)
		s.eventLoop.send(failedOutgoingHandshakeEvent{addr})
		return
	}
	s.eventLoop.send(outgoingConnEvent{addr, c})
}

// establishIncomingHandshake attempts to establish a pending conn initialized
// by a remote peer. Success / failure is communicated via events.
func (s *Scheduler) establishIncomingHandshake(pc *conn.PendingConn) {
	c, err := s.handshaker.Establish(pc, s.dispatcher.Stat())
	if err != nil {
		s.log("peer", pc.PeerID()).Infof("Error establishing incoming handshake: %s", err)
		pc.Close()
		return
	}
	s.eventLoop.send(incomingConnEvent{c})
}

func (s *Scheduler) log(args ...interface{}) *zap.SugaredLogger {
	return s.logger.With(args...)
}
