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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/riptide-p2p/riptide/core"
)

// Events defines Conn events.
type Events interface {
	ConnClosed(*Conn)
}

// Conn manages peer communication over a single connection for a single
// torrent. Messages are framed / deframed by dedicated read and write loops
// which tolerate arbitrary TCP segmentation.
type Conn struct {
	peerID      core.PeerID
	infoHash    core.InfoHash
	createdAt   time.Time
	localPeerID core.PeerID

	events Events

	nc     net.Conn
	config Config
	clk    clock.Clock
	stats  tally.Scope

	// Marks whether the connection was opened by the remote peer, or the
	// local peer.
	openedByRemote bool

	startOnce sync.Once

	sender   chan *Message
	receiver chan *Message

	// The following fields orchestrate the closing of the connection:
	closed *atomic.Bool
	done   chan struct{}  // Signals to readLoop / writeLoop to exit.
	wg     sync.WaitGroup // Waits for readLoop / writeLoop to exit.

	logger *zap.SugaredLogger
}

func newConn(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	events Events,
	nc net.Conn,
	localPeerID core.PeerID,
	remotePeerID core.PeerID,
	infoHash core.InfoHash,
	openedByRemote bool,
	logger *zap.SugaredLogger) (*Conn, error) {

	// Clear all deadlines set during handshake. Once a Conn is created, we
	// rely on our own idle management via read deadlines per message.
	if err := nc.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}

	c := &Conn{
		peerID:         remotePeerID,
		infoHash:       infoHash,
		createdAt:      clk.Now(),
		localPeerID:    localPeerID,
		events:         events,
		nc:             nc,
		config:         config,
		clk:            clk,
		stats:          stats,
		openedByRemote: openedByRemote,
		sender:         make(chan *Message, config.SenderBufferSize),
		receiver:       make(chan *Message, config.ReceiverBufferSize),
		closed:         atomic.NewBool(false),
		done:           make(chan struct{}),
		logger:         logger,
	}

	return c, nil
}

// Start starts message processing on c. Note, once c has been started, it may
// close itself if it encounters an error reading/writing to the underlying
// socket.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// PeerID returns the remote peer id.
func (c *Conn) PeerID() core.PeerID {
	return c.peerID
}

// InfoHash returns the info hash for the torrent being transmitted over this
// connection.
func (c *Conn) InfoHash() core.InfoHash {
	return c.infoHash
}

// CreatedAt returns the time at which the Conn was created.
func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// OpenedByRemote returns whether the remote peer initiated the connection.
func (c *Conn) OpenedByRemote() bool {
	return c.openedByRemote
}

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(peer=%s, hash=%s, opened_by_remote=%t)",
		c.peerID, c.infoHash, c.openedByRemote)
}

// Send writes the given message to the underlying connection.
func (c *Conn) Send(msg *Message) error {
	select {
	case <-c.done:
		return errors.New("conn closed")
	case c.sender <- msg:
		return nil
	default:
		c.stats.Tagged(map[string]string{
			"dropped_message_type": msg.ID.String(),
		}).Counter("dropped_messages").Inc(1)
		return errors.New("send buffer full")
	}
}

// Receiver returns a read-only channel for reading incoming messages off the
// connection. Keep-alive frames are consumed by the read loop and never
// surface here.
func (c *Conn) Receiver() <-chan *Message {
	return c.receiver
}

// Close starts the shutdown sequence for the Conn.
func (c *Conn) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	go func() {
		close(c.done)
		c.nc.Close()
		c.wg.Wait()
		c.events.ConnClosed(c)
	}()
}

// IsClosed returns true if the c is closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// readMessage reads a single framed message off the socket. The connection
// may sit idle up to ReadIdleTimeout waiting for a length prefix, but once
// one arrives the body must follow within ReadBodyTimeout.
//
// NOTE: We do not use the clock interface for deadlines because the net
// package uses the system clock when evaluating them.
func (c *Conn) readMessage() (*Message, error) {
	if err := c.nc.SetReadDeadline(time.Now().Add(c.config.ReadIdleTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %s", err)
	}
	var msglen [4]byte
	if _, err := io.ReadFull(c.nc, msglen[:]); err != nil {
		return nil, fmt.Errorf("read message length: %s", err)
	}
	dataLen := binary.BigEndian.Uint32(msglen[:])
	if dataLen == 0 {
		return NewKeepAliveMessage(), nil
	}
	if uint64(dataLen) > maxMessageSize {
		return nil, fmt.Errorf("message exceeds max size: %d > %d", dataLen, maxMessageSize)
	}
	if err := c.nc.SetReadDeadline(time.Now().Add(c.config.ReadBodyTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %s", err)
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(c.nc, data); err != nil {
		return nil, fmt.Errorf("read data: %s", err)
	}
	return &Message{ID: MessageID(data[0]), Payload: data[1:]}, nil
}

// readLoop reads messages off of the underlying connection and sends them to
// the receiver channel.
func (c *Conn) readLoop() {
	defer func() {
		close(c.receiver)
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
			msg, err := c.readMessage()
			if err != nil {
				c.log().Infof("Error reading message from socket, exiting read loop: %s", err)
				return
			}
			if msg.ID == MessageKeepAlive {
				// Receipt alone refreshed the idle deadline.
				continue
			}
			c.receiver <- msg
		}
	}
}

// writeLoop writes messages to the underlying connection by pulling messages
// off of the sender channel. An idle stream is kept open with keep-alive
// frames.
func (c *Conn) writeLoop() {
	defer func() {
		c.wg.Done()
		c.Close()
	}()

	keepAlive := c.clk.Timer(c.config.KeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-keepAlive.C:
			if err := sendMessage(c.nc, NewKeepAliveMessage()); err != nil {
				c.log().Infof("Error writing keep-alive to socket, exiting write loop: %s", err)
				return
			}
			keepAlive.Reset(c.config.KeepAliveInterval)
		case msg := <-c.sender:
			if err := sendMessage(c.nc, msg); err != nil {
				c.log().Infof("Error writing message to socket, exiting write loop: %s", err)
				return
			}
			keepAlive.Reset(c.config.KeepAliveInterval)
		}
	}
}

func (c *Conn) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "remote_peer", c.peerID, "hash", c.infoHash)
	return c.logger.With(keysAndValues...)
}
