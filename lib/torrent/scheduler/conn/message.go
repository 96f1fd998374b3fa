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
	"fmt"
	"io"

	"github.com/willf/bitset"

	"github.com/riptide-p2p/riptide/lib/torrent/storage"
	"github.com/riptide-p2p/riptide/utils/memsize"
)

// MaxBlockSize is the largest block length which may be requested from or
// served to a peer.
const MaxBlockSize = 128 * memsize.KB

// maxMessageSize caps the wire length prefix: one id byte, the piece message
// header, and a maximum size block.
const maxMessageSize = 1 + 8 + MaxBlockSize

// MessageID enumerates peer wire message types.
type MessageID uint8

// Message ids defined by the peer wire protocol.
const (
	MessageChoke         MessageID = 0
	MessageUnchoke       MessageID = 1
	MessageInterested    MessageID = 2
	MessageNotInterested MessageID = 3
	MessageHave          MessageID = 4
	MessageBitfield      MessageID = 5
	MessageRequest       MessageID = 6
	MessagePiece         MessageID = 7
	MessageCancel        MessageID = 8
	MessagePort          MessageID = 9

	// MessageKeepAlive is a pseudo id representing the zero-length keep-alive
	// frame, which carries no id byte on the wire.
	MessageKeepAlive MessageID = 0xff
)

func (id MessageID) String() string {
	switch id {
	case MessageChoke:
		return "choke"
	case MessageUnchoke:
		return "unchoke"
	case MessageInterested:
		return "interested"
	case MessageNotInterested:
		return "not_interested"
	case MessageHave:
		return "have"
	case MessageBitfield:
		return "bitfield"
	case MessageRequest:
		return "request"
	case MessagePiece:
		return "piece"
	case MessageCancel:
		return "cancel"
	case MessagePort:
		return "port"
	case MessageKeepAlive:
		return "keep_alive"
	}
	return fmt.Sprintf("unknown(%d)", uint8(id))
}

// Message is a single peer wire message.
type Message struct {
	ID      MessageID
	Payload []byte
}

func (m *Message) String() string {
	return fmt.Sprintf("Message(id=%s, payload=%d bytes)", m.ID, len(m.Payload))
}

// NewKeepAliveMessage returns the zero-length keep-alive Message.
func NewKeepAliveMessage() *Message {
	return &Message{ID: MessageKeepAlive}
}

// NewChokeMessage returns a choke Message.
func NewChokeMessage() *Message {
	return &Message{ID: MessageChoke}
}

// NewUnchokeMessage returns an unchoke Message.
func NewUnchokeMessage() *Message {
	return &Message{ID: MessageUnchoke}
}

// NewInterestedMessage returns an interested Message.
func NewInterestedMessage() *Message {
	return &Message{ID: MessageInterested}
}

// NewNotInterestedMessage returns a not-interested Message.
func NewNotInterestedMessage() *Message {
	return &Message{ID: MessageNotInterested}
}

// NewHaveMessage returns a have Message for piece i.
func NewHaveMessage(i int) *Message {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, uint32(i))
	return &Message{ID: MessageHave, Payload: p}
}

// NewBitfieldMessage returns a bitfield Message for b over numPieces pieces.
func NewBitfieldMessage(b *bitset.BitSet, numPieces int) *Message {
	return &Message{ID: MessageBitfield, Payload: MarshalBitfield(b, numPieces)}
}

// NewRequestMessage returns a request Message for the given block.
func NewRequestMessage(i, offset, length int) *Message {
	p := make([]byte, 12)
	binary.BigEndian.PutUint32(p[0:4], uint32(i))
	binary.BigEndian.PutUint32(p[4:8], uint32(offset))
	binary.BigEndian.PutUint32(p[8:12], uint32(length))
	return &Message{ID: MessageRequest, Payload: p}
}

// NewCancelMessage returns a cancel Message for the given block.
func NewCancelMessage(i, offset, length int) *Message {
	m := NewRequestMessage(i, offset, length)
	m.ID = MessageCancel
	return m
}

// NewPieceMessage returns a piece Message carrying the block read from pr.
func NewPieceMessage(i, offset int, pr storage.PieceReader) (*Message, error) {
	defer pr.Close()

	p := make([]byte, 8+pr.Length())
	binary.BigEndian.PutUint32(p[0:4], uint32(i))
	binary.BigEndian.PutUint32(p[4:8], uint32(offset))
	if _, err := io.ReadFull(pr, p[8:]); err != nil {
		return nil, fmt.Errorf("read block: %s", err)
	}
	return &Message{ID: MessagePiece, Payload: p}, nil
}

// Have parses the piece index of a have Message.
func (m *Message) Have() (int, error) {
	if m.ID != MessageHave {
		return 0, fmt.Errorf("expected have message, got %s", m.ID)
	}
	if len(m.Payload) != 4 {
		return 0, fmt.Errorf("invalid have payload length %d", len(m.Payload))
	}
	return int(binary.BigEndian.Uint32(m.Payload)), nil
}

// Request parses the block coordinates of a request or cancel Message.
func (m *Message) Request() (i, offset, length int, err error) {
	if m.ID != MessageRequest && m.ID != MessageCancel {
		return 0, 0, 0, fmt.Errorf("expected request or cancel message, got %s", m.ID)
	}
	if len(m.Payload) != 12 {
		return 0, 0, 0, fmt.Errorf("invalid request payload length %d", len(m.Payload))
	}
	i = int(binary.BigEndian.Uint32(m.Payload[0:4]))
	offset = int(binary.BigEndian.Uint32(m.Payload[4:8]))
	length = int(binary.BigEndian.Uint32(m.Payload[8:12]))
	return i, offset, length, nil
}

// Piece parses the block coordinates and data of a piece Message. The
// returned block aliases the Message payload.
func (m *Message) Piece() (i, offset int, block []byte, err error) {
	if m.ID != MessagePiece {
		return 0, 0, nil, fmt.Errorf("expected piece message, got %s", m.ID)
	}
	if len(m.Payload) < 9 {
		return 0, 0, nil, fmt.Errorf("invalid piece payload length %d", len(m.Payload))
	}
	i = int(binary.BigEndian.Uint32(m.Payload[0:4]))
	offset = int(binary.BigEndian.Uint32(m.Payload[4:8]))
	return i, offset, m.Payload[8:], nil
}

// Bitfield parses the bitfield payload of a bitfield Message.
func (m *Message) Bitfield(numPieces int) (*bitset.BitSet, error) {
	if m.ID != MessageBitfield {
		return nil, fmt.Errorf("expected bitfield message, got %s", m.ID)
	}
	return UnmarshalBitfield(m.Payload, numPieces)
}

// Encode converts m into its framed wire form.
func (m *Message) Encode() []byte {
	if m.ID == MessageKeepAlive {
		return make([]byte, 4)
	}
	b := make([]byte, 4+1+len(m.Payload))
	binary.BigEndian.PutUint32(b[0:4], uint32(1+len(m.Payload)))
	b[4] = byte(m.ID)
	copy(b[5:], m.Payload)
	return b
}

func sendMessage(nc io.Writer, msg *Message) error {
	data := msg.Encode()
	for len(data) > 0 {
		n, err := nc.Write(data)
		if err != nil {
			return fmt.Errorf("write data: %s", err)
		}
		data = data[n:]
	}
	return nil
}

// readMessage reads a single framed message. Framing tolerates arbitrary TCP
// segmentation: exactly 4 length bytes are read, then exactly length more.
func readMessage(nc io.Reader) (*Message, error) {
	var msglen [4]byte
	if _, err := io.ReadFull(nc, msglen[:]); err != nil {
		return nil, fmt.Errorf("read message length: %s", err)
	}
	dataLen := binary.BigEndian.Uint32(msglen[:])
	if dataLen == 0 {
		return NewKeepAliveMessage(), nil
	}
	if uint64(dataLen) > maxMessageSize {
		return nil, fmt.Errorf("message exceeds max size: %d > %d", dataLen, maxMessageSize)
	}
	data := make([]byte, dataLen)
	if _, err := io.ReadFull(nc, data); err != nil {
		return nil, fmt.Errorf("read data: %s", err)
	}
	return &Message{ID: MessageID(data[0]), Payload: data[1:]}, nil
}
