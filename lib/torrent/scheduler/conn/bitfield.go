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
	"fmt"

	"github.com/willf/bitset"
)

// MarshalBitfield converts b into wire form: one bit per piece, MSB-first
// within each byte, rounded up to a whole byte with zero padding. Bit i lives
// at byte i/8, shift 7-(i%8).
func MarshalBitfield(b *bitset.BitSet, numPieces int) []byte {
	wire := make([]byte, (numPieces+7)/8)
	for i, e := b.NextSet(0); e && int(i) < numPieces; i, e = b.NextSet(i + 1) {
		wire[i/8] |= 1 << (7 - (i % 8))
	}
	return wire
}

// UnmarshalBitfield parses a wire form bitfield over numPieces pieces.
// Padding bits beyond numPieces must be zero and are ignored.
func UnmarshalBitfield(wire []byte, numPieces int) (*bitset.BitSet, error) {
	if len(wire) != (numPieces+7)/8 {
		return nil, fmt.Errorf(
			"invalid bitfield length: expected %d bytes, got %d", (numPieces+7)/8, len(wire))
	}
	b := bitset.New(uint(numPieces))
	for i := 0; i < len(wire)*8; i++ {
		if wire[i/8]>>(7-(i%8))&1 == 0 {
			continue
		}
		if i >= numPieces {
			return nil, fmt.Errorf("non-zero padding bit %d", i)
		}
		b.Set(uint(i))
	}
	return b, nil
}
