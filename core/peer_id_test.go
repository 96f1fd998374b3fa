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
package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRandomPeerID(t *testing.T) {
	require := require.New(t)

	p1, err := RandomPeerID()
	require.NoError(err)
	p2, err := RandomPeerID()
	require.NoError(err)

	require.NotEqual(p1, p2)
	require.True(strings.HasPrefix(string(p1[:]), peerIDPrefix))
	require.Len(p1.Bytes(), 20)
}

func TestPeerIDStringRoundTrip(t *testing.T) {
	require := require.New(t)

	p := PeerIDFixture()
	parsed, err := NewPeerID(p.String())
	require.NoError(err)
	require.Equal(p, parsed)
}

func TestNewPeerIDFromBytesLength(t *testing.T) {
	require := require.New(t)

	_, err := NewPeerIDFromBytes([]byte("too short"))
	require.Equal(ErrInvalidPeerIDLength, err)
}

func TestPeerIDLessThan(t *testing.T) {
	require := require.New(t)

	a, err := NewPeerIDFromBytes([]byte("aaaaaaaaaaaaaaaaaaaa"))
	require.NoError(err)
	b, err := NewPeerIDFromBytes([]byte("bbbbbbbbbbbbbbbbbbbb"))
	require.NoError(err)

	require.True(a.LessThan(b))
	require.False(b.LessThan(a))
	require.False(a.LessThan(a))
}
