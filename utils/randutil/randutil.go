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
package randutil

import (
	"fmt"
	"math/rand"
)

func randRange(min, max int) int {
	return min + rand.Intn(max-min)
}

// Blob returns a random blob of length n.
func Blob(n uint64) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

// Text returns a random lowercase alphabetic blob of length n.
func Text(n uint64) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(randRange(int('a'), int('z')+1))
	}
	return b
}

// IP returns a random IPv4 address.
func IP() string {
	return fmt.Sprintf("%d.%d.%d.%d",
		randRange(1, 255), randRange(1, 255), randRange(1, 255), randRange(1, 255))
}

// Port returns a random valid port.
func Port() int {
	return randRange(1024, 65536)
}
