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
package syncutil

import "sync"

type syncCounter struct {
	sync.Mutex
	v int
}

// Counters provides a fixed-length list of thread-safe counters. Each counter
// is locked individually.
type Counters []*syncCounter

// NewCounters creates a new Counters of length n.
func NewCounters(n int) Counters {
	counters := make(Counters, n)
	for i := range counters {
		counters[i] = &syncCounter{}
	}
	return counters
}

// Len returns the number of counters.
func (c Counters) Len() int {
	return len(c)
}

// Get returns the value of the ith counter.
func (c Counters) Get(i int) int {
	c[i].Lock()
	defer c[i].Unlock()
	return c[i].v
}

// Set sets the value of the ith counter.
func (c Counters) Set(i, v int) {
	c[i].Lock()
	defer c[i].Unlock()
	c[i].v = v
}

// Increment increments the ith counter.
func (c Counters) Increment(i int) {
	c[i].Lock()
	defer c[i].Unlock()
	c[i].v++
}

// Decrement decrements the ith counter.
func (c Counters) Decrement(i int) {
	c[i].Lock()
	defer c[i].Unlock()
	c[i].v--
}
