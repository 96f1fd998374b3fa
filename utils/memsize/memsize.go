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
package memsize

import "fmt"

// Memory size constants in bytes.
const (
	B  uint64 = 1
	KB        = 1024 * B
	MB        = 1024 * KB
	GB        = 1024 * MB
	TB        = 1024 * GB
)

// Bit size constants.
const (
	bit  uint64 = 1
	Kbit        = 1000 * bit
	Mbit        = 1000 * Kbit
	Gbit        = 1000 * Mbit
	Tbit        = 1000 * Gbit
)

// Format returns a human readable representation of n bytes.
func Format(n uint64) string {
	if n == 0 {
		return "0B"
	}
	switch {
	case n >= TB:
		return fmt.Sprintf("%.2fTB", float64(n)/float64(TB))
	case n >= GB:
		return fmt.Sprintf("%.2fGB", float64(n)/float64(GB))
	case n >= MB:
		return fmt.Sprintf("%.2fMB", float64(n)/float64(MB))
	case n >= KB:
		return fmt.Sprintf("%.2fKB", float64(n)/float64(KB))
	}
	return fmt.Sprintf("%.2fB", float64(n))
}

// BitFormat returns a human readable representation of n bits.
func BitFormat(n uint64) string {
	if n == 0 {
		return "0bit"
	}
	switch {
	case n >= Tbit:
		return fmt.Sprintf("%.2fTbit", float64(n)/float64(Tbit))
	case n >= Gbit:
		return fmt.Sprintf("%.2fGbit", float64(n)/float64(Gbit))
	case n >= Mbit:
		return fmt.Sprintf("%.2fMbit", float64(n)/float64(Mbit))
	case n >= Kbit:
		return fmt.Sprintf("%.2fKbit", float64(n)/float64(Kbit))
	}
	return fmt.Sprintf("%.2fbit", float64(n))
}
