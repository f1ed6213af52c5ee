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

// Package memsize provides byte/bit size constants and human-readable
// formatting, used throughout the client to express piece lengths and
// bandwidth limits.
package memsize

import "fmt"

// Byte size constants.
const (
	B  uint64 = 1
	KB        = B * 1024
	MB        = KB * 1024
	GB        = MB * 1024
	TB        = GB * 1024
)

// Bit size constants.
const (
	bit  uint64 = 1
	Kbit        = bit * 1000
	Mbit        = Kbit * 1000
	Gbit        = Mbit * 1000
	Tbit        = Gbit * 1000
)

// Format renders nbytes as a human-readable byte size.
func Format(nbytes uint64) string {
	return format(nbytes, "B", B, KB, MB, GB, TB)
}

// BitFormat renders nbits as a human-readable bit size.
func BitFormat(nbits uint64) string {
	return format(nbits, "bit", bit, Kbit, Mbit, Gbit, Tbit)
}

func format(n uint64, unit string, scale1, scaleK, scaleM, scaleG, scaleT uint64) string {
	switch {
	case n == 0:
		return fmt.Sprintf("0%s", unit)
	case n >= scaleT:
		return fmt.Sprintf("%.2fT%s", float64(n)/float64(scaleT), unit)
	case n >= scaleG:
		return fmt.Sprintf("%.2fG%s", float64(n)/float64(scaleG), unit)
	case n >= scaleM:
		return fmt.Sprintf("%.2fM%s", float64(n)/float64(scaleM), unit)
	case n >= scaleK:
		return fmt.Sprintf("%.2fK%s", float64(n)/float64(scaleK), unit)
	default:
		return fmt.Sprintf("%.2f%s", float64(n)/float64(scale1), unit)
	}
}
