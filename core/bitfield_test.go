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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitfieldWireRoundTrip(t *testing.T) {
	require := require.New(t)

	b := NewBitfield(20)
	b.Set(0, true)
	b.Set(7, true)
	b.Set(8, true)
	b.Set(19, true)

	raw := b.Bytes()
	require.Len(raw, 3) // ceil(20/8)

	b2 := NewBitfieldFromBytes(raw, 20)
	require.Equal(b.String(), b2.String())
	require.True(b2.Has(0))
	require.True(b2.Has(7))
	require.True(b2.Has(8))
	require.True(b2.Has(19))
	require.False(b2.Has(1))
}

func TestBitfieldComplete(t *testing.T) {
	require := require.New(t)

	b := NewBitfield(4)
	require.False(b.Complete())
	for i := uint(0); i < 4; i++ {
		b.Set(i, true)
	}
	require.True(b.Complete())
}

func TestBitfieldExtend(t *testing.T) {
	require := require.New(t)

	b := NewBitfield(2)
	b.Set(0, true)
	b.Extend(10)
	require.EqualValues(10, b.Len())
	require.True(b.Has(0))
	require.False(b.Has(9))
}
