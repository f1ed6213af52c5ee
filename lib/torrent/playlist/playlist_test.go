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
package playlist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlaylistFIFOOrder(t *testing.T) {
	require := require.New(t)

	x := Item{Title: "first"}
	p := FromSlice([]Item{x})

	require.True(p.HasNext())
	n, ok := p.Next()
	require.True(ok)
	require.Equal(x, n)
	require.False(p.HasNext())
}

func TestPlaylistAddRemoveYieldsPriorState(t *testing.T) {
	require := require.New(t)

	p := New()
	x := Item{Title: "a"}
	y := Item{Title: "b"}

	p.Add(x)
	p.Add(y)
	require.Equal(2, p.Len())

	require.True(p.Remove(x))
	require.Equal(1, p.Len())

	n, ok := p.Peek()
	require.True(ok)
	require.Equal(y, n)
}

func TestPlaylistRemoveMissingItemNoops(t *testing.T) {
	require := require.New(t)

	p := New()
	p.Add(Item{Title: "a"})

	require.False(p.Remove(Item{Title: "not present"}))
	require.Equal(1, p.Len())
}

func TestPlaylistClear(t *testing.T) {
	require := require.New(t)

	p := FromSlice([]Item{{Title: "a"}, {Title: "b"}})
	p.Clear()

	require.False(p.HasNext())
	require.Equal(0, p.Len())
}

func TestPlaylistEqualityIgnoresAbsentOptionalFields(t *testing.T) {
	require := require.New(t)

	x := Item{Title: "a", Caption: "ignored for equality"}
	y := Item{Title: "a"}

	require.True(x.Equal(y))
}
