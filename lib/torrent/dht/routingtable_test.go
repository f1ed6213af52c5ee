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
package dht

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomNode(t *testing.T) Node {
	id, err := RandomNodeID()
	require.NoError(t, err)
	return Node{ID: id, Addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6881}}
}

func TestRoutingTableAddAndClosest(t *testing.T) {
	require := require.New(t)

	local, err := RandomNodeID()
	require.NoError(err)
	table := NewRoutingTable(local, 8)

	var nodes []Node
	for i := 0; i < 20; i++ {
		n := randomNode(t)
		nodes = append(nodes, n)
		table.Add(n)
	}

	require.True(table.Len() > 0)

	target, err := RandomNodeID()
	require.NoError(err)
	closest := table.Closest(target, 5)
	require.LessOrEqual(len(closest), 5)

	for i := 1; i < len(closest); i++ {
		require.True(Distance(closest[i-1].ID, target).LessThan(Distance(closest[i].ID, target)) ||
			Distance(closest[i-1].ID, target) == Distance(closest[i].ID, target))
	}
}

func TestRoutingTableIgnoresSelf(t *testing.T) {
	require := require.New(t)

	local, err := RandomNodeID()
	require.NoError(err)
	table := NewRoutingTable(local, 8)

	table.Add(Node{ID: local, Addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 1}})
	require.Equal(0, table.Len())
}

func TestRoutingTableBucketCapacity(t *testing.T) {
	require := require.New(t)

	var local NodeID
	table := NewRoutingTable(local, 2)

	// All of these share the same bucket (first bit set, rest zero).
	for i := 0; i < 5; i++ {
		var id NodeID
		id[0] = 0x80
		id[19] = byte(i + 1)
		table.Add(Node{ID: id, Addr: &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6881 + i}})
	}

	require.Equal(2, table.Len())
}

func TestRoutingTableRemove(t *testing.T) {
	require := require.New(t)

	local, err := RandomNodeID()
	require.NoError(err)
	table := NewRoutingTable(local, 8)

	n := randomNode(t)
	table.Add(n)
	require.Equal(1, table.Len())

	table.Remove(n.ID)
	require.Equal(0, table.Len())
}
