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

import "sort"

// numBuckets is the bit width of a NodeID, giving one bucket per possible
// common-prefix length with the local id.
const numBuckets = 160

// RoutingTable is a Kademlia-style routing table of k-buckets, indexed by
// the length of the common prefix shared with the local NodeID. Router
// nodes seeded via Config.BootstrapNodes are tracked separately and never
// returned from Closest.
//
// RoutingTable is NOT thread-safe; callers must synchronize access.
type RoutingTable struct {
	local      NodeID
	bucketSize int
	buckets    [numBuckets][]Node
}

// NewRoutingTable creates an empty RoutingTable centered on local.
func NewRoutingTable(local NodeID, bucketSize int) *RoutingTable {
	return &RoutingTable{local: local, bucketSize: bucketSize}
}

func (t *RoutingTable) bucketIndex(id NodeID) int {
	i := CommonPrefixLen(t.local, id)
	if i >= numBuckets {
		i = numBuckets - 1
	}
	return i
}

// Add inserts or refreshes n in its bucket. If the bucket is full, n is
// dropped; the bucket's existing nodes are neither pinged nor evicted to
// make room for it.
func (t *RoutingTable) Add(n Node) {
	if n.ID == t.local {
		return
	}
	i := t.bucketIndex(n.ID)
	bucket := t.buckets[i]
	for j, existing := range bucket {
		if existing.ID == n.ID {
			// Move to the back as most-recently-seen.
			bucket = append(bucket[:j], bucket[j+1:]...)
			t.buckets[i] = append(bucket, n)
			return
		}
	}
	if len(bucket) >= t.bucketSize {
		return
	}
	t.buckets[i] = append(bucket, n)
}

// Replace evicts stale and inserts fresh in stale's bucket. No-op if stale
// is not present.
func (t *RoutingTable) Replace(stale, fresh Node) {
	i := t.bucketIndex(stale.ID)
	bucket := t.buckets[i]
	for j, existing := range bucket {
		if existing.ID == stale.ID {
			bucket[j] = fresh
			return
		}
	}
}

// Remove deletes n from its bucket, if present.
func (t *RoutingTable) Remove(id NodeID) {
	i := t.bucketIndex(id)
	bucket := t.buckets[i]
	for j, existing := range bucket {
		if existing.ID == id {
			t.buckets[i] = append(bucket[:j], bucket[j+1:]...)
			return
		}
	}
}

// Closest returns up to k nodes closest to target, sorted nearest first.
func (t *RoutingTable) Closest(target NodeID, k int) []Node {
	var all []Node
	for _, bucket := range t.buckets {
		all = append(all, bucket...)
	}
	sort.Slice(all, func(i, j int) bool {
		return Distance(all[i].ID, target).LessThan(Distance(all[j].ID, target))
	})
	if len(all) > k {
		all = all[:k]
	}
	return all
}

// Len returns the total number of nodes across all buckets.
func (t *RoutingTable) Len() int {
	var n int
	for _, bucket := range t.buckets {
		n += len(bucket)
	}
	return n
}

// StaleBuckets returns the index of every non-empty bucket, for periodic
// refresh via a find_node query targeting a random id in that bucket's range.
func (t *RoutingTable) StaleBuckets() []int {
	var idxs []int
	for i, bucket := range t.buckets {
		if len(bucket) > 0 {
			idxs = append(idxs, i)
		}
	}
	return idxs
}
