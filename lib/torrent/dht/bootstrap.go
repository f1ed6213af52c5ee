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
)

// Bootstrap seeds the routing table from Config.BootstrapNodes by pinging
// each router and asking it to find_node for our own id, which fills the
// table with nodes actually close to us rather than just the routers
// themselves.
func (s *Server) Bootstrap() {
	for _, addr := range s.config.BootstrapNodes {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			s.logger.Infof("Skipping unresolvable bootstrap node %s: %s", addr, err)
			continue
		}
		router, err := s.Ping(udpAddr)
		if err != nil {
			s.logger.Infof("Bootstrap ping to %s failed: %s", addr, err)
			continue
		}
		nodes, err := s.FindNode(udpAddr, s.id)
		s.table.Remove(router.ID)
		if err != nil {
			s.logger.Infof("Bootstrap find_node to %s failed: %s", addr, err)
			continue
		}
		for _, n := range nodes {
			s.Ping(n.Addr)
		}
	}
}

// Refresh re-bootstraps and issues a find_node for a random id in every
// stale (non-empty) bucket, keeping the routing table populated with live
// nodes. Intended to be called every Config.RefreshInterval.
func (s *Server) Refresh() {
	s.Bootstrap()

	for _, i := range s.table.StaleBuckets() {
		target, err := randomIDWithPrefixLen(s.id, i)
		if err != nil {
			continue
		}
		closest := s.table.Closest(target, 1)
		for _, n := range closest {
			if _, err := s.FindNode(n.Addr, target); err != nil {
				s.logger.Infof("Refresh find_node to %s failed: %s", n, err)
			}
		}
	}
}

func (s *Server) refreshLoop() {
	defer s.wg.Done()

	tick := s.clk.Tick(s.config.RefreshInterval)
	for {
		select {
		case <-s.done:
			return
		case <-tick:
			s.Refresh()
		}
	}
}

// randomIDWithPrefixLen returns a random NodeID sharing the first
// prefixLen bits with local, for targeting a find_node at a specific
// k-bucket's range.
func randomIDWithPrefixLen(local NodeID, prefixLen int) (NodeID, error) {
	id, err := RandomNodeID()
	if err != nil {
		return id, err
	}
	for i := 0; i < prefixLen; i++ {
		byteIdx, bitIdx := i/8, uint(i%8)
		mask := byte(0x80 >> bitIdx)
		if local[byteIdx]&mask != 0 {
			id[byteIdx] |= mask
		} else {
			id[byteIdx] &^= mask
		}
	}
	return id, nil
}
