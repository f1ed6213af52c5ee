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
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
)

// pendingQuery tracks an outstanding query awaiting a response or error.
type pendingQuery struct {
	resp    chan *message
	expires time.Time
}

// peerEntry is a single announced peer for a torrent, aged out after
// peerTTL if not refreshed by another announce_peer.
type peerEntry struct {
	addr    *net.UDPAddr
	addedAt time.Time
}

const peerTTL = 30 * time.Minute

// tokenTTL bounds how long an announce_peer token remains valid for the IP
// it was issued to. A token is accepted if it matches either the current or
// the immediately preceding bucket, giving a lifetime between tokenTTL and
// 2*tokenTTL.
const tokenTTL = 10 * time.Minute

// Server is a single Mainline DHT node: a UDP socket, a k-bucket routing
// table, and the transaction bookkeeping needed to correlate queries with
// their eventual responses.
type Server struct {
	config Config
	id     NodeID
	clk    clock.Clock
	stats  tally.Scope
	logger *zap.SugaredLogger

	conn  *net.UDPConn
	table *RoutingTable

	tokenSecret []byte

	mu   sync.Mutex
	txns map[string]*pendingQuery
	peer map[[20]byte]map[string]*peerEntry

	nextTxnID *atomic.Uint32

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewServer creates a Server bound to config.ListenAddr but does not yet
// start its read loop; call Start for that.
func NewServer(
	config Config, id NodeID, stats tally.Scope, clk clock.Clock, logger *zap.SugaredLogger) (*Server, error) {

	config = config.applyDefaults()

	addr, err := net.ResolveUDPAddr("udp", config.ListenAddr)
	if err != nil {
		return nil, &core.InvalidAddrError{Addr: config.ListenAddr}
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %s", err)
	}

	secret := make([]byte, 20)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate token secret: %s", err)
	}

	return &Server{
		config:      config,
		id:          id,
		clk:         clk,
		stats:       stats.Tagged(map[string]string{"module": "dht"}),
		logger:      logger.Named("dht"),
		conn:        conn,
		table:       NewRoutingTable(id, config.BucketSize),
		tokenSecret: secret,
		txns:        make(map[string]*pendingQuery),
		peer:        make(map[[20]byte]map[string]*peerEntry),
		nextTxnID:   atomic.NewUint32(0),
		closed:      atomic.NewBool(false),
		done:        make(chan struct{}),
	}, nil
}

// ID returns the server's own NodeID.
func (s *Server) ID() NodeID { return s.id }

// LocalAddr returns the bound UDP address.
func (s *Server) LocalAddr() *net.UDPAddr { return s.conn.LocalAddr().(*net.UDPAddr) }

// Table returns the server's routing table.
func (s *Server) Table() *RoutingTable { return s.table }

// Start begins reading packets, sweeping expired transactions, and
// periodically refreshing the routing table.
func (s *Server) Start() {
	s.wg.Add(3)
	go s.readLoop()
	go s.sweepLoop()
	go s.refreshLoop()
}

// Close shuts down the server's socket and background loops.
func (s *Server) Close() {
	if !s.closed.CAS(false, true) {
		return
	}
	close(s.done)
	s.conn.Close()
	s.wg.Wait()
}

func (s *Server) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.config.MaxPacketSize)
	for {
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Infof("Error reading udp packet, exiting read loop: %s", err)
				return
			}
		}
		b := make([]byte, n)
		copy(b, buf[:n])
		s.handlePacket(b, from)
	}
}

func (s *Server) sweepLoop() {
	defer s.wg.Done()

	tick := s.clk.Tick(s.config.SweepInterval)
	for {
		select {
		case <-s.done:
			return
		case <-tick:
			s.sweepExpired()
		}
	}
}

func (s *Server) sweepExpired() {
	now := s.clk.Now()
	s.mu.Lock()
	for t, p := range s.txns {
		if now.After(p.expires) {
			delete(s.txns, t)
			close(p.resp)
		}
	}
	for h, peers := range s.peer {
		for k, e := range peers {
			if now.Sub(e.addedAt) > peerTTL {
				delete(peers, k)
			}
		}
		if len(peers) == 0 {
			delete(s.peer, h)
		}
	}
	s.mu.Unlock()
}

func (s *Server) handlePacket(b []byte, from *net.UDPAddr) {
	m, err := decodeMessage(b)
	if err != nil {
		s.stats.Counter("malformed_packets").Inc(1)
		return
	}
	switch m.Type {
	case typeQuery:
		s.handleQuery(m, from)
	case typeResponse, typeError:
		s.handleReply(m)
	}
}

func (s *Server) handleReply(m *message) {
	s.mu.Lock()
	p, ok := s.txns[m.TransactionID]
	if ok {
		delete(s.txns, m.TransactionID)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	p.resp <- m
}

func (s *Server) handleQuery(m *message, from *net.UDPAddr) {
	if m.Args == nil {
		return
	}
	remoteID, err := idFromArgs(m.Args.ID)
	if err != nil {
		return
	}

	var resp *message
	switch m.Query {
	case QueryPing:
		// Only a ping verifies liveness of the sender; find_node/get_peers/
		// announce_peer senders are never inserted on the strength of an
		// incoming query alone.
		s.table.Add(Node{ID: remoteID, Addr: from})
		resp = newResponse(m.TransactionID, s.id, nil)
	case QueryFindNode:
		target, err := idFromArgs(m.Args.Target)
		if err != nil {
			return
		}
		closest := s.table.Closest(target, s.config.BucketSize)
		resp = newResponse(m.TransactionID, s.id, &responseValues{
			Nodes: string(EncodeCompactNodeInfo(closest)),
		})
	case QueryGetPeers:
		if len(m.Args.InfoHash) != 20 {
			return
		}
		var raw [20]byte
		copy(raw[:], m.Args.InfoHash)
		resp = s.buildGetPeersResponse(m.TransactionID, raw, from)
	case QueryAnnouncePeer:
		if len(m.Args.InfoHash) != 20 {
			return
		}
		if !s.validToken(m.Args.Token, from) {
			resp = newErrorMessage(m.TransactionID, ErrCodeProtocol, "bad token")
			break
		}
		var raw [20]byte
		copy(raw[:], m.Args.InfoHash)
		port := m.Args.Port
		if m.Args.ImpliedPort != 0 {
			port = from.Port
		}
		s.storeAnnounce(raw, &net.UDPAddr{IP: from.IP, Port: port})
		resp = newResponse(m.TransactionID, s.id, nil)
	default:
		resp = newErrorMessage(m.TransactionID, ErrCodeMethUnknown, "unknown method "+m.Query)
	}
	if resp != nil {
		s.send(resp, from)
	}
}

func (s *Server) buildGetPeersResponse(t string, rawHash [20]byte, from *net.UDPAddr) *message {
	s.mu.Lock()
	peers := s.peer[rawHash]
	var values []string
	for _, e := range peers {
		values = append(values, string(EncodeCompactPeerInfo(e.addr)))
	}
	s.mu.Unlock()

	token := s.makeToken(from)

	if len(values) > 0 {
		return newResponse(t, s.id, &responseValues{Token: token, Values: values})
	}
	var target NodeID
	copy(target[:], rawHash[:])
	closest := s.table.Closest(target, s.config.BucketSize)
	return newResponse(t, s.id, &responseValues{
		Token: token,
		Nodes: string(EncodeCompactNodeInfo(closest)),
	})
}

func (s *Server) storeAnnounce(rawHash [20]byte, addr *net.UDPAddr) {
	s.mu.Lock()
	peers, ok := s.peer[rawHash]
	if !ok {
		peers = make(map[string]*peerEntry)
		s.peer[rawHash] = peers
	}
	peers[addr.String()] = &peerEntry{addr: addr, addedAt: s.clk.Now()}
	s.mu.Unlock()
}

func (s *Server) makeToken(addr *net.UDPAddr) string {
	return s.tokenForBucket(addr, s.clk.Now())
}

// tokenForBucket computes the token an IP would be issued at time t,
// truncated to a tokenTTL-wide bucket so tokens naturally expire instead of
// remaining valid for the server's entire lifetime.
func (s *Server) tokenForBucket(addr *net.UDPAddr, t time.Time) string {
	mac := hmac.New(sha1.New, s.tokenSecret)
	mac.Write([]byte(addr.IP.String()))
	var bucket [8]byte
	binary.BigEndian.PutUint64(bucket[:], uint64(t.Truncate(tokenTTL).UnixNano()))
	mac.Write(bucket[:])
	return string(mac.Sum(nil))
}

// validToken accepts a token issued for the current or immediately
// preceding bucket, bounding token lifetime to [tokenTTL, 2*tokenTTL).
func (s *Server) validToken(token string, addr *net.UDPAddr) bool {
	now := s.clk.Now()
	if token == s.tokenForBucket(addr, now) {
		return true
	}
	return token == s.tokenForBucket(addr, now.Add(-tokenTTL))
}

func (s *Server) newTransactionID() string {
	n := s.nextTxnID.Inc()
	return strconv.FormatUint(uint64(n), 36)
}

func (s *Server) send(m *message, to *net.UDPAddr) error {
	b, err := encodeMessage(m)
	if err != nil {
		return err
	}
	_, err = s.conn.WriteToUDP(b, to)
	return err
}

// query sends m to addr and blocks until a response arrives or
// QueryTimeout elapses.
func (s *Server) query(m *message, to *net.UDPAddr) (*message, error) {
	p := &pendingQuery{
		resp:    make(chan *message, 1),
		expires: s.clk.Now().Add(s.config.QueryTimeout),
	}
	s.mu.Lock()
	s.txns[m.TransactionID] = p
	s.mu.Unlock()

	if err := s.send(m, to); err != nil {
		s.mu.Lock()
		delete(s.txns, m.TransactionID)
		s.mu.Unlock()
		return nil, err
	}

	select {
	case resp, ok := <-p.resp:
		if !ok {
			return nil, &core.TimeoutError{Op: "dht query " + m.Query}
		}
		if resp.Type == typeError {
			return nil, &core.InvalidMessageError{Reason: fmt.Sprintf("dht error response: %v", resp.Error)}
		}
		return resp, nil
	case <-s.done:
		return nil, &core.ClosedError{What: "dht server"}
	}
}

// Ping queries addr and, on success, adds it to the routing table.
func (s *Server) Ping(addr *net.UDPAddr) (*Node, error) {
	t := s.newTransactionID()
	resp, err := s.query(newPingQuery(t, s.id), addr)
	if err != nil {
		return nil, err
	}
	remoteID, err := idFromArgs(resp.Response.ID)
	if err != nil {
		return nil, err
	}
	n := Node{ID: remoteID, Addr: addr}
	s.table.Add(n)
	return &n, nil
}

// FindNode queries addr for the nodes closest to target.
func (s *Server) FindNode(addr *net.UDPAddr, target NodeID) ([]Node, error) {
	t := s.newTransactionID()
	resp, err := s.query(newFindNodeQuery(t, s.id, target), addr)
	if err != nil {
		return nil, err
	}
	remoteID, err := idFromArgs(resp.Response.ID)
	if err == nil {
		s.table.Add(Node{ID: remoteID, Addr: addr})
	}
	return DecodeCompactNodeInfo([]byte(resp.Response.Nodes))
}

// GetPeersResult is the outcome of a single get_peers query: either a set
// of candidate peers for the torrent, or closer nodes to continue the
// iterative lookup with, plus the token needed to announce_peer back to
// this node.
type GetPeersResult struct {
	Peers []*net.UDPAddr
	Nodes []Node
	Token string
}

// GetPeers queries addr for peers downloading h.
func (s *Server) GetPeers(addr *net.UDPAddr, h core.InfoHash) (*GetPeersResult, error) {
	t := s.newTransactionID()
	resp, err := s.query(newGetPeersQuery(t, s.id, h), addr)
	if err != nil {
		return nil, err
	}
	remoteID, err := idFromArgs(resp.Response.ID)
	if err == nil {
		s.table.Add(Node{ID: remoteID, Addr: addr})
	}
	result := &GetPeersResult{Token: resp.Response.Token}
	for _, v := range resp.Response.Values {
		a, err := DecodeCompactPeerInfo([]byte(v))
		if err == nil {
			result.Peers = append(result.Peers, a)
		}
	}
	if resp.Response.Nodes != "" {
		nodes, err := DecodeCompactNodeInfo([]byte(resp.Response.Nodes))
		if err == nil {
			result.Nodes = nodes
		}
	}
	return result, nil
}

// AnnouncePeer announces that the local client is downloading h on port,
// using a token previously obtained from a GetPeers call to addr.
func (s *Server) AnnouncePeer(addr *net.UDPAddr, h core.InfoHash, port int, token string) error {
	t := s.newTransactionID()
	_, err := s.query(newAnnouncePeerQuery(t, s.id, h, port, token), addr)
	return err
}

// lookupAlpha bounds how many nodes are queried concurrently per round of
// an iterative lookup.
const lookupAlpha = 3

// lookupMaxRounds bounds how many rounds of querying closer nodes an
// iterative lookup performs before giving up on finding anything closer.
const lookupMaxRounds = 8

// Lookup performs an iterative get_peers search for h: starting from the
// nodes already in the routing table closest to h, it queries the alpha
// closest unqueried nodes each round, folding any closer nodes they return
// back into the candidate set, until a round yields no node closer than
// the best seen so far. Every queried node that returns a token is then
// announced to on port, advertising the local client as a peer for h.
//
// Lookup blocks until the search terminates; callers wanting a bound on
// latency should run it with a context deadline via a goroutine and
// select, since the underlying queries already carry Config.QueryTimeout.
func (s *Server) Lookup(h core.InfoHash, port int) ([]*net.UDPAddr, error) {
	target := NodeID(h.Handshake20())

	candidates := s.table.Closest(target, s.config.BucketSize)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("routing table empty, cannot start lookup")
	}

	queried := make(map[NodeID]bool)
	type tokenEntry struct {
		addr  *net.UDPAddr
		token string
	}
	var announceTo []tokenEntry
	var peerSet = make(map[string]*net.UDPAddr)

	best := closestDistance(target, candidates)

	for round := 0; round < lookupMaxRounds; round++ {
		batch := nextUnqueried(target, candidates, queried, lookupAlpha)
		if len(batch) == 0 {
			break
		}
		for _, n := range batch {
			queried[n.ID] = true
		}

		type result struct {
			node Node
			res  *GetPeersResult
			err  error
		}
		results := make(chan result, len(batch))
		for _, n := range batch {
			go func(n Node) {
				res, err := s.GetPeers(n.Addr, h)
				results <- result{n, res, err}
			}(n)
		}

		var foundCloser bool
		for range batch {
			r := <-results
			if r.err != nil {
				continue
			}
			if r.res.Token != "" {
				announceTo = append(announceTo, tokenEntry{r.node.Addr, r.res.Token})
			}
			for _, a := range r.res.Peers {
				peerSet[a.String()] = a
			}
			for _, n := range r.res.Nodes {
				if queried[n.ID] {
					continue
				}
				candidates = append(candidates, n)
				if d := Distance(target, n.ID); bytesLess(d[:], best[:]) {
					best = d
					foundCloser = true
				}
			}
		}
		if !foundCloser {
			break
		}
	}

	for _, e := range announceTo {
		s.AnnouncePeer(e.addr, h, port, e.token)
	}

	peers := make([]*net.UDPAddr, 0, len(peerSet))
	for _, a := range peerSet {
		peers = append(peers, a)
	}
	return peers, nil
}

// nextUnqueried returns up to n nodes from candidates, sorted by distance
// to target ascending, that are not already in queried.
func nextUnqueried(target NodeID, candidates []Node, queried map[NodeID]bool, n int) []Node {
	sorted := make([]Node, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		return Distance(sorted[i].ID, target).LessThan(Distance(sorted[j].ID, target))
	})
	var out []Node
	for _, c := range sorted {
		if queried[c.ID] {
			continue
		}
		out = append(out, c)
		if len(out) == n {
			break
		}
	}
	return out
}

func closestDistance(target NodeID, nodes []Node) NodeID {
	best := Distance(target, nodes[0].ID)
	for _, n := range nodes[1:] {
		if d := Distance(target, n.ID); bytesLess(d[:], best[:]) {
			best = d
		}
	}
	return best
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
