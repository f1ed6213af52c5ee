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
package utp

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
)

// Socket demultiplexes uTP packets received on a single UDP socket to the
// Streams that own them, and accepts newly Syn-initiated Streams.
type Socket struct {
	conn   *net.UDPConn
	config Config
	clk    clock.Clock
	logger *zap.SugaredLogger

	mu      sync.Mutex
	streams map[uint16]*Stream

	accept chan *Stream

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewSocket binds a uTP socket to addr.
func NewSocket(addr string, config Config, clk clock.Clock, logger *zap.SugaredLogger) (*Socket, error) {
	config.applyDefaults()

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &core.InvalidAddrError{Addr: addr}
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	s := &Socket{
		conn:    conn,
		config:  config,
		clk:     clk,
		logger:  logger,
		streams: make(map[uint16]*Stream),
		accept:  make(chan *Stream, config.AcceptBacklog),
		closed:  atomic.NewBool(false),
		done:    make(chan struct{}),
	}
	return s, nil
}

// Start begins the socket's read loop.
func (s *Socket) Start() {
	s.wg.Add(1)
	go s.readLoop()
}

// LocalAddr returns the address the socket is bound to.
func (s *Socket) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// Dial opens an outbound Stream to addr, blocking until the handshake
// completes or timeout elapses.
func (s *Socket) Dial(addr string, timeout time.Duration) (*Stream, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, &core.InvalidAddrError{Addr: addr}
	}

	var recvID uint16
	reserved := false
	for attempts := 0; attempts < 16; attempts++ {
		recvID = randomConnID()
		if s.tryReserve(recvID) {
			reserved = true
			break
		}
	}
	if !reserved {
		return nil, &core.InvalidHandleError{What: "no free uTP connection id"}
	}

	return newOutgoingStream(s, recvID, udpAddr, timeout, s.config, s.clk, s.logger)
}

// register records stream under its recvID so the demux loop can find it.
func (s *Socket) register(stream *Stream) {
	s.mu.Lock()
	s.streams[stream.recvID] = stream
	s.mu.Unlock()
}

func (s *Socket) tryReserve(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[id]; ok {
		return false
	}
	if _, ok := s.streams[id+1]; ok {
		return false
	}
	return true
}

// Accept returns the next inbound Stream, blocking until one arrives or the
// socket is closed.
func (s *Socket) Accept() (*Stream, error) {
	select {
	case stream, ok := <-s.accept:
		if !ok {
			return nil, &core.ClosedError{What: "uTP socket"}
		}
		return stream, nil
	case <-s.done:
		return nil, &core.ClosedError{What: "uTP socket"}
	}
}

func (s *Socket) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.config.MaxPacketSize)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				s.logger.Infof("Error reading from uTP socket: %s", err)
				return
			}
		}

		pkt, err := DecodePacket(buf[:n])
		if err != nil {
			s.logger.Debugf("Dropping malformed uTP packet from %s: %s", addr, err)
			continue
		}
		s.handlePacket(pkt, addr)
	}
}

func (s *Socket) handlePacket(pkt *Packet, addr *net.UDPAddr) {
	s.mu.Lock()
	stream, ok := s.streams[pkt.ConnID]
	s.mu.Unlock()

	if ok {
		stream.deliver(pkt)
		return
	}

	if pkt.Type != TypeSyn {
		s.logger.Debugf("Dropping uTP packet for unknown connection %d from %s", pkt.ConnID, addr)
		return
	}

	stream, err := newIncomingStream(s, pkt, addr, s.config, s.clk, s.logger)
	if err != nil {
		s.logger.Infof("Error accepting uTP stream from %s: %s", addr, err)
		return
	}

	select {
	case s.accept <- stream:
	default:
		s.logger.Infof("uTP accept backlog full, dropping inbound stream from %s", addr)
		stream.Close()
	}
}

func (s *Socket) writeTo(pkt *Packet, addr *net.UDPAddr) error {
	_, err := s.conn.WriteToUDP(pkt.Encode(), addr)
	return err
}

func (s *Socket) unregister(recvID uint16) {
	s.mu.Lock()
	delete(s.streams, recvID)
	s.mu.Unlock()
}

// Close shuts the socket down, closing every live Stream.
func (s *Socket) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	close(s.done)
	err := s.conn.Close()
	s.wg.Wait()

	s.mu.Lock()
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.mu.Unlock()
	for _, st := range streams {
		st.Close()
	}
	close(s.accept)

	return err
}

func randomConnID() uint16 {
	return uint16(rand.Intn(1 << 16))
}
