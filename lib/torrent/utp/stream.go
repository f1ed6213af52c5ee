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
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
)

// connState is the lifecycle of a Stream.
type connState int32

// Stream lifecycle states, per the uTP connection state machine.
const (
	StateInitializing connState = iota
	StateSynSent
	StateSynRecv
	StateConnected
	StateClosed
)

func (s connState) String() string {
	switch s {
	case StateInitializing:
		return "Initializing"
	case StateSynSent:
		return "SynSent"
	case StateSynRecv:
		return "SynRecv"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

type pendingPacket struct {
	packet   *Packet
	sentAt   time.Time
	resends  int
	failures int
}

func (p *pendingPacket) size() int { return len(p.packet.Payload) }

// Stream is a single reliable ordered byte stream multiplexed over a
// Socket's UDP connection, keyed by a pair of 16-bit connection ids.
type Stream struct {
	recvID uint16
	sendID uint16
	addr   *net.UDPAddr
	socket *Socket
	config Config
	clk    clock.Clock
	logger *zap.SugaredLogger

	createdAt time.Time

	mu    sync.Mutex
	cond  *sync.Cond
	state connState

	seq       uint16
	ack       uint16
	ackSet    bool
	lastAcked uint16
	lastAckSet bool

	reassembly map[uint16]*Packet
	pending    map[uint16]*pendingPacket

	timestampDiffMicros uint32
	remoteWindow        uint32

	readBuf  bytes.Buffer
	readEOF  bool
	closeErr error

	incoming chan *Packet
	connectResult chan error

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func newStream(socket *Socket, recvID, sendID uint16, addr *net.UDPAddr, config Config, clk clock.Clock, logger *zap.SugaredLogger) *Stream {
	s := &Stream{
		recvID:        recvID,
		sendID:        sendID,
		addr:          addr,
		socket:        socket,
		config:        config,
		clk:           clk,
		logger:        logger,
		createdAt:     clk.Now(),
		state:         StateInitializing,
		reassembly:    make(map[uint16]*Packet),
		pending:       make(map[uint16]*pendingPacket),
		incoming:      make(chan *Packet, 64),
		connectResult: make(chan error, 1),
		closed:        atomic.NewBool(false),
		done:          make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// newOutgoingStream initiates a uTP connection to addr, blocking until the
// handshake completes or timeout elapses.
func newOutgoingStream(socket *Socket, recvID uint16, addr *net.UDPAddr, timeout time.Duration, config Config, clk clock.Clock, logger *zap.SugaredLogger) (*Stream, error) {
	sendID := recvID + 1

	s := newStream(socket, recvID, sendID, addr, config, clk, logger)
	s.seq = 1

	// Register before sending the Syn: the State reply may arrive before
	// this call returns, and the socket's demux keys on recvID.
	socket.register(s)

	s.wg.Add(1)
	go s.loop()

	synPkt := &Packet{
		Type:            TypeSyn,
		ConnID:          s.recvID,
		TimestampMicros: nowMicros(clk),
		SeqNumber:       1,
		AckNumber:       0,
	}
	s.seq = 2
	s.mu.Lock()
	s.state = StateSynSent
	s.mu.Unlock()
	if err := socket.writeTo(synPkt, addr); err != nil {
		s.failClosed(err)
		s.wg.Wait()
		return nil, err
	}

	select {
	case err := <-s.connectResult:
		if err != nil {
			s.wg.Wait()
			return nil, err
		}
		return s, nil
	case <-clk.After(timeout):
		s.failClosed(&core.TimeoutError{Op: "utp connect"})
		s.wg.Wait()
		return nil, &core.TimeoutError{Op: "utp connect"}
	}
}

// newIncomingStream constructs a Stream from a freshly received Syn,
// replies with a State packet, and is immediately Connected.
func newIncomingStream(socket *Socket, synPkt *Packet, addr *net.UDPAddr, config Config, clk clock.Clock, logger *zap.SugaredLogger) (*Stream, error) {
	sendID := synPkt.ConnID
	recvID := sendID + 1

	s := newStream(socket, recvID, sendID, addr, config, clk, logger)
	s.seq = randomConnID()
	s.ack = synPkt.SeqNumber
	s.ackSet = true
	s.state = StateSynRecv

	// Register before sending the reply: the initiator's first Data packet
	// may arrive before the caller gets around to registering otherwise.
	socket.register(s)

	s.wg.Add(1)
	go s.loop()

	s.mu.Lock()
	reply := &Packet{
		Type:            TypeState,
		ConnID:          s.sendID,
		TimestampMicros: nowMicros(clk),
		WindowSize:      s.windowLocked(),
		SeqNumber:       s.seq,
		AckNumber:       s.ack,
	}
	// The dialer acks the reply's seq on receipt, so the first Data packet
	// must use the next one.
	s.seq++
	s.mu.Unlock()
	if err := socket.writeTo(reply, addr); err != nil {
		s.failClosed(err)
		return nil, err
	}

	s.mu.Lock()
	s.state = StateConnected
	s.mu.Unlock()

	return s, nil
}

func (s *Stream) loop() {
	defer s.wg.Done()

	ticker := s.clk.Tick(s.config.RetransmitTick)
	for {
		select {
		case <-s.done:
			return
		case pkt := <-s.incoming:
			s.handlePacket(pkt)
		case <-ticker:
			s.retransmit()
		}
	}
}

// deliver hands a packet received from the Socket's demux loop to this
// stream's event loop. Drops the packet if the stream is shutting down.
func (s *Stream) deliver(pkt *Packet) {
	select {
	case s.incoming <- pkt:
	case <-s.done:
	}
}

func (s *Stream) handlePacket(pkt *Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return
	}

	now := nowMicros(s.clk)
	if pkt.TimestampMicros != 0 && now >= pkt.TimestampMicros {
		s.timestampDiffMicros = now - pkt.TimestampMicros
	}
	s.remoteWindow = pkt.WindowSize

	switch s.state {
	case StateSynSent:
		if pkt.Type == TypeReset {
			s.closeLocked(&core.HandshakeError{Addr: s.addr.String(), Reason: "connection reset"})
			s.signalConnect(s.closeErr)
			return
		}
		if pkt.Type != TypeState {
			return
		}
		s.ack = pkt.SeqNumber
		s.ackSet = true
		s.ackRemoteLocked(pkt.AckNumber)
		s.state = StateConnected
		s.signalConnect(nil)
		return
	}

	if pkt.Type == TypeReset {
		s.closeLocked(&core.HandshakeError{Addr: s.addr.String(), Reason: "connection reset by peer"})
		return
	}

	s.ackRemoteLocked(pkt.AckNumber)

	if pkt.Type == TypeState {
		s.cond.Broadcast()
		return
	}

	// Data/Fin/Syn-retransmit carry a sequence number to reassemble.
	seq := pkt.SeqNumber
	if s.ackSet && !seqLess(s.ack, seq) {
		// Duplicate: already processed, re-ack defensively.
		s.sendAckLocked()
		return
	}
	if !s.ackSet {
		s.ack = seq - 1
		s.ackSet = true
	}
	if int(seq-s.ack-1) > s.config.MaxUnackedPackets {
		return
	}
	s.reassembly[seq] = pkt

	advanced := false
	for {
		next, ok := s.reassembly[s.ack+1]
		if !ok {
			break
		}
		delete(s.reassembly, s.ack+1)
		s.ack++
		advanced = true
		switch next.Type {
		case TypeData:
			s.readBuf.Write(next.Payload)
		case TypeFin:
			s.readEOF = true
		}
	}
	if advanced {
		s.cond.Broadcast()
		s.sendAckLocked()
	}
}

// ackRemoteLocked applies a received ack_number against pending outbound
// packets, removing everything in (lastAcked, ackNum].
func (s *Stream) ackRemoteLocked(ackNum uint16) {
	if !s.lastAckSet {
		s.lastAcked = ackNum
		s.lastAckSet = true
		delete(s.pending, ackNum)
		s.cond.Broadcast()
		return
	}
	if ackNum == s.lastAcked {
		return
	}
	for seq := s.lastAcked + 1; ; seq++ {
		delete(s.pending, seq)
		if seq == ackNum {
			break
		}
	}
	s.lastAcked = ackNum
	s.cond.Broadcast()
}

// closeLocked transitions the stream to Closed. Caller must hold s.mu.
func (s *Stream) closeLocked(err error) {
	if s.state == StateClosed {
		return
	}
	s.closeErr = err
	s.state = StateClosed
	s.cond.Broadcast()
	if s.closed.CAS(false, true) {
		close(s.done)
		s.socket.unregister(s.recvID)
	}
}

func (s *Stream) signalConnect(err error) {
	select {
	case s.connectResult <- err:
	default:
	}
}

func (s *Stream) sendAckLocked() {
	pkt := &Packet{
		Type:            TypeState,
		ConnID:          s.sendID,
		TimestampMicros: nowMicros(s.clk),
		TimestampDifferenceMicros: s.timestampDiffMicros,
		WindowSize:      s.windowLocked(),
		SeqNumber:       s.seq,
		AckNumber:       s.ack,
	}
	if err := s.socket.writeTo(pkt, s.addr); err != nil {
		s.logger.Infof("Error sending uTP ack to %s: %s", s.addr, err)
	}
}

func (s *Stream) windowLocked() uint32 {
	used := s.readBuf.Len()
	for _, p := range s.reassembly {
		used += len(p.Payload)
	}
	remaining := s.config.MaxReadBuffer - used
	if remaining < 0 {
		remaining = 0
	}
	return uint32(remaining)
}

// Read implements io.Reader, blocking until data, EOF, or close.
func (s *Stream) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.readBuf.Len() == 0 && !s.readEOF && s.state != StateClosed {
		s.cond.Wait()
	}
	if s.readBuf.Len() > 0 {
		return s.readBuf.Read(b)
	}
	if s.state == StateClosed {
		if s.closeErr != nil {
			return 0, s.closeErr
		}
		return 0, io.EOF
	}
	return 0, io.EOF
}

// Write implements io.Writer, splitting data into uTP data packets bounded
// by the configured max payload size and the peer's advertised window.
func (s *Stream) Write(b []byte) (int, error) {
	max := s.config.maxPacketPayloadSize()
	written := 0
	for len(b) > 0 {
		n := len(b)
		if n > max {
			n = max
		}
		chunk := b[:n]
		if err := s.writeChunk(chunk); err != nil {
			return written, err
		}
		written += n
		b = b[n:]
	}
	return written, nil
}

func (s *Stream) writeChunk(chunk []byte) error {
	s.mu.Lock()
	for {
		if s.state == StateClosed {
			s.mu.Unlock()
			if s.closeErr != nil {
				return s.closeErr
			}
			return &core.ClosedError{What: "uTP stream"}
		}
		inFlight := 0
		for _, p := range s.pending {
			inFlight += p.size()
		}
		if inFlight+len(chunk) <= int(s.remoteWindow) || s.remoteWindow == 0 && len(s.pending) == 0 {
			break
		}
		s.cond.Wait()
	}

	seq := s.seq
	s.seq++
	pkt := &Packet{
		Type:                      TypeData,
		ConnID:                    s.sendID,
		TimestampMicros:           nowMicros(s.clk),
		TimestampDifferenceMicros: s.timestampDiffMicros,
		WindowSize:                s.windowLocked(),
		SeqNumber:                 seq,
		AckNumber:                 s.ack,
		Payload:                   append([]byte(nil), chunk...),
	}
	s.pending[seq] = &pendingPacket{packet: pkt, sentAt: s.clk.Now()}
	s.mu.Unlock()

	return s.socket.writeTo(pkt, s.addr)
}

func (s *Stream) retransmit() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	now := s.clk.Now()
	timeout := retransmitTimeout(s.timestampDiffMicros, s.config)
	resent := 0
	var failed error
	for seq, p := range s.pending {
		if resent >= s.config.MaxResendsPerTick {
			break
		}
		if now.Sub(p.sentAt) <= timeout {
			continue
		}
		p.packet.TimestampMicros = nowMicros(s.clk)
		p.packet.TimestampDifferenceMicros = s.timestampDiffMicros
		p.packet.WindowSize = s.windowLocked()
		p.packet.AckNumber = s.ack
		p.resends++
		p.sentAt = now
		if p.resends > s.config.MaxRetransmits {
			failed = fmt.Errorf("utp stream to %s: packet %d exceeded max retransmits", s.addr, seq)
			break
		}
		if err := s.socket.writeTo(p.packet, s.addr); err != nil {
			p.failures++
		}
		resent++
	}
	s.mu.Unlock()

	if failed != nil {
		s.failClosed(failed)
	}
}

// Close sends a Fin (if connected) and tears the stream down, unregistering
// it from its Socket.
func (s *Stream) Close() error {
	if !s.closed.CAS(false, true) {
		return nil
	}
	s.mu.Lock()
	if s.state == StateConnected {
		fin := &Packet{
			Type:            TypeFin,
			ConnID:          s.sendID,
			TimestampMicros: nowMicros(s.clk),
			WindowSize:      s.windowLocked(),
			SeqNumber:       s.seq,
			AckNumber:       s.ack,
		}
		s.seq++
		_ = s.socket.writeTo(fin, s.addr)
	}
	s.state = StateClosed
	s.cond.Broadcast()
	s.mu.Unlock()

	close(s.done)
	s.socket.unregister(s.recvID)
	s.wg.Wait()
	return nil
}

func (s *Stream) failClosed(err error) {
	s.mu.Lock()
	alreadyClosed := s.state == StateClosed
	s.closeErr = err
	s.state = StateClosed
	s.cond.Broadcast()
	s.mu.Unlock()
	s.signalConnect(err)
	if alreadyClosed {
		return
	}
	if s.closed.CAS(false, true) {
		close(s.done)
		s.socket.unregister(s.recvID)
	}
}

// State reports the stream's current lifecycle state.
func (s *Stream) State() connState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LocalAddr returns the Socket's bound address.
func (s *Stream) LocalAddr() net.Addr { return s.socket.LocalAddr() }

// RemoteAddr returns the remote peer's address.
func (s *Stream) RemoteAddr() net.Addr { return s.addr }

// SetDeadline, SetReadDeadline and SetWriteDeadline are no-ops: liveness for
// uTP streams is enforced by the retransmit timer and upper-layer
// keep-alives, not per-call deadlines.
func (s *Stream) SetDeadline(time.Time) error      { return nil }
func (s *Stream) SetReadDeadline(time.Time) error  { return nil }
func (s *Stream) SetWriteDeadline(time.Time) error { return nil }

func (s *Stream) String() string {
	return fmt.Sprintf("Stream(addr=%s, recv_id=%d, send_id=%d, state=%s)", s.addr, s.recvID, s.sendID, s.State())
}

func retransmitTimeout(tsDiffMicros uint32, config Config) time.Duration {
	d := time.Duration(tsDiffMicros) * time.Microsecond
	if d < config.MinRetransmitTimeout {
		return config.MinRetransmitTimeout
	}
	if d > config.MaxRetransmitTimeout {
		return config.MaxRetransmitTimeout
	}
	return d
}

func nowMicros(clk clock.Clock) uint32 {
	return uint32(clk.Now().UnixNano() / int64(time.Microsecond))
}
