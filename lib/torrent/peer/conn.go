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
package peer

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/uber-go/tally"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/coreswarm/torrent/core"
	"github.com/coreswarm/torrent/utils/bandwidth"
	"github.com/coreswarm/torrent/utils/memsize"
)

// maxMessageSize bounds a single message's declared length, including the
// block payload of a piece message.
const maxMessageSize = 64 * memsize.KB

// Events defines Conn lifecycle callbacks.
type Events interface {
	ConnClosed(*Conn)
}

// Conn manages the peer-wire protocol for a single established connection
// to a remote peer, scoped to one torrent. Reads and writes happen on
// dedicated goroutines, multiplexed onto channels so that a slow consumer
// never blocks the socket.
type Conn struct {
	peerID      core.PeerID
	infoHash    core.InfoHash
	localPeerID core.PeerID
	createdAt   time.Time
	extensions  Reserved

	nc        net.Conn
	config    Config
	clk       clock.Clock
	stats     tally.Scope
	bandwidth *bandwidth.Limiter
	events    Events
	logger    *zap.SugaredLogger

	openedByRemote bool

	startOnce sync.Once

	sender   chan *Message
	receiver chan *Message

	closed *atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func newConn(
	config Config,
	stats tally.Scope,
	clk clock.Clock,
	limiter *bandwidth.Limiter,
	events Events,
	nc net.Conn,
	localPeerID core.PeerID,
	remotePeerID core.PeerID,
	infoHash core.InfoHash,
	extensions Reserved,
	openedByRemote bool,
	logger *zap.SugaredLogger) (*Conn, error) {

	// Handshake deadlines no longer apply once the Conn takes over; liveness
	// is instead enforced by keep-alives and the scheduler's idle eviction.
	if err := nc.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("set deadline: %s", err)
	}

	return &Conn{
		peerID:         remotePeerID,
		infoHash:       infoHash,
		localPeerID:    localPeerID,
		createdAt:      clk.Now(),
		extensions:     extensions,
		nc:             nc,
		config:         config,
		clk:            clk,
		stats:          stats,
		bandwidth:      limiter,
		events:         events,
		openedByRemote: openedByRemote,
		logger:         logger,
		sender:         make(chan *Message, config.SenderBufferSize),
		receiver:       make(chan *Message, config.ReceiverBufferSize),
		closed:         atomic.NewBool(false),
		done:           make(chan struct{}),
	}, nil
}

// Start begins reading and writing messages on c.
func (c *Conn) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(2)
		go c.readLoop()
		go c.writeLoop()
	})
}

// PeerID returns the remote peer's id.
func (c *Conn) PeerID() core.PeerID { return c.peerID }

// InfoHash returns the torrent this connection serves.
func (c *Conn) InfoHash() core.InfoHash { return c.infoHash }

// CreatedAt returns when the Conn was established.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// Extensions returns the intersection of extensions negotiated during the
// handshake.
func (c *Conn) Extensions() Reserved { return c.extensions }

// OpenedByRemote reports whether the remote peer initiated this connection.
func (c *Conn) OpenedByRemote() bool { return c.openedByRemote }

func (c *Conn) String() string {
	return fmt.Sprintf("Conn(peer=%s, hash=%s, opened_by_remote=%t)",
		c.peerID, c.infoHash, c.openedByRemote)
}

// Send enqueues msg for writing. Returns an error if the connection is
// closed or the send buffer is full.
func (c *Conn) Send(msg *Message) error {
	select {
	case <-c.done:
		return errors.New("conn closed")
	case c.sender <- msg:
		return nil
	default:
		c.stats.Tagged(map[string]string{
			"dropped_message_type": msg.Type.String(),
		}).Counter("dropped_messages").Inc(1)
		return errors.New("send buffer full")
	}
}

// Receiver returns a channel of inbound messages.
func (c *Conn) Receiver() <-chan *Message { return c.receiver }

// Close tears down the connection and notifies Events once both loops have
// exited.
func (c *Conn) Close() {
	if !c.closed.CAS(false, true) {
		return
	}
	go func() {
		close(c.done)
		c.nc.Close()
		c.wg.Wait()
		c.events.ConnClosed(c)
	}()
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool { return c.closed.Load() }

func (c *Conn) readLoop() {
	defer func() {
		close(c.receiver)
		c.wg.Done()
		c.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
			msg, err := ReadMessage(c.nc, c.bandwidth)
			if err != nil {
				c.log().Infof("Error reading message, exiting read loop: %s", err)
				return
			}
			if msg.Type == Piece {
				c.countBandwidth("ingress", 8*int64(msg.Payload.Length()))
			}
			select {
			case c.receiver <- msg:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Conn) writeLoop() {
	defer func() {
		c.wg.Done()
		c.Close()
	}()

	keepAlive := c.clk.Tick(c.config.KeepAliveInterval)

	for {
		select {
		case <-c.done:
			return
		case <-keepAlive:
			if err := c.send(&Message{Type: KeepAlive}); err != nil {
				c.log().Infof("Error sending keep-alive, exiting write loop: %s", err)
				return
			}
		case msg := <-c.sender:
			if err := c.send(msg); err != nil {
				c.log().Infof("Error writing message, exiting write loop: %s", err)
				return
			}
		}
	}
}

func (c *Conn) send(msg *Message) error {
	var payloadLen int64
	if msg.Type == Piece {
		payloadLen = int64(msg.Payload.Length())
	}
	if err := WriteMessage(c.nc, c.bandwidth, msg); err != nil {
		return err
	}
	if msg.Type == Piece {
		c.countBandwidth("egress", 8*payloadLen)
	}
	return nil
}

func (c *Conn) countBandwidth(direction string, nbits int64) {
	c.stats.Tagged(map[string]string{
		"piece_bandwidth_direction": direction,
	}).Counter("piece_bandwidth").Inc(nbits)
}

func (c *Conn) log(keysAndValues ...interface{}) *zap.SugaredLogger {
	keysAndValues = append(keysAndValues, "remote_peer", c.peerID, "hash", c.infoHash)
	return c.logger.With(keysAndValues...)
}
