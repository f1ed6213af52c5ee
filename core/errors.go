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

import "fmt"

// HandshakeError indicates a failed peer handshake: info hash mismatch,
// timeout, or malformed bytes. It always terminates the peer task that
// raised it.
type HandshakeError struct {
	Addr   string
	Reason string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake with %s failed: %s", e.Addr, e.Reason)
}

// TimeoutError indicates a DHT query, uTP send, or connect dial exceeded its
// deadline. Never fatal to the host subsystem.
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out", e.Op)
}

// ClosedError indicates the counterpart of a channel or connection has
// already been dropped. Non-actionable.
type ClosedError struct {
	What string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("%s is closed", e.What)
}

// ParseError indicates malformed bencoded or wire bytes. At packet level this
// is dropped silently; at metadata level it rejects the metadata.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.Reason)
}

// InvalidMetadataError indicates metadata bytes that failed to validate
// against the torrent's info hash.
type InvalidMetadataError struct {
	Reason string
}

func (e *InvalidMetadataError) Error() string {
	return fmt.Sprintf("invalid metadata: %s", e.Reason)
}

// InvalidInfoHashError indicates a peer or message referenced an info hash
// that does not match the local torrent.
type InvalidInfoHashError struct {
	Expected, Got InfoHash
}

func (e *InvalidInfoHashError) Error() string {
	return fmt.Sprintf("invalid info hash: expected %s, got %s", e.Expected, e.Got)
}

// InvalidRangeError indicates a requested byte range falls outside the
// bounds of a file or torrent.
type InvalidRangeError struct {
	Reason string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: %s", e.Reason)
}

// InvalidAddrError indicates a malformed network address.
type InvalidAddrError struct {
	Addr string
}

func (e *InvalidAddrError) Error() string {
	return fmt.Sprintf("invalid address: %q", e.Addr)
}

// InvalidNodeIDError indicates a DHT node id of unexpected length.
type InvalidNodeIDError struct {
	Reason string
}

func (e *InvalidNodeIDError) Error() string {
	return fmt.Sprintf("invalid node id: %s", e.Reason)
}

// InvalidMessageError indicates a peer-wire or KRPC message with an
// inconsistent or disallowed field.
type InvalidMessageError struct {
	Reason string
}

func (e *InvalidMessageError) Error() string {
	return fmt.Sprintf("invalid message: %s", e.Reason)
}

// UnsupportedMessageError indicates a uTP packet with an unrecognized type.
type UnsupportedMessageError struct {
	Type byte
}

func (e *UnsupportedMessageError) Error() string {
	return fmt.Sprintf("unsupported message type: %d", e.Type)
}

// UnsupportedVersionError indicates a uTP packet advertising a protocol
// version we do not speak.
type UnsupportedVersionError struct {
	Version byte
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported protocol version: %d", e.Version)
}

// InvalidHandleError is returned by API calls referencing a torrent, peer,
// or connection handle that no longer exists.
type InvalidHandleError struct {
	What string
}

func (e *InvalidHandleError) Error() string {
	return fmt.Sprintf("invalid handle: %s", e.What)
}

// FastProtocolError indicates a peer violated the Fast extension (BEP 6):
// a duplicate request while Fast is enabled, or a Fast-only message
// received from a peer that never negotiated Fast.
type FastProtocolError struct {
	Reason string
}

func (e *FastProtocolError) Error() string {
	return fmt.Sprintf("fast extension protocol violation: %s", e.Reason)
}
