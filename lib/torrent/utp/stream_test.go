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
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamHandshakeAndDataTransfer(t *testing.T) {
	require := require.New(t)

	server, cleanupServer := SocketFixture()
	defer cleanupServer()
	client, cleanupClient := SocketFixture()
	defer cleanupClient()

	accepted := make(chan *Stream, 1)
	acceptErrs := make(chan error, 1)
	go func() {
		s, err := server.Accept()
		if err != nil {
			acceptErrs <- err
			return
		}
		accepted <- s
	}()

	out, err := client.Dial(server.LocalAddr().String(), 2*time.Second)
	require.NoError(err)
	defer out.Close()

	var in *Stream
	select {
	case in = <-accepted:
	case err := <-acceptErrs:
		t.Fatalf("accept failed: %s", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound uTP stream")
	}
	defer in.Close()

	require.Equal(StateConnected, out.State())
	require.Equal(StateConnected, in.State())

	msg := "Nullam varius felis in massa eleifend consectetur."
	n, err := out.Write([]byte(msg))
	require.NoError(err)
	require.Equal(len(msg), n)

	buf := make([]byte, len(msg))
	_, err = io.ReadFull(in, buf)
	require.NoError(err)
	require.Equal(msg, string(buf))
}

func TestStreamCloseSignalsEOF(t *testing.T) {
	require := require.New(t)

	server, cleanupServer := SocketFixture()
	defer cleanupServer()
	client, cleanupClient := SocketFixture()
	defer cleanupClient()

	accepted := make(chan *Stream, 1)
	go func() {
		s, err := server.Accept()
		if err == nil {
			accepted <- s
		}
	}()

	out, err := client.Dial(server.LocalAddr().String(), 2*time.Second)
	require.NoError(err)

	var in *Stream
	select {
	case in = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound uTP stream")
	}

	require.NoError(out.Close())

	buf := make([]byte, 1)
	_, err = in.Read(buf)
	require.ErrorIs(err, io.EOF)
}
