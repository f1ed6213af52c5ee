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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	require := require.New(t)

	p := &Packet{
		Type:                      TypeData,
		Extension:                 ExtensionNone,
		ConnID:                    1234,
		TimestampMicros:           111111,
		TimestampDifferenceMicros: 2222,
		WindowSize:                1 << 20,
		SeqNumber:                 42,
		AckNumber:                 41,
		Payload:                   []byte("Nullam varius felis in massa eleifend consectetur."),
	}

	b := p.Encode()
	require.Len(b, headerLen+len(p.Payload))

	decoded, err := DecodePacket(b)
	require.NoError(err)
	require.Equal(p.Type, decoded.Type)
	require.Equal(p.ConnID, decoded.ConnID)
	require.Equal(p.TimestampMicros, decoded.TimestampMicros)
	require.Equal(p.TimestampDifferenceMicros, decoded.TimestampDifferenceMicros)
	require.Equal(p.WindowSize, decoded.WindowSize)
	require.Equal(p.SeqNumber, decoded.SeqNumber)
	require.Equal(p.AckNumber, decoded.AckNumber)
	require.Equal(p.Payload, decoded.Payload)
}

func TestPacketTypes(t *testing.T) {
	require := require.New(t)

	for i, name := range map[Type]string{
		TypeData:  "Data",
		TypeFin:   "Fin",
		TypeState: "State",
		TypeReset: "Reset",
		TypeSyn:   "Syn",
	} {
		require.Equal(name, i.String())
	}
}

func TestDecodePacketRejectsShortInput(t *testing.T) {
	_, err := DecodePacket([]byte{0, 1, 2})
	require.Error(t, err)
}

func TestDecodePacketRejectsBadVersion(t *testing.T) {
	p := &Packet{Type: TypeSyn}
	b := p.Encode()
	b[0] = byte(TypeSyn)<<4 | 2 // version 2, unsupported
	_, err := DecodePacket(b)
	require.Error(t, err)
}

func TestSeqLess(t *testing.T) {
	require := require.New(t)

	require.True(seqLess(1, 2))
	require.False(seqLess(2, 1))
	require.False(seqLess(5, 5))

	// Wrap-around: 0xFFFF precedes 0x0001.
	require.True(seqLess(0xFFFF, 0x0001))
	require.False(seqLess(0x0001, 0xFFFF))
}
