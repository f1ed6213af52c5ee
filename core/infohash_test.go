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

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfoHashHexRoundTrip(t *testing.T) {
	require := require.New(t)

	h := InfoHashFixture()
	h2, err := NewInfoHashFromHex(h.Hex())
	require.NoError(err)
	require.True(h.Equal(h2))
}

func TestInfoHashV2(t *testing.T) {
	require := require.New(t)

	h := NewInfoHashV2FromBytes([]byte("some info dict bytes"))
	require.True(h.V2())
	require.Len(h.Bytes(), 32)

	h2, err := NewInfoHashFromHex(h.Hex())
	require.NoError(err)
	require.True(h.Equal(h2))
	require.True(h2.V2())
}

func TestInfoHashInvalidHex(t *testing.T) {
	require := require.New(t)

	_, err := NewInfoHashFromHex("not-hex")
	require.Error(err)
}

func TestInfoHashFromBytesInvalidLength(t *testing.T) {
	require := require.New(t)

	_, err := NewInfoHashFromBytes(make([]byte, 10))
	require.Error(err)
}
