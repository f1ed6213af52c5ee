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
	"crypto/sha1"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPieceHashV1Matches(t *testing.T) {
	require := require.New(t)

	data := []byte("some piece bytes")
	sum := sha1.Sum(data)
	h := NewPieceHashV1(sum[:])

	require.True(h.Matches(data))
	require.False(h.Matches([]byte("different")))
	require.False(h.V2())
}

func TestPieceHashV2Matches(t *testing.T) {
	require := require.New(t)

	data := []byte("some piece bytes")
	sum := sha256.Sum256(data)
	h := NewPieceHashV2(sum[:])

	require.True(h.Matches(data))
	require.True(h.V2())
}
