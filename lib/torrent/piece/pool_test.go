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
package piece

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolAssemblesParts(t *testing.T) {
	require := require.New(t)

	pool := NewPool()
	require.Nil(pool.Assembled(0))

	pool.PutPart(0, 32, Part{Index: 0, Begin: 0, Length: 16}, []byte("0123456789abcdef"))
	pool.PutPart(0, 32, Part{Index: 1, Begin: 16, Length: 16}, []byte("fedcba9876543210"))

	require.Equal(1, pool.Len())
	require.Equal("0123456789abcdeffedcba9876543210", string(pool.Assembled(0)))

	pool.Release(0)
	require.Nil(pool.Assembled(0))
	require.Equal(0, pool.Len())
}
