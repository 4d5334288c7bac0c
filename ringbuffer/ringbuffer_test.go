// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendConsume(t *testing.T) {
	r := New(16, 100)
	defer r.Release()

	assert.NoError(t, r.Append([]byte("hello")))
	assert.Equal(t, uint32(105), r.Tail())
	assert.Equal(t, "hello", string(r.Bytes()))

	r.Consume(2)
	assert.Equal(t, uint32(102), r.Head())
	assert.Equal(t, "llo", string(r.Bytes()))
}

func TestCompactionOnAppend(t *testing.T) {
	r := New(8, 0)
	defer r.Release()

	assert.NoError(t, r.Append([]byte("abcdefgh"))) // fills capacity exactly
	r.Consume(4)                                    // "efgh" remains, 4 bytes free after compaction
	assert.NoError(t, r.Append([]byte("ijkl")))
	assert.Equal(t, "efghijkl", string(r.Bytes()))
}

func TestNoSpaceAfterCompaction(t *testing.T) {
	r := New(4, 0)
	defer r.Release()

	assert.NoError(t, r.Append([]byte("ab")))
	err := r.Append([]byte("xyz"))
	assert.ErrorIs(t, err, ErrNoSpace)
}

func TestFull(t *testing.T) {
	r := New(4, 0)
	defer r.Release()
	assert.False(t, r.Full())
	assert.NoError(t, r.Append([]byte("abcd")))
	assert.True(t, r.Full())
}
