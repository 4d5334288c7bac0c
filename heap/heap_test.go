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

package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/packetd/protolens/common/socket"
	"github.com/packetd/protolens/packet"
)

func mkPkt(seq uint32, syn, fin bool, payload []byte) packet.FromSegment {
	return packet.NewFromSegment(socket.Segment{Seq: seq, Syn: syn, Fin: fin, Payload: payload})
}

func TestCapacity(t *testing.T) {
	h := New[packet.FromSegment](32)
	assert.Equal(t, 32, h.Capacity())
	assert.True(t, h.IsEmpty())
}

func TestPushPopOrder(t *testing.T) {
	h := New[packet.FromSegment](5)

	assert.True(t, h.Push(mkPkt(1000, false, false, nil)))
	assert.True(t, h.Push(mkPkt(990, false, false, nil)))
	assert.True(t, h.Push(mkPkt(995, false, false, nil)))

	p, ok := h.Pop()
	assert.True(t, ok)
	assert.Equal(t, uint32(990), p.Seq())

	p, ok = h.Pop()
	assert.True(t, ok)
	assert.Equal(t, uint32(995), p.Seq())

	p, ok = h.Pop()
	assert.True(t, ok)
	assert.Equal(t, uint32(1000), p.Seq())

	_, ok = h.Pop()
	assert.False(t, ok)
}

func TestSynFinTiebreak(t *testing.T) {
	h := New[packet.FromSegment](5)

	assert.True(t, h.Push(mkPkt(100, false, true, nil)))
	assert.True(t, h.Push(mkPkt(100, false, false, []byte{1, 2, 3})))
	assert.True(t, h.Push(mkPkt(100, true, false, nil)))

	first, ok := h.Pop()
	assert.True(t, ok)
	assert.True(t, first.Syn())
	assert.Equal(t, uint32(100), first.Seq())

	second, ok := h.Pop()
	assert.True(t, ok)
	assert.False(t, second.Syn())
	assert.False(t, second.Fin())
	assert.Equal(t, uint32(100), second.Seq())

	third, ok := h.Pop()
	assert.True(t, ok)
	assert.True(t, third.Fin())
	assert.Equal(t, uint32(100), third.Seq())

	_, ok = h.Pop()
	assert.False(t, ok)
}

func TestCapacityOverflow(t *testing.T) {
	h := New[packet.FromSegment](2)

	assert.True(t, h.Push(mkPkt(1, false, false, nil)))
	assert.True(t, h.Push(mkPkt(2, false, false, nil)))
	assert.False(t, h.Push(mkPkt(3, false, false, nil)))

	assert.Equal(t, 2, h.Len())

	p, _ := h.Pop()
	assert.Equal(t, uint32(1), p.Seq())
	p, _ = h.Pop()
	assert.Equal(t, uint32(2), p.Seq())
	_, ok := h.Pop()
	assert.False(t, ok)
}

func TestWrapAroundOrdering(t *testing.T) {
	h := New[packet.FromSegment](5)

	assert.True(t, h.Push(mkPkt(0xFFFFFF00, false, false, nil)))
	assert.True(t, h.Push(mkPkt(0x00000010, false, false, nil)))

	p, _ := h.Pop()
	assert.Equal(t, uint32(0xFFFFFF00), p.Seq())
	p, _ = h.Pop()
	assert.Equal(t, uint32(0x00000010), p.Seq())
}

func TestPeekDoesNotPop(t *testing.T) {
	h := New[packet.FromSegment](5)
	h.Push(mkPkt(5, false, false, nil))

	p, ok := h.Peek()
	assert.True(t, ok)
	assert.Equal(t, uint32(5), p.Seq())
	assert.Equal(t, 1, h.Len())
}
