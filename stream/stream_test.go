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

package stream

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/protolens/common/socket"
	"github.com/packetd/protolens/packet"
)

func seg(seq uint32, syn, fin bool, payload string) packet.FromSegment {
	return packet.NewFromSegment(socket.Segment{
		Seq:     seq,
		Syn:     syn,
		Fin:     fin,
		Payload: []byte(payload),
	})
}

type line struct {
	text string
	seq  uint32
}

// drainLines 反复调用 TryReadLine 直到 Pending/End/Error 收集本轮新增的行
func drainLines(t *testing.T, s *Stream[packet.FromSegment]) []line {
	t.Helper()
	var out []line
	for {
		b, seq, state, err := s.TryReadLine()
		require.NoError(t, err)
		if state != StateReady {
			return out
		}
		out = append(out, line{text: string(b), seq: seq})
	}
}

func TestSingleLine(t *testing.T) {
	s := New[packet.FromSegment](DefaultCapacity, DefaultHeapCapacity)

	_, err := s.Feed(seg(1, false, false, "Hello\r\nWor"))
	require.NoError(t, err)

	lines := drainLines(t, s)
	require.Len(t, lines, 1)
	assert.Equal(t, "Hello\r\n", lines[0].text)
	assert.Equal(t, uint32(1), lines[0].seq)
	assert.Equal(t, 3, s.Stats().BufferLen) // "Wor" remains buffered
}

func TestReorderWithSYN(t *testing.T) {
	s := New[packet.FromSegment](DefaultCapacity, DefaultHeapCapacity)

	_, err := s.Feed(seg(1, true, false, ""))
	require.NoError(t, err)
	_, err = s.Feed(seg(12, false, false, "ld\r\nBye\r\nx"))
	require.NoError(t, err)
	_, err = s.Feed(seg(2, false, false, "Hello\r\nWor"))
	require.NoError(t, err)

	lines := drainLines(t, s)
	require.Len(t, lines, 3)
	assert.Equal(t, line{"Hello\r\n", 2}, lines[0])
	assert.Equal(t, line{"World\r\n", 9}, lines[1])
	assert.Equal(t, line{"Bye\r\n", 16}, lines[2])
}

func TestLineSpanningBufferBoundary(t *testing.T) {
	s := New[packet.FromSegment](DefaultCapacity, DefaultHeapCapacity)

	firstLine := strings.Repeat("a", DefaultCapacity-12-2) + "\r\n" // total len == DefaultCapacity-12
	incomplete := "INCOMPLETE__"                                    // 12 bytes, no terminator yet
	payload1 := firstLine + incomplete
	require.Len(t, payload1, DefaultCapacity)

	_, err := s.Feed(seg(1, false, false, payload1))
	require.NoError(t, err)

	// buffer is exactly full at this point; the consumer drains the
	// completed first line before the next segment arrives, freeing room
	first := drainLines(t, s)
	require.Len(t, first, 1)
	assert.Equal(t, firstLine, first[0].text)

	_, err = s.Feed(seg(1+uint32(len(payload1)), false, false, "LINE\r\n"))
	require.NoError(t, err)

	second := drainLines(t, s)
	require.Len(t, second, 1)
	assert.Equal(t, "INCOMPLETE__LINE\r\n", second[0].text)
}

func TestOversizedLineRejected(t *testing.T) {
	s := New[packet.FromSegment](DefaultCapacity, DefaultHeapCapacity)

	payload := strings.Repeat("x", DefaultCapacity) + "\r\n"
	_, err := s.Feed(seg(1, false, false, payload))
	assert.ErrorIs(t, err, ErrBufferStall) // too large to fit even after compaction: flow-fatal

	lines := drainLines(t, s)
	assert.Empty(t, lines)
}

func TestFinWithTrailingData(t *testing.T) {
	s := New[packet.FromSegment](DefaultCapacity, DefaultHeapCapacity)

	_, err := s.Feed(seg(1, false, false, "First line\r\n"))
	require.NoError(t, err)
	seq2 := uint32(1 + len("First line\r\n"))
	_, err = s.Feed(seg(seq2, false, true, "Last line with FIN\r\n"))
	require.NoError(t, err)
	seq3 := seq2 + uint32(len("Last line with FIN\r\n"))
	_, err = s.Feed(seg(seq3, false, false, "Should not be read\r\n"))
	require.NoError(t, err)

	lines := drainLines(t, s)
	require.Len(t, lines, 2)
	assert.Equal(t, "First line\r\n", lines[0].text)
	assert.Equal(t, "Last line with FIN\r\n", lines[1].text)

	_, _, state, err := s.TryReadLine()
	require.NoError(t, err)
	assert.Equal(t, StateEnd, state)
}

func TestLFOnlyTermination(t *testing.T) {
	s := New[packet.FromSegment](DefaultCapacity, DefaultHeapCapacity)

	_, err := s.Feed(seg(1, false, false, "First line\nSecond line\n"))
	require.NoError(t, err)
	_, err = s.Feed(seg(1+23, false, false, "Third line\n"))
	require.NoError(t, err)
	_, err = s.Feed(seg(1+34, false, true, ""))
	require.NoError(t, err)

	lines := drainLines(t, s)
	require.Len(t, lines, 3)
	assert.Equal(t, line{"First line\n", 1}, lines[0])
	assert.Equal(t, line{"Second line\n", 12}, lines[1])
	assert.Equal(t, line{"Third line\n", 24}, lines[2])

	_, _, state, err := s.TryReadLine()
	require.NoError(t, err)
	assert.Equal(t, StateEnd, state)
}

func TestPeekReadConsistency(t *testing.T) {
	s := New[packet.FromSegment](DefaultCapacity, DefaultHeapCapacity)

	_, err := s.Feed(seg(1, false, false, "Hello\r\nWor"))
	require.NoError(t, err)

	peeked, peekSeq, peekState, err := s.TryPeekLine()
	require.NoError(t, err)
	require.Equal(t, StateReady, peekState)

	read, readSeq, readState, err := s.TryReadLine()
	require.NoError(t, err)
	require.Equal(t, StateReady, readState)

	assert.Equal(t, string(peeked), string(read))
	assert.Equal(t, peekSeq, readSeq)
}

func TestIdempotentRetransmit(t *testing.T) {
	s := New[packet.FromSegment](DefaultCapacity, DefaultHeapCapacity)

	p := seg(1, false, false, "Hello\r\n")
	_, err := s.Feed(p)
	require.NoError(t, err)
	_, err = s.Feed(p) // retransmit of an already-ingested range
	require.NoError(t, err)

	lines := drainLines(t, s)
	require.Len(t, lines, 1)
	assert.Equal(t, "Hello\r\n", lines[0].text)
}

func TestWrapAroundStartSeq(t *testing.T) {
	s := New[packet.FromSegment](DefaultCapacity, DefaultHeapCapacity)

	start := uint32(0xFFFFFF00)
	_, err := s.Feed(seg(start, true, false, ""))
	require.NoError(t, err)
	_, err = s.Feed(seg(start+1, false, true, "Hello\r\n"))
	require.NoError(t, err)

	lines := drainLines(t, s)
	require.Len(t, lines, 1)
	assert.Equal(t, "Hello\r\n", lines[0].text)
	assert.Equal(t, start+1, lines[0].seq)
}

func TestHeapFullIsFlowFatal(t *testing.T) {
	s := New[packet.FromSegment](DefaultCapacity, 2)

	_, err := s.Feed(seg(1, true, false, ""))
	require.NoError(t, err)
	_, err = s.Feed(seg(100, false, false, "a")) // out of order, parked in heap
	require.NoError(t, err)
	_, err = s.Feed(seg(200, false, false, "b")) // also parked, heap now at capacity
	require.NoError(t, err)
	_, err = s.Feed(seg(300, false, false, "c")) // heap overflow
	assert.ErrorIs(t, err, ErrHeapFull)
}
