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

package protolens

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/protolens/common/socket"
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/parser"
	"github.com/packetd/protolens/parser/lineparser"
)

func tuple() socket.Tuple {
	return socket.Tuple{
		SrcIP:   socket.ToIPV4([]byte{127, 0, 0, 1}),
		DstIP:   socket.ToIPV4([]byte{127, 0, 0, 2}),
		SrcPort: 1234,
		DstPort: 80,
	}
}

func seg(seq uint32, fin bool, dir socket.Direction, payload string) packet.FromSegment {
	return packet.NewFromSegment(socket.Segment{Seq: seq, Fin: fin, Dir: dir, Payload: []byte(payload)})
}

func TestDispatcherRoutesAndCleansUpFlow(t *testing.T) {
	var got []string
	factory := parser.Factory[packet.FromSegment](func() parser.Parser[packet.FromSegment] {
		p := lineparser.New[packet.FromSegment]()
		p.OnC2S = func(b []byte, seq uint32) { got = append(got, string(b)) }
		return p
	})

	d := New[packet.FromSegment](socket.L7ProtoLine, factory)
	tp := tuple()
	ctx := context.Background()

	require.NoError(t, d.RunTask(ctx, tp, socket.DirC2S, seg(1, false, socket.DirC2S, "Hello\r\n")))
	assert.Equal(t, 1, d.ActiveFlows())

	require.NoError(t, d.RunTask(ctx, tp, socket.DirC2S, seg(8, true, socket.DirC2S, "World\r\n")))
	require.NoError(t, d.RunTask(ctx, tp.Mirror(), socket.DirS2C, seg(1, true, socket.DirS2C, "")))

	assert.Equal(t, []string{"Hello\r\n", "World\r\n"}, got)
	assert.Equal(t, 0, d.ActiveFlows())
}

func TestDispatcherDropsFlowOnHeapFull(t *testing.T) {
	factory := parser.Factory[packet.FromSegment](func() parser.Parser[packet.FromSegment] {
		p := lineparser.New[packet.FromSegment]()
		p.OnC2S = func(b []byte, seq uint32) {}
		return p
	})

	d := New[packet.FromSegment](socket.L7ProtoLine, factory, WithHeapCapacity(2))
	tp := tuple()
	ctx := context.Background()

	require.NoError(t, d.RunTask(ctx, tp, socket.DirC2S, seg(1, false, socket.DirC2S, "")))
	require.NoError(t, d.RunTask(ctx, tp, socket.DirC2S, seg(100, false, socket.DirC2S, "a")))
	require.NoError(t, d.RunTask(ctx, tp, socket.DirC2S, seg(200, false, socket.DirC2S, "b")))

	err := d.RunTask(ctx, tp, socket.DirC2S, seg(300, false, socket.DirC2S, "c"))
	assert.Error(t, err)
	assert.Equal(t, 0, d.ActiveFlows())
}
