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

package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/protolens/common/socket"
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/stream"
)

func seg(seq uint32, syn, fin bool, payload string) packet.FromSegment {
	return packet.NewFromSegment(socket.Segment{
		Seq:     seq,
		Syn:     syn,
		Fin:     fin,
		Payload: []byte(payload),
	})
}

func TestTaskReadLineStraightLine(t *testing.T) {
	s := stream.New[packet.FromSegment](stream.DefaultCapacity, stream.DefaultHeapCapacity)
	tk := New[packet.FromSegment](s)

	var lines []string
	tk.Start(func(ctx *Context[packet.FromSegment]) error {
		for {
			line, _, ok, err := ctx.ReadLine()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			lines = append(lines, string(line))
		}
	})

	require.NoError(t, tk.Feed(seg(1, false, false, "Hello\r\n")))
	require.NoError(t, tk.Feed(seg(8, false, true, "World\r\n")))

	assert.True(t, tk.Done())
	assert.NoError(t, tk.Err())
	assert.Equal(t, []string{"Hello\r\n", "World\r\n"}, lines)
}

func TestTaskStopsOnHeapFull(t *testing.T) {
	s := stream.New[packet.FromSegment](stream.DefaultCapacity, 2)
	tk := New[packet.FromSegment](s)

	tk.Start(func(ctx *Context[packet.FromSegment]) error {
		_, _, _, err := ctx.ReadLine()
		return err
	})

	require.NoError(t, tk.Feed(seg(1, true, false, "")))
	require.NoError(t, tk.Feed(seg(100, false, false, "a")))
	require.NoError(t, tk.Feed(seg(200, false, false, "b")))

	err := tk.Feed(seg(300, false, false, "c"))
	assert.ErrorIs(t, err, stream.ErrHeapFull)
	assert.True(t, tk.Done())
}

func TestTaskNilFuncIsImmediatelyDone(t *testing.T) {
	s := stream.New[packet.FromSegment](stream.DefaultCapacity, stream.DefaultHeapCapacity)
	tk := New[packet.FromSegment](s)

	tk.Start(nil)
	assert.True(t, tk.Done())
	assert.NoError(t, tk.Feed(seg(1, false, false, "x")))
}
