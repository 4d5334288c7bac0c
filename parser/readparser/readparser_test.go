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

package readparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/packetd/protolens/common/socket"
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/stream"
	"github.com/packetd/protolens/task"
)

func seg(seq uint32, fin bool, payload string) packet.FromSegment {
	return packet.NewFromSegment(socket.Segment{Seq: seq, Fin: fin, Payload: []byte(payload)})
}

func TestReadParserPassthrough(t *testing.T) {
	s := stream.New[packet.FromSegment](stream.DefaultCapacity, stream.DefaultHeapCapacity)

	var got []string
	p := New[packet.FromSegment]()
	p.OnC2S = func(b []byte, seq uint32) { got = append(got, string(b)) }

	tk := task.New[packet.FromSegment](s)
	tk.Start(p.C2S())

	require.NoError(t, tk.Feed(seg(1, false, "hello ")))
	require.NoError(t, tk.Feed(seg(7, true, "world")))

	assert.True(t, tk.Done())
	assert.NoError(t, tk.Err())
	assert.Equal(t, []string{"hello ", "world"}, got)
}
