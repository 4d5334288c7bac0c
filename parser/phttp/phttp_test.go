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

package phttp

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

func TestParserMatchesRequestResponse(t *testing.T) {
	p := New[packet.FromSegment]()

	var got *RoundTrip
	p.OnRoundTrip = func(rt *RoundTrip) { got = rt }

	c2sStream := stream.New[packet.FromSegment](0, 0)
	s2cStream := stream.New[packet.FromSegment](0, 0)
	c2sTask := task.New[packet.FromSegment](c2sStream)
	s2cTask := task.New[packet.FromSegment](s2cStream)

	c2sTask.Start(p.C2S())
	s2cTask.Start(p.S2C())

	reqLine := "GET /ping HTTP/1.1\r\nHost: example.com\r\nContent-Length: 0\r\n\r\n"
	require.NoError(t, c2sTask.Feed(seg(1, true, reqLine)))
	assert.True(t, c2sTask.Done())
	assert.Nil(t, got)

	respLine := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok"
	require.NoError(t, s2cTask.Feed(seg(1, true, respLine)))
	assert.True(t, s2cTask.Done())

	require.NotNil(t, got)
	assert.Equal(t, "GET", got.Request.Method)
	assert.Equal(t, "/ping", got.Request.Path)
	assert.Equal(t, 200, got.Response.StatusCode)
	assert.Equal(t, 2, got.Response.Size)
}
