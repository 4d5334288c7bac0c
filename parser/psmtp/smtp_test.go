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

package psmtp

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

func TestParserPipelinesCommandsInOrder(t *testing.T) {
	p := New[packet.FromSegment]()

	var got []*Exchange
	p.OnExchange = func(e *Exchange) { got = append(got, e) }

	c2sStream := stream.New[packet.FromSegment](0, 0)
	s2cStream := stream.New[packet.FromSegment](0, 0)
	c2sTask := task.New[packet.FromSegment](c2sStream)
	s2cTask := task.New[packet.FromSegment](s2cStream)

	c2sTask.Start(p.C2S())
	s2cTask.Start(p.S2C())

	require.NoError(t, c2sTask.Feed(seg(1, false, "EHLO client.example\r\nMAIL FROM:<a@example.com>\r\n")))
	require.NoError(t, s2cTask.Feed(seg(1, true, "250-example.com\r\n250 PIPELINING\r\n250 OK\r\n")))

	require.Len(t, got, 2)
	assert.Equal(t, "EHLO", got[0].Request.Command)
	assert.Equal(t, 250, got[0].Response.Code)
	assert.Len(t, got[0].Response.Lines, 2)
	assert.Equal(t, "MAIL", got[1].Request.Command)
	assert.Equal(t, 250, got[1].Response.Code)
}

func TestParserArchivesDataBodyAsOwnExchange(t *testing.T) {
	p := New[packet.FromSegment]()

	var got []*Exchange
	p.OnExchange = func(e *Exchange) { got = append(got, e) }

	c2sStream := stream.New[packet.FromSegment](0, 0)
	s2cStream := stream.New[packet.FromSegment](0, 0)
	c2sTask := task.New[packet.FromSegment](c2sStream)
	s2cTask := task.New[packet.FromSegment](s2cStream)

	c2sTask.Start(p.C2S())
	s2cTask.Start(p.S2C())

	require.NoError(t, c2sTask.Feed(seg(1, false, "DATA\r\n")))
	require.NoError(t, s2cTask.Feed(seg(1, false, "354 Start mail input\r\n")))
	require.NoError(t, c2sTask.Feed(seg(7, true, "Subject: hi\r\n.\r\n")))
	require.NoError(t, s2cTask.Feed(seg(23, true, "250 Ok: queued\r\n")))

	require.Len(t, got, 2)
	assert.Equal(t, "DATA", got[0].Request.Command)
	assert.Equal(t, 354, got[0].Response.Code)
	assert.Equal(t, ".", got[1].Request.Command)
	assert.Equal(t, "Subject: hi\r\n", string(got[1].Request.Body))
	assert.Equal(t, 250, got[1].Response.Code)
}
