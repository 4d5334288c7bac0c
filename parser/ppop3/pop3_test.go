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

package ppop3

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

func newPair(p *Parser[packet.FromSegment]) (*task.Task[packet.FromSegment], *task.Task[packet.FromSegment]) {
	c2sTask := task.New[packet.FromSegment](stream.New[packet.FromSegment](0, 0))
	s2cTask := task.New[packet.FromSegment](stream.New[packet.FromSegment](0, 0))
	c2sTask.Start(p.C2S())
	s2cTask.Start(p.S2C())
	return c2sTask, s2cTask
}

func TestParserSingleLineReply(t *testing.T) {
	p := New[packet.FromSegment]()

	var got *Exchange
	p.OnExchange = func(e *Exchange) { got = e }

	c2sTask, s2cTask := newPair(p)

	require.NoError(t, c2sTask.Feed(seg(1, false, "USER bob\r\n")))
	require.NoError(t, s2cTask.Feed(seg(1, false, "+OK\r\n")))

	require.NotNil(t, got)
	assert.Equal(t, "USER", got.Request.Command)
	assert.Equal(t, "+OK", got.Response.Status)
	assert.Nil(t, got.Response.Body)
}

func TestParserMultilineRetrReply(t *testing.T) {
	p := New[packet.FromSegment]()

	var got *Exchange
	p.OnExchange = func(e *Exchange) { got = e }

	c2sTask, s2cTask := newPair(p)

	require.NoError(t, c2sTask.Feed(seg(1, false, "RETR 1\r\n")))
	require.NoError(t, s2cTask.Feed(seg(1, true, "+OK 120 octets\r\nSubject: hi\r\n\r\nbody\r\n.\r\n")))

	require.NotNil(t, got)
	assert.Equal(t, "RETR", got.Request.Command)
	assert.Equal(t, "+OK", got.Response.Status)
	assert.Equal(t, "Subject: hi\r\n\r\nbody\r\n", string(got.Response.Body))
}

func TestParserListWithArgIsSingleLine(t *testing.T) {
	p := New[packet.FromSegment]()

	var got *Exchange
	p.OnExchange = func(e *Exchange) { got = e }

	c2sTask, s2cTask := newPair(p)

	require.NoError(t, c2sTask.Feed(seg(1, false, "LIST 2\r\n")))
	require.NoError(t, s2cTask.Feed(seg(1, false, "+OK 2 200\r\n")))

	require.NotNil(t, got)
	assert.Nil(t, got.Response.Body)
}
