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

package pimap

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

func TestParserMatchesOutOfOrderByTag(t *testing.T) {
	p := New[packet.FromSegment]()

	var got []*Exchange
	p.OnExchange = func(e *Exchange) { got = append(got, e) }

	c2sTask := task.New[packet.FromSegment](stream.New[packet.FromSegment](0, 0))
	s2cTask := task.New[packet.FromSegment](stream.New[packet.FromSegment](0, 0))
	c2sTask.Start(p.C2S())
	s2cTask.Start(p.S2C())

	require.NoError(t, c2sTask.Feed(seg(1, false, "a1 LOGIN bob secret\r\na2 SELECT INBOX\r\n")))
	require.NoError(t, s2cTask.Feed(seg(1, false,
		"* 2 EXISTS\r\n* 0 RECENT\r\na2 OK [READ-WRITE] SELECT completed\r\na1 OK LOGIN completed\r\n")))

	require.Len(t, got, 2)

	assert.Equal(t, "a2", got[0].Request.Tag)
	assert.Equal(t, "SELECT", got[0].Request.Command)
	assert.Equal(t, "OK", got[0].Response.Status)
	assert.Len(t, got[0].Response.Untagged, 2)

	assert.Equal(t, "a1", got[1].Request.Tag)
	assert.Equal(t, "LOGIN", got[1].Request.Command)
	assert.Equal(t, "OK", got[1].Response.Status)
}
