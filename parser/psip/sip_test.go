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

package psip

import (
	"strconv"
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

func TestParserMatchesRequestResponseByCSeq(t *testing.T) {
	p := New[packet.FromSegment]()

	var got *Exchange
	p.OnExchange = func(e *Exchange) { got = e }

	c2sTask := task.New[packet.FromSegment](stream.New[packet.FromSegment](0, 0))
	s2cTask := task.New[packet.FromSegment](stream.New[packet.FromSegment](0, 0))
	c2sTask.Start(p.C2S())
	s2cTask.Start(p.S2C())

	req := "REGISTER sip:example.com SIP/2.0\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Content-Length: 0\r\n\r\n"
	require.NoError(t, c2sTask.Feed(seg(1, true, req)))
	assert.Nil(t, got)

	resp := "SIP/2.0 200 OK\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.1:5060\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"Content-Length: 0\r\n\r\n"
	require.NoError(t, s2cTask.Feed(seg(1, true, resp)))

	require.NotNil(t, got)
	assert.Equal(t, "REGISTER", got.Request.Method)
	assert.Equal(t, "sip:example.com", got.Request.URI)
	assert.Equal(t, 200, got.Response.StatusCode)
	assert.Equal(t, "1 REGISTER", got.Response.CSeq)
}

func TestParserCapturesBodyByContentLength(t *testing.T) {
	p := New[packet.FromSegment]()

	var got *Exchange
	p.OnExchange = func(e *Exchange) { got = e }

	c2sTask := task.New[packet.FromSegment](stream.New[packet.FromSegment](0, 0))
	s2cTask := task.New[packet.FromSegment](stream.New[packet.FromSegment](0, 0))
	c2sTask.Start(p.C2S())
	s2cTask.Start(p.S2C())

	body := "v=0\r\no=- 0 0 IN IP4 10.0.0.1\r\n"
	req := "INVITE sip:bob@example.com SIP/2.0\r\n" +
		"CSeq: 2 INVITE\r\n" +
		"Content-Type: application/sdp\r\n" +
		"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
	require.NoError(t, c2sTask.Feed(seg(1, true, req)))

	resp := "SIP/2.0 180 Ringing\r\nCSeq: 2 INVITE\r\nContent-Length: 0\r\n\r\n"
	require.NoError(t, s2cTask.Feed(seg(1, true, resp)))

	require.NotNil(t, got)
	assert.Equal(t, body, string(got.Request.Body))
	assert.Equal(t, 180, got.Response.StatusCode)
}
