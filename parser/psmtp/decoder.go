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
	"strconv"
	"strings"
	"time"

	"github.com/packetd/protolens/internal/bufbytes"
	"github.com/packetd/protolens/parser/role"
)

const defaultMaxBodySize = 65536

const dataTerminator = ".\r\n"

// reqDecoder 归档客户端方向的命令 进入 DATA 之后的行被当作消息体累积
type reqDecoder struct {
	inData      bool
	body        *bufbytes.Bytes
	maxBodySize int
}

func newReqDecoder(maxBodySize int) *reqDecoder {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	return &reqDecoder{maxBodySize: maxBodySize}
}

func (d *reqDecoder) decode(line []byte, now time.Time) *role.Object {
	if d.inData {
		if string(line) == dataTerminator || string(line) == "." {
			d.inData = false
			var body []byte
			if d.body != nil {
				body = d.body.Clone()
			}
			d.body = nil
			return role.NewRequestObject(&Request{Command: ".", Time: now, Body: body})
		}
		if d.body == nil {
			d.body = bufbytes.New(d.maxBodySize)
		}
		d.body.Write(line)
		return nil
	}

	text := strings.TrimRight(string(line), "\r\n")
	cmd, args, _ := strings.Cut(text, " ")
	cmd = strings.ToUpper(cmd)

	if cmd == "DATA" {
		d.inData = true
	}
	return role.NewRequestObject(&Request{Command: cmd, Args: args, Time: now})
}

// respDecoder 归档服务端方向的状态回复 多行回复在 code 后接 '-' 直到最后一行才归档
type respDecoder struct {
	lines []string
}

func (d *respDecoder) decode(line []byte, now time.Time) *role.Object {
	text := strings.TrimRight(string(line), "\r\n")
	d.lines = append(d.lines, text)

	final := len(text) < 4 || text[3] != '-'
	if !final {
		return nil
	}

	var code int
	if len(text) >= 3 {
		code, _ = strconv.Atoi(text[:3])
	}

	resp := &Response{Code: code, Lines: d.lines, Time: now}
	d.lines = nil
	return role.NewResponseObject(resp)
}
