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
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/packetd/protolens/parser/role"
)

func newError(format string, args ...any) error {
	format = "psip: " + format
	return errors.Errorf(format, args...)
}

const defaultMaxBodySize = 65536

type decodeState uint8

const (
	stateHeadLine decodeState = iota
	stateHeader
	stateBody
)

// decoder 是单个方向 (恒定为 Request 或 Response) 上的 SIP 行解析状态机
type decoder struct {
	role role.Role

	state decodeState

	method, uri, proto string
	statusCode         int
	reason             string

	header        map[string][]string
	contentLength int
	drained       int
	body          []byte

	maxBodySize int
	t0          time.Time
}

func newDecoder(r role.Role, maxBodySize int) *decoder {
	return &decoder{role: r, maxBodySize: maxBodySize}
}

func (d *decoder) reset() {
	d.state = stateHeadLine
	d.header = nil
	d.contentLength = 0
	d.drained = 0
	d.body = nil
}

// inBody 返回当前是否处于按 Content-Length 精确读取消息体的阶段
func (d *decoder) inBody() bool {
	return d.state == stateBody && d.contentLength > 0
}

func (d *decoder) remainingBody() int {
	return d.contentLength - d.drained
}

// decode 处理一行数据 (起始行/头部行) 或一段精确字节 (消息体) 消息归档完成时返回非 nil 的 Object
func (d *decoder) decode(chunk []byte, now time.Time) (*role.Object, error) {
	if d.state == stateHeadLine {
		d.t0 = now
		d.header = make(map[string][]string)
		if err := d.decodeHeadLine(chunk); err != nil {
			return nil, err
		}
		d.state = stateHeader
		return nil, nil
	}

	if d.state == stateHeader {
		text := strings.TrimRight(string(chunk), "\r\n")
		if text == "" {
			if d.contentLength > 0 {
				d.state = stateBody
				return nil, nil
			}
			return d.archive(now), nil
		}

		k, v, ok := strings.Cut(text, ":")
		if !ok {
			return nil, newError("malformed header line: %q", text)
		}
		k = canonicalHeader(k)
		v = strings.TrimSpace(v)
		d.header[k] = append(d.header[k], v)

		if k == "content-length" {
			n, err := strconv.Atoi(v)
			if err == nil {
				d.contentLength = n
			}
		}
		return nil, nil
	}

	// stateBody: chunk 即为完整消息体 (ReadN 一次性返回 remainingBody() 字节)
	d.body = append(d.body, chunk...)
	if len(d.body) > d.maxBodySize {
		d.body = d.body[:d.maxBodySize]
	}
	d.drained += len(chunk)
	return d.archive(now), nil
}

func (d *decoder) decodeHeadLine(line []byte) error {
	text := strings.TrimRight(string(line), "\r\n")
	parts := strings.SplitN(text, " ", 3)
	if len(parts) != 3 {
		return newError("malformed start line: %q", text)
	}

	if d.role == role.Request {
		d.method, d.uri, d.proto = parts[0], parts[1], parts[2]
		return nil
	}

	d.proto = parts[0]
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return newError("malformed status code: %q", parts[1])
	}
	d.statusCode = code
	d.reason = parts[2]
	return nil
}

func (d *decoder) archive(now time.Time) *role.Object {
	defer d.reset()

	cseq := strings.Join(d.header["cseq"], ",")

	if d.role == role.Request {
		return role.NewRequestObject(&Request{
			Method: d.method,
			URI:    d.uri,
			Proto:  d.proto,
			Header: d.header,
			Body:   d.body,
			CSeq:   cseq,
			Time:   d.t0,
		})
	}
	return role.NewResponseObject(&Response{
		Proto:      d.proto,
		StatusCode: d.statusCode,
		Reason:     d.reason,
		Header:     d.header,
		Body:       d.body,
		CSeq:       cseq,
		Time:       now,
	})
}

// canonicalHeader 把头部字段名规整为小写形式 SIP 头部大小写不敏感
func canonicalHeader(k string) string {
	return strings.ToLower(strings.TrimSpace(k))
}
