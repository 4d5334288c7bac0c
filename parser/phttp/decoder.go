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
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
	"golang.org/x/net/http/httpguts"

	"github.com/packetd/protolens/internal/splitio"
	"github.com/packetd/protolens/parser/role"
)

func newError(format string, args ...any) error {
	format = "phttp: " + format
	return errors.Errorf(format, args...)
}

var (
	charHTTP11     = []byte("HTTP/1.1")
	charHTTP11CRLF = append(charHTTP11, splitio.CharCRLF...)
	charEndOfBody  = append([]byte("0"), splitio.CharCRLF...)
)

type decodeState uint8

const (
	stateDecodeHeadLine decodeState = iota
	stateDecodeHeader
	stateDecodeBody
)

const defaultMaxBodySize = 102400 // 100KB

// decoder 是单个方向 (恒定为 Request 或 Response) 上的 HTTP/1.1 行解析状态机
//
// role 在构造时固定 不像通用连接池的 decoder 那样需要现场探测是 Request 还是
// Response —Dispatcher 已经替我们区分好了方向
type decoder struct {
	role role.Role

	state        decodeState
	rbuf         *bytebufferpool.ByteBuffer
	bodyBuf      bytes.Buffer
	headBodyLine []byte

	reqTime time.Time
	t0      time.Time

	chunked       bool
	drainBytes    int
	expectedBytes int

	enableBodyCapture bool
	maxBodySize       int
	captureBody       bool

	obj *role.Object
}

func newDecoder(r role.Role, enableBodyCapture bool, maxBodySize int) *decoder {
	if maxBodySize <= 0 {
		maxBodySize = defaultMaxBodySize
	}
	return &decoder{
		role:              r,
		rbuf:              bytebufferpool.Get(),
		enableBodyCapture: enableBodyCapture,
		maxBodySize:       maxBodySize,
	}
}

func (d *decoder) release() {
	bytebufferpool.Put(d.rbuf)
}

func (d *decoder) reset() {
	d.state = stateDecodeHeadLine
	d.obj = nil
	d.drainBytes = 0
	d.expectedBytes = 0
	d.chunked = false
	d.rbuf.Reset()
	d.captureBody = false
	d.bodyBuf.Reset()
	d.headBodyLine = nil
}

// inExactBody 返回当前是否处于"已知剩余字节数"的非 chunked body 阶段
//
// 这种 body 是二进制安全的 不能假设其中会出现换行符 调用方应当改用 ReadN
// 精确读取 remainingBody 返回的字节数 而不是继续按行读取
func (d *decoder) inExactBody() bool {
	return d.state == stateDecodeBody && !d.chunked && d.expectedBytes > 0
}

func (d *decoder) remainingBody() int {
	return d.expectedBytes - d.drainBytes
}

// decode 处理一行数据 在一次完整的 Request/Response 归档完成时返回非 nil 的 Object
func (d *decoder) decode(line []byte, now time.Time) (*role.Object, error) {
	d.t0 = now

	obj, err := d.decodeLine(line)
	if err != nil {
		d.reset() // 出现任何错误都从头开始探测 容忍中途截断的连接
		return nil, err
	}

	// 没有 body 的请求在 header 解析完成的瞬间就已经结束
	if d.state == stateDecodeBody && !d.chunked && d.expectedBytes == 0 {
		return d.decodeBody(nil)
	}
	return obj, nil
}

func (d *decoder) decodeLine(line []byte) (*role.Object, error) {
	if d.state == stateDecodeHeadLine {
		if !d.decodeHeadLine(line) {
			return nil, nil
		}
		d.rbuf.Write(line)
		d.state = stateDecodeHeader
		return nil, nil
	}

	if d.state == stateDecodeHeader {
		switch d.role {
		case role.Request:
			return nil, d.decodeRequestHeader(line)
		case role.Response:
			return nil, d.decodeResponseHeader(line)
		}
	}

	return d.decodeBody(line)
}

func (d *decoder) decodeHeadLine(line []byte) bool {
	if d.role == role.Request {
		return bytes.HasSuffix(line, charHTTP11CRLF)
	}
	return bytes.HasPrefix(line, charHTTP11) && bytes.HasSuffix(line, splitio.CharCRLF)
}

func (d *decoder) decodeBody(line []byte) (*role.Object, error) {
	complete, err := d.drainBody(line)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, nil
	}
	obj := d.obj
	d.reset()
	return obj, nil
}

func (d *decoder) decodeRequestHeader(line []byte) error {
	d.rbuf.Write(line)
	if !bytes.Equal(line, splitio.CharCRLF) {
		return nil
	}

	defer d.rbuf.Reset()
	r, err := http.ReadRequest(bufio.NewReaderSize(bytes.NewReader(d.rbuf.B), d.rbuf.Len()))
	if err != nil {
		return err
	}
	if err := validateHeaders(r.Header); err != nil {
		return err
	}

	d.state = stateDecodeBody
	d.chunked = checkChunkedEncoding(r.TransferEncoding) && r.ContentLength < 0
	if r.ContentLength > 0 {
		d.expectedBytes = int(r.ContentLength)
	}

	d.reqTime = d.t0
	req := fromHTTPRequest(r)
	req.Time = d.reqTime
	d.obj = role.NewRequestObject(req)
	return nil
}

func (d *decoder) decodeResponseHeader(line []byte) error {
	d.rbuf.Write(line)
	if !bytes.Equal(line, splitio.CharCRLF) {
		return nil
	}

	defer d.rbuf.Reset()
	r, err := http.ReadResponse(bufio.NewReaderSize(bytes.NewReader(d.rbuf.B), d.rbuf.Len()), nil)
	if err != nil {
		return err
	}
	if err := validateHeaders(r.Header); err != nil {
		return err
	}

	d.state = stateDecodeBody
	d.chunked = checkChunkedEncoding(r.TransferEncoding) && r.ContentLength < 0
	if r.ContentLength > 0 {
		d.expectedBytes = int(r.ContentLength)
	}

	resp := fromHTTPResponse(r)
	d.obj = role.NewResponseObject(resp)
	d.afterResponseHeader(resp)
	return nil
}

func (d *decoder) afterResponseHeader(resp *Response) {
	if !d.enableBodyCapture {
		d.captureBody = false
		return
	}
	d.captureBody = isJSONContentType(resp.Header.Get("Content-Type"))
}

func (d *decoder) appendBodyChunk(p []byte) {
	if !d.enableBodyCapture || !d.captureBody || d.bodyBuf.Len() >= d.maxBodySize {
		return
	}
	remain := d.maxBodySize - d.bodyBuf.Len()
	if len(p) > remain {
		p = p[:remain]
	}
	d.bodyBuf.Write(p)
}

func (d *decoder) archiveResponseBody(resp *Response) {
	if !d.enableBodyCapture || !d.captureBody {
		return
	}
	b := bytes.TrimSpace(bytes.TrimSuffix(d.bodyBuf.Bytes(), []byte("\r\n")))
	if len(b) == 0 {
		return
	}
	if json.Valid(b) {
		resp.Body = json.RawMessage(append([]byte(nil), b...))
	}
}

func (d *decoder) archive() error {
	if d.obj == nil || d.obj.Obj == nil {
		return newError("role (%s) got nil obj", d.role)
	}
	switch obj := d.obj.Obj.(type) {
	case *Request:
		obj.Size = d.decideContentLength()
		obj.Chunked = d.chunked
	case *Response:
		obj.Size = d.decideContentLength()
		obj.Chunked = d.chunked
		obj.Time = d.t0 // response 的时间以接收到的最后一个字节为准
		d.archiveResponseBody(obj)
	}
	return nil
}

// drainBody 排空 Request / Response body 内容 支持 Content-Length 与 chunked 两种模式
//
// chunked-body = *chunk last-chunk trailer-section CRLF
// chunk        = chunk-size [ chunk-ext ] CRLF chunk-data CRLF
// https://datatracker.ietf.org/doc/html/rfc9112#name-chunked-transfer-coding
func (d *decoder) drainBody(line []byte) (bool, error) {
	if d.chunked && len(d.headBodyLine) == 0 && bytes.HasSuffix(line, splitio.CharCRLF) && len(line) > 2 {
		cloned := make([]byte, len(line)-2)
		copy(cloned, line)
		d.headBodyLine = cloned
	}

	d.drainBytes += len(line)

	if !d.chunked {
		d.appendBodyChunk(line)
		if d.drainBytes == d.expectedBytes {
			if err := d.archive(); err != nil {
				return false, err
			}
			return true, nil
		}
		if d.drainBytes > d.expectedBytes {
			return false, newError("drainBytes %d greater than expectedBytes %d", d.drainBytes, d.expectedBytes)
		}
		return false, nil
	}

	if bytes.Equal(line, charEndOfBody) {
		d.drainBytes -= 5
		if err := d.archive(); err != nil {
			return false, err
		}
		return true, nil
	}

	if len(line) > 8 {
		d.appendBodyChunk(line)
		return false, nil
	}

	if bytes.HasSuffix(line, splitio.CharCRLF) {
		if len(line) == 2 {
			return false, nil
		}
		if _, err := parseHexUint(line[:len(line)-2]); err == nil {
			d.drainBytes -= len(line)
		} else {
			d.drainBytes -= 2
		}
	}
	return false, nil
}

func (d *decoder) decideContentLength() int {
	if !d.chunked {
		return d.drainBytes
	}
	n, err := parseHexUint(d.headBodyLine)
	if err != nil {
		return d.drainBytes
	}
	if int(n) > d.drainBytes {
		return int(n)
	}
	return d.drainBytes
}

func parseHexUint(v []byte) (uint64, error) {
	if len(v) == 0 {
		return 0, newError("empty hex number for chunk length")
	}
	var n uint64
	for i, b := range v {
		switch {
		case '0' <= b && b <= '9':
			b = b - '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, newError("invalid byte in chunk length")
		}
		if i == 16 {
			return 0, newError("http chunk length too large")
		}
		n <<= 4
		n |= uint64(b)
	}
	return n, nil
}

func checkChunkedEncoding(te []string) bool {
	return len(te) > 0 && te[0] == "chunked"
}

// validateHeaders 对 net/http 已经解析好的头部做一次 RFC 7230 token/value 校验
//
// net/http 的 MIME 头解析比 RFC 7230 宽松 会放过一些非法 token/value —用
// httpguts 做一次额外检查 遇到不合规的头部就当作解析失败处理 而不是悄悄放行
func validateHeaders(h http.Header) error {
	for k, vs := range h {
		if !httpguts.ValidHeaderFieldName(k) {
			return newError("invalid header field name: %q", k)
		}
		for _, v := range vs {
			if !httpguts.ValidHeaderFieldValue(v) {
				return newError("invalid header field value for %q", k)
			}
		}
	}
	return nil
}

func isJSONContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "application/json") || strings.Contains(ct, "text/json")
}
