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

// Package phttp 提供了基于逐行读取原语实现的 HTTP/1.1 解析器
//
// c2s 方向恒定解析 Request s2c 方向恒定解析 Response；两个方向各自独立的
// Task goroutine 解析完成后通过 role.Matcher 配对 配对成功即得到一次完整的
// 请求/响应来回 由调用方注册的回调接收
package phttp

import (
	"net/http"
	"sync"
	"time"

	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/parser/role"
	"github.com/packetd/protolens/task"
)

// Request 裁剪自 http.Request 的请求视图
type Request struct {
	Method  string
	Header  http.Header
	Proto   string
	URL     string
	Path    string
	Close   bool
	Size    int
	Chunked bool
	Time    time.Time
}

// Response 裁剪自 http.Response 的响应视图
type Response struct {
	Header     http.Header
	Status     string
	StatusCode int
	Proto      string
	Close      bool
	Size       int
	Chunked    bool
	Body       []byte
	Time       time.Time
}

// RoundTrip 一次完整的 HTTP 请求/响应来回
type RoundTrip struct {
	Request  *Request
	Response *Response
}

// Duration 返回一次来回的耗时 Request.Time 记录请求头解析完成的时刻 Response.Time 记录响应末字节
func (rt *RoundTrip) Duration() time.Duration {
	return rt.Response.Time.Sub(rt.Request.Time)
}

// Callback 在一次请求/响应配对完成时被调用
type Callback func(rt *RoundTrip)

// Parser 是基于逐行读取原语的 HTTP/1.1 解析器 两个方向共享同一个 Matcher
type Parser[T packet.Packet] struct {
	OnRoundTrip Callback

	// EnableBodyCapture 是否捕获 JSON 响应体 默认不捕获
	EnableBodyCapture bool
	// MaxBodySize 捕获响应体的最大字节数 <=0 时使用默认值
	MaxBodySize int

	mu      sync.Mutex
	matcher role.Matcher
}

// New 创建一个新的 HTTP Parser 实例 每条 Flow 都应该使用独立的实例
func New[T packet.Packet]() *Parser[T] {
	return &Parser[T]{matcher: role.NewSingleMatcher()}
}

func (p *Parser[T]) C2S() task.Func[T] { return p.run(role.Request) }
func (p *Parser[T]) S2C() task.Func[T] { return p.run(role.Response) }

func (p *Parser[T]) run(side role.Role) task.Func[T] {
	return func(ctx *task.Context[T]) error {
		d := newDecoder(side, p.EnableBodyCapture, p.MaxBodySize)
		defer d.release()

		for {
			var (
				chunk []byte
				ok    bool
				err   error
			)

			if d.inExactBody() {
				// Content-Length body 是二进制安全的 不能假设会出现换行符
				// 一次精确读取剩余的全部字节 而不是按行扫描
				chunk, _, ok, err = ctx.ReadN(d.remainingBody())
			} else {
				chunk, _, ok, err = ctx.ReadLine()
			}
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			obj, err := d.decode(chunk, time.Now())
			if err != nil {
				return err
			}
			if obj == nil {
				continue
			}
			p.archive(obj)
		}
	}
}

// archive 把一方已归档完成的 Object 递交给 Matcher 配对成功时触发回调
//
// c2s/s2c 两个方向运行在各自独立的 goroutine 中 对 Dispatcher 而言可能
// 并发调用到这里 Matcher 本身不是并发安全的 用 mu 保护
func (p *Parser[T]) archive(obj *role.Object) {
	p.mu.Lock()
	pair := p.matcher.Match(obj)
	p.mu.Unlock()

	if pair == nil || p.OnRoundTrip == nil {
		return
	}
	p.OnRoundTrip(&RoundTrip{
		Request:  pair.Request.Obj.(*Request),
		Response: pair.Response.Obj.(*Response),
	})
}

func fromHTTPRequest(r *http.Request) *Request {
	return &Request{
		Method: r.Method,
		Header: r.Header,
		Proto:  r.Proto,
		URL:    r.URL.String(),
		Path:   r.URL.Path,
		Close:  r.Close,
		Size:   int(r.ContentLength),
	}
}

func fromHTTPResponse(r *http.Response) *Response {
	return &Response{
		Header:     r.Header,
		Status:     r.Status,
		StatusCode: r.StatusCode,
		Proto:      r.Proto,
		Close:      r.Close,
	}
}
