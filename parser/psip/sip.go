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

// Package psip 提供了基于逐行读取原语实现的 SIP 解析器
//
// 只覆盖最常见的单帧 (非 multipart) 场景: 起始行 + 头部 + 由 Content-Length
// 描述的可选消息体 结构上与 phttp 的行/精确字节两阶段状态机一致；事务靠
// CSeq 头 (序号+方法 在请求与响应之间原样回显) 配对 而不是到达顺序
package psip

import (
	"sync"
	"time"

	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/parser/role"
	"github.com/packetd/protolens/task"
)

// defaultPipelineDepth 是 ListMatcher 允许同时在途的未配对事务数
const defaultPipelineDepth = 16

// Request 一条 SIP 请求
type Request struct {
	Method string
	URI    string
	Proto  string
	Header map[string][]string
	Body   []byte
	CSeq   string
	Time   time.Time
}

// Response 一条 SIP 响应
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     map[string][]string
	Body       []byte
	CSeq       string
	Time       time.Time
}

// Exchange 一个 SIP 请求与第一个 CSeq 相同的响应 (可能是 1xx 临时响应)
type Exchange struct {
	Request  *Request
	Response *Response
}

// Duration 返回一次事务的耗时
func (e *Exchange) Duration() time.Duration {
	return e.Response.Time.Sub(e.Request.Time)
}

// Callback 在一个事务的请求/响应配对完成时被调用
type Callback func(e *Exchange)

// Parser 是基于逐行读取原语的 SIP 解析器
type Parser[T packet.Packet] struct {
	OnExchange Callback

	// MaxBodySize 消息体捕获的最大字节数 <=0 时使用默认值
	MaxBodySize int

	mu      sync.Mutex
	matcher role.Matcher
}

// New 创建一个新的 SIP Parser 实例 每条 Flow 都应该使用独立的实例
func New[T packet.Packet]() *Parser[T] {
	return &Parser[T]{
		matcher: role.NewListMatcher(defaultPipelineDepth, func(req, rsp *role.Object) bool {
			return req.Obj.(*Request).CSeq == rsp.Obj.(*Response).CSeq
		}),
	}
}

func (p *Parser[T]) C2S() task.Func[T] { return p.run(role.Request) }
func (p *Parser[T]) S2C() task.Func[T] { return p.run(role.Response) }

func (p *Parser[T]) run(side role.Role) task.Func[T] {
	return func(ctx *task.Context[T]) error {
		maxBodySize := p.MaxBodySize
		if maxBodySize <= 0 {
			maxBodySize = defaultMaxBodySize
		}
		d := newDecoder(side, maxBodySize)

		for {
			var (
				chunk []byte
				ok    bool
				err   error
			)

			if d.inBody() {
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
func (p *Parser[T]) archive(obj *role.Object) {
	p.mu.Lock()
	pair := p.matcher.Match(obj)
	p.mu.Unlock()

	if pair == nil || p.OnExchange == nil {
		return
	}
	p.OnExchange(&Exchange{
		Request:  pair.Request.Obj.(*Request),
		Response: pair.Response.Obj.(*Response),
	})
}
