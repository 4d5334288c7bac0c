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

// Package psmtp 提供了基于逐行读取原语实现的 SMTP 解析器
//
// 命令与状态行都是纯文本、以行为单位 不需要 phttp 那样的精确字节读取阶段
// DATA 之后到终止符 "." 之前的所有行被当作消息体一次性归档 本身也是一次
// 独立的 Request/Response 来回 (对应 354/250 两条状态行) 不需要跨方向协调
package psmtp

import (
	"sync"
	"time"

	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/parser/role"
	"github.com/packetd/protolens/task"
)

// defaultPipelineDepth 是 ListMatcher 允许同时在途的未配对请求数
//
// SMTP 允许客户端流水线发送多条命令 (RFC 2920) 服务端按发送顺序逐条应答
const defaultPipelineDepth = 16

// Request 一条 SMTP 命令 DATA 之后的消息体作为独立的一条 Command="." 的 Request 归档
type Request struct {
	Command string
	Args    string
	Body    []byte
	Time    time.Time
}

// Response 一条 SMTP 状态回复 多行回复 (code 后接 '-') 被合并为一个 Response
type Response struct {
	Code  int
	Lines []string
	Time  time.Time
}

// Exchange 一次完整的命令/回复来回
type Exchange struct {
	Request  *Request
	Response *Response
}

// Duration 返回一次来回的耗时
func (e *Exchange) Duration() time.Duration {
	return e.Response.Time.Sub(e.Request.Time)
}

// Callback 在一次命令/回复配对完成时被调用
type Callback func(e *Exchange)

// Parser 是基于逐行读取原语的 SMTP 解析器 两个方向共享同一个 Matcher
type Parser[T packet.Packet] struct {
	OnExchange Callback

	// MaxBodySize DATA 消息体捕获的最大字节数 <=0 时使用默认值
	MaxBodySize int

	mu      sync.Mutex
	matcher role.Matcher
}

// New 创建一个新的 SMTP Parser 实例 每条 Flow 都应该使用独立的实例
func New[T packet.Packet]() *Parser[T] {
	return &Parser[T]{
		matcher: role.NewListMatcher(defaultPipelineDepth, func(_, _ *role.Object) bool {
			return true // 严格按发送顺序 FIFO 配对 不做内容匹配
		}),
	}
}

func (p *Parser[T]) C2S() task.Func[T] {
	return func(ctx *task.Context[T]) error {
		d := newReqDecoder(p.MaxBodySize)
		for {
			line, _, ok, err := ctx.ReadLine()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if obj := d.decode(line, time.Now()); obj != nil {
				p.archive(obj)
			}
		}
	}
}

func (p *Parser[T]) S2C() task.Func[T] {
	return func(ctx *task.Context[T]) error {
		d := &respDecoder{}
		for {
			line, _, ok, err := ctx.ReadLine()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if obj := d.decode(line, time.Now()); obj != nil {
				p.archive(obj)
			}
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
