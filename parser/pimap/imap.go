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

// Package pimap 提供了基于逐行读取原语实现的 IMAP4 解析器
//
// 只覆盖非字面量 (literal) 语法的命令/响应: 客户端一行一条带 tag 的命令
// 服务端零或多条 "* " 开头的未加 tag 响应 最终以同一个 tag 的完成行结束
// 按 tag 配对而不是按到达顺序 —客户端允许在收到上一条完成响应前发出下一条命令
package pimap

import (
	"strings"
	"sync"
	"time"

	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/parser/role"
	"github.com/packetd/protolens/task"
)

// defaultPipelineDepth 是 ListMatcher 允许同时在途的未配对命令数
const defaultPipelineDepth = 16

// Request 一条带 tag 的 IMAP 命令
type Request struct {
	Tag     string
	Command string
	Args    string
	Time    time.Time
}

// Response 一次完成响应 Untagged 收集了自上一个 tagged 完成响应以来的所有 "* " 响应行 不区分由哪条命令产生
type Response struct {
	Tag      string
	Status   string // OK / NO / BAD
	Line     string
	Untagged []string
	Time     time.Time
}

// Exchange 一次完整的命令/响应来回
type Exchange struct {
	Request  *Request
	Response *Response
}

// Duration 返回一次来回的耗时
func (e *Exchange) Duration() time.Duration {
	return e.Response.Time.Sub(e.Request.Time)
}

// Callback 在一次命令/响应配对完成时被调用
type Callback func(e *Exchange)

// Parser 是基于逐行读取原语的 IMAP4 解析器
type Parser[T packet.Packet] struct {
	OnExchange Callback

	mu      sync.Mutex
	matcher role.Matcher
}

// New 创建一个新的 IMAP Parser 实例 每条 Flow 都应该使用独立的实例
func New[T packet.Packet]() *Parser[T] {
	return &Parser[T]{
		matcher: role.NewListMatcher(defaultPipelineDepth, func(req, rsp *role.Object) bool {
			return req.Obj.(*Request).Tag == rsp.Obj.(*Response).Tag
		}),
	}
}

func (p *Parser[T]) C2S() task.Func[T] {
	return func(ctx *task.Context[T]) error {
		for {
			line, _, ok, err := ctx.ReadLine()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			text := strings.TrimRight(string(line), "\r\n")
			tag, rest, _ := strings.Cut(text, " ")
			cmd, args, _ := strings.Cut(rest, " ")

			p.archive(role.NewRequestObject(&Request{
				Tag:     tag,
				Command: strings.ToUpper(cmd),
				Args:    args,
				Time:    time.Now(),
			}))
		}
	}
}

func (p *Parser[T]) S2C() task.Func[T] {
	return func(ctx *task.Context[T]) error {
		var untagged []string

		for {
			line, _, ok, err := ctx.ReadLine()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			text := strings.TrimRight(string(line), "\r\n")
			if strings.HasPrefix(text, "* ") {
				untagged = append(untagged, text)
				continue
			}

			tag, rest, _ := strings.Cut(text, " ")
			status, line2, _ := strings.Cut(rest, " ")

			p.archive(role.NewResponseObject(&Response{
				Tag:      tag,
				Status:   strings.ToUpper(status),
				Line:     line2,
				Untagged: untagged,
				Time:     time.Now(),
			}))
			untagged = nil
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
