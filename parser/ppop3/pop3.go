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

// Package ppop3 提供了基于逐行读取原语实现的 POP3 解析器
//
// POP3 本身是严格同步的: 客户端一次只能有一条命令在途 用 SingleMatcher 即可
// 部分命令 (RETR/TOP/LIST/UIDL 不带参数) 的成功回复是多行的 以单独一行 "."
// 结束 —是否进入多行模式取决于上一条命令 由 Parser 在两个方向间共享这一点点状态
package ppop3

import (
	"strings"
	"sync"
	"time"

	"github.com/packetd/protolens/internal/bufbytes"
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/parser/role"
	"github.com/packetd/protolens/task"
)

const defaultMaxBodySize = 65536

const dotTerminator = ".\r\n"

// Request 一条 POP3 命令
type Request struct {
	Command string
	Args    string
	Time    time.Time
}

// Response 一条 POP3 回复 Status 为 "+OK" 或 "-ERR" Body 仅在多行回复时非空
type Response struct {
	Status string
	Line   string
	Body   []byte
	Time   time.Time
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

// Parser 是基于逐行读取原语的 POP3 解析器
type Parser[T packet.Packet] struct {
	OnExchange Callback

	// MaxBodySize 多行回复捕获的最大字节数 <=0 时使用默认值
	MaxBodySize int

	mu      sync.Mutex
	matcher role.Matcher

	// pendingCmd/pendingArgs 是最近一条已归档但尚未配对的客户端命令
	// S2C 方向靠它判断即将到来的回复是否应该进入多行读取模式
	pendingCmd  string
	pendingArgs string
}

// New 创建一个新的 POP3 Parser 实例 每条 Flow 都应该使用独立的实例
func New[T packet.Packet]() *Parser[T] {
	return &Parser[T]{matcher: role.NewSingleMatcher()}
}

func (p *Parser[T]) setPending(cmd, args string) {
	p.mu.Lock()
	p.pendingCmd, p.pendingArgs = cmd, args
	p.mu.Unlock()
}

// expectMultiline 判断当前待配对命令的成功回复是否为多行回复
func (p *Parser[T]) expectMultiline() bool {
	p.mu.Lock()
	cmd, args := p.pendingCmd, p.pendingArgs
	p.mu.Unlock()

	switch cmd {
	case "RETR", "TOP":
		return true
	case "LIST", "UIDL":
		return strings.TrimSpace(args) == ""
	default:
		return false
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
			cmd, args, _ := strings.Cut(text, " ")
			cmd = strings.ToUpper(cmd)

			p.setPending(cmd, args)
			p.archive(role.NewRequestObject(&Request{Command: cmd, Args: args, Time: time.Now()}))
		}
	}
}

func (p *Parser[T]) S2C() task.Func[T] {
	return func(ctx *task.Context[T]) error {
		maxBodySize := p.MaxBodySize
		if maxBodySize <= 0 {
			maxBodySize = defaultMaxBodySize
		}

		for {
			line, _, ok, err := ctx.ReadLine()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}

			text := strings.TrimRight(string(line), "\r\n")
			status, _, _ := strings.Cut(text, " ")
			now := time.Now()

			if status != "+OK" || !p.expectMultiline() {
				p.archive(role.NewResponseObject(&Response{Status: status, Line: text, Time: now}))
				continue
			}

			body := bufbytes.New(maxBodySize)
			for {
				l2, _, ok2, err2 := ctx.ReadLine()
				if err2 != nil {
					return err2
				}
				if !ok2 {
					p.archive(role.NewResponseObject(&Response{Status: status, Line: text, Body: body.Clone(), Time: now}))
					return nil
				}
				if string(l2) == dotTerminator {
					break
				}
				body.Write(l2)
			}
			p.archive(role.NewResponseObject(&Response{Status: status, Line: text, Body: body.Clone(), Time: now}))
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
