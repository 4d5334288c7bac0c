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

// Package lineparser 提供了按行切割的演示用解析器
//
// 常用于验证 readline/peekline 的行为 也可以直接当作行分隔类协议
// (如简单的文本协议) 的起点
package lineparser

import (
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/task"
)

// Callback 在每次读到完整一行时被调用 b 包含行终止符
type Callback func(b []byte, seq uint32)

// Parser 是按行切割的解析器 两个方向各自独立
type Parser[T packet.Packet] struct {
	OnC2S Callback
	OnS2C Callback
}

// New 创建一个新的 line Parser 实例
func New[T packet.Packet]() *Parser[T] {
	return &Parser[T]{}
}

func run[T packet.Packet](cb Callback) task.Func[T] {
	return func(ctx *task.Context[T]) error {
		for {
			// 先 peek 确认下一行内容 再 read 消费；两者必须返回相同字节
			// 内容一致性由 stream 包的 peek/read 契约保证 这里不重复校验
			_, _, peekOK, err := ctx.PeekLine()
			if err != nil {
				return err
			}
			if !peekOK {
				return nil
			}

			line, seq, ok, err := ctx.ReadLine()
			if err != nil {
				return err
			}
			if !ok || len(line) == 0 {
				return nil
			}

			if cb != nil {
				cb(line, seq)
			}
		}
	}
}

func (p *Parser[T]) C2S() task.Func[T] {
	if p.OnC2S == nil {
		return nil
	}
	return run[T](p.OnC2S)
}

func (p *Parser[T]) S2C() task.Func[T] {
	if p.OnS2C == nil {
		return nil
	}
	return run[T](p.OnS2C)
}

// Factory 返回一个每次调用都创建独立 Parser 实例的工厂函数
func Factory[T packet.Packet]() func() *Parser[T] {
	return New[T]
}
