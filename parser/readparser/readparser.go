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

// Package readparser 提供了最简单的演示用解析器: 不做任何协议切割 原样透传字节
//
// 常用于基准测试或者宿主只关心原始重组字节流、不关心应用层语义的场景
package readparser

import (
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/stream"
	"github.com/packetd/protolens/task"
)

// MaxRead 是单次 Read 调用尝试读取的最大字节数 略大于默认读缓冲区容量
// 以确保每次都能把缓冲区中已经就绪的数据一次取完
const MaxRead = stream.DefaultCapacity + 10

// Callback 在每次读到新字节时被调用
type Callback func(b []byte, seq uint32)

// Parser 是 read 协议的解析器 两个方向各自独立透传
type Parser[T packet.Packet] struct {
	OnC2S Callback
	OnS2C Callback
}

// New 创建一个新的 read Parser 实例
func New[T packet.Packet]() *Parser[T] {
	return &Parser[T]{}
}

func run[T packet.Packet](cb Callback) task.Func[T] {
	return func(ctx *task.Context[T]) error {
		for {
			data, seq, ok := ctx.Read(MaxRead)
			if !ok {
				return nil
			}
			if cb != nil {
				cb(data, seq)
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
