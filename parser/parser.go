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

// Package parser 定义了协议解析器的注册契约
//
// 一个 Parser 描述了如何消费一条 Flow 的 c2s/s2c 两个方向的字节流；具体的
// 解析循环在 task.Func 中编写 成直线式代码 通过 task.Context 挂起/恢复
package parser

import (
	"github.com/pkg/errors"

	"github.com/packetd/protolens/common/socket"
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/task"
)

// Parser 描述了一种具体协议 (或演示用途的 read/line) 应该如何消费字节流
type Parser[T packet.Packet] interface {
	// C2S 返回 client->server 方向的解析循环 返回 nil 表示该方向不需要解析
	C2S() task.Func[T]

	// S2C 返回 server->client 方向的解析循环 返回 nil 表示该方向不需要解析
	S2C() task.Func[T]
}

// Factory 根据每条新 Flow 创建一个独立的 Parser 实例
//
// 解析器实例持有回调闭包等每条 Flow 私有的状态 不能跨 Flow 共享
type Factory[T packet.Packet] func() Parser[T]

var registry = map[socket.L7Proto]any{}

// Register 注册一个应用层协议对应的 Parser Factory
//
// 重复注册同一个 L7Proto 会覆盖此前的注册 —与 protocol 包的连接池注册表一致
func Register[T packet.Packet](proto socket.L7Proto, f Factory[T]) {
	registry[proto] = f
}

// Get 取出 proto 对应的 Factory 调用方需要自行断言到具体的 Factory[T]
func Get(proto socket.L7Proto) (any, error) {
	f, ok := registry[proto]
	if !ok {
		return nil, errors.Errorf("parser factory (%s) not found", proto)
	}
	return f, nil
}
