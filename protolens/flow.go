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

package protolens

import (
	"time"

	"github.com/google/uuid"

	"github.com/packetd/protolens/common/socket"
	"github.com/packetd/protolens/internal/fasttime"
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/parser"
	"github.com/packetd/protolens/stream"
	"github.com/packetd/protolens/task"
)

// flow 是单条 5 元组在 Dispatcher 内部的全部状态: 两个方向各自的 Stream/Task
//
// c2s 和 s2c 的解析循环相互独立 可以各自挂起、各自推进；Dispatcher 只负责
// 把到达的数据包路由到正确方向的 Task
type flow[T packet.Packet] struct {
	id uuid.UUID

	c2sStream *stream.Stream[T]
	s2cStream *stream.Stream[T]

	c2sTask *task.Task[T]
	s2cTask *task.Task[T]

	dropped bool
	dropErr error

	// lastSeen 是最近一次收到数据包时的 unix 秒数 走 fasttime 而不是 time.Now()
	// 因为 feed 在每个数据包的路径上都会被调用 —精度降到秒级换取不用每包都系统调用
	lastSeen int64
}

func newFlow[T packet.Packet](p parser.Parser[T], capacity, heapCapacity int) *flow[T] {
	c2sStream := stream.New[T](capacity, heapCapacity)
	s2cStream := stream.New[T](capacity, heapCapacity)

	f := &flow[T]{
		id:        uuid.New(),
		c2sStream: c2sStream,
		s2cStream: s2cStream,
		c2sTask:   task.New[T](c2sStream),
		s2cTask:   task.New[T](s2cStream),
		lastSeen:  fasttime.UnixTimestamp(),
	}

	f.c2sTask.Start(p.C2S())
	f.s2cTask.Start(p.S2C())
	return f
}

// feed 把数据包交给 dir 对应的方向 返回 flow 是否因此被判定为 flow-fatal
func (f *flow[T]) feed(dir socket.Direction, pkt T) error {
	if f.dropped {
		return nil
	}

	f.lastSeen = fasttime.UnixTimestamp()

	t := f.c2sTask
	if dir == socket.DirS2C {
		t = f.s2cTask
	}

	if err := t.Feed(pkt); err != nil {
		f.dropped = true
		f.dropErr = err
		return err
	}
	return nil
}

// finished 返回两个方向的解析循环是否都已经结束 (正常或出错)
func (f *flow[T]) finished() bool {
	return f.dropped || (f.c2sTask.Done() && f.s2cTask.Done())
}

// idleSince 返回 f 自上一次收到数据包以来是否已经超过 maxIdle
//
// 连接被 RST 或者直接消失在网络里时两个方向都不会再收到 FIN 仅靠 finished
// 无法回收这类 Flow 需要靠定期扫描 lastSeen 来兜底
func (f *flow[T]) idleSince(now int64, maxIdle time.Duration) bool {
	return time.Duration(now-f.lastSeen)*time.Second > maxIdle
}
