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

// Package task 把 Parser 写成一段直线式、可挂起的代码 而不需要显式状态机
//
// Go 没有一等协程 但有 goroutine + channel；这里借用经典的"词法扫描器"写法
// (一个 goroutine 代表一个可挂起的任务 靠无缓冲 channel 做握手) 来模拟协作式任务:
// 任何时刻只有一方在运行 —要么是派发者在执行 Feed 推进重组 要么是解析器
// goroutine 在消费已经重组好的字节 —两者之间从不并发 所以 Stream 不需要加锁
//
// 这不是一个通用的任务调度器 Task 自身不持有工作协程池 也不使用 channel 做
// 跨任务通信；每个 Task 绑定单个方向的一个 Stream 生命周期与其所属的方向完全一致
// 一条 Flow 的 c2s/s2c 两个方向各自拥有独立的 Task 可以各自独立地挂起/推进
package task

import (
	"runtime"

	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/stream"
)

// Func 是解析器的入口 在独立的 goroutine 中运行 直到返回或者 panic 被 Task 捕获
//
// 函数体内通过 ctx 的 Read/ReadN/ReadLine/PeekLine 读取字节；这些调用在数据不足时
// 会挂起当前 goroutine 把控制权交还给派发者 外观上是直线式阻塞读取
type Func[T packet.Packet] func(ctx *Context[T]) error

// Context 是 Parser 在运行期间观察到的读取面 只绑定单个方向的 Stream
type Context[T packet.Packet] struct {
	task *Task[T]
}

// Read 尝试读取最多 max 字节 数据不足时挂起 ok=false 表示流已经结束 (FIN)
func (c *Context[T]) Read(max int) (data []byte, seq uint32, ok bool) {
	for {
		data, seq, state := c.task.stream.TryRead(max)
		switch state {
		case stream.StateReady:
			return data, seq, true
		case stream.StateEnd:
			return nil, seq, false
		default: // StatePending
			c.task.suspend()
		}
	}
}

// ReadN 精确读取 n 字节 n 超过缓冲区容量时立即返回 err
func (c *Context[T]) ReadN(n int) (data []byte, seq uint32, ok bool, err error) {
	for {
		data, seq, state, err := c.task.stream.TryReadN(n)
		if err != nil {
			return nil, 0, false, err
		}
		switch state {
		case stream.StateReady:
			return data, seq, true, nil
		case stream.StateEnd:
			return nil, seq, false, nil
		default:
			c.task.suspend()
		}
	}
}

// ReadLine 读取一行 (含终止符) 缓冲区写满仍未见终止符时返回 err
func (c *Context[T]) ReadLine() (line []byte, seq uint32, ok bool, err error) {
	for {
		line, seq, state, err := c.task.stream.TryReadLine()
		if err != nil {
			return nil, 0, false, err
		}
		switch state {
		case stream.StateReady:
			return line, seq, true, nil
		case stream.StateEnd:
			return nil, seq, false, nil
		default:
			c.task.suspend()
		}
	}
}

// PeekLine 与 ReadLine 语义相同但不消费数据
func (c *Context[T]) PeekLine() (line []byte, seq uint32, ok bool, err error) {
	for {
		line, seq, state, err := c.task.stream.TryPeekLine()
		if err != nil {
			return nil, 0, false, err
		}
		switch state {
		case stream.StateReady:
			return line, seq, true, nil
		case stream.StateEnd:
			return nil, seq, false, nil
		default:
			c.task.suspend()
		}
	}
}

// Task 是运行在单个 goroutine 中的一个单方向解析循环 与一个 Stream 绑定
type Task[T packet.Packet] struct {
	stream *stream.Stream[T]

	resume chan struct{} // 派发者 -> 解析器: 可以继续运行了
	yield  chan struct{} // 解析器 -> 派发者: 本轮已挂起/已结束
	dead   chan struct{} // 派发者 -> 解析器: Flow 已经终止 不要再等 resume 了

	started bool
	done    bool
	err     error
}

// New 创建一个绑定了 s 的 Task 此时尚未启动解析器
func New[T packet.Packet](s *stream.Stream[T]) *Task[T] {
	return &Task[T]{
		stream: s,
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
		dead:   make(chan struct{}),
	}
}

// Done 返回解析器是否已经结束 (正常返回或出错)
func (t *Task[T]) Done() bool {
	return t.done
}

// Err 返回解析器结束时的错误 正常结束为 nil
func (t *Task[T]) Err() error {
	return t.err
}

// suspend 由 Context 的阻塞式读取方法调用 把控制权交还给派发者 直到下次被唤醒
//
// 若 Flow 在挂起期间被判定为 flow-fatal (例如 HeapFull/BufferStall) 派发者会
// 关闭 dead 而不是发送 resume；此时 Goexit 让解析器 goroutine 直接退出 不再
// 执行任何后续代码 也不会触发 fn 的正常返回路径
func (t *Task[T]) suspend() {
	t.yield <- struct{}{}
	select {
	case <-t.resume:
	case <-t.dead:
		runtime.Goexit()
	}
}

// Start 启动解析器 goroutine 并阻塞等到它第一次挂起或结束
//
// 必须在 Feed 之前调用一次；此调用与 Feed 一样遵循"单方运行"的握手协议
func (t *Task[T]) Start(fn Func[T]) {
	if t.started || fn == nil {
		t.done = fn == nil
		return
	}
	t.started = true

	ctx := &Context[T]{task: t}
	go func() {
		defer t.recoverPanic()
		err := fn(ctx)
		t.done = true
		if t.err == nil {
			t.err = err
		}
		t.yield <- struct{}{}
	}()

	<-t.yield
}

func (t *Task[T]) recoverPanic() {
	if r := recover(); r != nil {
		t.done = true
		t.err = newError("parser panicked: %v", r)
		// 解析器 goroutine 在 panic 之后已经无法继续运行 直接补发终止信号
		// 避免派发者在下一次 Feed 时永久阻塞在 <-t.yield 上
		select {
		case t.yield <- struct{}{}:
		default:
		}
	}
}

// Feed 把新到达的数据包交给 Task 绑定的 Stream 并在产生新进展时唤醒解析器一次
//
// 遵循"一次挂起、一次唤醒、一次轮询"的握手协议: Feed 最多把解析器
// goroutine 恢复运行一次 然后阻塞等待它重新挂起或结束 绝不会让两者同时运行
func (t *Task[T]) Feed(pkt T) error {
	if t.done || !t.started {
		return nil
	}

	advanced, err := t.stream.Feed(pkt)
	if err != nil {
		t.done = true
		t.err = err
		close(t.dead)
		return err
	}
	if !advanced {
		return nil
	}

	t.resume <- struct{}{}
	<-t.yield
	return t.err
}
