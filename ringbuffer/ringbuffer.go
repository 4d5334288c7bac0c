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

// Package ringbuffer 实现了一段固定容量的连续字节缓冲区
//
// head/tail 记录的是绝对序列号 而不是缓冲区内的偏移量 —这样 PacketStream
// 才能直接用序列号空间做比较 不需要额外维护一份偏移量到序列号的映射
package ringbuffer

import (
	"github.com/pkg/errors"
	"github.com/valyala/bytebufferpool"
)

func newError(format string, args ...any) error {
	format = "ringbuffer: " + format
	return errors.Errorf(format, args...)
}

// ErrNoSpace 在压缩之后仍然没有足够空间容纳新数据时返回
//
// 容量不足时压缩后仍放不下即视为该 Flow 停滞
var ErrNoSpace = newError("no space left after compaction")

var pool bytebufferpool.Pool

// RingBuffer 是一段容量固定的连续字节缓冲区
//
// 内部用一个 []byte 实现 不是真正的环形数组 —满了就把未读部分
// compact 到偏移 0 这比维护 wrap 的环形下标更简单 
type RingBuffer struct {
	capacity int
	buf      *bytebufferpool.ByteBuffer
	off      int // buf.B 中下一个未读字节的偏移 (buf.B[off:] 是未读数据)

	head uint32 // 绝对序列号: 第一个未读字节
	tail uint32 // 绝对序列号: 最后一个已写字节的下一个位置
}

// New 创建一个容量为 capacity、起始绝对序列号为 startSeq 的 RingBuffer
func New(capacity int, startSeq uint32) *RingBuffer {
	b := pool.Get()
	return &RingBuffer{
		capacity: capacity,
		buf:      b,
		head:     startSeq,
		tail:     startSeq,
	}
}

// Release 将底层缓冲区归还给池 Release 之后不应再使用该实例
func (r *RingBuffer) Release() {
	pool.Put(r.buf)
	r.buf = nil
}

// Capacity 返回缓冲区固定容量
func (r *RingBuffer) Capacity() int {
	return r.capacity
}

// Len 返回当前未读字节数
func (r *RingBuffer) Len() int {
	return len(r.buf.B) - r.off
}

// Head 返回第一个未读字节的绝对序列号
func (r *RingBuffer) Head() uint32 {
	return r.head
}

// Tail 返回最后一个已写字节之后的绝对序列号
func (r *RingBuffer) Tail() uint32 {
	return r.tail
}

// Full 返回缓冲区是否已经写满 (tail-head == capacity)
func (r *RingBuffer) Full() bool {
	return r.Len() >= r.capacity
}

// Bytes 返回当前未读数据的只读视图
//
// 返回的切片在下一次 Append/Consume 调用之后失效 调用方需要时应自行拷贝
func (r *RingBuffer) Bytes() []byte {
	return r.buf.B[r.off:]
}

// compact 把未读部分搬到偏移 0 释放尾部空间
func (r *RingBuffer) compact() {
	if r.off == 0 {
		return
	}
	n := copy(r.buf.B, r.buf.B[r.off:])
	r.buf.B = r.buf.B[:n]
	r.off = 0
}

// Append 把 p 追加到缓冲区尾部 p 必须紧接在当前 tail 之后 (由调用方保证)
//
// 空间不足时先 compact 再重试 仍然放不下则返回 ErrNoSpace
//
// 判断空间是否足够要看 buf.B 的物理长度 (len(buf.B)+len(p)) 而不是 Len() 的逻辑
// 未读字节数: compact 只会搬移 off 之前已经读过的死字节 不会改变 Len() 本身 —
// 用 Len() 做判断会导致 compact 永远不能把"放不下"变成"放得下"
func (r *RingBuffer) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}

	if r.off > 0 && len(r.buf.B)+len(p) > r.capacity {
		r.compact()
	}
	if len(r.buf.B)+len(p) > r.capacity {
		return ErrNoSpace
	}

	r.buf.B = append(r.buf.B, p...)
	r.tail += uint32(len(p))
	return nil
}

// Consume 标记 n 个字节已被读取 推进 head
//
// n 不能超过 Len() 调用方 (stream) 负责保证这一点
func (r *RingBuffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n > r.Len() {
		n = r.Len()
	}
	r.off += n
	r.head += uint32(n)

	// 读空之后主动归位到偏移 0 避免长时间只写不读导致偏移持续增长
	if r.off == len(r.buf.B) {
		r.buf.B = r.buf.B[:0]
		r.off = 0
	}
}
