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

// Package heap 实现了有界的乱序数据包最小堆
//
// 按序列号空间排序 容量固定 满了就拒绝写入
// 而不是扩容或驱逐 —乱序缓冲区爆满代表这条 Flow 已经停滞 由上层决定是否丢弃整条 Flow
package heap

import (
	"container/heap"

	"github.com/packetd/protolens/packet"
)

// innerHeap 实现了 container/heap.Interface
//
// 不直接对外暴露 —OrderedPacketHeap 的使用方只应该看到 Push/Peek/Pop/Len
type innerHeap[T packet.Packet] []packet.Seq[T]

func (h innerHeap[T]) Len() int            { return len(h) }
func (h innerHeap[T]) Less(i, j int) bool  { return h[i].Less(h[j]) }
func (h innerHeap[T]) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *innerHeap[T]) Push(x any)         { *h = append(*h, x.(packet.Seq[T])) }
func (h *innerHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// OrderedPacketHeap 是一个容量固定的乱序数据包最小堆
//
// push 在堆已满时返回 false 而不是阻塞或扩容；调用方 (stream) 将其视为
// flow-fatal 事件
type OrderedPacketHeap[T packet.Packet] struct {
	h        innerHeap[T]
	capacity int
}

// New 创建一个容量为 capacity 的 OrderedPacketHeap
func New[T packet.Packet](capacity int) *OrderedPacketHeap[T] {
	h := make(innerHeap[T], 0, capacity)
	heap.Init(&h)
	return &OrderedPacketHeap[T]{h: h, capacity: capacity}
}

// Capacity 返回堆的固定容量
func (o *OrderedPacketHeap[T]) Capacity() int {
	return o.capacity
}

// Len 返回堆内当前元素个数
func (o *OrderedPacketHeap[T]) Len() int {
	return o.h.Len()
}

// IsEmpty 返回堆是否为空
func (o *OrderedPacketHeap[T]) IsEmpty() bool {
	return o.h.Len() == 0
}

// Push 尝试将 pkt 压入堆中
//
// 堆已满时返回 false 且不会修改堆的内容 —容量是硬上限 不存在驱逐策略
func (o *OrderedPacketHeap[T]) Push(pkt T) bool {
	if o.h.Len() >= o.capacity {
		return false
	}
	heap.Push(&o.h, packet.NewSeq(pkt))
	return true
}

// Peek 返回序列号空间上最小的数据包 不弹出
func (o *OrderedPacketHeap[T]) Peek() (T, bool) {
	if o.IsEmpty() {
		var zero T
		return zero, false
	}
	return o.h[0].Pkt, true
}

// Pop 弹出并返回序列号空间上最小的数据包
func (o *OrderedPacketHeap[T]) Pop() (T, bool) {
	if o.IsEmpty() {
		var zero T
		return zero, false
	}
	item := heap.Pop(&o.h).(packet.Seq[T])
	return item.Pkt, true
}
