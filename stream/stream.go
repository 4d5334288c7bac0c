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

// Package stream 实现了乱序包重组 + 异步字节读原语
//
// Stream 本身不持有任何 goroutine 或锁 —它是一个纯粹的数据结构，由两类调用者驱动:
//   - Dispatcher 线程在收到新数据包时调用 Feed，推进重组进度
//   - ParserTask 所在的协程在 await 点调用 TryRead*/TryPeekLine，采用
//     "尝试一次，不行就挂起，下次被唤醒后重试" 的轮询式非阻塞协议
//
// 两类调用者之间靠 task 包的握手通道做严格的单线程轮替，因此 Stream 不需要自己加锁
package stream

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/packetd/protolens/heap"
	"github.com/packetd/protolens/internal/splitio"
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/ringbuffer"
	"github.com/packetd/protolens/seqnum"
)

func newError(format string, args ...any) error {
	format = "stream: " + format
	return errors.Errorf(format, args...)
}

var (
	// ErrHeapFull 乱序包堆已满 flow-fatal
	ErrHeapFull = newError("ordered packet heap full")

	// ErrBufferStall 压缩之后仍无法写入 flow-fatal
	ErrBufferStall = newError("ring buffer stalled, no space after compaction")

	// ErrNoProgress readline 在缓冲区写满且找不到行结束符时返回 flow-fatal
	ErrNoProgress = newError("readline: no line terminator within buffer capacity")

	// ErrReadNTooLarge readn 请求的长度超过了缓冲区容量
	ErrReadNTooLarge = newError("readn: n exceeds ring buffer capacity")
)

// IsHeapFull 判断 err 是否是乱序堆已满导致的 flow-fatal
func IsHeapFull(err error) bool {
	return errors.Is(err, ErrHeapFull)
}

// IsBufferStall 判断 err 是否是 ring buffer 压缩后仍无空间导致的 flow-fatal
func IsBufferStall(err error) bool {
	return errors.Is(err, ErrBufferStall)
}

// State 描述了一次 Try* 调用的结果类别
type State uint8

const (
	// StatePending 当前数据不足以满足本次读取 调用方应当挂起等待下一次 Feed
	StatePending State = iota
	// StateReady 读取到了数据
	StateReady
	// StateEnd 流已经在 FIN 处结束 且没有更多数据可读 
	StateEnd
	// StateError 发生了 flow-fatal 错误 参见返回的 err
	StateError
)

// DefaultCapacity 默认的读缓冲区容量
const DefaultCapacity = 512

// DefaultHeapCapacity 默认的乱序堆容量
const DefaultHeapCapacity = 32

// RawCallback 在每次有新的连续字节追加进缓冲区时被调用 在解析回调之前触发
//
// 保留线路上观测到的字节顺序
type RawCallback func(b []byte, seq uint32)

// Stream 是单个方向 (c2s 或 s2c) 的重组字节流
type Stream[T packet.Packet] struct {
	heap *heap.OrderedPacketHeap[T]
	rb   *ringbuffer.RingBuffer

	capacity int
	heapCap  int

	initialized bool
	nextSeq     uint32

	finSeen bool
	finSeq  uint32
	closed  bool

	rawCb RawCallback
}

// New 创建一个新的 Stream 容量使用默认值时传 0 或负数即可
func New[T packet.Packet](capacity, heapCapacity int) *Stream[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if heapCapacity <= 0 {
		heapCapacity = DefaultHeapCapacity
	}
	return &Stream[T]{
		heap:     heap.New[T](heapCapacity),
		capacity: capacity,
		heapCap:  heapCapacity,
	}
}

// SetRawCallback 注册/替换原始字节回调
func (s *Stream[T]) SetRawCallback(cb RawCallback) {
	s.rawCb = cb
}

// Close 关闭 Stream 后续 Feed 调用会被拒绝
//
// Close 本身不触发回调 只是拒绝后续写入
func (s *Stream[T]) Close() {
	s.closed = true
	if s.rb != nil {
		s.rb.Release()
	}
}

// Fin 返回是否已经到达 FIN 且其前所有字节都已被消费
func (s *Stream[T]) Fin() bool {
	if !s.finSeen || s.rb == nil {
		return false
	}
	return seqnum.GreaterEq(s.rb.Head(), s.finSeq)
}

// finIngested 返回 FIN 之前的全部字节是否都已经进入 ring buffer
//
// 与 Fin 不同 这里不要求字节已被消费 —用来判断"不会再有更多数据到来了"
// 即使 buffer 里还剩下不构成完整行/不足 n 字节的尾部数据 也不会再等到更多输入
func (s *Stream[T]) finIngested() bool {
	if !s.finSeen || s.rb == nil {
		return false
	}
	return seqnum.GreaterEq(s.nextSeq, s.finSeq)
}

// ensureInit 在首个数据包到达时确定 next_seq 的起点并创建底层 RingBuffer
//
// 纯 SYN 包把 next_seq 设为 seq+1 (不消费 payload)；否则以该包自身的
// 序列号作为起点 —这允许在没有观测到 SYN 的情况下从流中间开始重组 
func (s *Stream[T]) ensureInit(pkt T) {
	if s.initialized {
		return
	}
	start := pkt.Seq()
	if pkt.Syn() {
		start = pkt.Seq() + 1
	}
	s.nextSeq = start
	s.rb = ringbuffer.New(s.capacity, start)
	s.initialized = true
}

// Feed 把一个新到达的数据包交给 Stream 处理
//
// 返回 advanced=true 表示本次调用产生了新的可读字节或者使 FIN 变为可见 —
// Dispatcher/Task 应据此唤醒挂起的解析任务 
func (s *Stream[T]) Feed(pkt T) (advanced bool, err error) {
	if s.closed {
		return false, nil // HostMisuse: 已关闭的流静默丢弃 
	}

	s.ensureInit(pkt)

	finWasSeen := s.finSeen
	if pkt.Fin() && !s.finSeen {
		s.finSeen = true
		s.finSeq = pkt.Seq() + uint32(len(pkt.Payload()))
	}

	// 纯 SYN 包 (无 payload) 不需要进堆 next_seq 已经在 ensureInit 中处理
	if pkt.Syn() && len(pkt.Payload()) == 0 {
		return !finWasSeen && s.finSeen, nil
	}

	if !s.heap.Push(pkt) {
		return false, ErrHeapFull
	}

	drained, err := s.drain()
	if err != nil {
		return drained, err
	}

	return drained || (!finWasSeen && s.finSeen), nil
}

// drain 反复从堆顶取出与 next_seq 相邻的数据包 写入 ring buffer
func (s *Stream[T]) drain() (advanced bool, err error) {
	for {
		top, ok := s.heap.Peek()
		if !ok {
			return advanced, nil
		}
		if seqnum.Greater(top.Seq(), s.nextSeq) {
			return advanced, nil // 还不连续 留在堆里等后续包
		}

		s.heap.Pop()

		payload := top.Payload()
		segEnd := top.Seq() + uint32(len(payload))

		if seqnum.LessEq(segEnd, s.nextSeq) {
			continue // StaleSegment: 完全落在 next_seq 之前 静默丢弃 
		}

		if seqnum.Less(top.Seq(), s.nextSeq) {
			delta := s.nextSeq - top.Seq()
			payload = payload[delta:]
		}

		// 落在 FIN 之后的字节不属于这条流 截掉
		if s.finSeen && seqnum.Greater(segEnd, s.finSeq) {
			if seqnum.GreaterEq(s.nextSeq, s.finSeq) {
				continue
			}
			payload = payload[:s.finSeq-s.nextSeq]
		}

		if len(payload) == 0 {
			continue
		}

		if err := s.rb.Append(payload); err != nil {
			return advanced, ErrBufferStall
		}

		if s.rawCb != nil {
			s.rawCb(payload, s.nextSeq)
		}

		s.nextSeq += uint32(len(payload))
		advanced = true
	}
}

// TryRead 尝试读取最多 max 字节
func (s *Stream[T]) TryRead(max int) (data []byte, seq uint32, state State) {
	if s.rb == nil {
		return nil, 0, StatePending // 尚未观测到任何包 next_seq 还未确定
	}
	if s.rb.Len() > 0 {
		n := max
		if n > s.rb.Len() {
			n = s.rb.Len()
		}
		seq = s.rb.Head()
		data = s.rb.Bytes()[:n]
		s.rb.Consume(n)
		return data, seq, StateReady
	}
	if s.Fin() {
		return nil, s.rb.Head(), StateEnd
	}
	return nil, 0, StatePending
}

// TryReadN 尝试精确读取 n 字节 n 超过缓冲区容量时立即报错
func (s *Stream[T]) TryReadN(n int) (data []byte, seq uint32, state State, err error) {
	if n > s.capacity {
		return nil, 0, StateError, ErrReadNTooLarge
	}
	if s.rb == nil {
		return nil, 0, StatePending, nil
	}
	if s.rb.Len() >= n {
		seq = s.rb.Head()
		data = s.rb.Bytes()[:n]
		s.rb.Consume(n)
		return data, seq, StateReady, nil
	}
	if s.finIngested() {
		// 剩下不足 n 字节的尾部数据永远不会补全 直接视为结束 不归档给调用方
		return nil, s.rb.Head(), StateEnd, nil
	}
	return nil, 0, StatePending, nil
}

// TryReadLine 尝试读取一行 (含终止符)
func (s *Stream[T]) TryReadLine() (line []byte, seq uint32, state State, err error) {
	return s.tryLine(true)
}

// TryPeekLine 与 TryReadLine 语义相同但不消费数据 —随后的 TryReadLine 必须返回相同内容
func (s *Stream[T]) TryPeekLine() (line []byte, seq uint32, state State, err error) {
	return s.tryLine(false)
}

func (s *Stream[T]) tryLine(consume bool) (line []byte, seq uint32, state State, err error) {
	if s.rb == nil {
		return nil, 0, StatePending, nil
	}
	buf := s.rb.Bytes()
	idx := bytes.IndexByte(buf, splitio.CharLF[0])
	if idx >= 0 {
		seq = s.rb.Head()
		line = buf[:idx+1]
		if consume {
			s.rb.Consume(idx + 1)
		}
		return line, seq, StateReady, nil
	}

	if s.rb.Full() {
		return nil, 0, StateError, ErrNoProgress
	}

	if s.finIngested() {
		// 流已经结束 剩余的不完整行永远不会补全 —直接视为结束 不归档给解析器
		return nil, s.rb.Head(), StateEnd, nil
	}

	return nil, 0, StatePending, nil
}

// Stats 返回当前 Stream 的重组统计
type Stats struct {
	HeapLen   int
	BufferLen int
	NextSeq   uint32
	FinSeen   bool
	FinSeq    uint32
}

func (s *Stream[T]) Stats() Stats {
	bufLen := 0
	if s.rb != nil {
		bufLen = s.rb.Len()
	}
	return Stats{
		HeapLen:   s.heap.Len(),
		BufferLen: bufLen,
		NextSeq:   s.nextSeq,
		FinSeen:   s.finSeen,
		FinSeq:    s.finSeq,
	}
}
