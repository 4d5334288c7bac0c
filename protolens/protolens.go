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

// Package protolens 是 Protolens 重组/解析引擎对宿主暴露的门面
//
// Dispatcher 是整个引擎唯一持有并发安全状态的地方: 按 5 元组对 Flow 分片,
// 每条 Flow 的重组与解析本身都是单线程握手 (见 task 包) 只有跨 Flow 的
// 并发才需要锁 这里用定长分片而不是一把大锁 降低高并发下的竞争
package protolens

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/packetd/protolens/common/socket"
	"github.com/packetd/protolens/internal/fasttime"
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/parser"
	"github.com/packetd/protolens/stream"
)

// frozenTTL 是一条 Flow 结束后 其 tuple 在 Dispatcher 里保持"冻结"的时长
//
// 一些实现在 FIN/RST 之后仍可能发出迟到的重传段；冻结窗口内命中这类 tuple
// 时直接丢弃 而不是当成新连接重新创建 Flow 造成重组状态被污染 取值借用了
// TCP 的 MSL 惯例
const frozenTTL = 2 * socket.TCPMsl

const shardCount = 64

type shard[T packet.Packet] struct {
	mu    sync.Mutex
	flows map[socket.Tuple]*flow[T]
}

// Dispatcher 按应用层协议持有一个独立的 Flow 表 负责:
//   - 把数据包路由到对应 Flow 的对应方向
//   - 在首个数据包到达时惰性创建 Flow 并启动其解析任务
//   - 在 Flow 被判定为 flow-fatal 或两个方向都结束时清理状态
type Dispatcher[T packet.Packet] struct {
	proto    socket.L7Proto
	factory  parser.Factory[T]
	capacity int
	heapCap  int

	shards [shardCount]*shard[T]
	tracer trace.Tracer
	frozen *socket.TTLCache
}

// Option 配置 Dispatcher 的可选参数
type Option func(*options)

type options struct {
	capacity int
	heapCap  int
}

// WithCapacity 覆盖默认的读缓冲区容量
func WithCapacity(n int) Option {
	return func(o *options) { o.capacity = n }
}

// WithHeapCapacity 覆盖默认的乱序堆容量
func WithHeapCapacity(n int) Option {
	return func(o *options) { o.heapCap = n }
}

// New 创建一个绑定了指定应用层协议与 Parser Factory 的 Dispatcher
func New[T packet.Packet](proto socket.L7Proto, factory parser.Factory[T], opts ...Option) *Dispatcher[T] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	d := &Dispatcher[T]{
		proto:    proto,
		factory:  factory,
		capacity: o.capacity,
		heapCap:  o.heapCap,
		tracer:   otel.Tracer("github.com/packetd/protolens"),
		frozen:   socket.NewTTLCache(frozenTTL),
	}
	for i := range d.shards {
		d.shards[i] = &shard[T]{flows: make(map[socket.Tuple]*flow[T])}
	}
	return d
}

func (d *Dispatcher[T]) shardFor(tuple socket.Tuple) *shard[T] {
	raw := tuple.ToRaw()
	h := xxhash.Sum64String(raw.String())
	return d.shards[h%uint64(shardCount)]
}

// RunTask 把 pkt 交给 tuple 标识的 Flow 的 dir 方向处理 首次出现的 tuple 会触发
// 惰性创建；Flow 一旦判定为 flow-fatal 会被立刻从表中移除 不保留任何残留状态
//
// tuple 始终是该数据包自身观测到的方向 (SrcIP/SrcPort 是发送方) c2s 和 s2c
// 两个方向看到的 tuple 互为镜像 —这里统一以 c2s 方向的 tuple 作为 Flow 表的
// key 否则同一条 Flow 的两个方向会被当成两条不同的 Flow
func (d *Dispatcher[T]) RunTask(ctx context.Context, tuple socket.Tuple, dir socket.Direction, pkt T) error {
	_, span := d.tracer.Start(ctx, "protolens.RunTask")
	defer span.End()

	packetsHandledTotal.WithLabelValues(string(d.proto), dir.String()).Inc()

	key := tuple
	if dir == socket.DirS2C {
		key = tuple.Mirror()
	}

	sh := d.shardFor(key)

	sh.mu.Lock()
	f, ok := sh.flows[key]
	if !ok {
		if d.frozen.Has(key) {
			sh.mu.Unlock()
			return nil // 刚结束的连接的迟到段 不重新开 Flow
		}
		f = newFlow[T](d.factory(), d.capacity, d.heapCap)
		sh.flows[key] = f
		activeFlows.WithLabelValues(string(d.proto)).Inc()
	}
	sh.mu.Unlock()

	err := f.feed(dir, pkt)

	if err != nil || f.finished() {
		sh.mu.Lock()
		delete(sh.flows, key)
		sh.mu.Unlock()
		d.frozen.Set(key)
		activeFlows.WithLabelValues(string(d.proto)).Dec()
		d.recordDrop(err)
	}

	return err
}

func (d *Dispatcher[T]) recordDrop(err error) {
	switch {
	case err == nil:
		return
	case stream.IsHeapFull(err):
		heapFullTotal.WithLabelValues(string(d.proto)).Inc()
	case stream.IsBufferStall(err):
		bufferStallTotal.WithLabelValues(string(d.proto)).Inc()
	default:
		parserErrorTotal.WithLabelValues(string(d.proto)).Inc()
	}
}

// Sweep 清理所有超过 maxIdle 未收到任何数据包的 Flow 返回被清理的数量
//
// 正常结束的 Flow 会在 RunTask 里随 FIN 立即回收 但连接被 RST 或者中途
// 消失在网络里时两个方向都不会再收到 FIN 这些残留状态要靠宿主定期调用
// Sweep 来兜底释放 否则会在长时间运行后造成 Flow 表无限增长
func (d *Dispatcher[T]) Sweep(maxIdle time.Duration) int {
	now := fasttime.UnixTimestamp()
	n := 0

	for i := range d.shards {
		sh := d.shards[i]
		sh.mu.Lock()
		for key, f := range sh.flows {
			if f.idleSince(now, maxIdle) {
				delete(sh.flows, key)
				d.frozen.Set(key)
				n++
			}
		}
		sh.mu.Unlock()
	}

	if n > 0 {
		activeFlows.WithLabelValues(string(d.proto)).Sub(float64(n))
	}
	return n
}

// Close 停止 Dispatcher 内部的冻结表回收协程 Dispatcher 实例不再使用时应当调用
func (d *Dispatcher[T]) Close() {
	d.frozen.Close()
}

// ActiveFlows 返回当前仍在跟踪的 Flow 数量 主要用于测试与诊断
func (d *Dispatcher[T]) ActiveFlows() int {
	n := 0
	for i := range d.shards {
		d.shards[i].mu.Lock()
		n += len(d.shards[i].flows)
		d.shards[i].mu.Unlock()
	}
	return n
}
