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

// Package packet 定义了重组引擎消费的数据包能力集以及内部排序包装
package packet

import (
	"github.com/packetd/protolens/common/socket"
	"github.com/packetd/protolens/seqnum"
)

// Packet 是宿主递交给引擎的数据包能力集
//
// 引擎不关心宿主如何解出这些字段 (可能来自 gopacket 也可能来自其它抓包库)
// 仅通过此接口读取 四层重组所需的全部信息
type Packet interface {
	// Seq 返回数据包的 32bit 序列号 对 UDP 而言恒为 0
	Seq() uint32

	// Syn 返回是否为 SYN 包 对 UDP 而言恒为 false
	Syn() bool

	// Fin 返回是否携带 FIN 标志 对 UDP 而言恒为 false
	Fin() bool

	// Payload 返回应用层载荷 引擎只读 不会修改任何字节
	Payload() []byte

	// Direction 返回该包相对于所属 Flow 的方向
	Direction() socket.Direction
}

// FromSegment 将 socket.Segment 适配为 Packet
//
// socket.Segment 是 common/socket 包中 L4Packet 实现对外暴露的重组能力集切片；
// 这里做一层薄包装 让 heap/stream 不必直接依赖 common/socket 的其余字段 (IP、端口等)
type FromSegment struct {
	Seg socket.Segment
}

func NewFromSegment(seg socket.Segment) FromSegment {
	return FromSegment{Seg: seg}
}

func (p FromSegment) Seq() uint32                 { return p.Seg.Seq }
func (p FromSegment) Syn() bool                   { return p.Seg.Syn }
func (p FromSegment) Fin() bool                   { return p.Seg.Fin }
func (p FromSegment) Payload() []byte             { return p.Seg.Payload }
func (p FromSegment) Direction() socket.Direction { return p.Seg.Dir }

// tiebreak 决定了同一序列号上 SYN/payload/FIN 的相对顺序
//
// SYN 排在 payload 之前 payload 排在 FIN 之前；
// 两个非 SYN/FIN 的 payload 在同一序列号上先到先得 (重传) 由上层丢弃较晚者
type tiebreak int8

const (
	tiebreakSyn     tiebreak = -1
	tiebreakPayload tiebreak = 0
	tiebreakFin     tiebreak = 1
)

func tiebreakOf(p Packet) tiebreak {
	switch {
	case p.Syn():
		return tiebreakSyn
	case p.Fin():
		return tiebreakFin
	default:
		return tiebreakPayload
	}
}

// Seq 代表了堆中排序所需的有序数据包包装
//
// 比较规则: 先比较序列号 (模运算) 再比较 tiebreak
type Seq[T Packet] struct {
	Pkt T
}

func NewSeq[T Packet](pkt T) Seq[T] {
	return Seq[T]{Pkt: pkt}
}

// Less 返回 s 是否应该排在 o 之前 用于 container/heap
func (s Seq[T]) Less(o Seq[T]) bool {
	if s.Pkt.Seq() != o.Pkt.Seq() {
		return seqnum.Less(s.Pkt.Seq(), o.Pkt.Seq())
	}
	return tiebreakOf(s.Pkt) < tiebreakOf(o.Pkt)
}
