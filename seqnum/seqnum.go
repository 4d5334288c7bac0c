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

// Package seqnum 实现了 TCP 32 位序列号空间上的模运算比较
//
// 所有序列号比较都必须走这里 不允许直接使用 `<` 对 uint32 做比较 —
// 序列号在 2^32 处会回绕 标准的无符号比较在回绕点附近会得出错误结果
package seqnum

// Diff 返回 a-b 在序列号空间内的有符号差值
//
// 结果落在 [-2^31, 2^31) 之间 调用方约定同一条 Flow 内任意两个在途的
// 序列号之差不会达到或超过 2^31 (标准 TCP 假设 一次 MSL 内数据量不可能绕一圈)
func Diff(a, b uint32) int32 {
	return int32(a - b)
}

// Less 返回 a 在序列号空间内是否先于 b
//
// 等价于 (a-b) mod 2^32 落在 [2^31, 2^32) 区间 即有符号差值为负
func Less(a, b uint32) bool {
	return Diff(a, b) < 0
}

// LessEq 返回 a 是否先于或等于 b
func LessEq(a, b uint32) bool {
	return Diff(a, b) <= 0
}

// Greater 返回 a 是否晚于 b
func Greater(a, b uint32) bool {
	return Diff(a, b) > 0
}

// GreaterEq 返回 a 是否晚于或等于 b
func GreaterEq(a, b uint32) bool {
	return Diff(a, b) >= 0
}

// Min 返回序列号空间内较早的一个
func Min(a, b uint32) uint32 {
	if Less(a, b) {
		return a
	}
	return b
}

// Max 返回序列号空间内较晚的一个
func Max(a, b uint32) uint32 {
	if Greater(a, b) {
		return a
	}
	return b
}
