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

// Package capture 提供了一个可选的原始包字节离线排查手段
//
// 启用后 每个经过引擎的 L4 包 payload 都会被 snappy 压缩后追加写入一个
// 本地文件 供事后离线重放/排查用 默认关闭 不影响任何热路径性能
package capture

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/packetd/protolens/logger"
)

// EnableEnv 置位后 NewFromEnv 才会返回一个真正写入文件的 Spooler
const EnableEnv = "ENABLE_RAW_CB"

// PathEnv 指定 spool 文件路径 为空时使用 DefaultPath
const PathEnv = "RAW_CB_PATH"

// DefaultPath 是未显式指定 RAW_CB_PATH 时使用的默认 spool 文件路径
const DefaultPath = "protolens-raw.spool"

// Spooler 把原始包字节 (压缩后) 追加写入一个文件 对外只暴露 Write/Close
//
// nil *Spooler 上调用 Write/Close 都是安全的空操作 —调用方不需要先判断是否启用
type Spooler struct {
	mu sync.Mutex
	f  *os.File
}

// NewFromEnv 按 EnableEnv/PathEnv 环境变量构造 Spooler 未启用时返回 nil
func NewFromEnv() (*Spooler, error) {
	if os.Getenv(EnableEnv) == "" {
		return nil, nil
	}

	path := os.Getenv(PathEnv)
	if path == "" {
		path = DefaultPath
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "capture: open spool file %q", path)
	}

	logger.Infof("raw packet capture enabled, spooling to %s", path)
	return &Spooler{f: f}, nil
}

// Write 压缩并追加一帧 payload 写入失败只记录日志 不向调用方传播
//
// 帧格式为一个小端 uvarint 长度前缀 + snappy 压缩后的数据 方便离线逐帧重放
func (s *Spooler) Write(payload []byte) {
	if s == nil || len(payload) == 0 {
		return
	}

	compressed := snappy.Encode(nil, payload)

	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(compressed)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.f.Write(lenBuf[:n]); err != nil {
		logger.Debugf("capture: write frame length: %v", err)
		return
	}
	if _, err := s.f.Write(compressed); err != nil {
		logger.Debugf("capture: write frame: %v", err)
	}
}

// Close 关闭底层 spool 文件
func (s *Spooler) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.f.Close()
}
