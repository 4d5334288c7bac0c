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

// Package json 统一了程序内的 JSON 编解码实现
//
// 使用 goccy/go-json 替换标准库 encoding/json 换取更低的编解码开销
package json

import (
	"github.com/goccy/go-json"
)

var (
	Marshal   = json.Marshal
	Unmarshal = json.Unmarshal
)
