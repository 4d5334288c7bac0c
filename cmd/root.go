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

// Package cmd 是 Protolens 的演示用命令行入口
//
// 它不是核心契约的一部分: agent/watch 子命令只是把 sniffer 接到 engine 上的
// 一种可能接法 宿主完全可以绕开它们 直接把自己的数据包喂给 protolens.Dispatcher
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/packetd/protolens/common"
)

var rootCmd = &cobra.Command{
	Use:   "protolens",
	Short: "Protolens passive TCP/UDP reassembly and protocol parsing demo",
	Version: common.Version,
}

// Execute 运行根命令 由 main 调用
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
