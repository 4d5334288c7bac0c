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

package engine

import (
	"github.com/mitchellh/mapstructure"

	"github.com/packetd/protolens/common"
	"github.com/packetd/protolens/common/socket"
	"github.com/packetd/protolens/logger"
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/parser"
	"github.com/packetd/protolens/parser/lineparser"
	"github.com/packetd/protolens/parser/phttp"
	"github.com/packetd/protolens/parser/pimap"
	"github.com/packetd/protolens/parser/ppop3"
	"github.com/packetd/protolens/parser/psip"
	"github.com/packetd/protolens/parser/psmtp"
	"github.com/packetd/protolens/parser/readparser"
)

// init 把 parser 包内置的演示/协议解析器注册给 L7Proto 这是宿主接线的一部分
// 不属于 protolens 本体 —protolens 对 parser 注册表一无所知 只认 Factory
//
// http/smtp/pop3/imap/sip 不在这里注册: 它们的 Factory 依赖每个 Engine 实例自己的
// 事件出口 (见 Engine.resolveFactory/publishEvent) 按需构造 而不是走全局注册表
func init() {
	parser.Register[packet.FromSegment](socket.L7ProtoRead, func() parser.Parser[packet.FromSegment] {
		return readparser.New[packet.FromSegment]()
	})
	parser.Register[packet.FromSegment](socket.L7ProtoLine, func() parser.Parser[packet.FromSegment] {
		return lineparser.New[packet.FromSegment]()
	})
}

// httpOptions 是 sniffer 规则里 options 字段对 http 解析器的解释
type httpOptions struct {
	EnableBodyCapture bool `mapstructure:"enableBodyCapture"`
	MaxBodySize       int  `mapstructure:"maxBodySize"`
}

// httpFactory 按 opts 构造一个 http Parser Factory opts 为空时退化为默认配置
// onRoundTrip 是该 Dispatcher 所属 Engine 的事件出口
//
// 规则粒度的选项没有必要为每个协议都定义一个专门的 Config 结构体 —用 mapstructure
// 把 common.Options 这样的松散 map 解码成协议自己的选项结构体 按需使用即可
func httpFactory(opts common.Options, onRoundTrip func(*phttp.RoundTrip)) parser.Factory[packet.FromSegment] {
	var ho httpOptions
	if len(opts) > 0 {
		if err := mapstructure.Decode(opts, &ho); err != nil {
			logger.Warnf("invalid http parser options: %v", err)
		}
	}

	return func() parser.Parser[packet.FromSegment] {
		p := phttp.New[packet.FromSegment]()
		p.OnRoundTrip = onRoundTrip
		p.EnableBodyCapture = ho.EnableBodyCapture
		p.MaxBodySize = ho.MaxBodySize
		return p
	}
}

// bodyCaptureOptions 是其余行式协议 (smtp/pop3/sip) 共用的 options 形态 imap 不解析任何 options
// 都只暴露一个消息体/正文捕获上限
type bodyCaptureOptions struct {
	MaxBodySize int `mapstructure:"maxBodySize"`
}

func decodeBodyCaptureOptions(proto string, opts common.Options) bodyCaptureOptions {
	var bo bodyCaptureOptions
	if len(opts) > 0 {
		if err := mapstructure.Decode(opts, &bo); err != nil {
			logger.Warnf("invalid %s parser options: %v", proto, err)
		}
	}
	return bo
}

func smtpFactory(opts common.Options, onExchange func(*psmtp.Exchange)) parser.Factory[packet.FromSegment] {
	bo := decodeBodyCaptureOptions("smtp", opts)
	return func() parser.Parser[packet.FromSegment] {
		p := psmtp.New[packet.FromSegment]()
		p.OnExchange = onExchange
		p.MaxBodySize = bo.MaxBodySize
		return p
	}
}

func pop3Factory(opts common.Options, onExchange func(*ppop3.Exchange)) parser.Factory[packet.FromSegment] {
	bo := decodeBodyCaptureOptions("pop3", opts)
	return func() parser.Parser[packet.FromSegment] {
		p := ppop3.New[packet.FromSegment]()
		p.OnExchange = onExchange
		p.MaxBodySize = bo.MaxBodySize
		return p
	}
}

// imapFactory 没有 options 要解码: pimap 不做消息体捕获 tag 就是其配对依据
func imapFactory(_ common.Options, onExchange func(*pimap.Exchange)) parser.Factory[packet.FromSegment] {
	return func() parser.Parser[packet.FromSegment] {
		p := pimap.New[packet.FromSegment]()
		p.OnExchange = onExchange
		return p
	}
}

func sipFactory(opts common.Options, onExchange func(*psip.Exchange)) parser.Factory[packet.FromSegment] {
	bo := decodeBodyCaptureOptions("sip", opts)
	return func() parser.Parser[packet.FromSegment] {
		p := psip.New[packet.FromSegment]()
		p.OnExchange = onExchange
		p.MaxBodySize = bo.MaxBodySize
		return p
	}
}
