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

// Package engine 把 sniffer 捕获到的数据包路由给 protolens.Dispatcher
//
// 这是 Protolens 作为库被宿主使用时的一个参考接法: 按端口决定应用层协议与方向,
// 把数据包交给对应协议的 Dispatcher, 并负责过期 Flow 的兜底回收与管理端 HTTP 路由
package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/packetd/protolens/common"
	"github.com/packetd/protolens/common/socket"
	"github.com/packetd/protolens/confengine"
	"github.com/packetd/protolens/internal/capture"
	"github.com/packetd/protolens/internal/json"
	"github.com/packetd/protolens/internal/pubsub"
	"github.com/packetd/protolens/internal/rescue"
	"github.com/packetd/protolens/internal/sigs"
	"github.com/packetd/protolens/logger"
	"github.com/packetd/protolens/packet"
	"github.com/packetd/protolens/parser"
	"github.com/packetd/protolens/parser/phttp"
	"github.com/packetd/protolens/parser/pimap"
	"github.com/packetd/protolens/parser/ppop3"
	"github.com/packetd/protolens/parser/psip"
	"github.com/packetd/protolens/parser/psmtp"
	"github.com/packetd/protolens/protolens"
	"github.com/packetd/protolens/server"
	"github.com/packetd/protolens/sniffer"
)

// dispatcher 是 Engine 内部固定以 packet.FromSegment 实例化的 Dispatcher
type dispatcher = protolens.Dispatcher[packet.FromSegment]

// Config 是 engine 自身的可选运行参数
type Config struct {
	// ConnExpired 未收到 FIN/RST 的残留 Flow 的过期时间
	//
	// 正常结束的 Flow 在 FIN 到达时就会被 Dispatcher 立刻回收 这个值只用来
	// 兜底那些连接被 RST 或者直接消失在网络里、两个方向都不会再有数据包到来的 Flow
	ConnExpired time.Duration `config:"connExpired"`
}

// GetConnExpired 返回有效的过期时间 未配置或配置过小时回退到 5 分钟
func (c Config) GetConnExpired() time.Duration {
	if c.ConnExpired < time.Minute {
		return 5 * time.Minute
	}
	return c.ConnExpired
}

// Engine 是 sniffer 与 protolens.Dispatcher 之间的胶水层
type Engine struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       Config
	buildInfo common.BuildInfo

	snif    sniffer.Sniffer
	svr     *server.Server
	events  *pubsub.PubSub
	capture *capture.Spooler

	portIndex   map[socket.Port]socket.L7Proto
	dispatchers map[socket.L7Proto]*dispatcher
}

// Subscribe 订阅引擎产出的协议事件 (五个内置协议解析器匹配完成的请求/响应)
//
// 这是 Protolens 在 exporter/pipeline 之外给宿主提供的最小事件出口: 每个订阅者
// 拿到一条独立的有界队列 互不影响 宿主不消费时 队列满 size 后新到的事件被丢弃
func (e *Engine) Subscribe(size int) pubsub.Queue {
	return e.events.Subscribe(size)
}

// Unsubscribe 取消订阅并释放对应队列
func (e *Engine) Unsubscribe(q pubsub.Queue) {
	e.events.Unsubscribe(q)
}

func setupLogger(conf *confengine.Config) error {
	var opts logger.Options
	if err := conf.UnpackChild("logger", &opts); err != nil {
		return err
	}

	if opts.Filename == "" {
		opts.Filename = "protolens.log"
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 7
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 100
	}

	logger.SetOptions(opts)
	return nil
}

// New 创建一个 Engine 实例 按 conf 的 sniffer.protocols 规则为每种应用层协议
// 创建一个独立的 Dispatcher
func New(conf *confengine.Config, buildInfo common.BuildInfo) (*Engine, error) {
	if err := setupLogger(conf); err != nil {
		return nil, err
	}

	snif, err := sniffer.New(conf)
	if err != nil {
		return nil, err
	}

	svr, err := server.New(conf)
	if err != nil {
		return nil, err
	}

	capSpooler, err := capture.NewFromEnv()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := conf.UnpackChild("engine", &cfg); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		ctx:       ctx,
		cancel:    cancel,
		cfg:       cfg,
		buildInfo: buildInfo,
		snif:      snif,
		svr:       svr,
		events:    pubsub.New(),
		capture:   capSpooler,
	}
	if err := e.buildDispatchers(); err != nil {
		cancel()
		return nil, err
	}
	return e, nil
}

// buildDispatchers 根据 sniffer 当前的 L7Ports 规则重建 portIndex 与 Dispatcher 集合
//
// 同一个 L7Proto 在多条规则里重复出现时共用同一个 Dispatcher 而不是分裂成多份 Flow 表
func (e *Engine) buildDispatchers() error {
	ports := e.snif.L7Ports()

	portIndex := make(map[socket.Port]socket.L7Proto, len(ports))
	dispatchers := make(map[socket.L7Proto]*dispatcher, len(ports))

	// 一条规则的协议解析失败不应该掩盖其余规则的同类问题: 用 multierror 把每条
	// 规则的构造错误都收集起来 一次性报给调用方 而不是报完第一个就停下
	var merr *multierror.Error
	for _, lp := range ports {
		if _, ok := dispatchers[lp.Proto]; !ok {
			d, err := e.newDispatcher(lp.Proto, lp.Options)
			if err != nil {
				merr = multierror.Append(merr, errors.Wrapf(err, "proto %s", lp.Proto))
				continue
			}
			dispatchers[lp.Proto] = d
		}
		for _, port := range lp.Ports {
			portIndex[port] = lp.Proto
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return err
	}

	old := e.dispatchers
	e.portIndex = portIndex
	e.dispatchers = dispatchers

	// 旧 Dispatcher 已经不会再被路由到新包 但其 Flow 表可能仍有挂起的解析任务
	// 只回收其冻结表协程 不强行终止正在进行中的 Flow
	for _, d := range old {
		d.Close()
	}
	return nil
}

func (e *Engine) newDispatcher(proto socket.L7Proto, opts common.Options) (*dispatcher, error) {
	f, err := e.resolveFactory(proto, opts)
	if err != nil {
		return nil, err
	}
	return protolens.New[packet.FromSegment](proto, f), nil
}

// resolveFactory 取出 proto 对应的 Factory 个别协议支持按规则覆盖解析器选项
// (见 register.go 的 httpFactory) 其余协议直接使用全局注册表里的 Factory
func (e *Engine) resolveFactory(proto socket.L7Proto, opts common.Options) (parser.Factory[packet.FromSegment], error) {
	switch proto {
	case socket.L7ProtoHTTP:
		return httpFactory(opts, func(rt *phttp.RoundTrip) { e.publishEvent(rt) }), nil
	case socket.L7ProtoSMTP:
		return smtpFactory(opts, func(ex *psmtp.Exchange) { e.publishEvent(ex) }), nil
	case socket.L7ProtoPOP3:
		return pop3Factory(opts, func(ex *ppop3.Exchange) { e.publishEvent(ex) }), nil
	case socket.L7ProtoIMAP:
		return imapFactory(opts, func(ex *pimap.Exchange) { e.publishEvent(ex) }), nil
	case socket.L7ProtoSIP:
		return sipFactory(opts, func(ex *psip.Exchange) { e.publishEvent(ex) }), nil
	}

	factory, err := parser.Get(proto)
	if err != nil {
		return nil, err
	}
	f, ok := factory.(parser.Factory[packet.FromSegment])
	if !ok {
		return nil, errors.Errorf("engine: parser factory for %s has an unexpected type", proto)
	}
	return f, nil
}

// publishEvent 是内置解析器共同的默认出口: 把匹配完成的事件序列化成 JSON 写入日志
// 同时发布给所有订阅者 —没有接上导出管道的宿主也能拿到解析结果
func (e *Engine) publishEvent(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Debugf("failed to marshal event: %v", err)
	} else {
		logger.Infof("%s", b)
	}
	e.events.Publish(v)
}

// Start 启动管理端 HTTP Server、过期 Flow 的定期扫描 并接入 sniffer 的数据包回调
func (e *Engine) Start() error {
	e.setupServer()

	go e.sweepExpiredFlows()

	if e.svr != nil {
		go func() {
			defer rescue.HandleCrash()
			err := e.svr.ListenAndServe()
			if !errors.Is(err, io.EOF) {
				logger.Errorf("failed to start server: %v", err)
			}
		}()
	}

	e.snif.SetOnL4Packet(e.onL4Packet)
	return nil
}

// onL4Packet 把一个 4 层数据包路由给正确协议、正确方向的 Dispatcher
//
// sniffer 产出的 L4Packet 不区分方向 (Direction 恒为 DirC2S) 这里按端口是否
// 命中某条规则的服务端端口来判定方向: 目的端口命中视为 c2s 源端口命中视为 s2c
func (e *Engine) onL4Packet(pkt socket.L4Packet) {
	defer rescue.HandleCrash()

	tuple := pkt.SocketTuple()

	d, dir, ok := e.resolve(tuple)
	if !ok {
		return
	}

	seg := pkt.Segment()
	seg.Dir = dir
	e.capture.Write(seg.Payload)

	if err := d.RunTask(e.ctx, tuple, dir, packet.NewFromSegment(seg)); err != nil {
		logger.Debugf("failed to handle %s packet: %v", tuple, err)
	}
}

func (e *Engine) resolve(tuple socket.Tuple) (*dispatcher, socket.Direction, bool) {
	if proto, ok := e.portIndex[tuple.DstPort]; ok {
		if d, ok := e.dispatchers[proto]; ok {
			return d, socket.DirC2S, true
		}
	}
	if proto, ok := e.portIndex[tuple.SrcPort]; ok {
		if d, ok := e.dispatchers[proto]; ok {
			return d, socket.DirS2C, true
		}
	}
	return nil, 0, false
}

// sweepExpiredFlows 定期回收长时间未收到任何数据包的残留 Flow
func (e *Engine) sweepExpiredFlows() {
	defer rescue.HandleCrash()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	maxIdle := e.cfg.GetConnExpired()
	for {
		select {
		case <-ticker.C:
			for proto, d := range e.dispatchers {
				if n := d.Sweep(maxIdle); n > 0 {
					logger.Debugf("swept %d idle %s flows", n, proto)
				}
			}

		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) setupServer() {
	if e.svr == nil {
		return
	}

	// Metric Routes
	e.svr.RegisterGetRoute("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})
	e.svr.RegisterGetRoute("/protocol/flows", func(w http.ResponseWriter, r *http.Request) {
		for proto, d := range e.dispatchers {
			fmt.Fprintf(w, "%s\t%d\n", proto, d.ActiveFlows())
		}
	})
	e.svr.RegisterGetRoute("/protocol/subscribers", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d\n", e.events.Num())
	})

	// Admin Routes
	e.svr.RegisterPostRoute("/-/logger", func(w http.ResponseWriter, r *http.Request) {
		logger.SetLoggerLevel(r.FormValue("level"))
		w.Write([]byte(`{"status": "success"}`))
	})
	e.svr.RegisterPostRoute("/-/reload", func(w http.ResponseWriter, r *http.Request) {
		if err := sigs.SelfReload(); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(err.Error()))
			return
		}
	})
}

// Reload 重载配置
//
// 仅支持重新编译 sniffer 的 protocols 规则 规则变化会触发 portIndex 与
// Dispatcher 集合的重建 此后所有数据包只路由到新的 Dispatcher 旧 Dispatcher
// 中仍在跟踪的 Flow 不会再收到数据包
func (e *Engine) Reload(conf *confengine.Config) error {
	var cfg sniffer.Config
	if err := conf.UnpackChild("sniffer", &cfg); err != nil {
		return err
	}

	if err := e.snif.Reload(&cfg); err != nil {
		return err
	}
	return e.buildDispatchers()
}

// Stop 关闭 sniffer 停止过期 Flow 的扫描 并停止每个 Dispatcher 的冻结表回收协程
// 进行中的 Flow 不会被逐一终止
func (e *Engine) Stop() {
	e.snif.Close()
	e.cancel()
	for _, d := range e.dispatchers {
		d.Close()
	}
	e.capture.Close()
}
