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

package protolens

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/packetd/protolens/common"
)

var (
	activeFlows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: common.App,
			Name:      "active_flows",
			Help:      "Active flows currently tracked by the dispatcher",
		},
		[]string{"proto"},
	)

	heapFullTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "heap_full_total",
			Help:      "Flows dropped because the ordered packet heap reached capacity",
		},
		[]string{"proto"},
	)

	bufferStallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "buffer_stall_total",
			Help:      "Flows dropped because the ring buffer could not accept data after compaction",
		},
		[]string{"proto"},
	)

	parserErrorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "parser_error_total",
			Help:      "Flows dropped because the parser task returned an error or panicked",
		},
		[]string{"proto"},
	)

	packetsHandledTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.App,
			Name:      "packets_handled_total",
			Help:      "Packets handed to the dispatcher",
		},
		[]string{"proto", "direction"},
	)
)
