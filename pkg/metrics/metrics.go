// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RunTotal, RunDuration,
		StepDuration, FanOutTasksTotal, LoopBoundTotal,
		MemoryWritesTotal, CollaboratorRetriesTotal,
		RateLimitWaitSeconds,
	)
}

// RunTotal 研究运行总数（按状态）
var RunTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_runs_total",
		Help: "研究运行总数（按状态）",
	},
	[]string{"status"}, // completed | degraded | failed
)

// RunDuration 单次运行耗时（秒）
var RunDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "research_run_duration_seconds",
		Help:    "单次研究运行耗时（秒）",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	},
)

// StepDuration 步骤耗时（秒），扇出时每个实例单独计
var StepDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "research_step_duration_seconds",
		Help:    "步骤执行耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"step"},
)

// FanOutTasksTotal 扇出任务结果
var FanOutTasksTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_fanout_tasks_total",
		Help: "扇出任务总数（按结果）",
	},
	[]string{"step", "outcome"}, // ok | failed | timeout
)

// LoopBoundTotal 触达循环上限而被强制 finalize 的次数
var LoopBoundTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "research_loop_bound_total",
		Help: "触达循环上限强制收敛的次数",
	},
)

// MemoryWritesTotal 长期记忆写入结果
var MemoryWritesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_memory_writes_total",
		Help: "长期记忆写入（按结果）",
	},
	[]string{"outcome"}, // stored | skipped | failed
)

// CollaboratorRetriesTotal 协作方调用重试次数
var CollaboratorRetriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "research_collaborator_retries_total",
		Help: "协作方调用重试次数",
	},
	[]string{"collaborator"},
)

// RateLimitWaitSeconds 限流等待耗时
var RateLimitWaitSeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "llm_rate_limit_wait_seconds",
		Help:    "限流等待耗时（秒）",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	},
	[]string{"kind", "provider"},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
