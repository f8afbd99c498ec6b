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

package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"research-agent/internal/agent/runtime"
	pkgerrors "research-agent/pkg/errors"
	"research-agent/pkg/log"
	"research-agent/pkg/metrics"
	"research-agent/pkg/tracing"
)

// DispatcherConfig 扇出参数
type DispatcherConfig struct {
	// TaskTimeout 单个任务的超时，<=0 不设超时
	TaskTimeout time.Duration
	// MaxConcurrency 同时执行的任务数，<=0 不限制
	MaxConcurrency int
	// MaxWidth 单次扇出的最大任务数，超出部分截断，<=0 不限制
	MaxWidth int
}

// Dispatcher 扇出/汇合：每个 payload 一个并发实例，全部结束（或超时）后返回
type Dispatcher struct {
	cfg    DispatcherConfig
	logger *log.Logger
}

// NewDispatcher 创建 Dispatcher，logger 可为 nil
func NewDispatcher(cfg DispatcherConfig, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Discard()
	}
	return &Dispatcher{cfg: cfg, logger: logger}
}

// TaskOutcome 单个任务的结果
type TaskOutcome struct {
	Payload  Payload
	Delta    *runtime.Delta
	Err      error
	TimedOut bool
	Duration time.Duration
}

// DispatchReport 一次扇出的逐任务报告，顺序与提交顺序一致
type DispatchReport struct {
	Node     string
	Outcomes []TaskOutcome
}

// Succeeded 成功任务数
func (r *DispatchReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed 失败任务数
func (r *DispatchReport) Failed() int { return len(r.Outcomes) - r.Succeeded() }

// Failures 失败任务转为状态中的失败记录
func (r *DispatchReport) Failures() []runtime.Failure {
	var out []runtime.Failure
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, failureOf(r.Node, o.Payload, o.Err))
		}
	}
	return out
}

// Dispatch 对每个 payload 执行 fn，快照按任务各自拷贝。
// 任务之间互不取消；返回成功任务的 delta（按提交顺序），失败任务只出现在报告中。
// 全部失败时返回 ErrAllTasksFailed。
func (d *Dispatcher) Dispatch(ctx context.Context, node string, fn NodeFunc, snapshot *runtime.State, payloads []Payload) ([]*runtime.Delta, *DispatchReport, error) {
	report := &DispatchReport{Node: node}
	if len(payloads) == 0 {
		return nil, report, fmt.Errorf("%w: %s", ErrEmptyFanOut, node)
	}
	if d.cfg.MaxWidth > 0 && len(payloads) > d.cfg.MaxWidth {
		d.logger.Warn("fan-out width capped", "step", node, "requested", len(payloads), "max", d.cfg.MaxWidth)
		payloads = payloads[:d.cfg.MaxWidth]
	}

	report.Outcomes = make([]TaskOutcome, len(payloads))
	// 任务函数始终返回 nil，errgroup 只用作汇合与并发上限
	var g errgroup.Group
	if d.cfg.MaxConcurrency > 0 {
		g.SetLimit(d.cfg.MaxConcurrency)
	}
	for i, p := range payloads {
		snap := snapshot.Clone()
		g.Go(func() error {
			report.Outcomes[i] = d.runTask(ctx, node, fn, snap, p)
			return nil
		})
	}
	_ = g.Wait()

	deltas := make([]*runtime.Delta, 0, len(payloads))
	var firstErr error
	for _, o := range report.Outcomes {
		outcome := "ok"
		switch {
		case o.TimedOut:
			outcome = "timeout"
		case o.Err != nil:
			outcome = "failed"
		}
		metrics.FanOutTasksTotal.WithLabelValues(node, outcome).Inc()
		if o.Err != nil {
			if firstErr == nil {
				firstErr = o.Err
			}
			d.logger.Warn("fan-out task failed", "step", node, "index", o.Payload.Index, "error", o.Err, "timed_out", o.TimedOut)
			continue
		}
		if o.Delta != nil {
			deltas = append(deltas, o.Delta)
		}
	}
	if report.Succeeded() == 0 {
		return nil, report, fmt.Errorf("%w: %s: %v", ErrAllTasksFailed, node, firstErr)
	}
	return deltas, report, nil
}

type taskResult struct {
	delta *runtime.Delta
	err   error
}

// runTask 执行单个任务；任务忽略 ctx 而卡住时，到达超时即放弃等待
func (d *Dispatcher) runTask(ctx context.Context, node string, fn NodeFunc, snap *runtime.State, p Payload) TaskOutcome {
	taskCtx := ctx
	if d.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, d.cfg.TaskTimeout)
		defer cancel()
	}
	taskCtx, span := tracing.StartStepSpan(taskCtx, node, p.Index)
	defer span.End()

	start := time.Now()
	ch := make(chan taskResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- taskResult{err: fmt.Errorf("%w: panic in %s: %v", ErrPermanent, node, rec)}
			}
		}()
		delta, err := fn(taskCtx, snap, p)
		ch <- taskResult{delta: delta, err: err}
	}()

	out := TaskOutcome{Payload: p}
	select {
	case res := <-ch:
		out.Delta, out.Err = res.delta, res.err
	case <-taskCtx.Done():
		cause := taskCtx.Err()
		out.TimedOut = errors.Is(cause, context.DeadlineExceeded)
		out.Err = pkgerrors.Transient("executor", node, cause)
	}
	out.Duration = time.Since(start)
	metrics.StepDuration.WithLabelValues(node).Observe(out.Duration.Seconds())
	if out.Err != nil {
		span.RecordError(out.Err)
	}
	return out
}
