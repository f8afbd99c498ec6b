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
	"fmt"
	"time"

	"research-agent/internal/agent/runtime"
	"research-agent/pkg/log"
	"research-agent/pkg/metrics"
	"research-agent/pkg/tracing"
)

// DefaultMaxSteps 控制循环的步数兜底，防止配置错误的图无限运行
const DefaultMaxSteps = 64

// StepRecord 一次控制循环步骤的执行记录
type StepRecord struct {
	Node      string        `json:"node"`
	Instances int           `json:"instances"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// RunReport 一次图运行的轨迹
type RunReport struct {
	Steps        []StepRecord   `json:"steps"`
	Visits       map[string]int `json:"visits"`
	LoopBoundHit bool           `json:"loop_bound_hit"`
}

// Runner 驱动图从入口执行到 End；自身不含任何步骤逻辑
type Runner struct {
	graph      *Graph
	reducer    *runtime.Reducer
	dispatcher *Dispatcher
	logger     *log.Logger
	maxSteps   int
	stepBudget func(*runtime.State) int
}

// RunnerOption Runner 选项
type RunnerOption func(*Runner)

// WithLogger 设置 logger
func WithLogger(l *log.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithDispatcher 设置扇出 Dispatcher
func WithDispatcher(d *Dispatcher) RunnerOption {
	return func(r *Runner) {
		if d != nil {
			r.dispatcher = d
		}
	}
}

// WithReducer 设置 Reducer
func WithReducer(red *runtime.Reducer) RunnerOption {
	return func(r *Runner) {
		if red != nil {
			r.reducer = red
		}
	}
}

// WithMaxSteps 设置步数兜底
func WithMaxSteps(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithStepBudget 按运行状态给出本次所需步数；实际上限取它与 maxSteps 的较大值
func WithStepBudget(fn func(*runtime.State) int) RunnerOption {
	return func(r *Runner) {
		r.stepBudget = fn
	}
}

// NewRunner 校验图并创建 Runner
func NewRunner(g *Graph, opts ...RunnerOption) (*Runner, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	r := &Runner{
		graph:    g,
		reducer:  runtime.NewReducer(),
		logger:   log.Discard(),
		maxSteps: DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.dispatcher == nil {
		r.dispatcher = NewDispatcher(DispatcherConfig{}, r.logger)
	}
	return r, nil
}

// Run 从入口开始执行直到 End。
// 步骤失败不会中断运行：失败记录归并进状态，随后按回退或正常出边继续。
// 只有图配置错误与 ctx 取消会返回错误。
func (r *Runner) Run(ctx context.Context, st *runtime.State) (*RunReport, error) {
	report := &RunReport{Visits: make(map[string]int)}
	target := Goto(r.graph.Entry())
	limit := r.stepLimit(st)

	for steps := 0; target.Node != End; steps++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if steps >= limit {
			return report, fmt.Errorf("%w: %d steps without reaching %s", ErrStepLimit, limit, End)
		}
		fn, ok := r.graph.Node(target.Node)
		if !ok {
			return report, fmt.Errorf("%w: %s", ErrUnknownNode, target.Node)
		}

		rec, stepErr := r.execute(ctx, st, target, fn)
		report.Steps = append(report.Steps, rec)
		report.Visits[target.Node]++

		next, err := r.graph.next(target.Node, st, stepErr != nil)
		if err != nil {
			return report, err
		}
		next = r.enforceLoopBound(target.Node, report.Visits[target.Node], st, next, report)
		target = next
	}
	return report, nil
}

func (r *Runner) stepLimit(st *runtime.State) int {
	if r.stepBudget == nil {
		return r.maxSteps
	}
	if n := r.stepBudget(st); n > r.maxSteps {
		return n
	}
	return r.maxSteps
}

// execute 执行一个控制循环步骤（单实例或扇出）并归并结果
func (r *Runner) execute(ctx context.Context, st *runtime.State, t Target, fn NodeFunc) (StepRecord, error) {
	start := time.Now()
	rec := StepRecord{Node: t.Node}
	var stepErr error

	if t.IsFanOut() {
		deltas, dr, err := r.dispatcher.Dispatch(ctx, t.Node, fn, st, t.Payloads)
		rec.Instances = len(dr.Outcomes)
		rec.Failed = dr.Failed()
		r.reduce(st, t.Node, deltas...)
		if failures := dr.Failures(); len(failures) > 0 {
			r.reduce(st, t.Node, runtime.FailureDelta(failures...))
		}
		if err != nil && len(dr.Outcomes) == 0 {
			r.reduce(st, t.Node, runtime.FailureDelta(failureOf(t.Node, Payload{}, err)))
		}
		stepErr = err
	} else {
		rec.Instances = 1
		stepCtx, span := tracing.StartStepSpan(ctx, t.Node, -1)
		delta, err := fn(stepCtx, st.Clone(), Payload{Index: -1})
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		metrics.StepDuration.WithLabelValues(t.Node).Observe(time.Since(start).Seconds())
		r.reduce(st, t.Node, delta)
		if err != nil {
			rec.Failed = 1
			r.reduce(st, t.Node, runtime.FailureDelta(failureOf(t.Node, Payload{Index: -1}, err)))
		}
		stepErr = err
	}

	rec.Duration = time.Since(start)
	if stepErr != nil {
		rec.Error = stepErr.Error()
		r.logger.Warn("step failed, continuing with partial results", "step", t.Node, "error", stepErr)
	} else {
		r.logger.Debug("step done", "step", t.Node, "instances", rec.Instances, "duration_ms", rec.Duration.Milliseconds())
	}
	return rec, stepErr
}

func (r *Runner) reduce(st *runtime.State, node string, deltas ...*runtime.Delta) {
	if err := r.reducer.Apply(st, deltas...); err != nil {
		r.logger.Warn("reduce delta", "step", node, "error", err)
	}
}

// enforceLoopBound 循环节点访问次数达到上限后强制改走 Fallback
func (r *Runner) enforceLoopBound(node string, visits int, st *runtime.State, next Target, report *RunReport) Target {
	b := r.graph.bound
	if b == nil || b.Node != node {
		return next
	}
	limit := b.Limit(st)
	if limit < 1 {
		limit = 1
	}
	if visits < limit || next.Node == b.Fallback || next.Node == End {
		return next
	}
	report.LoopBoundHit = true
	metrics.LoopBoundTotal.Inc()
	r.logger.Warn("research loop bound reached, forcing "+b.Fallback, "step", node, "visits", visits, "limit", limit)
	r.reduce(st, node, &runtime.Delta{LoopBoundReached: runtime.Ptr(true)})
	return Goto(b.Fallback)
}
