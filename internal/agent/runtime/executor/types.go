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

	"research-agent/internal/agent/runtime"
	pkgerrors "research-agent/pkg/errors"
)

// End 终止节点哨兵
const End = "__end__"

var (
	ErrRetryable      = errors.New("retryable")
	ErrPermanent      = errors.New("permanent")
	ErrAllTasksFailed = errors.New("all fan-out tasks failed")
	ErrEmptyFanOut    = errors.New("fan-out without payloads")
	ErrStepLimit      = errors.New("step limit exceeded")
	ErrUnknownNode    = errors.New("unknown node")
	ErrInvalidGraph   = errors.New("invalid graph")
)

// Payload 单个步骤实例的输入；扇出时每个实例一份，Index 为提交序号
type Payload struct {
	Index int
	Input string
}

// NodeFunc 步骤实现：读取状态快照，返回 delta。
// delta 非 nil 时即使 err 非 nil 也会被归并（扇出任务失败时除外）。
type NodeFunc func(ctx context.Context, snapshot *runtime.State, p Payload) (*runtime.Delta, error)

// Target 下一跳；Payloads 为 nil 表示单实例执行，非 nil 表示扇出
type Target struct {
	Node     string
	Payloads []Payload
}

// Goto 单实例跳转
func Goto(node string) Target { return Target{Node: node} }

// FanOut 每个 input 一个实例
func FanOut(node string, inputs []string) Target {
	ps := make([]Payload, len(inputs))
	for i, in := range inputs {
		ps[i] = Payload{Index: i, Input: in}
	}
	return Target{Node: node, Payloads: ps}
}

// IsFanOut 是否需要经过 Dispatcher
func (t Target) IsFanOut() bool { return t.Payloads != nil }

// TargetFunc 根据归并后的状态给出目标
type TargetFunc func(s *runtime.State) Target

// To 固定目标
func To(node string) TargetFunc {
	return func(*runtime.State) Target { return Goto(node) }
}

// Branch 条件边：按状态中的 Route 取目标，未匹配时使用 Default
type Branch struct {
	Targets map[runtime.Route]TargetFunc
	Default runtime.Route
}

func (b Branch) resolve(s *runtime.State) (Target, bool) {
	if fn, ok := b.Targets[s.Route]; ok {
		return fn(s), true
	}
	if fn, ok := b.Targets[b.Default]; ok {
		return fn(s), true
	}
	return Target{}, false
}

// StepResultType 步骤结果分类
type StepResultType string

const (
	StepResultSuccess          StepResultType = "success"
	StepResultRetryableFailure StepResultType = "retryable_failure"
	StepResultPermanentFailure StepResultType = "permanent_failure"
)

// StepFailure 携带分类的步骤错误
type StepFailure struct {
	Type   StepResultType
	Inner  error
	NodeID string
}

func (e *StepFailure) Error() string {
	if e.Inner != nil {
		return e.NodeID + ": " + e.Inner.Error()
	}
	return e.NodeID + ": " + string(e.Type)
}

func (e *StepFailure) Unwrap() error { return e.Inner }

// ClassifyError 把执行错误映射为结果类型；瞬时协作方错误与超时可重试
func ClassifyError(err error) StepResultType {
	if err == nil {
		return StepResultSuccess
	}
	var sf *StepFailure
	if errors.As(err, &sf) {
		return sf.Type
	}
	if errors.Is(err, ErrRetryable) || pkgerrors.IsTransient(err) {
		return StepResultRetryableFailure
	}
	return StepResultPermanentFailure
}

func failureOf(node string, p Payload, err error) runtime.Failure {
	return runtime.Failure{
		Step:      node,
		Payload:   p.Input,
		Error:     err.Error(),
		Retryable: ClassifyError(err) == StepResultRetryableFailure,
	}
}
