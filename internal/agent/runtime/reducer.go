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

package runtime

import (
	"errors"
	"fmt"
)

var (
	// ErrImmutableField 对 SetOnce 字段写入不同的值
	ErrImmutableField = errors.New("field is immutable once set")
	// ErrNegativeIncrement 递增字段收到负增量
	ErrNegativeIncrement = errors.New("increment must be positive")
)

// Reducer 按合并策略表把 delta 应用到 State。
// 同一批 delta 按传入顺序（即任务提交顺序）应用，覆盖型字段因此取最后一个触及它的 delta 的值。
type Reducer struct {
	policies map[Field]Policy
}

// NewReducer 使用默认的 Policies
func NewReducer() *Reducer {
	return &Reducer{policies: Policies}
}

// WithPolicy 返回替换了单个字段策略的 Reducer 副本
func (r *Reducer) WithPolicy(f Field, p Policy) *Reducer {
	policies := make(map[Field]Policy, len(r.policies))
	for k, v := range r.policies {
		policies[k] = v
	}
	policies[f] = p
	return &Reducer{policies: policies}
}

// Apply 依次应用 deltas；某个字段应用失败不影响其余字段，错误合并返回
func (r *Reducer) Apply(s *State, deltas ...*Delta) error {
	var errs []error
	for _, d := range deltas {
		if d == nil {
			continue
		}
		for _, f := range d.Fields() {
			if err := r.applyField(s, d, f); err != nil {
				errs = append(errs, fmt.Errorf("field %s: %w", f, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (r *Reducer) applyField(s *State, d *Delta, f Field) error {
	p, ok := r.policies[f]
	if !ok {
		return fmt.Errorf("no merge policy")
	}
	switch p {
	case Append:
		return appendField(s, d, f)
	case Overwrite:
		return overwriteField(s, d, f)
	case Increment:
		return incrementField(s, d, f)
	case SetOnce:
		return setOnceField(s, d, f)
	}
	return fmt.Errorf("unknown policy %d", p)
}

func appendField(s *State, d *Delta, f Field) error {
	switch f {
	case FieldMessages:
		s.Messages = append(s.Messages, cloneMessages(d.Messages)...)
	case FieldWebResearchResult:
		s.WebResearchResult = append(s.WebResearchResult, d.WebResearchResult...)
	case FieldSourcesGathered:
		s.SourcesGathered = append(s.SourcesGathered, d.SourcesGathered...)
	case FieldUsedSources:
		s.UsedSources = append(s.UsedSources, d.UsedSources...)
	case FieldSearchQuery:
		s.SearchQuery = append(s.SearchQuery, d.SearchQuery...)
	case FieldFollowUpQueries:
		s.FollowUpQueries = append(s.FollowUpQueries, d.FollowUpQueries...)
	case FieldFailures:
		s.Failures = append(s.Failures, d.Failures...)
	default:
		return fmt.Errorf("policy %s not supported", Append)
	}
	return nil
}

func overwriteField(s *State, d *Delta, f Field) error {
	switch f {
	case FieldMessages:
		s.Messages = cloneMessages(d.Messages)
	case FieldSearchQuery:
		s.SearchQuery = cloneSlice(d.SearchQuery)
	case FieldWebResearchResult:
		s.WebResearchResult = cloneSlice(d.WebResearchResult)
	case FieldSourcesGathered:
		s.SourcesGathered = cloneSlice(d.SourcesGathered)
	case FieldUsedSources:
		s.UsedSources = cloneSlice(d.UsedSources)
	case FieldIsSufficient:
		s.IsSufficient = *d.IsSufficient
	case FieldKnowledgeGap:
		s.KnowledgeGap = *d.KnowledgeGap
	case FieldFollowUpQueries:
		s.FollowUpQueries = cloneSlice(d.FollowUpQueries)
	case FieldNumberOfRanQueries:
		s.NumberOfRanQueries = *d.NumberOfRanQueries
	case FieldReasoningModel:
		s.ReasoningModel = *d.ReasoningModel
	case FieldInitialSearchQueryCount:
		s.InitialSearchQueryCount = *d.InitialSearchQueryCount
	case FieldMaxResearchLoops:
		s.MaxResearchLoops = *d.MaxResearchLoops
	case FieldIntent:
		s.Intent = *d.Intent
	case FieldRoute:
		s.Route = *d.Route
	case FieldLoopBoundReached:
		s.LoopBoundReached = *d.LoopBoundReached
	case FieldFailures:
		s.Failures = cloneSlice(d.Failures)
	default:
		return fmt.Errorf("policy %s not supported", Overwrite)
	}
	return nil
}

func incrementField(s *State, d *Delta, f Field) error {
	switch f {
	case FieldResearchLoopCount:
		if d.LoopIncrement < 0 {
			return ErrNegativeIncrement
		}
		s.ResearchLoopCount += d.LoopIncrement
	case FieldNumberOfRanQueries:
		if *d.NumberOfRanQueries < 0 {
			return ErrNegativeIncrement
		}
		s.NumberOfRanQueries += *d.NumberOfRanQueries
	default:
		return fmt.Errorf("policy %s not supported", Increment)
	}
	return nil
}

func setOnceField(s *State, d *Delta, f Field) error {
	switch f {
	case FieldUserID:
		if s.UserID != "" && s.UserID != *d.UserID {
			return ErrImmutableField
		}
		s.UserID = *d.UserID
	default:
		return fmt.Errorf("policy %s not supported", SetOnce)
	}
	return nil
}
