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

import "github.com/cloudwego/eino/schema"

// Field SharedState 的字段名
type Field string

const (
	FieldMessages                Field = "messages"
	FieldSearchQuery             Field = "search_query"
	FieldWebResearchResult       Field = "web_research_result"
	FieldSourcesGathered         Field = "sources_gathered"
	FieldUsedSources             Field = "used_sources"
	FieldIsSufficient            Field = "is_sufficient"
	FieldKnowledgeGap            Field = "knowledge_gap"
	FieldFollowUpQueries         Field = "follow_up_queries"
	FieldResearchLoopCount       Field = "research_loop_count"
	FieldNumberOfRanQueries      Field = "number_of_ran_queries"
	FieldUserID                  Field = "user_id"
	FieldReasoningModel          Field = "reasoning_model"
	FieldInitialSearchQueryCount Field = "initial_search_query_count"
	FieldMaxResearchLoops        Field = "max_research_loops"
	FieldIntent                  Field = "intent"
	FieldRoute                   Field = "route"
	FieldFailures                Field = "failures"
	FieldLoopBoundReached        Field = "loop_bound_reached"
)

// Policy 字段合并策略
type Policy int

const (
	// Append 跨整个运行累积，循环之间不重置
	Append Policy = iota
	// Overwrite 取最后一次应用的值
	Overwrite
	// Increment 按 delta 的增量累加，只增不减
	Increment
	// SetOnce 首次写入后不可改为其他值
	SetOnce
)

func (p Policy) String() string {
	switch p {
	case Append:
		return "append"
	case Overwrite:
		return "overwrite"
	case Increment:
		return "increment"
	case SetOnce:
		return "set_once"
	}
	return "unknown"
}

// Policies 字段到合并策略的表，Reducer 依此分派
var Policies = map[Field]Policy{
	FieldMessages:                Append,
	FieldSearchQuery:             Overwrite,
	FieldWebResearchResult:       Append,
	FieldSourcesGathered:         Append,
	FieldUsedSources:             Overwrite,
	FieldIsSufficient:            Overwrite,
	FieldKnowledgeGap:            Overwrite,
	FieldFollowUpQueries:         Overwrite,
	FieldResearchLoopCount:       Increment,
	FieldNumberOfRanQueries:      Overwrite,
	FieldUserID:                  SetOnce,
	FieldReasoningModel:          Overwrite,
	FieldInitialSearchQueryCount: Overwrite,
	FieldMaxResearchLoops:        Overwrite,
	FieldIntent:                  Overwrite,
	FieldRoute:                   Overwrite,
	FieldFailures:                Append,
	FieldLoopBoundReached:        Overwrite,
}

// Delta 一次步骤执行产生的部分状态更新。
// 切片字段为 nil、指针字段为 nil、LoopIncrement 为 0 均表示未触及该字段；
// 覆盖型切片字段要写成空需传非 nil 的空切片。
type Delta struct {
	Messages          []*schema.Message
	SearchQuery       []string
	WebResearchResult []string
	SourcesGathered   []Source
	UsedSources       []Source

	IsSufficient    *bool
	KnowledgeGap    *string
	FollowUpQueries []string

	LoopIncrement      int
	NumberOfRanQueries *int

	UserID                  *string
	ReasoningModel          *string
	InitialSearchQueryCount *int
	MaxResearchLoops        *int

	Intent           *Intent
	Route            *Route
	Failures         []Failure
	LoopBoundReached *bool
}

// Fields 返回该 delta 触及的字段，顺序固定
func (d *Delta) Fields() []Field {
	if d == nil {
		return nil
	}
	var fs []Field
	add := func(touched bool, f Field) {
		if touched {
			fs = append(fs, f)
		}
	}
	add(len(d.Messages) > 0, FieldMessages)
	add(d.SearchQuery != nil, FieldSearchQuery)
	add(len(d.WebResearchResult) > 0, FieldWebResearchResult)
	add(len(d.SourcesGathered) > 0, FieldSourcesGathered)
	add(d.UsedSources != nil, FieldUsedSources)
	add(d.IsSufficient != nil, FieldIsSufficient)
	add(d.KnowledgeGap != nil, FieldKnowledgeGap)
	add(d.FollowUpQueries != nil, FieldFollowUpQueries)
	add(d.LoopIncrement != 0, FieldResearchLoopCount)
	add(d.NumberOfRanQueries != nil, FieldNumberOfRanQueries)
	add(d.UserID != nil, FieldUserID)
	add(d.ReasoningModel != nil, FieldReasoningModel)
	add(d.InitialSearchQueryCount != nil, FieldInitialSearchQueryCount)
	add(d.MaxResearchLoops != nil, FieldMaxResearchLoops)
	add(d.Intent != nil, FieldIntent)
	add(d.Route != nil, FieldRoute)
	add(len(d.Failures) > 0, FieldFailures)
	add(d.LoopBoundReached != nil, FieldLoopBoundReached)
	return fs
}

// Ptr 取值地址，便于构造 Delta
func Ptr[T any](v T) *T { return &v }

// RouteTo 仅携带路由决策的 delta
func RouteTo(r Route) *Delta { return &Delta{Route: &r} }

// FailureDelta 仅追加失败记录的 delta
func FailureDelta(f ...Failure) *Delta { return &Delta{Failures: f} }
