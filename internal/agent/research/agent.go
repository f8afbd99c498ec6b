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

package research

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"research-agent/internal/agent/memory"
	"research-agent/internal/agent/runtime"
	"research-agent/internal/agent/runtime/executor"
	"research-agent/pkg/config"
	pkgerrors "research-agent/pkg/errors"
	"research-agent/pkg/log"
	"research-agent/pkg/metrics"
	"research-agent/pkg/tracing"
	"research-agent/pkg/utils"
)

// 步骤名
const (
	NodeGenerateQuery  = "generate_query"
	NodeWebResearch    = "web_research"
	NodeReflection     = "reflection"
	NodeFinalizeAnswer = "finalize_answer"
	NodeMemorize       = "memorize"
)

// Options Agent 依赖；Classifier 为空时使用生成器分类，Memory 为空时使用进程内存储
type Options struct {
	Config     config.ResearchConfig
	Generator  Generator
	Searcher   Searcher
	Classifier Classifier
	Memory     memory.Store
	Logger     *log.Logger
	// Now 提示词中的当前日期，测试时注入
	Now func() time.Time
}

// Agent 研究流程：generate_query → web_research(扇出) → reflection ⇄ web_research → finalize_answer → memorize
type Agent struct {
	cfg        config.ResearchConfig
	gen        Generator
	searcher   Searcher
	classifier Classifier
	memory     memory.Store
	logger     *log.Logger
	now        func() time.Time
	retry      executor.RetryPolicy
	runner     *executor.Runner
}

// Input 一次运行的输入
type Input struct {
	Messages                []*schema.Message
	UserID                  string
	ReasoningModel          string
	InitialSearchQueryCount int
	MaxResearchLoops        int
}

// Output 一次运行的结果
type Output struct {
	RunID             string            `json:"run_id"`
	Messages          []*schema.Message `json:"messages"`
	Sources           []runtime.Source  `json:"sources_gathered"`
	ResearchLoopCount int               `json:"research_loop_count"`
	LoopBoundReached  bool              `json:"loop_bound_reached"`
	Failures          []runtime.Failure `json:"failures"`
}

// Answer 最终答案文本
func (o *Output) Answer() string {
	for i := len(o.Messages) - 1; i >= 0; i-- {
		if o.Messages[i].Role == schema.Assistant {
			return o.Messages[i].Content
		}
	}
	return ""
}

func withDefaults(cfg config.ResearchConfig) config.ResearchConfig {
	if cfg.NumberOfInitialQueries < 1 {
		cfg.NumberOfInitialQueries = 3
	}
	if cfg.MaxResearchLoops < 1 {
		cfg.MaxResearchLoops = 2
	}
	if cfg.MaxFanOut < 1 {
		cfg.MaxFanOut = 5
	}
	if cfg.Memory.Threshold < 1 {
		cfg.Memory.Threshold = 4
	}
	if cfg.Memory.Similarity <= 0 {
		cfg.Memory.Similarity = 0.5
	}
	if cfg.Memory.ContextLimit < 1 {
		cfg.Memory.ContextLimit = 20
	}
	return cfg
}

// New 构建 Agent 与其步骤图
func New(opts Options) (*Agent, error) {
	if opts.Generator == nil || opts.Searcher == nil {
		return nil, fmt.Errorf("%w: generator and searcher are required", pkgerrors.ErrInvalidArg)
	}
	cfg := withDefaults(opts.Config)
	a := &Agent{
		cfg:        cfg,
		gen:        opts.Generator,
		searcher:   opts.Searcher,
		classifier: opts.Classifier,
		memory:     opts.Memory,
		logger:     opts.Logger,
		now:        opts.Now,
		retry:      executor.DefaultRetryPolicy(),
	}
	if a.classifier == nil {
		a.classifier = NewGeneratorClassifier(a.gen, cfg.QueryGeneratorModel)
	}
	if a.memory == nil {
		a.memory = memory.NewMemoryStore(nil)
	}
	if a.logger == nil {
		a.logger = log.Discard()
	}
	if a.now == nil {
		a.now = time.Now
	}
	if cfg.Retry.MaxAttempts > 0 {
		a.retry = executor.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Backoff:     cfg.Retry.Backoff,
			Multiplier:  cfg.Retry.Multiplier,
		}
	}

	g, err := a.buildGraph()
	if err != nil {
		return nil, err
	}
	dispatcher := executor.NewDispatcher(executor.DispatcherConfig{
		TaskTimeout:    cfg.TaskTimeout,
		MaxConcurrency: cfg.MaxConcurrency,
		MaxWidth:       cfg.MaxFanOut,
	}, a.logger)
	runnerOpts := []executor.RunnerOption{
		executor.WithLogger(a.logger),
		executor.WithDispatcher(dispatcher),
		executor.WithStepBudget(a.stepBudget),
	}
	if cfg.MaxSteps > 0 {
		runnerOpts = append(runnerOpts, executor.WithMaxSteps(cfg.MaxSteps))
	}
	a.runner, err = executor.NewRunner(g, runnerOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Agent) buildGraph() (*executor.Graph, error) {
	g := executor.NewGraph()
	nodes := []struct {
		name string
		fn   executor.NodeFunc
	}{
		{NodeGenerateQuery, a.generateQuery},
		{NodeWebResearch, a.webResearch},
		{NodeReflection, a.reflection},
		{NodeFinalizeAnswer, a.finalizeAnswer},
		{NodeMemorize, a.memorize},
	}
	for _, n := range nodes {
		if err := g.AddNode(n.name, n.fn); err != nil {
			return nil, err
		}
	}

	route := executor.Branch{
		Targets: map[runtime.Route]executor.TargetFunc{
			runtime.RouteResearch: func(s *runtime.State) executor.Target {
				return executor.FanOut(NodeWebResearch, s.SearchQuery)
			},
			runtime.RouteFinalize: executor.To(NodeFinalizeAnswer),
		},
		Default: runtime.RouteFinalize,
	}
	for _, err := range []error{
		g.AddBranch(NodeGenerateQuery, route),
		g.AddEdge(NodeWebResearch, NodeReflection),
		g.AddBranch(NodeReflection, route),
		g.AddEdge(NodeFinalizeAnswer, NodeMemorize),
		g.AddEdge(NodeMemorize, executor.End),
	} {
		if err != nil {
			return nil, err
		}
	}
	g.SetEntry(NodeGenerateQuery)
	g.SetFallback(NodeWebResearch, NodeReflection)
	g.SetFallback(NodeReflection, NodeFinalizeAnswer)
	g.SetFallback(NodeFinalizeAnswer, NodeMemorize)
	g.SetLoopBound(executor.LoopBound{
		Node:     NodeReflection,
		Limit:    a.maxLoops,
		Fallback: NodeFinalizeAnswer,
	})
	return g, g.Validate()
}

// Run 执行一次研究。协作方失败只会降级结果；仅输入无效、ctx 取消与图错误返回 error
func (a *Agent) Run(ctx context.Context, in Input) (*Output, error) {
	st := runtime.NewState(in.Messages, in.UserID)
	if st.LatestUserMessage() == "" {
		return nil, fmt.Errorf("%w: conversation needs at least one user message", pkgerrors.ErrInvalidArg)
	}
	st.ReasoningModel = in.ReasoningModel
	st.InitialSearchQueryCount = in.InitialSearchQueryCount
	st.MaxResearchLoops = in.MaxResearchLoops

	runID := uuid.NewString()
	ctx, span := tracing.StartRunSpan(ctx, runID, st.UserID)
	defer span.End()
	logger := a.logger.With("run_id", runID, "user_id", st.UserID)
	start := time.Now()

	report, err := a.runner.Run(ctx, st)
	metrics.RunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		metrics.RunTotal.WithLabelValues("error").Inc()
		logger.Error("research run aborted", "error", err)
		return nil, err
	}

	status := "ok"
	if len(st.Failures) > 0 || st.LoopBoundReached || report.LoopBoundHit {
		status = "degraded"
	}
	metrics.RunTotal.WithLabelValues(status).Inc()
	logger.Info("research run done",
		"status", status,
		"research_loop_count", st.ResearchLoopCount,
		"sources", len(st.UsedSources),
		"failures", len(st.Failures),
		"steps", len(report.Steps))

	return &Output{
		RunID:             runID,
		Messages:          st.Messages,
		Sources:           st.UsedSources,
		ResearchLoopCount: st.ResearchLoopCount,
		LoopBoundReached:  st.LoopBoundReached || report.LoopBoundHit,
		Failures:          st.Failures,
	}, nil
}

func (a *Agent) maxLoops(s *runtime.State) int {
	if s.MaxResearchLoops > 0 {
		return s.MaxResearchLoops
	}
	return a.cfg.MaxResearchLoops
}

// stepBudget 一次运行最多需要的步数：generate_query，每轮 web_research 与 reflection，再加 finalize_answer 与 memorize
func (a *Agent) stepBudget(s *runtime.State) int {
	return 2*a.maxLoops(s) + 3
}

func (a *Agent) queryCount(s *runtime.State) int {
	n := utils.DefaultInt(s.InitialSearchQueryCount, a.cfg.NumberOfInitialQueries)
	return utils.ClampInt(n, 1, a.cfg.MaxFanOut)
}

func (a *Agent) reasoningModel(s *runtime.State, fallback string) string {
	return utils.CoalesceString(s.ReasoningModel, fallback)
}

func failureOf(step, payload string, err error) runtime.Failure {
	return runtime.Failure{
		Step:      step,
		Payload:   payload,
		Error:     err.Error(),
		Retryable: executor.ClassifyError(err) == executor.StepResultRetryableFailure,
	}
}
