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
	"sync/atomic"
	"testing"
	"time"

	"research-agent/internal/agent/runtime"
)

// buildLoopGraph: plan -> fan(work) -> reflect -> {research: fan(work), finalize: done} -> End
func buildLoopGraph(t *testing.T, reflect NodeFunc, workCalls *atomic.Int32, limit int) *Graph {
	t.Helper()
	g := NewGraph()
	fanWork := func(s *runtime.State) Target { return FanOut("work", s.SearchQuery) }
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(g.AddNode("plan", func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) {
		return &runtime.Delta{SearchQuery: []string{"a", "b"}, Route: runtime.Ptr(runtime.RouteResearch)}, nil
	}))
	must(g.AddNode("work", func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) {
		workCalls.Add(1)
		return &runtime.Delta{WebResearchResult: []string{p.Input}}, nil
	}))
	must(g.AddNode("reflect", reflect))
	must(g.AddNode("done", func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) {
		return &runtime.Delta{KnowledgeGap: runtime.Ptr("finalized")}, nil
	}))
	routes := Branch{
		Targets: map[runtime.Route]TargetFunc{runtime.RouteResearch: fanWork, runtime.RouteFinalize: To("done")},
		Default: runtime.RouteFinalize,
	}
	must(g.AddBranch("plan", routes))
	must(g.AddEdge("work", "reflect"))
	must(g.AddBranch("reflect", routes))
	must(g.AddEdge("done", End))
	g.SetFallback("work", "reflect")
	g.SetEntry("plan")
	g.SetLoopBound(LoopBound{Node: "reflect", Limit: func(*runtime.State) int { return limit }, Fallback: "done"})
	return g
}

// TestRunner_LoopBoundForcesFinalize 反思始终判定不足时，循环在上限处被强制收敛
func TestRunner_LoopBoundForcesFinalize(t *testing.T) {
	var work atomic.Int32
	neverSufficient := func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) {
		return &runtime.Delta{LoopIncrement: 1, SearchQuery: []string{"follow"}, Route: runtime.Ptr(runtime.RouteResearch)}, nil
	}
	r, err := NewRunner(buildLoopGraph(t, neverSufficient, &work, 3))
	if err != nil {
		t.Fatal(err)
	}
	st := runtime.NewState(nil, "")
	report, err := r.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.ResearchLoopCount != 3 || report.Visits["reflect"] != 3 {
		t.Fatalf("loop count = %d visits = %d, want 3", st.ResearchLoopCount, report.Visits["reflect"])
	}
	if !st.LoopBoundReached || !report.LoopBoundHit {
		t.Fatal("loop bound should be flagged")
	}
	if st.KnowledgeGap != "finalized" {
		t.Fatal("run did not reach the finalize node")
	}
	// 首轮 2 个查询 + 2 轮各 1 个追问
	if work.Load() != 4 || len(st.WebResearchResult) != 4 {
		t.Fatalf("work calls = %d results = %d, want 4", work.Load(), len(st.WebResearchResult))
	}
}

func TestRunner_BranchFinalizeSkipsFanOut(t *testing.T) {
	var work atomic.Int32
	g := buildLoopGraph(t, func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) {
		return &runtime.Delta{LoopIncrement: 1, Route: runtime.Ptr(runtime.RouteFinalize)}, nil
	}, &work, 2)
	if err := g.AddNode("nil_func", nil); !errors.Is(err, ErrInvalidGraph) {
		t.Fatal("nil node func must be rejected")
	}
	r, err := NewRunner(g)
	if err != nil {
		t.Fatal(err)
	}
	st := runtime.NewState(nil, "")
	if _, err := r.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if st.ResearchLoopCount != 1 || st.LoopBoundReached {
		t.Fatalf("sufficient run should stop after one reflection, count=%d", st.ResearchLoopCount)
	}
	if work.Load() != 2 {
		t.Fatalf("work calls = %d, want 2", work.Load())
	}
}

// TestRunner_FailedFanOutContinues 扇出全部失败时走回退边，失败记录进入状态
func TestRunner_FailedFanOutContinues(t *testing.T) {
	g := NewGraph()
	_ = g.AddNode("start", func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) {
		return runtime.RouteTo(runtime.RouteResearch), nil
	})
	_ = g.AddNode("work", func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) {
		return nil, errors.New("search down")
	})
	_ = g.AddNode("finish", func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) {
		return &runtime.Delta{KnowledgeGap: runtime.Ptr("done")}, nil
	})
	_ = g.AddBranch("start", Branch{Targets: map[runtime.Route]TargetFunc{
		runtime.RouteResearch: func(*runtime.State) Target { return FanOut("work", []string{"x", "y"}) },
	}})
	_ = g.AddEdge("work", End)
	_ = g.AddEdge("finish", End)
	g.SetFallback("work", "finish")
	g.SetEntry("start")

	r, err := NewRunner(g)
	if err != nil {
		t.Fatal(err)
	}
	st := runtime.NewState(nil, "")
	report, err := r.Run(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if st.KnowledgeGap != "done" {
		t.Fatal("fallback route not taken")
	}
	if len(st.Failures) != 2 {
		t.Fatalf("failures = %+v", st.Failures)
	}
	if report.Steps[1].Failed != 2 || report.Steps[1].Error == "" {
		t.Fatalf("step record = %+v", report.Steps[1])
	}
}

func TestRunner_SingleStepDeltaAppliedWithError(t *testing.T) {
	g := NewGraph()
	_ = g.AddNode("reflect", func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) {
		return &runtime.Delta{LoopIncrement: 1}, errors.New("generator down")
	})
	_ = g.AddEdge("reflect", End)
	g.SetEntry("reflect")
	r, err := NewRunner(g)
	if err != nil {
		t.Fatal(err)
	}
	st := runtime.NewState(nil, "")
	if _, err := r.Run(context.Background(), st); err != nil {
		t.Fatal(err)
	}
	if st.ResearchLoopCount != 1 || len(st.Failures) != 1 {
		t.Fatalf("count=%d failures=%d", st.ResearchLoopCount, len(st.Failures))
	}
}

func TestRunner_StepLimit(t *testing.T) {
	g := NewGraph()
	_ = g.AddNode("a", func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) { return nil, nil })
	_ = g.AddNode("b", func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) { return nil, nil })
	_ = g.AddEdge("a", "b")
	_ = g.AddBranch("b", Branch{Targets: map[runtime.Route]TargetFunc{runtime.RouteNone: To("a"), runtime.RouteFinalize: To(End)}})
	g.SetEntry("a")
	r, err := NewRunner(g, WithMaxSteps(10))
	if err == nil {
		t.Fatal("graph without an edge to End should be invalid")
	}

	_ = g.AddEdge("dummy", End)
	_ = g.AddNode("dummy", func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) { return nil, nil })
	r, err = NewRunner(g, WithMaxSteps(10))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background(), runtime.NewState(nil, "")); !errors.Is(err, ErrStepLimit) {
		t.Fatalf("expected ErrStepLimit, got %v", err)
	}
}

// TestRunner_StepBudgetCoversLoopBound 循环上限高于默认步数时，运行仍能收敛到 End
func TestRunner_StepBudgetCoversLoopBound(t *testing.T) {
	const loops = 40
	neverSufficient := func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) {
		return &runtime.Delta{LoopIncrement: 1, SearchQuery: []string{"follow"}, Route: runtime.Ptr(runtime.RouteResearch)}, nil
	}

	var work atomic.Int32
	r, err := NewRunner(buildLoopGraph(t, neverSufficient, &work, loops), WithMaxSteps(10))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background(), runtime.NewState(nil, "")); !errors.Is(err, ErrStepLimit) {
		t.Fatalf("without a budget expected ErrStepLimit, got %v", err)
	}

	r, err = NewRunner(buildLoopGraph(t, neverSufficient, &work, loops),
		WithMaxSteps(10),
		WithStepBudget(func(*runtime.State) int { return 2*loops + 3 }))
	if err != nil {
		t.Fatal(err)
	}
	st := runtime.NewState(nil, "")
	report, err := r.Run(context.Background(), st)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if st.ResearchLoopCount != loops || !report.LoopBoundHit {
		t.Fatalf("loop count = %d bound hit = %v, want %d and true", st.ResearchLoopCount, report.LoopBoundHit, loops)
	}
}

func TestRunner_ContextCanceled(t *testing.T) {
	var work atomic.Int32
	g := buildLoopGraph(t, func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) {
		return runtime.RouteTo(runtime.RouteFinalize), nil
	}, &work, 2)
	r, _ := NewRunner(g)
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)
	if _, err := r.Run(ctx, runtime.NewState(nil, "")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestGraph_Validate(t *testing.T) {
	noop := func(ctx context.Context, s *runtime.State, p Payload) (*runtime.Delta, error) { return nil, nil }

	g := NewGraph()
	if err := g.Validate(); !errors.Is(err, ErrInvalidGraph) {
		t.Fatalf("missing entry: %v", err)
	}
	_ = g.AddNode("a", noop)
	if err := g.AddNode("a", noop); !errors.Is(err, ErrInvalidGraph) {
		t.Fatal("duplicate node should be rejected")
	}
	if err := g.AddNode(End, noop); !errors.Is(err, ErrInvalidGraph) {
		t.Fatal("End is reserved")
	}
	g.SetEntry("a")
	if err := g.Validate(); !errors.Is(err, ErrInvalidGraph) {
		t.Fatal("node without outgoing edge should be rejected")
	}
	_ = g.AddEdge("a", "ghost")
	if err := g.Validate(); !errors.Is(err, ErrInvalidGraph) {
		t.Fatal("dangling edge should be rejected")
	}
	if err := g.AddBranch("a", Branch{Targets: map[runtime.Route]TargetFunc{runtime.RouteNone: To(End)}}); !errors.Is(err, ErrInvalidGraph) {
		t.Fatal("second outgoing edge should be rejected")
	}

	g2 := NewGraph()
	_ = g2.AddNode("a", noop)
	_ = g2.AddEdge("a", End)
	g2.SetEntry("a")
	g2.SetLoopBound(LoopBound{Node: "a", Fallback: "missing", Limit: func(*runtime.State) int { return 1 }})
	if err := g2.Validate(); !errors.Is(err, ErrInvalidGraph) {
		t.Fatal("loop bound with unknown fallback should be rejected")
	}
	g2.SetLoopBound(LoopBound{Node: "a", Fallback: End, Limit: func(*runtime.State) int { return 1 }})
	if err := g2.Validate(); err != nil {
		t.Fatalf("valid graph rejected: %v", err)
	}
	if got := g2.Nodes(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("nodes = %v", got)
	}
}
