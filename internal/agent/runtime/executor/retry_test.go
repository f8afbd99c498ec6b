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
	"sync"
	"testing"
	"time"

	"research-agent/internal/agent/runtime"
	pkgerrors "research-agent/pkg/errors"
)

type sequenceOp struct {
	mu    sync.Mutex
	calls int
	errs  []error
}

func (s *sequenceOp) run(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	idx := s.calls - 1
	if idx < len(s.errs) && s.errs[idx] != nil {
		return "", s.errs[idx]
	}
	return "ok", nil
}

func (s *sequenceOp) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// TestRetry_TransientThenSuccess 瞬时错误后重试成功，并执行退避
func TestRetry_TransientThenSuccess(t *testing.T) {
	op := &sequenceOp{errs: []error{pkgerrors.Transient("generator", "generate", errors.New("429"))}}
	policy := RetryPolicy{MaxAttempts: 2, Backoff: 25 * time.Millisecond}

	start := time.Now()
	out, err := RetryValue(context.Background(), policy, "generator", op.run)
	if err != nil || out != "ok" {
		t.Fatalf("expected success after retry, got %q %v", out, err)
	}
	if op.Calls() != 2 {
		t.Fatalf("calls = %d, want 2", op.Calls())
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("backoff not applied")
	}
}

func TestRetry_BoundedAttempts(t *testing.T) {
	transient := pkgerrors.Transient("search", "query", errors.New("timeout"))
	op := &sequenceOp{errs: []error{transient, transient, transient}}
	_, err := RetryValue(context.Background(), RetryPolicy{MaxAttempts: 2}, "search", op.run)
	if !errors.Is(err, pkgerrors.ErrTransient) {
		t.Fatalf("expected transient error surfaced, got %v", err)
	}
	if op.Calls() != 2 {
		t.Fatalf("calls = %d, want 2", op.Calls())
	}
}

func TestRetry_FatalNotRetried(t *testing.T) {
	op := &sequenceOp{errs: []error{pkgerrors.Fatal("generator", "generate", errors.New("401"))}}
	err := Retry(context.Background(), DefaultRetryPolicy(), "generator", func(ctx context.Context) error {
		_, err := op.run(ctx)
		return err
	})
	if !errors.Is(err, pkgerrors.ErrFatal) || op.Calls() != 1 {
		t.Fatalf("fatal error must not be retried: calls=%d err=%v", op.Calls(), err)
	}
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	op := &sequenceOp{errs: []error{fmt.Errorf("flaky: %w", ErrRetryable), nil}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RetryValue(ctx, RetryPolicy{MaxAttempts: 3, Backoff: time.Second}, "x", op.run)
	if err == nil || op.Calls() != 1 {
		t.Fatalf("cancelled context should stop retries: calls=%d err=%v", op.Calls(), err)
	}
}

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want StepResultType
	}{
		{nil, StepResultSuccess},
		{ErrRetryable, StepResultRetryableFailure},
		{context.DeadlineExceeded, StepResultRetryableFailure},
		{pkgerrors.Fatal("g", "op", errors.New("x")), StepResultPermanentFailure},
		{&StepFailure{Type: StepResultRetryableFailure, NodeID: "n"}, StepResultRetryableFailure},
		{errors.New("plain"), StepResultPermanentFailure},
	}
	for _, c := range cases {
		if got := ClassifyError(c.err); got != c.want {
			t.Errorf("ClassifyError(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestNodeRegistry_List(t *testing.T) {
	r := NewNodeRegistry(nil)
	r.Register("b", func(ctx context.Context, _ *runtime.State, _ Payload) (*runtime.Delta, error) { return nil, nil })
	r.Register("a", func(ctx context.Context, _ *runtime.State, _ Payload) (*runtime.Delta, error) { return nil, nil })
	if got := r.List(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("List = %v", got)
	}
	if _, ok := r.Get("c"); ok {
		t.Fatal("unexpected node c")
	}
}
