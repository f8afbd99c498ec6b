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
	"time"

	"research-agent/pkg/metrics"
)

// RetryPolicy 协作方调用的有界重试
type RetryPolicy struct {
	// MaxAttempts 总尝试次数（含首次），<=1 表示不重试
	MaxAttempts int
	// Backoff 首次重试前的等待
	Backoff time.Duration
	// Multiplier 每次重试后 Backoff 的倍数，<1 视为固定退避
	Multiplier float64
}

// DefaultRetryPolicy 两次尝试，500ms 起的指数退避
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Backoff: 500 * time.Millisecond, Multiplier: 2}
}

// IsRetryable 仅瞬时错误可重试
func (p RetryPolicy) IsRetryable(err error) bool {
	return ClassifyError(err) == StepResultRetryableFailure
}

// Retry 执行 op，瞬时失败时按策略重试；返回最后一次的错误
func Retry(ctx context.Context, policy RetryPolicy, collaborator string, op func(ctx context.Context) error) error {
	_, err := RetryValue(ctx, policy, collaborator, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// RetryValue 带返回值的 Retry
func RetryValue[T any](ctx context.Context, policy RetryPolicy, collaborator string, op func(ctx context.Context) (T, error)) (T, error) {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := policy.Backoff
	var (
		zero T
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		var v T
		v, err = op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt == attempts || !policy.IsRetryable(err) {
			break
		}
		metrics.CollaboratorRetriesTotal.WithLabelValues(collaborator).Inc()
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return zero, err
			case <-timer.C:
			}
			if policy.Multiplier > 1 {
				backoff = time.Duration(float64(backoff) * policy.Multiplier)
			}
		}
	}
	return zero, err
}
