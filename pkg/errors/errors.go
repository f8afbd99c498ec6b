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

package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidArg = errors.New("invalid argument")

	// ErrTransient 协作方（生成器、搜索、分类器）的瞬时故障，可重试
	ErrTransient = errors.New("collaborator transient error")
	// ErrFatal 协作方的致命故障（凭证错误、响应不符合 schema），不重试
	ErrFatal = errors.New("collaborator fatal error")
	// ErrStoreUnavailable 记忆存储不可达
	ErrStoreUnavailable = errors.New("memory store unavailable")
	// ErrMissingCredential 启动时缺少生成器 API 凭证
	ErrMissingCredential = errors.New("missing api credential")
)

// Wrap 包装错误并附加消息
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// CollaboratorError 外部协作方调用失败，Transient 决定是否可重试
type CollaboratorError struct {
	Collaborator string
	Op           string
	Transient    bool
	Err          error
}

func (e *CollaboratorError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s %s (%s): %v", e.Collaborator, e.Op, kind, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Is 使 errors.Is(err, ErrTransient) / errors.Is(err, ErrFatal) 按分类匹配
func (e *CollaboratorError) Is(target error) bool {
	switch target {
	case ErrTransient:
		return e.Transient
	case ErrFatal:
		return !e.Transient
	}
	return false
}

// Transient 标记为可重试的协作方错误
func Transient(collaborator, op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Collaborator: collaborator, Op: op, Transient: true, Err: err}
}

// Fatal 标记为不可重试的协作方错误
func Fatal(collaborator, op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Collaborator: collaborator, Op: op, Transient: false, Err: err}
}

// IsTransient 判断错误是否值得重试；超时与网络超时视为瞬时，未分类错误不重试
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var ce *CollaboratorError
	if errors.As(err, &ce) {
		return ce.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
