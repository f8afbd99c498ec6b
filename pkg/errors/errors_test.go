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
	"testing"
)

func TestWrap(t *testing.T) {
	if Wrap(nil, "msg") != nil {
		t.Error("Wrap(nil, msg) should return nil")
	}
	err := errors.New("base")
	wrapped := Wrap(err, "context")
	if wrapped == nil {
		t.Fatal("Wrap(err, msg) should not return nil")
	}
	if !errors.Is(wrapped, err) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestWrapf(t *testing.T) {
	if Wrapf(nil, "format %s", "x") != nil {
		t.Error("Wrapf(nil, ...) should return nil")
	}
	err := errors.New("base")
	wrapped := Wrapf(err, "id=%s", "a")
	if !errors.Is(wrapped, err) {
		t.Error("wrapped error should unwrap to base")
	}
	if wrapped.Error() != "id=a: base" {
		t.Errorf("unexpected message %q", wrapped.Error())
	}
}

func TestCollaboratorError_Classification(t *testing.T) {
	base := errors.New("connection reset")
	tr := Transient("search", "query", base)
	if !errors.Is(tr, ErrTransient) || errors.Is(tr, ErrFatal) {
		t.Error("transient error should match ErrTransient only")
	}
	if !errors.Is(tr, base) {
		t.Error("transient error should unwrap to base")
	}
	fa := Fatal("generator", "generate", base)
	if !errors.Is(fa, ErrFatal) || errors.Is(fa, ErrTransient) {
		t.Error("fatal error should match ErrFatal only")
	}
	wrapped := fmt.Errorf("step web_research: %w", tr)
	if !IsTransient(wrapped) {
		t.Error("wrapped transient error should stay transient")
	}
	if IsTransient(fa) {
		t.Error("fatal error must not be retried")
	}
	if Transient("x", "y", nil) != nil || Fatal("x", "y", nil) != nil {
		t.Error("nil errors should stay nil")
	}
}

func TestIsTransient_Defaults(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be transient")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("unclassified errors are not retried")
	}
}
