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

package http

import (
	"bytes"
	"testing"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"

	"research-agent/internal/agent/memory"
	"research-agent/internal/agent/research"
	"research-agent/internal/api/http/middleware"
)

func buildRouterForTest(metrics bool) *server.Hertz {
	h := NewHandler(&fakeRunner{out: &research.Output{RunID: "r"}}, memory.NewMemoryStore(nil), nil)
	r := NewRouter(h, middleware.NewMiddleware(nil))
	r.SetMetricsEnabled(metrics)
	return r.Build(":0")
}

func TestRouter_Routes(t *testing.T) {
	s := buildRouterForTest(true)

	cases := []struct {
		method, path string
		body         []byte
		want         int
	}{
		{"GET", "/api/health", nil, 200},
		{"POST", "/api/research", []byte(`{"messages":[{"role":"user","content":"q"}]}`), 200},
		{"GET", "/api/memory/u1", nil, 200},
		{"DELETE", "/api/memory/u1/k1", nil, 200},
		{"GET", "/metrics", nil, 200},
		{"GET", "/api/unknown", nil, 404},
	}
	for _, tc := range cases {
		status, body := perform(s, tc.method, tc.path, tc.body)
		if status != tc.want {
			t.Errorf("%s %s status = %d, want %d (body %s)", tc.method, tc.path, status, tc.want, body)
		}
	}
}

func TestRouter_MetricsDisabled(t *testing.T) {
	s := buildRouterForTest(false)
	w := ut.PerformRequest(s.Engine, "GET", "/metrics", &ut.Body{Body: bytes.NewReader(nil), Len: 0})
	if got := w.Result().StatusCode(); got != 404 {
		t.Fatalf("GET /metrics status = %d, want 404", got)
	}
}
