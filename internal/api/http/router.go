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
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"research-agent/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	// metrics 为 false 时不注册 /metrics
	metrics bool
	extra   []app.HandlerFunc
}

// NewRouter 创建新的 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw, metrics: true}
}

// SetMetricsEnabled 开关 /metrics
func (r *Router) SetMetricsEnabled(enabled bool) {
	r.metrics = enabled
}

// Use 追加全局中间件，须在 Build 之前调用才会作用于已注册的路由
func (r *Router) Use(mw ...app.HandlerFunc) {
	r.extra = append(r.extra, mw...)
}

// Build 创建 Hertz 服务并注册路由，opts 追加在监听地址之后（如 tracer）
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	h := server.Default(append([]config.Option{server.WithHostPorts(addr)}, opts...)...)
	h.Use(r.extra...)
	h.Use(r.middleware.AccessLog(), r.middleware.CORS())

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)
	api.POST("/research", r.handler.Research)

	mem := api.Group("/memory")
	{
		mem.GET("/:user_id", r.handler.SearchMemory)
		mem.DELETE("/:user_id/:key", r.handler.DeleteMemory)
	}

	if r.metrics {
		h.GET("/metrics", r.handler.Metrics)
	}
	return h
}
