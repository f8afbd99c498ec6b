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

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"research-agent/internal/api/http"
	"research-agent/internal/api/http/middleware"
	"research-agent/internal/app"
	"research-agent/pkg/log"
	"research-agent/pkg/tracing"
)

// tracerShutdown 优雅关闭时刷新 span
type tracerShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 HTTP Router、Handler、Middleware）
type App struct {
	bootstrap      *app.Bootstrap
	router         *http.Router
	hertz          *server.Hertz
	tracerProvider tracerShutdown
	logOutput      io.Closer
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	if bootstrap == nil || bootstrap.Agent == nil {
		return nil, errors.New("bootstrap with agent is required")
	}
	handler := http.NewHandler(bootstrap.Agent, bootstrap.Memory, bootstrap.Logger.With("component", "http"))
	router := http.NewRouter(handler, middleware.NewMiddleware(bootstrap.Logger.With("component", "access")))
	if cfg := bootstrap.Config; cfg != nil {
		router.SetMetricsEnabled(cfg.Monitoring.Prometheus.Enable)
	}
	return &App{bootstrap: bootstrap, router: router}, nil
}

// Build 创建 Hertz 服务但不启动，addr 如 ":8080"
func (a *App) Build(addr string) (*server.Hertz, error) {
	if err := a.setupHertzLogger(); err != nil {
		return nil, err
	}

	cfg := a.bootstrap.Config
	if cfg != nil && cfg.Monitoring.Tracing.Enable && cfg.Monitoring.Tracing.ExportEndpoint != "" {
		tp, err := tracing.InitTracer(tracing.OTelConfig{
			ServiceName:    cfg.Monitoring.Tracing.ServiceName,
			ExportEndpoint: cfg.Monitoring.Tracing.ExportEndpoint,
			Insecure:       cfg.Monitoring.Tracing.Insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化链路追踪失败: %w", err)
		}
		a.tracerProvider = tp
		tracerOpt, tracerCfg := hertztracing.NewServerTracer()
		a.router.Use(hertztracing.ServerMiddleware(tracerCfg))
		a.hertz = a.router.Build(addr, tracerOpt)
		a.bootstrap.Logger.Info("链路追踪已启用",
			"service_name", cfg.Monitoring.Tracing.ServiceName,
			"endpoint", cfg.Monitoring.Tracing.ExportEndpoint)
	} else {
		a.hertz = a.router.Build(addr)
	}
	return a.hertz, nil
}

// Run 启动 HTTP 服务并阻塞
func (a *App) Run(addr string) error {
	if _, err := a.Build(addr); err != nil {
		return err
	}
	a.bootstrap.Logger.Info("API 服务启动", "addr", addr)
	return a.hertz.Run()
}

// setupHertzLogger 使用 Hertz slog 扩展，与 bootstrap 日志配置对齐
func (a *App) setupHertzLogger() error {
	var output io.Writer = os.Stdout
	levelVar := &slog.LevelVar{}
	levelVar.Set(slog.LevelInfo)
	if cfg := a.bootstrap.Config; cfg != nil {
		if cfg.Log.File != "" {
			f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return fmt.Errorf("打开日志文件失败: %w", err)
			}
			output = f
			a.logOutput = f
		}
		levelVar.Set(log.ParseLevel(cfg.Log.Level))
	}
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	))
	return nil
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.bootstrap.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.logOutput != nil {
		_ = a.logOutput.Close()
	}
	return errors.Join(errs...)
}
