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
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"research-agent/internal/agent/memory"
	"research-agent/internal/agent/research"
	pkgerrors "research-agent/pkg/errors"
	"research-agent/pkg/log"
	"research-agent/pkg/metrics"
)

// ResearchRunner 执行一次研究；*research.Agent 满足该接口
type ResearchRunner interface {
	Run(ctx context.Context, in research.Input) (*research.Output, error)
}

// Handler HTTP 处理器
type Handler struct {
	agent  ResearchRunner
	memory memory.Store
	logger *log.Logger
}

// NewHandler 创建新的 HTTP 处理器，logger 可为 nil
func NewHandler(agent ResearchRunner, store memory.Store, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Discard()
	}
	return &Handler{agent: agent, memory: store, logger: logger}
}

type messageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type researchRequest struct {
	Messages                []messageBody `json:"messages"`
	UserID                  string        `json:"user_id"`
	ReasoningModel          string        `json:"reasoning_model"`
	InitialSearchQueryCount int           `json:"initial_search_query_count"`
	MaxResearchLoops        int           `json:"max_research_loops"`
}

func (r researchRequest) input() research.Input {
	in := research.Input{
		UserID:                  r.UserID,
		ReasoningModel:          r.ReasoningModel,
		InitialSearchQueryCount: r.InitialSearchQueryCount,
		MaxResearchLoops:        r.MaxResearchLoops,
	}
	for _, m := range r.Messages {
		role := schema.RoleType(m.Role)
		if m.Role == "" {
			role = schema.User
		}
		in.Messages = append(in.Messages, &schema.Message{Role: role, Content: m.Content})
	}
	return in
}

// HealthCheck 健康检查
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "research-agent",
	})
}

// Research 执行一次研究并返回答案与引用来源
func (h *Handler) Research(ctx context.Context, c *app.RequestContext) {
	var req researchRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	if req.InitialSearchQueryCount < 0 || req.MaxResearchLoops < 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "initial_search_query_count and max_research_loops must not be negative"})
		return
	}

	out, err := h.agent.Run(ctx, req.input())
	if err != nil {
		status := consts.StatusInternalServerError
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidArg):
			status = consts.StatusBadRequest
		case errors.Is(err, context.DeadlineExceeded):
			status = consts.StatusGatewayTimeout
		}
		if status == consts.StatusInternalServerError {
			h.logger.Error("research run failed", "error", err)
		}
		c.JSON(status, utils.H{"error": err.Error()})
		return
	}
	c.JSON(consts.StatusOK, out)
}

// SearchMemory 列出或检索用户的长期记忆
func (h *Handler) SearchMemory(ctx context.Context, c *app.RequestContext) {
	userID := c.Param("user_id")
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(consts.StatusBadRequest, utils.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	records, err := h.memory.Search(ctx, memory.LongTerm(userID), c.Query("q"), limit)
	if err != nil {
		h.memoryError(c, err)
		return
	}
	if records == nil {
		records = []memory.Record{}
	}
	c.JSON(consts.StatusOK, utils.H{
		"records": records,
		"total":   len(records),
	})
}

// DeleteMemory 删除一条长期记忆
func (h *Handler) DeleteMemory(ctx context.Context, c *app.RequestContext) {
	userID, key := c.Param("user_id"), c.Param("key")
	if err := h.memory.Delete(ctx, memory.LongTerm(userID), key); err != nil {
		h.memoryError(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"status": "success"})
}

func (h *Handler) memoryError(c *app.RequestContext, err error) {
	if errors.Is(err, pkgerrors.ErrStoreUnavailable) {
		h.logger.Warn("memory store unavailable", "error", err)
		c.JSON(consts.StatusServiceUnavailable, utils.H{"error": "memory store unavailable"})
		return
	}
	c.JSON(consts.StatusBadRequest, utils.H{"error": err.Error()})
}

// Metrics Prometheus 文本格式
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		c.JSON(consts.StatusInternalServerError, utils.H{"error": err.Error()})
		return
	}
	c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}
