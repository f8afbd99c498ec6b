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

package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"

	"research-agent/internal/agent/memory"
	"research-agent/internal/agent/research"
)

func apiBaseURL() string {
	if u := os.Getenv("RESEARCH_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

func newClient() *resty.Client {
	return resty.New().
		SetBaseURL(apiBaseURL()).
		SetTimeout(5 * time.Minute).
		SetHeader("Content-Type", "application/json")
}

type researchBody struct {
	Messages                []map[string]string `json:"messages"`
	UserID                  string              `json:"user_id,omitempty"`
	ReasoningModel          string              `json:"reasoning_model,omitempty"`
	InitialSearchQueryCount int                 `json:"initial_search_query_count,omitempty"`
	MaxResearchLoops        int                 `json:"max_research_loops,omitempty"`
}

func postResearch(body researchBody) (*research.Output, error) {
	var out research.Output
	resp, err := newClient().R().
		SetBody(body).
		SetResult(&out).
		Post("/api/research")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("POST /api/research: %s", resp.String())
	}
	return &out, nil
}

func getHealth() (string, error) {
	var out map[string]interface{}
	resp, err := newClient().SetTimeout(5 * time.Second).R().
		SetResult(&out).
		Get("/api/health")
	if err != nil {
		return "", err
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("GET /api/health: %s", resp.String())
	}
	status, _ := out["status"].(string)
	return status, nil
}

func searchMemory(userID, query string, limit int) ([]memory.Record, error) {
	var out struct {
		Records []memory.Record `json:"records"`
	}
	req := newClient().R().SetResult(&out)
	if query != "" {
		req.SetQueryParam("q", query)
	}
	if limit > 0 {
		req.SetQueryParam("limit", fmt.Sprint(limit))
	}
	resp, err := req.Get("/api/memory/" + userID)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("GET /api/memory/%s: %s", userID, resp.String())
	}
	return out.Records, nil
}
