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

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "research-agent/pkg/errors"
)

func TestGeminiClient_Generate(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("key"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"query\":"},{"text":"[\"a\"]}"}]}}]}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient("gemini-default", "k", srv.URL)
	require.NoError(t, err)
	out, err := c.Generate(context.Background(), "hi", GenerateOptions{
		Model:          "gemini-test",
		Temperature:    1,
		ResponseSchema: &Schema{Name: "q", Definition: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"query":["a"]}`, out)

	gen, ok := body["generationConfig"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "application/json", gen["responseMimeType"])
	assert.Equal(t, float64(1), gen["temperature"])
}

func TestGeminiClient_StatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusRequestTimeout, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"x"}`))
		}))
		c, err := NewGeminiClient("", "k", srv.URL)
		require.NoError(t, err)
		_, err = c.Generate(context.Background(), "hi", GenerateOptions{})
		require.Error(t, err)
		assert.Equal(t, tc.transient, pkgerrors.IsTransient(err), "status %d", tc.status)
		assert.Equal(t, !tc.transient, errors.Is(err, pkgerrors.ErrFatal), "status %d", tc.status)
		srv.Close()
	}
}

func TestGeminiClient_EmptyCandidatesIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c, err := NewGeminiClient("", "k", srv.URL)
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "hi", GenerateOptions{})
	assert.ErrorIs(t, err, pkgerrors.ErrFatal)
}

func TestOpenAIClient_Generate(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"answer"}}]}`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("gpt-test", "k", srv.URL+"/")
	require.NoError(t, err)
	out, err := c.Generate(context.Background(), "hi", GenerateOptions{
		ResponseSchema: &Schema{Name: "reflection", Definition: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Equal(t, "gpt-test", body["model"])
	rf, ok := body["response_format"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "json_schema", rf["type"])
}

func TestOpenAIClient_UndecodableBodyIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	c, err := NewOpenAIClient("", "k", srv.URL)
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "hi", GenerateOptions{})
	assert.ErrorIs(t, err, pkgerrors.ErrFatal)
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("gemini", "m", "k", "")
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, c.Provider())
	assert.Equal(t, "m", c.Model())

	c, err = NewClient("openai", "", "k", "")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, c.Provider())

	_, err = NewClient("gemini", "m", "", "")
	assert.ErrorIs(t, err, pkgerrors.ErrMissingCredential)

	_, err = NewClient("claude", "m", "k", "")
	assert.ErrorIs(t, err, pkgerrors.ErrInvalidArg)
}

type fakeChatModel struct {
	input []*schema.Message
	reply string
	err   error
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestEinoClient_Generate(t *testing.T) {
	fake := &fakeChatModel{reply: "ok"}
	c := NewEinoClient(fake, "m")
	out, err := c.Generate(context.Background(), "question", GenerateOptions{
		ResponseSchema: &Schema{Name: "s", Definition: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	require.Len(t, fake.input, 1)
	assert.Equal(t, schema.User, fake.input[0].Role)
	assert.Contains(t, fake.input[0].Content, `{"type":"object"}`)

	fake.err = errors.New("connection reset")
	_, err = c.Generate(context.Background(), "question", GenerateOptions{})
	assert.True(t, pkgerrors.IsTransient(err))
}

type stubClient struct{ calls int }

func (s *stubClient) Generate(ctx context.Context, prompt string, options GenerateOptions) (string, error) {
	s.calls++
	return "done", nil
}
func (s *stubClient) Model() string    { return "stub-model" }
func (s *stubClient) Provider() string { return "stub" }

func TestRateLimitedClient(t *testing.T) {
	limiter := NewLLMRateLimiter(map[string]LLMLimitConfig{
		"stub": {TokensPerMinute: 60, RequestsPerMinute: 6000, MaxConcurrent: 1},
	}, nil)
	inner := &stubClient{}
	c := NewRateLimitedClient(inner, limiter)

	// 估算 token 远超 burst 时不应报错
	long := make([]byte, 4000)
	for i := range long {
		long[i] = 'a'
	}
	out, err := c.Generate(context.Background(), string(long), GenerateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, 0, limiter.InFlight("stub"))
	assert.Equal(t, "stub-model", c.Model())
}

func TestLLMRateLimiter_ConcurrencyBlocks(t *testing.T) {
	limiter := NewLLMRateLimiter(map[string]LLMLimitConfig{"p": {MaxConcurrent: 1}}, nil)
	require.NoError(t, limiter.Wait(context.Background(), "p", 0))
	assert.Equal(t, 1, limiter.InFlight("p"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, limiter.Wait(ctx, "p", 0), context.DeadlineExceeded)

	limiter.Release("p")
	assert.NoError(t, limiter.Wait(context.Background(), "p", 0))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 1, estimateTokens("", 0))
	assert.Equal(t, 2, estimateTokens("abcdefgh", 0))
	assert.Equal(t, 12, estimateTokens("abcdefgh", 10))
}
