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

package research

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-agent/internal/agent/runtime"
	"research-agent/internal/storage/cache"
	pkgerrors "research-agent/pkg/errors"
)

func TestReplaceCitations(t *testing.T) {
	sources := []runtime.Source{
		{ShortURL: "[a]", Value: "https://x.example", Label: "x"},
		{ShortURL: "[b]", Value: "https://y.example", Label: "y"},
	}
	text, used := ReplaceCitations("Fact [a].", sources)
	assert.Equal(t, "Fact https://x.example.", text)
	assert.Equal(t, []runtime.Source{sources[0]}, used)
}

func TestReplaceCitations_NoneUsed(t *testing.T) {
	text, used := ReplaceCitations("plain", []runtime.Source{{ShortURL: "[a]", Value: "v"}})
	assert.Equal(t, "plain", text)
	assert.NotNil(t, used)
	assert.Empty(t, used)
}

func TestReplaceCitations_DuplicateShortURLFirstWins(t *testing.T) {
	sources := []runtime.Source{
		{ShortURL: "[a]", Value: "https://first.example"},
		{ShortURL: "[a]", Value: "https://second.example"},
	}
	text, used := ReplaceCitations("see [a] and [a]", sources)
	assert.Equal(t, "see https://first.example and https://first.example", text)
	require.Len(t, used, 1)
	assert.Equal(t, "https://first.example", used[0].Value)
}

func TestReplaceCitations_SkipsEmptyShortURL(t *testing.T) {
	text, used := ReplaceCitations("abc", []runtime.Source{{Value: "v"}})
	assert.Equal(t, "abc", text)
	assert.Empty(t, used)
}

func TestDecodeJSON(t *testing.T) {
	var v reflectionOutput
	err := decodeJSON("generator", "Here you go:\n```json\n{\"is_sufficient\": true, \"knowledge_gap\": \"\", \"follow_up_queries\": []}\n```", &v)
	require.NoError(t, err)
	assert.True(t, v.IsSufficient)

	err = decodeJSON("generator", "not json at all", &v)
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrFatal)
	assert.False(t, pkgerrors.IsTransient(err))
}

func TestNormalizeQueries(t *testing.T) {
	in := []string{" Go 1.25 ", "go 1.25", "", "generics", "iterators"}
	assert.Equal(t, []string{"Go 1.25", "generics"}, normalizeQueries(in, 2))
	assert.Equal(t, []string{"Go 1.25", "generics", "iterators"}, normalizeQueries(in, 0))
	assert.Empty(t, normalizeQueries(nil, 3))
}

func TestGeneratorClassifier(t *testing.T) {
	gen := newScriptGen()
	c := NewGeneratorClassifier(gen, "m")

	gen.intent = "direct_response"
	intent, err := c.Classify(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, runtime.IntentDirectResponse, intent)

	gen.intent = "web_research"
	intent, err = c.Classify(context.Background(), "latest go release?")
	require.NoError(t, err)
	assert.Equal(t, runtime.IntentWebResearch, intent)

	gen.intent = "something_else"
	_, err = c.Classify(context.Background(), "?")
	assert.ErrorIs(t, err, pkgerrors.ErrFatal)
}

func TestGeneratorClassifier_PropagatesGeneratorError(t *testing.T) {
	gen := newScriptGen()
	gen.errs["intention"] = pkgerrors.Transient("generator", "generate", errors.New("503"))
	_, err := NewGeneratorClassifier(gen, "m").Classify(context.Background(), "q")
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestCachedSearcher(t *testing.T) {
	inner := &stubSearcher{}
	s := NewCachedSearcher(inner, cache.NewMemoryStore(), time.Minute, nil)
	ctx := context.Background()

	first, err := s.Search(ctx, SearchRequest{Query: "Go Generics", ID: "0-0"})
	require.NoError(t, err)
	second, err := s.Search(ctx, SearchRequest{Query: "  go generics", ID: "0-0"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Sources, second.Sources)
}

type searcherFunc func(ctx context.Context, req SearchRequest) (*SearchResult, error)

func (f searcherFunc) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	return f(ctx, req)
}

// TestCachedSearcher_HitRebindsShortURLs 命中缓存时短链 token 改写为当前请求 ID，同一运行内不与新检索冲突
func TestCachedSearcher_HitRebindsShortURLs(t *testing.T) {
	inner := searcherFunc(func(ctx context.Context, req SearchRequest) (*SearchResult, error) {
		return &SearchResult{
			Text: req.Query + " [src](" + shortURL(req.ID) + ")",
			Sources: []runtime.Source{{
				ShortURL: shortURL(req.ID),
				Value:    "https://" + req.Query + ".example.com",
			}},
		}, nil
	})
	s := NewCachedSearcher(inner, cache.NewMemoryStore(), time.Minute, nil)
	ctx := context.Background()

	_, err := s.Search(ctx, SearchRequest{Query: "gamma", ID: "0-2"})
	require.NoError(t, err)
	hit, err := s.Search(ctx, SearchRequest{Query: "gamma", ID: "0-0"})
	require.NoError(t, err)
	fresh, err := s.Search(ctx, SearchRequest{Query: "eps", ID: "0-2"})
	require.NoError(t, err)

	require.Len(t, hit.Sources, 1)
	assert.Equal(t, shortURL("0-0"), hit.Sources[0].ShortURL)
	assert.Equal(t, "gamma [src]("+shortURL("0-0")+")", hit.Text)
	assert.NotEqual(t, hit.Sources[0].ShortURL, fresh.Sources[0].ShortURL)

	text, used := ReplaceCitations(hit.Text+"\n"+fresh.Text, append(hit.Sources, fresh.Sources...))
	assert.Equal(t, "gamma [src](https://gamma.example.com)\neps [src](https://eps.example.com)", text)
	assert.Len(t, used, 2)
}

func TestCachedSearcher_ErrorsAreNotCached(t *testing.T) {
	inner := &stubSearcher{err: pkgerrors.Transient("search", "search", errors.New("timeout"))}
	s := NewCachedSearcher(inner, cache.NewMemoryStore(), time.Minute, nil)

	for i := 0; i < 2; i++ {
		_, err := s.Search(context.Background(), SearchRequest{Query: "q", ID: "0-0"})
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), inner.calls.Load())
}
