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

package runtime

import (
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewState_DefaultsAnonymous(t *testing.T) {
	s := NewState([]*schema.Message{schema.UserMessage("hi")}, "  ")
	assert.Equal(t, AnonymousUser, s.UserID)
	assert.Equal(t, "hi", s.LatestUserMessage())
	assert.Equal(t, "", s.Answer())
}

func TestClone_DoesNotAlias(t *testing.T) {
	s := NewState([]*schema.Message{schema.UserMessage("q")}, "u1")
	s.WebResearchResult = []string{"a"}
	c := s.Clone()
	c.WebResearchResult[0] = "changed"
	c.Messages[0].Content = "changed"
	c.WebResearchResult = append(c.WebResearchResult, "b")

	assert.Equal(t, []string{"a"}, s.WebResearchResult)
	assert.Equal(t, "q", s.Messages[0].Content)
}

func TestPolicies_CoverEveryField(t *testing.T) {
	d := &Delta{
		Messages:                []*schema.Message{schema.AssistantMessage("x", nil)},
		SearchQuery:             []string{},
		WebResearchResult:       []string{"x"},
		SourcesGathered:         []Source{{ShortURL: "s", Value: "v"}},
		UsedSources:             []Source{},
		IsSufficient:            Ptr(true),
		KnowledgeGap:            Ptr("gap"),
		FollowUpQueries:         []string{},
		LoopIncrement:           1,
		NumberOfRanQueries:      Ptr(1),
		UserID:                  Ptr("u"),
		ReasoningModel:          Ptr("m"),
		InitialSearchQueryCount: Ptr(1),
		MaxResearchLoops:        Ptr(1),
		Intent:                  Ptr(IntentWebResearch),
		Route:                   Ptr(RouteFinalize),
		Failures:                []Failure{{Step: "s"}},
		LoopBoundReached:        Ptr(true),
	}
	fields := d.Fields()
	assert.Len(t, fields, len(Policies))
	for _, f := range fields {
		_, ok := Policies[f]
		assert.True(t, ok, "missing policy for %s", f)
	}
}

func TestReducer_AppendAccumulatesAcrossRounds(t *testing.T) {
	r := NewReducer()
	s := NewState(nil, "")
	require.NoError(t, r.Apply(s,
		&Delta{WebResearchResult: []string{"r1"}, SourcesGathered: []Source{{ShortURL: "[a]", Value: "http://a"}}},
		&Delta{WebResearchResult: []string{"r2"}},
	))
	require.NoError(t, r.Apply(s, &Delta{WebResearchResult: []string{"r3"}}))
	assert.Equal(t, []string{"r1", "r2", "r3"}, s.WebResearchResult)
	assert.Len(t, s.SourcesGathered, 1)
}

func TestReducer_OverwriteLastSubmittedWins(t *testing.T) {
	r := NewReducer()
	s := NewState(nil, "")
	require.NoError(t, r.Apply(s,
		&Delta{KnowledgeGap: Ptr("first"), SearchQuery: []string{"a", "b"}},
		&Delta{KnowledgeGap: Ptr("second")},
		&Delta{SearchQuery: []string{"c"}},
	))
	assert.Equal(t, "second", s.KnowledgeGap)
	assert.Equal(t, []string{"c"}, s.SearchQuery)

	// 非 nil 空切片表示显式清空
	require.NoError(t, r.Apply(s, &Delta{SearchQuery: []string{}}))
	assert.Empty(t, s.SearchQuery)
}

func TestReducer_IncrementIsMonotone(t *testing.T) {
	r := NewReducer()
	s := NewState(nil, "")
	require.NoError(t, r.Apply(s, &Delta{LoopIncrement: 1}, &Delta{LoopIncrement: 1}))
	assert.Equal(t, 2, s.ResearchLoopCount)

	err := r.Apply(s, &Delta{LoopIncrement: -1})
	assert.True(t, errors.Is(err, ErrNegativeIncrement))
	assert.Equal(t, 2, s.ResearchLoopCount)
}

func TestReducer_UserIDSetOnce(t *testing.T) {
	r := NewReducer()
	s := NewState(nil, "alice")
	require.NoError(t, r.Apply(s, &Delta{UserID: Ptr("alice")}))

	err := r.Apply(s, &Delta{UserID: Ptr("mallory"), KnowledgeGap: Ptr("still applied")})
	assert.True(t, errors.Is(err, ErrImmutableField))
	assert.Equal(t, "alice", s.UserID)
	assert.Equal(t, "still applied", s.KnowledgeGap)
}

func TestReducer_PolicyTableDrivesMerge(t *testing.T) {
	r := NewReducer().WithPolicy(FieldWebResearchResult, Overwrite)
	s := NewState(nil, "")
	require.NoError(t, r.Apply(s,
		&Delta{WebResearchResult: []string{"a"}},
		&Delta{WebResearchResult: []string{"b"}},
	))
	assert.Equal(t, []string{"b"}, s.WebResearchResult)

	// 默认表不受影响
	s2 := NewState(nil, "")
	require.NoError(t, NewReducer().Apply(s2, &Delta{WebResearchResult: []string{"a"}}, &Delta{WebResearchResult: []string{"b"}}))
	assert.Equal(t, []string{"a", "b"}, s2.WebResearchResult)

	err := NewReducer().WithPolicy(FieldKnowledgeGap, Increment).Apply(s2, &Delta{KnowledgeGap: Ptr("x")})
	assert.Error(t, err)
}

func TestReducer_DeltaMessagesAreCopied(t *testing.T) {
	r := NewReducer()
	s := NewState(nil, "")
	msg := schema.AssistantMessage("answer", nil)
	require.NoError(t, r.Apply(s, &Delta{Messages: []*schema.Message{msg}}))
	msg.Content = "mutated"
	assert.Equal(t, "answer", s.Answer())
}

func TestParseIntent(t *testing.T) {
	i, ok := ParseIntent(" Direct_Response ")
	assert.True(t, ok)
	assert.Equal(t, IntentDirectResponse, i)
	_, ok = ParseIntent("chitchat")
	assert.False(t, ok)
}
