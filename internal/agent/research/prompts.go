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
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
)

const dateLayout = "January 2, 2006"

// researchTopic 单条消息直接使用其内容；多轮对话拼接为 "User: ... / Assistant: ..." 形式
func researchTopic(messages []*schema.Message) string {
	if len(messages) == 1 {
		return messages[0].Content
	}
	var sb strings.Builder
	for _, m := range messages {
		switch m.Role {
		case schema.User:
			sb.WriteString("User: " + m.Content + "\n")
		case schema.Assistant:
			sb.WriteString("Assistant: " + m.Content + "\n")
		}
	}
	return strings.TrimSpace(sb.String())
}

func classifierPrompt(message string) string {
	return `Classify the user's message.
- "web_research": answering needs current or factual information from the web.
- "direct_response": greetings, small talk, or questions answerable without research.

Respond with JSON: {"intention": "web_research" | "direct_response"}

Message:
` + message
}

func queryWriterPrompt(now time.Time, topic string, count int) string {
	return fmt.Sprintf(`Your goal is to generate sophisticated and diverse web search queries for an automated research tool.

Instructions:
- Prefer a single query; add more only if the question asks for several aspects. Never produce more than %d queries.
- Each query should focus on one specific aspect of the question.
- Do not generate similar queries.
- Queries should target the most current information. The current date is %s.

Respond with JSON: {"rationale": "...", "query": ["..."]}

Context: %s`, count, now.Format(dateLayout), topic)
}

func reflectionPrompt(now time.Time, topic, summaries, memoryContext string) string {
	return fmt.Sprintf(`You are an expert research assistant analyzing summaries about "%s". The current date is %s.

Instructions:
- Identify knowledge gaps or areas that need deeper exploration and generate follow-up queries.
- If the summaries are sufficient to answer the question, set is_sufficient to true and leave follow_up_queries empty.
- Follow-up queries must be self-contained and include the context needed for a web search.

Respond with JSON: {"is_sufficient": bool, "knowledge_gap": "...", "follow_up_queries": ["..."]}

Known facts about the user:
%s

Summaries:
%s`, topic, now.Format(dateLayout), orNone(memoryContext), summaries)
}

func answerPrompt(now time.Time, topic, summaries, memoryContext string) string {
	return fmt.Sprintf(`Generate a high-quality answer to the user's question based on the provided summaries. The current date is %s.

Instructions:
- Use only the information in the summaries and the known facts about the user.
- Include the sources used from the summaries, keeping every citation link exactly as written.

User context:
%s

Known facts about the user:
%s

Summaries:
%s`, now.Format(dateLayout), topic, orNone(memoryContext), summaries)
}

func memoryPrompt(stateJSON string) string {
	return `Extract the durable, atomic facts worth remembering about the user and their interests from the following conversation state.
Each fact must be a short standalone sentence. Return an empty list if nothing is worth remembering.

Respond with JSON: {"facts": ["..."]}

` + "```json\n" + stateJSON + "\n```"
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}
