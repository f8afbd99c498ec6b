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
	"strings"

	"research-agent/internal/agent/runtime"
)

// ReplaceCitations 按 sources 原顺序，把答案中出现的 ShortURL 全部替换为 Value，并返回被使用的来源。
// 多个来源共用同一 ShortURL 时第一个生效：替换后 token 已不在文本中，后者被丢弃。
func ReplaceCitations(text string, sources []runtime.Source) (string, []runtime.Source) {
	used := make([]runtime.Source, 0, len(sources))
	for _, src := range sources {
		if src.ShortURL == "" || !strings.Contains(text, src.ShortURL) {
			continue
		}
		text = strings.ReplaceAll(text, src.ShortURL, src.Value)
		used = append(used, src)
	}
	return text, used
}
