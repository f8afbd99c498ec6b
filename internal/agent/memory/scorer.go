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

package memory

import (
	"sort"
	"strings"
	"unicode"
)

// Scorer 计算 query 与记录内容的相似度，取值 [0,1]
type Scorer interface {
	Score(query, content string) float64
}

// LexicalScorer 词集合的 Jaccard 相似度，大小写不敏感
type LexicalScorer struct{}

func (LexicalScorer) Score(query, content string) float64 {
	a, b := tokenSet(query), tokenSet(content)
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// rank 对按写入顺序排列的 records 打分排序；query 为空时保持原顺序
func rank(scorer Scorer, records []Record, query string, limit int) []Record {
	out := records
	if strings.TrimSpace(query) != "" {
		out = make([]Record, 0, len(records))
		for _, r := range records {
			r.Score = scorer.Score(query, r.Content)
			if r.Score > 0 {
				out = append(out, r)
			}
		}
		// 稳定排序，同分保持写入顺序
		sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	} else {
		for i := range out {
			out[i].Score = 1
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func scorerOrDefault(s Scorer) Scorer {
	if s == nil {
		return LexicalScorer{}
	}
	return s
}
