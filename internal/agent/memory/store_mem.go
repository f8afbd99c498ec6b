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
	"context"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	content   string
	seq       uint64
	createdAt time.Time
}

// MemoryStore 进程内实现
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[Namespace]map[string]memEntry
	seq    uint64
	scorer Scorer
}

// NewMemoryStore 创建进程内记忆存储
func NewMemoryStore(scorer Scorer) *MemoryStore {
	return &MemoryStore{
		data:   make(map[Namespace]map[string]memEntry),
		scorer: scorerOrDefault(scorer),
	}
}

func (s *MemoryStore) Put(ctx context.Context, ns Namespace, key, content string) error {
	if err := ns.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[ns] == nil {
		s.data[ns] = make(map[string]memEntry)
	}
	s.seq++
	s.data[ns][key] = memEntry{content: content, seq: s.seq, createdAt: time.Now()}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, ns Namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[ns], key)
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, ns Namespace, query string, limit int) ([]Record, error) {
	s.mu.RLock()
	entries := s.data[ns]
	type seqRecord struct {
		seq uint64
		rec Record
	}
	list := make([]seqRecord, 0, len(entries))
	for k, e := range entries {
		list = append(list, seqRecord{seq: e.seq, rec: Record{Namespace: ns, Key: k, Content: e.content, CreatedAt: e.createdAt}})
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	records := make([]Record, len(list))
	for i, sr := range list {
		records[i] = sr.rec
	}
	return rank(s.scorer, records, query, limit), nil
}
