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
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	pkgerrors "research-agent/pkg/errors"
)

const redisKeyPrefix = "research:memory:"

type redisEntry struct {
	Content   string    `json:"content"`
	Seq       int64     `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore 每个命名空间一个 hash，field 为 key，value 为 JSON；写入顺序由全局 INCR 序号给出
type RedisStore struct {
	client *redis.Client
	scorer Scorer
}

// NewRedisStore 使用已有 client
func NewRedisStore(client *redis.Client, scorer Scorer) *RedisStore {
	return &RedisStore{client: client, scorer: scorerOrDefault(scorer)}
}

// NewRedisStoreFromURL 解析 redis:// URL 创建
func NewRedisStoreFromURL(url string, scorer Scorer) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStore(redis.NewClient(opts), scorer), nil
}

// Close 关闭连接
func (s *RedisStore) Close() error { return s.client.Close() }

// hashKey 两段分别转义，分隔符 ':' 不会出现在段内
func (s *RedisStore) hashKey(ns Namespace) string {
	return redisKeyPrefix + url.QueryEscape(ns.Scope) + ":" + url.QueryEscape(ns.UserID)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", pkgerrors.ErrStoreUnavailable, op, err)
}

func (s *RedisStore) Put(ctx context.Context, ns Namespace, key, content string) error {
	if err := ns.validate(); err != nil {
		return err
	}
	seq, err := s.client.Incr(ctx, redisKeyPrefix+"seq").Result()
	if err != nil {
		return unavailable("incr", err)
	}
	b, err := json.Marshal(redisEntry{Content: content, Seq: seq, CreatedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.hashKey(ns), key, b).Err(); err != nil {
		return unavailable("hset", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, ns Namespace, key string) error {
	if err := s.client.HDel(ctx, s.hashKey(ns), key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("hdel", err)
	}
	return nil
}

func (s *RedisStore) Search(ctx context.Context, ns Namespace, query string, limit int) ([]Record, error) {
	all, err := s.client.HGetAll(ctx, s.hashKey(ns)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable("hgetall", err)
	}
	type seqRecord struct {
		seq int64
		rec Record
	}
	list := make([]seqRecord, 0, len(all))
	for k, raw := range all {
		var e redisEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		list = append(list, seqRecord{seq: e.Seq, rec: Record{Namespace: ns, Key: k, Content: e.Content, CreatedAt: e.CreatedAt}})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	records := make([]Record, len(list))
	for i, sr := range list {
		records[i] = sr.rec
	}
	return rank(s.scorer, records, query, limit), nil
}
