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
	"fmt"
	"strings"
	"time"
)

// LongTermScope 长期记忆命名空间的 scope
const LongTermScope = "long-term-memory"

// Namespace 记录的作用域：(scope, user_id)，key 在命名空间内唯一
type Namespace struct {
	Scope  string `json:"scope"`
	UserID string `json:"user_id"`
}

// LongTerm 用户的长期记忆命名空间
func LongTerm(userID string) Namespace {
	return Namespace{Scope: LongTermScope, UserID: userID}
}

func (n Namespace) String() string { return n.Scope + "/" + n.UserID }

func (n Namespace) validate() error {
	if strings.TrimSpace(n.Scope) == "" || strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("invalid namespace %q", n.String())
	}
	return nil
}

// Record 一条记忆；Score 仅在 Search 结果中有意义
type Record struct {
	Namespace Namespace `json:"namespace"`
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Store 命名空间隔离的记忆存储，实现需自行保证并发安全，Put 按 key 原子。
// 存储不可达时返回 errors.ErrStoreUnavailable。
type Store interface {
	// Put 写入或覆盖
	Put(ctx context.Context, ns Namespace, key, content string) error
	// Delete 删除，key 不存在不报错
	Delete(ctx context.Context, ns Namespace, key string) error
	// Search 按与 query 的相关度排序；query 为空时按写入顺序返回全部；limit<=0 不限制
	Search(ctx context.Context, ns Namespace, query string, limit int) ([]Record, error)
}

// Config 存储选择
type Config struct {
	Type string // memory | redis | postgres
	URL  string
}

// NewStore 按配置创建存储；scorer 为 nil 时使用 LexicalScorer
func NewStore(ctx context.Context, cfg Config, scorer Scorer) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(scorer), nil
	case "redis":
		return NewRedisStoreFromURL(cfg.URL, scorer)
	case "postgres":
		return NewPostgresStore(ctx, cfg.URL, scorer)
	default:
		return nil, fmt.Errorf("unsupported memory store type: %s", cfg.Type)
	}
}
