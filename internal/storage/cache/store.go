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

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"research-agent/pkg/config"
)

// ErrMiss 缓存未命中（不存在或已过期）
var ErrMiss = errors.New("cache miss")

// Store 缓存存储接口；值以 JSON 序列化保存
type Store interface {
	// Get 读取缓存到 dest；未命中返回 ErrMiss
	Get(ctx context.Context, key string, dest interface{}) error
	// Set 写入缓存，ttl <= 0 表示不过期
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete 删除缓存，不存在时不报错
	Delete(ctx context.Context, key string) error
	// Close 关闭连接
	Close() error
}

// NewStore 根据配置创建缓存
func NewStore(cfg config.CacheConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStoreFromURL(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}
