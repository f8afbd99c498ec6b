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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pkgerrors "research-agent/pkg/errors"
)

// Store 凭证读取抽象；研究代理只在启动时解析生成器 API key
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config Secret Store 配置
type Config struct {
	Provider string            `mapstructure:"provider"` // env | memory | vault
	Config   map[string]string `mapstructure:"config"`
}

// NewStore 创建 Secret Store；未配置 provider 时使用环境变量
func NewStore(config Config) (Store, error) {
	switch strings.ToLower(config.Provider) {
	case "", "env":
		return NewEnvStore(config.Config["prefix"]), nil
	case "memory":
		return NewMemoryStore(config.Config), nil
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    config.Config["address"],
			Token:      config.Config["token"],
			PathPrefix: config.Config["path_prefix"],
		})
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", config.Provider)
	}
}

// Lookup 描述一次凭证解析：依次尝试显式值、secret 名、环境变量名
type Lookup struct {
	Value     string
	SecretKey string
	EnvKey    string
}

// Resolve 按 Lookup 顺序解析凭证；全部为空时返回 ErrMissingCredential
func Resolve(ctx context.Context, store Store, lookup Lookup) (string, error) {
	if v := strings.TrimSpace(lookup.Value); v != "" {
		return v, nil
	}
	var lastErr error
	if lookup.SecretKey != "" && store != nil {
		v, err := store.Get(ctx, lookup.SecretKey)
		if err == nil && v != "" {
			return v, nil
		}
		lastErr = err
	}
	if lookup.EnvKey != "" {
		v, err := NewEnvStore("").Get(ctx, lookup.EnvKey)
		if err == nil && v != "" {
			return v, nil
		}
		if lastErr == nil {
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = errors.New("no credential source configured")
	}
	return "", fmt.Errorf("%w: %v", pkgerrors.ErrMissingCredential, lastErr)
}
