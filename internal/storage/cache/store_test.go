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
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"research-agent/pkg/config"
)

type payload struct {
	Text  string   `json:"text"`
	Links []string `json:"links"`
}

func testStoreContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	in := payload{Text: "t", Links: []string{"a", "b"}}
	if err := s.Set(ctx, "k1", in, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var out payload
	if err := s.Get(ctx, "k1", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if out.Text != "t" || len(out.Links) != 2 {
		t.Errorf("Get: got %+v", out)
	}
	if err := s.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Get(ctx, "k1", &out); !errors.Is(err, ErrMiss) {
		t.Errorf("Get after Delete: want ErrMiss, got %v", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestMemoryStore_Expiration(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_ = s.Set(ctx, "short", "v", time.Second)
	_ = s.Set(ctx, "forever", "v", 0)
	if s.Len() != 2 {
		t.Fatalf("Len: got %d", s.Len())
	}
	now = now.Add(2 * time.Second)
	var v string
	if err := s.Get(ctx, "short", &v); !errors.Is(err, ErrMiss) {
		t.Errorf("expired Get: want ErrMiss, got %v", err)
	}
	if err := s.Get(ctx, "forever", &v); err != nil || v != "v" {
		t.Errorf("forever Get: v=%q err=%v", v, err)
	}
	if s.Len() != 1 {
		t.Errorf("Len after expiry: got %d", s.Len())
	}
}

func TestRedisStore_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer s.Close()
	testStoreContract(t, s)
}

func TestRedisStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer s.Close()
	ctx := context.Background()

	if err := s.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if ttl := mr.TTL(redisKeyPrefix + "k"); ttl != time.Minute {
		t.Errorf("TTL: got %v", ttl)
	}
	mr.FastForward(2 * time.Minute)
	var v string
	if err := s.Get(ctx, "k", &v); !errors.Is(err, ErrMiss) {
		t.Errorf("Get after TTL: want ErrMiss, got %v", err)
	}
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(config.CacheConfig{})
	if err != nil {
		t.Fatalf("NewStore default: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("NewStore default: got %T", s)
	}

	mr := miniredis.RunT(t)
	s, err = NewStore(config.CacheConfig{Type: "redis", URL: "redis://" + mr.Addr()})
	if err != nil {
		t.Fatalf("NewStore redis: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*RedisStore); !ok {
		t.Errorf("NewStore redis: got %T", s)
	}

	if _, err := NewStore(config.CacheConfig{Type: "memcached"}); err == nil {
		t.Error("NewStore unknown type should error")
	}
}
