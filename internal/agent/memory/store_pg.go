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
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `CREATE TABLE IF NOT EXISTS research_memory (
	scope      TEXT        NOT NULL,
	user_id    TEXT        NOT NULL,
	key        TEXT        NOT NULL,
	content    TEXT        NOT NULL,
	seq        BIGSERIAL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (scope, user_id, key)
)`

// PostgresStore 基于 pgxpool 的实现；相关度在读取后本地计算
type PostgresStore struct {
	pool   *pgxpool.Pool
	scorer Scorer
}

// NewPostgresStore 连接并确保表存在
func NewPostgresStore(ctx context.Context, dsn string, scorer Scorer) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, pgError("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, pgError("ping", err)
	}
	s := &PostgresStore{pool: pool, scorer: scorerOrDefault(scorer)}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema 创建 research_memory 表
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgSchema); err != nil {
		return pgError("ensure schema", err)
	}
	return nil
}

// Close 关闭连接池
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, ns Namespace, key, content string) error {
	if err := ns.validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO research_memory (scope, user_id, key, content)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (scope, user_id, key) DO UPDATE SET content = EXCLUDED.content`,
		ns.Scope, ns.UserID, key, content)
	return pgError("put", err)
}

func (s *PostgresStore) Delete(ctx context.Context, ns Namespace, key string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM research_memory WHERE scope = $1 AND user_id = $2 AND key = $3`,
		ns.Scope, ns.UserID, key)
	return pgError("delete", err)
}

func (s *PostgresStore) Search(ctx context.Context, ns Namespace, query string, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, content, created_at FROM research_memory WHERE scope = $1 AND user_id = $2 ORDER BY seq`,
		ns.Scope, ns.UserID)
	if err != nil {
		return nil, pgError("search", err)
	}
	defer rows.Close()
	var records []Record
	for rows.Next() {
		r := Record{Namespace: ns}
		if err := rows.Scan(&r.Key, &r.Content, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError("search", err)
	}
	return rank(s.scorer, records, query, limit), nil
}

// pgError 连接类错误归为 ErrStoreUnavailable，其余原样包装
func pgError(op string, err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) || pgconn.Timeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return unavailable(op, err)
	}
	var ce *pgconn.ConnectError
	if errors.As(err, &ce) {
		return unavailable(op, err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}
