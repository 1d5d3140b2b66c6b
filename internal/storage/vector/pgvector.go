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

package vector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"mmrag/internal/pipeline/common"
	"mmrag/pkg/log"
)

const pgSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS mmrag_index_config (
	name   TEXT PRIMARY KEY,
	metric TEXT NOT NULL,
	dim    INT  NOT NULL,
	count  INT  NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS mmrag_entries (
	name      TEXT   NOT NULL REFERENCES mmrag_index_config(name) ON DELETE CASCADE,
	pos       INT    NOT NULL,
	embedding vector NOT NULL,
	record    JSONB  NOT NULL,
	PRIMARY KEY (name, pos)
);`

// PGStore PostgreSQL + pgvector 实现的索引存储，精确扫描检索
type PGStore struct {
	pool   *pgxpool.Pool
	logger *log.Logger
	mu     sync.Mutex
	cache  map[string]*PGIndex
}

// NewPGStore 连接数据库并初始化表结构
func NewPGStore(ctx context.Context, dsn string, poolSize int, logger *log.Logger) (*PGStore, error) {
	if logger == nil {
		logger = log.Nop()
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, common.Wrapf("vector", common.ErrInvalidInput, err, "解析 pgvector DSN")
	}
	if poolSize > 0 {
		config.MaxConns = int32(poolSize)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, common.Wrapf("vector", common.ErrPersistence, err, "创建连接池")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, common.Wrapf("vector", common.ErrPersistence, err, "连接 PostgreSQL")
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, common.Wrapf("vector", common.ErrPersistence, err, "初始化 pgvector 表结构")
	}
	return &PGStore{pool: pool, logger: logger, cache: make(map[string]*PGIndex)}, nil
}

// Open 打开或创建索引；已存在时沿用库中的度量
func (s *PGStore) Open(ctx context.Context, name string, dim int, metric Metric) (Index, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if metric == "" {
		metric = MetricIP
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.lookup(ctx, name)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		if dim <= 0 {
			return nil, common.Errorf("vector", common.ErrInvalidInput, "创建索引 %s 需要正数维度，当前 %d", name, dim)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO mmrag_index_config (name, metric, dim) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`,
			name, string(metric), dim); err != nil {
			return nil, common.Wrapf("vector", common.ErrPersistence, err, "创建索引 %s", name)
		}
		if idx, err = s.lookup(ctx, name); err != nil {
			return nil, err
		}
		if idx == nil {
			return nil, common.Errorf("vector", common.ErrPersistence, "创建索引 %s 后未找到配置", name)
		}
		s.logger.Info("创建 pgvector 索引", "index", name, "metric", string(idx.metric), "dim", idx.dim)
	}
	if dim > 0 && dim != idx.dim {
		return nil, common.Errorf("vector", common.ErrDimensionMismatch, "索引 %s 维度为 %d，请求维度 %d", name, idx.dim, dim)
	}
	return idx, nil
}

// Lookup 仅打开已存在的索引
func (s *PGStore) Lookup(ctx context.Context, name string) (Index, bool, error) {
	if err := validName(name); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.lookup(ctx, name)
	if err != nil || idx == nil {
		return nil, false, err
	}
	return idx, true, nil
}

func (s *PGStore) lookup(ctx context.Context, name string) (*PGIndex, error) {
	if idx, ok := s.cache[name]; ok {
		return idx, nil
	}
	var metric string
	var dim int
	err := s.pool.QueryRow(ctx, `SELECT metric, dim FROM mmrag_index_config WHERE name = $1`, name).Scan(&metric, &dim)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, common.Wrapf("vector", common.ErrPersistence, err, "读取索引配置 %s", name)
	}
	m, err := ParseMetric(metric)
	if err != nil {
		return nil, common.Wrapf("vector", common.ErrIndexCorrupt, err, "索引配置 %s", name)
	}
	idx := &PGIndex{pool: s.pool, name: name, metric: m, dim: dim}
	s.cache[name] = idx
	return idx, nil
}

// Reset 删除全部索引
func (s *PGStore) Reset(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.pool.Query(ctx, `DELETE FROM mmrag_index_config RETURNING name`)
	if err != nil {
		return nil, common.Wrapf("vector", common.ErrPersistence, err, "重置 pgvector 索引")
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, common.Wrapf("vector", common.ErrPersistence, err, "重置 pgvector 索引")
	}
	s.cache = make(map[string]*PGIndex)
	return names, nil
}

// Close 关闭连接池
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

// PGIndex pgvector 索引
type PGIndex struct {
	pool   *pgxpool.Pool
	name   string
	metric Metric
	dim    int
}

// Name 索引名称
func (x *PGIndex) Name() string { return x.name }

// Metric 索引度量
func (x *PGIndex) Metric() Metric { return x.metric }

// Dimension 向量维度
func (x *PGIndex) Dimension() int { return x.dim }

// Len 条目数，查询失败返回 0
func (x *PGIndex) Len() int {
	var n int
	if err := x.pool.QueryRow(context.Background(), `SELECT count FROM mmrag_index_config WHERE name = $1`, x.name).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Add 在单个事务内追加，配置行加锁以串行化写入
func (x *PGIndex) Add(ctx context.Context, vectors [][]float32, records []json.RawMessage) error {
	if len(vectors) != len(records) {
		return common.Errorf("vector", common.ErrInvalidInput, "向量数 %d 与元数据数 %d 不一致", len(vectors), len(records))
	}
	if len(vectors) == 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != x.dim {
			return common.Errorf("vector", common.ErrDimensionMismatch, "第 %d 个向量维度 %d，索引 %s 维度 %d", i, len(v), x.name, x.dim)
		}
	}

	tx, err := x.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return common.Wrapf("vector", common.ErrPersistence, err, "开启事务")
	}
	defer tx.Rollback(ctx)

	var count int
	if err := tx.QueryRow(ctx, `SELECT count FROM mmrag_index_config WHERE name = $1 FOR UPDATE`, x.name).Scan(&count); err != nil {
		return common.Wrapf("vector", common.ErrPersistence, err, "锁定索引 %s", x.name)
	}
	batch := &pgx.Batch{}
	for i := range vectors {
		batch.Queue(`INSERT INTO mmrag_entries (name, pos, embedding, record) VALUES ($1, $2, $3::vector, $4::jsonb)`,
			x.name, count+i, pgvector.NewVector(vectors[i]), string(records[i]))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return common.Wrapf("vector", common.ErrPersistence, err, "写入索引 %s", x.name)
	}
	if _, err := tx.Exec(ctx, `UPDATE mmrag_index_config SET count = $2 WHERE name = $1`, x.name, count+len(vectors)); err != nil {
		return common.Wrapf("vector", common.ErrPersistence, err, "更新索引计数 %s", x.name)
	}
	if err := tx.Commit(ctx); err != nil {
		return common.Wrapf("vector", common.ErrPersistence, err, "提交索引 %s", x.name)
	}
	return nil
}

// Search 精确检索；L2 分数为平方距离，与文件索引一致
func (x *PGIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != x.dim {
		return nil, common.Errorf("vector", common.ErrDimensionMismatch, "查询维度 %d，索引 %s 维度 %d", len(query), x.name, x.dim)
	}
	if k <= 0 {
		return []Hit{}, nil
	}
	sql := `SELECT pos, record, -(embedding <#> $2::vector) AS score FROM mmrag_entries
		WHERE name = $1 ORDER BY embedding <#> $2::vector, pos LIMIT $3`
	if x.metric == MetricL2 {
		sql = `SELECT pos, record, power(embedding <-> $2::vector, 2) AS score FROM mmrag_entries
		WHERE name = $1 ORDER BY embedding <-> $2::vector, pos LIMIT $3`
	}
	rows, err := x.pool.Query(ctx, sql, x.name, pgvector.NewVector(query), k)
	if err != nil {
		return nil, common.Wrapf("vector", common.ErrPersistence, err, "检索索引 %s", x.name)
	}
	defer rows.Close()

	hits := make([]Hit, 0, k)
	for rows.Next() {
		var pos int
		var record []byte
		var score float64
		if err := rows.Scan(&pos, &record, &score); err != nil {
			return nil, common.Wrapf("vector", common.ErrIndexCorrupt, err, "读取检索结果 %s", x.name)
		}
		hits = append(hits, Hit{Rank: len(hits) + 1, Score: score, Position: pos, Record: json.RawMessage(record)})
	}
	if err := rows.Err(); err != nil {
		return nil, common.Wrapf("vector", common.ErrPersistence, err, "检索索引 %s", x.name)
	}
	return hits, nil
}

// Records 按插入顺序返回元数据
func (x *PGIndex) Records(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := x.pool.Query(ctx, `SELECT record FROM mmrag_entries WHERE name = $1 ORDER BY pos`, x.name)
	if err != nil {
		return nil, common.Wrapf("vector", common.ErrPersistence, err, "读取元数据 %s", x.name)
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[[]byte])
	if err != nil {
		return nil, fmt.Errorf("读取元数据 %s: %w", x.name, err)
	}
	out := make([]json.RawMessage, len(raw))
	for i, r := range raw {
		out[i] = r
	}
	return out, nil
}
