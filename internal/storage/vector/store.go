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
	"fmt"

	"mmrag/pkg/config"
	"mmrag/pkg/log"
)

// NewStore 根据配置创建索引存储；flat 索引目录缺省为 dataDir
func NewStore(ctx context.Context, cfg config.VectorConfig, dataDir string, logger *log.Logger) (Store, error) {
	switch cfg.Type {
	case "", "flat":
		dir := cfg.Dir
		if dir == "" {
			dir = dataDir
		}
		return NewFlatStore(dir, logger)
	case "memory":
		return NewMemoryStore(), nil
	case "pgvector", "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("pgvector 需要配置 storage.vector.dsn")
		}
		return NewPGStore(ctx, cfg.DSN, cfg.PoolSize, logger)
	default:
		return nil, fmt.Errorf("不支持的向量存储类型: %s", cfg.Type)
	}
}

var (
	_ Store = (*FlatStore)(nil)
	_ Store = (*PGStore)(nil)
	_ Index = (*FlatIndex)(nil)
	_ Index = (*PGIndex)(nil)
)
