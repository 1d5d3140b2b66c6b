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

	"mmrag/pkg/config"
)

// RefPrefix 配置中以此前缀引用密钥，如 secret://openai_api_key
const RefPrefix = "secret://"

// ErrNotFound 密钥不存在
var ErrNotFound = errors.New("secret not found")

// Store 密钥存储
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error

	// List 列出前缀匹配的 secret keys
	List(ctx context.Context, prefix string) ([]string, error)
}

// NewStore 根据配置创建 Secret Store
func NewStore(cfg config.SecretsConfig) (Store, error) {
	switch cfg.Type {
	case "", "env":
		return NewEnvStore(cfg.EnvPrefix), nil
	case "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "vault":
		return NewVaultStore(VaultConfig{Address: cfg.VaultAddr, Token: cfg.VaultToken, PathPrefix: cfg.VaultPath})
	default:
		return nil, fmt.Errorf("unsupported secret provider: %s", cfg.Type)
	}
}

// Resolve 若 value 为 secret:// 引用则从 store 读取，否则原样返回
func Resolve(ctx context.Context, store Store, value string) (string, error) {
	if !strings.HasPrefix(value, RefPrefix) {
		return value, nil
	}
	key := strings.TrimPrefix(value, RefPrefix)
	if key == "" {
		return "", fmt.Errorf("secret 引用为空: %q", value)
	}
	if store == nil {
		return "", fmt.Errorf("未配置 secret store，无法解析 %s", value)
	}
	v, err := store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("解析 %s failed: %w", value, err)
	}
	return strings.TrimSpace(v), nil
}
