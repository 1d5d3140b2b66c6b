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
	"fmt"
	"sort"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

// VaultConfig Vault 配置
type VaultConfig struct {
	Address    string // Vault 地址，如 http://vault:8200
	Token      string
	PathPrefix string // KV 挂载路径，如 "secret/data/mmrag"
}

type vaultStore struct {
	client     *vault.Client
	pathPrefix string
	mu         sync.RWMutex
	cache      map[string]string
}

// NewVaultStore 创建 Vault secret store；启动时检查连通性
func NewVaultStore(cfg VaultConfig) (Store, error) {
	if cfg.Address == "" {
		cfg.Address = "http://localhost:8200"
	}
	vc := vault.DefaultConfig()
	vc.Address = cfg.Address

	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	if _, err := client.Sys().Health(); err != nil {
		return nil, fmt.Errorf("failed to connect to vault: %w", err)
	}

	prefix := strings.TrimSuffix(cfg.PathPrefix, "/")
	if prefix == "" {
		prefix = "secret/data/mmrag"
	}
	return &vaultStore{client: client, pathPrefix: prefix, cache: make(map[string]string)}, nil
}

func (v *vaultStore) Get(ctx context.Context, key string) (string, error) {
	v.mu.RLock()
	if val, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return val, nil
	}
	v.mu.RUnlock()

	secret, err := v.client.Logical().ReadWithContext(ctx, v.buildPath(key))
	if err != nil {
		return "", fmt.Errorf("failed to read secret from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	value, ok := pickValue(secret.Data)
	if !ok {
		return "", fmt.Errorf("secret value not found: %s", key)
	}

	v.mu.Lock()
	v.cache[key] = value
	v.mu.Unlock()
	return value, nil
}

// pickValue 兼容 KV v1 与 KV v2（v2 的值嵌套在 data 下）
func pickValue(data map[string]interface{}) (string, bool) {
	if nested, ok := data["data"].(map[string]interface{}); ok {
		data = nested
	}
	if s, ok := data["value"].(string); ok {
		return s, true
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := data[k].(string); ok {
			return s, true
		}
	}
	return "", false
}

func (v *vaultStore) Set(ctx context.Context, key string, value string) error {
	payload := map[string]interface{}{"value": value}
	if strings.Contains(v.pathPrefix, "/data") {
		payload = map[string]interface{}{"data": payload}
	}
	if _, err := v.client.Logical().WriteWithContext(ctx, v.buildPath(key), payload); err != nil {
		return fmt.Errorf("failed to write secret to vault: %w", err)
	}
	v.mu.Lock()
	v.cache[key] = value
	v.mu.Unlock()
	return nil
}

func (v *vaultStore) List(ctx context.Context, prefix string) ([]string, error) {
	listPath := strings.Replace(v.pathPrefix, "/data", "/metadata", 1)
	secret, err := v.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets from vault: %w", err)
	}
	if secret == nil {
		return nil, nil
	}
	raw, _ := secret.Data["keys"].([]interface{})
	var keys []string
	for _, k := range raw {
		if s, ok := k.(string); ok && strings.HasPrefix(s, prefix) {
			keys = append(keys, s)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (v *vaultStore) buildPath(key string) string {
	return v.pathPrefix + "/" + key
}
