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
	"os"
	"sort"
	"strings"
)

type envStore struct {
	prefix string
}

// NewEnvStore 创建环境变量 secret store；key 会转为大写并加上 prefix
func NewEnvStore(prefix string) Store {
	return &envStore{prefix: prefix}
}

func (e *envStore) name(key string) string {
	return e.prefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_", "/", "_").Replace(key))
}

func (e *envStore) Get(ctx context.Context, key string) (string, error) {
	value := os.Getenv(e.name(key))
	if value == "" {
		return "", fmt.Errorf("%w: 环境变量 %s 未设置", ErrNotFound, e.name(key))
	}
	return value, nil
}

func (e *envStore) Set(ctx context.Context, key string, value string) error {
	return os.Setenv(e.name(key), value)
}

func (e *envStore) List(ctx context.Context, prefix string) ([]string, error) {
	want := e.prefix + strings.ToUpper(prefix)
	var keys []string
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if strings.HasPrefix(parts[0], want) {
			keys = append(keys, parts[0])
		}
	}
	sort.Strings(keys)
	return keys, nil
}
