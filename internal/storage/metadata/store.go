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

package metadata

import (
	"fmt"
	"path/filepath"

	"mmrag/pkg/config"
	"mmrag/pkg/log"
)

// NewCatalog 根据配置创建台账；file 类型默认写入 {dataDir}/catalog.json
func NewCatalog(cfg config.MetadataConfig, dataDir string, logger *log.Logger) (Catalog, error) {
	switch cfg.Type {
	case "", "file":
		path := cfg.Path
		if path == "" {
			path = filepath.Join(dataDir, CatalogFileName)
		}
		return NewFileCatalog(path, logger)
	case "memory":
		return NewMemoryCatalog(), nil
	default:
		return nil, fmt.Errorf("不支持的元数据存储类型: %s", cfg.Type)
	}
}
