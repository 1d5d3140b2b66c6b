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

package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"mmrag/internal/model"
	"mmrag/internal/pipeline/ingest"
	"mmrag/internal/pipeline/query"
	"mmrag/internal/storage/cache"
	"mmrag/internal/storage/metadata"
	"mmrag/internal/storage/object"
	"mmrag/internal/storage/vector"
	"mmrag/pkg/config"
	"mmrag/pkg/log"
	"mmrag/pkg/secrets"
)

// Bootstrap 统一初始化：供 api 与 cli 复用，避免在 cmd 内写业务与 pipeline
type Bootstrap struct {
	Config    *config.Config
	Logger    *log.Logger
	Secrets   secrets.Store
	Models    *model.Registry
	Vectors   vector.Store
	Catalog   metadata.Catalog
	Objects   object.Store
	Cache     cache.Store
	Images    *metadata.ImageTable
	Ingest    *ingest.Service
	Split     *query.SplitRetriever
	Unified   *query.UnifiedRetriever
	Documents DocumentService
}

// NewBootstrap 根据配置创建 Bootstrap（日志、存储、模型、服务）
func NewBootstrap(ctx context.Context, cfg *config.Config) (*Bootstrap, error) {
	if cfg == nil {
		return nil, errors.New("配置为空")
	}
	logger, err := log.NewLogger(&log.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return nil, fmt.Errorf("初始化日志failed: %w", err)
	}
	b := &Bootstrap{Config: cfg, Logger: logger}
	if err := b.init(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bootstrap) init(ctx context.Context) error {
	cfg := b.Config
	var err error

	if b.Secrets, err = secrets.NewStore(cfg.Secrets); err != nil {
		return fmt.Errorf("初始化密钥存储failed: %w", err)
	}
	license, err := secrets.Resolve(ctx, b.Secrets, cfg.Pipeline.PDFLicense)
	if err != nil {
		return fmt.Errorf("解析 PDF 许可failed: %w", err)
	}
	if err := ingest.SetLicenseKey(license); err != nil {
		return fmt.Errorf("设置 PDF 许可failed: %w", err)
	}
	b.Models = model.NewRegistry(cfg.Model, b.Secrets)

	if b.Vectors, err = vector.NewStore(ctx, cfg.Storage.Vector, cfg.Storage.DataDir, b.Logger); err != nil {
		return fmt.Errorf("初始化向量存储failed: %w", err)
	}
	if b.Catalog, err = metadata.NewCatalog(cfg.Storage.Metadata, cfg.Storage.DataDir, b.Logger); err != nil {
		return fmt.Errorf("初始化台账failed: %w", err)
	}
	if b.Objects, err = object.NewStore(cfg.Storage.Object); err != nil {
		return fmt.Errorf("初始化对象存储failed: %w", err)
	}
	if b.Cache, err = cache.NewCache(ctx, cfg.Storage.Cache); err != nil {
		return fmt.Errorf("初始化缓存failed: %w", err)
	}
	b.Images = metadata.NewImageTable(filepath.Join(cfg.Storage.DataDir, metadata.ImageDataFileName), b.Logger)
	b.Documents = NewDocumentService(b.Catalog)

	artifacts, err := ingest.NewArtifactWriter(cfg.Storage.DataDir)
	if err != nil {
		return err
	}
	var ocr ingest.OCR
	if cfg.Pipeline.OCREnabled {
		ocr = ingest.NewTesseractOCR(cfg.Pipeline.OCRCommand, cfg.Pipeline.OCRLanguages, nil)
	}
	ch := cfg.Pipeline.Chunking
	chunking := ingest.ChunkingOptions{
		MaxCharacters:          ch.MaxCharacters,
		NewAfterNChars:         ch.NewAfterNChars,
		CombineTextUnderNChars: ch.CombineTextUnderNChars,
		Overlap:                ch.Overlap,
	}
	metric, err := vector.ParseMetric(cfg.Pipeline.IndexType)
	if err != nil {
		return err
	}
	b.Ingest, err = ingest.NewService(ingest.Deps{
		Models:    b.Models,
		Vectors:   b.Vectors,
		Catalog:   b.Catalog,
		Images:    b.Images,
		Objects:   b.Objects,
		Artifacts: artifacts,
		Elements:  ingest.NewElementParser(ingest.OpenPDF, b.Objects, ocr, chunking, b.Logger),
		Pages:     ingest.NewPageParser(ingest.OpenPDF, cfg.Pipeline.PageSplitter.ChunkSize, cfg.Pipeline.PageSplitter.ChunkOverlap, b.Logger),
		Logger:    b.Logger,
	}, ingest.Options{
		Metric:       metric,
		ImageStorage: cfg.Pipeline.ImageStorage,
		Parse: ingest.ParseOptions{
			OCREnabled:   cfg.Pipeline.OCREnabled,
			OCRLanguages: cfg.Pipeline.OCRLanguages,
			MaxPages:     cfg.Pipeline.MaxPages,
		},
	})
	if err != nil {
		return err
	}

	ttl, err := parseTTL(cfg.Storage.Cache.TTL)
	if err != nil {
		return err
	}
	encoder := query.NewEncoder(b.Cache, ttl, b.Logger)
	b.Split = query.NewSplitRetriever(b.Models, b.Vectors, encoder, b.Logger)
	b.Unified = query.NewUnifiedRetriever(b.Models, b.Vectors, b.Images, encoder, b.Logger)

	b.Logger.Info("初始化完成",
		"mode", cfg.Pipeline.Mode,
		"vector", cfg.Storage.Vector.Type,
		"catalog", cfg.Storage.Metadata.Type,
		"cache", cfg.Storage.Cache.Type,
		"text_model", cfg.Model.Defaults.Text,
		"joint_model", cfg.Model.Defaults.Joint)
	return nil
}

func parseTTL(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("storage.cache.ttl 无效: %w", err)
	}
	return d, nil
}

// Close 释放存储连接
func (b *Bootstrap) Close() error {
	var errs []error
	if b.Cache != nil {
		errs = append(errs, b.Cache.Close())
	}
	if b.Objects != nil {
		errs = append(errs, b.Objects.Close())
	}
	if b.Vectors != nil {
		errs = append(errs, b.Vectors.Close())
	}
	if b.Logger != nil {
		errs = append(errs, b.Logger.Close())
	}
	return errors.Join(errs...)
}
