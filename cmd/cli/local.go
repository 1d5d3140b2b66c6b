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

package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"mmrag/internal/app"
	"mmrag/internal/pipeline/common"
	"mmrag/internal/pipeline/ingest"
	"mmrag/internal/pipeline/query"
	"mmrag/pkg/errors"
	"mmrag/pkg/tracing"
)

// withBootstrap 加载配置并初始化本地存储与模型，fn 返回后释放资源
func (o *rootOptions) withBootstrap(cmd *cobra.Command, fn func(ctx context.Context, b *app.Bootstrap) error) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if tc := cfg.Monitoring.Tracing; tc.Enable && tc.ExportEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, tracing.OTelConfig{
			ServiceName:    tc.ServiceName,
			ExportEndpoint: tc.ExportEndpoint,
			Insecure:       tc.Insecure,
		})
		if err != nil {
			return errors.Wrap(err, "初始化链路追踪失败")
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	b, err := app.NewBootstrap(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "初始化失败")
	}
	defer func() {
		if cerr := b.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "关闭失败")
		}
	}()
	return fn(ctx, b)
}

// collectPDFs 展开路径参数：文件原样保留，目录递归收集 .pdf
func collectPDFs(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, errors.Wrapf(err, "读取 %s 失败", p)
		}
		if !info.IsDir() {
			if !isPDF(p) {
				return nil, fmt.Errorf("仅支持 PDF 文件: %s", p)
			}
			out = append(out, p)
			continue
		}
		var found []string
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isPDF(path) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "遍历 %s 失败", p)
		}
		sort.Strings(found)
		out = append(out, found...)
	}
	return out, nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

func pickMode(flag, fallback string) (string, error) {
	mode := flag
	if mode == "" {
		mode = fallback
	}
	switch mode {
	case "", common.ModeUnified:
		return common.ModeUnified, nil
	case common.ModeSplit:
		return common.ModeSplit, nil
	default:
		return "", fmt.Errorf("mode 仅支持 split 或 unified: %q", mode)
	}
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var mode, model, indexType string
	cmd := &cobra.Command{
		Use:   "ingest [pdf|dir]...",
		Short: "本地解析 PDF 并写入索引",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectPDFs(args)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return errors.New("未找到 PDF 文件")
			}
			return opts.withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
				m, err := pickMode(mode, b.Config.Pipeline.Mode)
				if err != nil {
					return err
				}
				in := ingest.IngestOptions{Model: model, IndexType: indexType}
				for _, f := range files {
					in.Uploaded = filepath.Base(f)
					var res interface{}
					if m == common.ModeSplit {
						res, err = b.Ingest.IngestSplit(ctx, f, in)
					} else {
						res, err = b.Ingest.IngestUnified(ctx, f, in)
					}
					if err != nil {
						return errors.Wrapf(err, "入库 %s 失败", f)
					}
					if err := printJSON(cmd, res); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "管线模式 split | unified（默认取配置）")
	cmd.Flags().StringVar(&model, "model", "", "Embedding 模型 provider.model_key")
	cmd.Flags().StringVar(&indexType, "index-type", "", "新建索引的度量 IP | L2")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var mode, model string
	var k int
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "本地检索",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
				m, err := pickMode(mode, b.Config.Pipeline.Mode)
				if err != nil {
					return err
				}
				so := query.SearchOptions{Model: model}
				if m == common.ModeSplit {
					n := k
					if n <= 0 {
						n = b.Config.Pipeline.SplitK
					}
					res, err := b.Split.Search(ctx, args[0], n, so)
					if err != nil {
						return errors.Hint(err, common.ErrDimensionMismatch, "索引由其它模型创建，请更换 --model 或执行 reset")
					}
					return printJSON(cmd, res)
				}
				n := k
				if n <= 0 {
					n = b.Config.Pipeline.UnifiedK
				}
				res, err := b.Unified.Search(ctx, args[0], n, so)
				if err != nil {
					return errors.Hint(err, common.ErrDimensionMismatch, "索引由其它模型创建，请更换 --model 或执行 reset")
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "管线模式 split | unified（默认取配置）")
	cmd.Flags().StringVar(&model, "model", "", "Embedding 模型 provider.model_key")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "返回条数（默认取配置）")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "清空本地索引、台账与图片",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
				removed, err := b.Ingest.Reset(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]interface{}{"removed": removed})
			})
		},
	}
}

func newDocsCmd(opts *rootOptions) *cobra.Command {
	docs := &cobra.Command{
		Use:   "docs",
		Short: "查看已入库文档",
	}
	var offset, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "分页列出文档",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
				page, err := b.Documents.ListDocuments(ctx, offset, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd, page)
			})
		},
	}
	list.Flags().IntVar(&offset, "offset", 0, "起始偏移")
	list.Flags().IntVar(&limit, "limit", 20, "每页条数")
	get := &cobra.Command{
		Use:   "get [doc_id]",
		Short: "查看单个文档",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withBootstrap(cmd, func(ctx context.Context, b *app.Bootstrap) error {
				info, err := b.Documents.GetDocument(ctx, args[0])
				if err != nil {
					return errors.Hint(err, common.ErrDocumentNotFound, "可用 docs list 查看已入库文档")
				}
				return printJSON(cmd, info)
			})
		},
	}
	docs.AddCommand(list, get)
	return docs
}
