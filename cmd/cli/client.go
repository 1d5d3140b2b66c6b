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
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"mmrag/pkg/errors"
)

func apiBaseURL() string {
	if u := os.Getenv("MMRAG_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8000"
}

// apiClient 远程 API 客户端
type apiClient struct {
	rc *resty.Client
}

func newClient(baseURL, token string) *apiClient {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Minute)
	if token != "" {
		rc.SetAuthToken(token)
	}
	return &apiClient{rc: rc}
}

func (c *apiClient) check(resp *resty.Response, err error, what string) error {
	if err != nil {
		return errors.Wrap(err, what)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s: %d %s", what, resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *apiClient) health() (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.rc.R().SetResult(&out).Get("/api/health")
	return out, c.check(resp, err, "GET /api/health")
}

func (c *apiClient) login(username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	resp, err := c.rc.R().
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"username": username, "password": password}).
		SetResult(&out).
		Post("/api/login")
	if err := c.check(resp, err, "POST /api/login"); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *apiClient) upload(path, mode, model, indexType string) (map[string]interface{}, error) {
	form := map[string]string{}
	if mode != "" {
		form["mode"] = mode
	}
	if model != "" {
		form["model"] = model
	}
	if indexType != "" {
		form["index_type"] = indexType
	}
	var out map[string]interface{}
	resp, err := c.rc.R().
		SetFile("file", path).
		SetFormData(form).
		SetResult(&out).
		Post("/api/documents/upload")
	return out, c.check(resp, err, "POST /api/documents/upload "+filepath.Base(path))
}

func (c *apiClient) search(q, mode, model string, k int) (map[string]interface{}, error) {
	params := map[string]string{"query": q}
	if mode != "" {
		params["mode"] = mode
	}
	if model != "" {
		params["model"] = model
	}
	if k > 0 {
		params["k"] = strconv.Itoa(k)
	}
	var out map[string]interface{}
	resp, err := c.rc.R().SetQueryParams(params).SetResult(&out).Get("/api/search")
	return out, c.check(resp, err, "GET /api/search")
}

func (c *apiClient) reset() (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.rc.R().SetResult(&out).Post("/api/reset")
	return out, c.check(resp, err, "POST /api/reset")
}

func (c *apiClient) documents(offset, limit int) (map[string]interface{}, error) {
	var out map[string]interface{}
	resp, err := c.rc.R().
		SetQueryParams(map[string]string{"offset": strconv.Itoa(offset), "limit": strconv.Itoa(limit)}).
		SetResult(&out).
		Get("/api/documents")
	return out, c.check(resp, err, "GET /api/documents")
}

func newRemoteCmd(opts *rootOptions) *cobra.Command {
	remote := &cobra.Command{
		Use:   "remote",
		Short: "调用远程 API 服务",
	}
	client := func() *apiClient { return newClient(opts.apiURL, opts.token) }

	health := &cobra.Command{
		Use:   "health",
		Short: "健康检查",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().health()
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	var username, password string
	login := &cobra.Command{
		Use:   "login",
		Short: "登录并输出 JWT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := client().login(username, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	login.Flags().StringVarP(&username, "username", "u", "", "用户名")
	login.Flags().StringVarP(&password, "password", "p", os.Getenv("MMRAG_PASSWORD"), "密码")

	var mode, model, indexType string
	var k int
	upload := &cobra.Command{
		Use:   "upload [pdf|dir]...",
		Short: "上传 PDF 到远程服务",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := collectPDFs(args)
			if err != nil {
				return err
			}
			c := client()
			for _, f := range files {
				out, err := c.upload(f, mode, model, indexType)
				if err != nil {
					return err
				}
				if err := printJSON(cmd, out); err != nil {
					return err
				}
			}
			return nil
		},
	}
	upload.Flags().StringVarP(&mode, "mode", "m", "", "管线模式 split | unified")
	upload.Flags().StringVar(&model, "model", "", "Embedding 模型 provider.model_key")
	upload.Flags().StringVar(&indexType, "index-type", "", "新建索引的度量 IP | L2")

	search := &cobra.Command{
		Use:   "search [query]",
		Short: "远程检索",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().search(args[0], mode, model, k)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	search.Flags().StringVarP(&mode, "mode", "m", "", "管线模式 split | unified")
	search.Flags().StringVar(&model, "model", "", "Embedding 模型 provider.model_key")
	search.Flags().IntVarP(&k, "k", "k", 0, "返回条数")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "清空远程索引",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().reset()
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}

	var offset, limit int
	docs := &cobra.Command{
		Use:   "docs",
		Short: "分页列出远程文档",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().documents(offset, limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, out)
		},
	}
	docs.Flags().IntVar(&offset, "offset", 0, "起始偏移")
	docs.Flags().IntVar(&limit, "limit", 20, "每页条数")

	remote.AddCommand(health, login, upload, search, reset, docs)
	return remote
}
