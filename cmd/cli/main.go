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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mmrag/pkg/config"
	"mmrag/pkg/errors"
)

const version = "0.1.0"

// rootOptions 全局参数
type rootOptions struct {
	configPath string
	apiURL     string
	token      string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "mmrag",
		Short:         "多模态 PDF 检索命令行",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径（默认 MMRAG_CONFIG 或 configs/api.yaml）")
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", apiBaseURL(), "远程 API 地址")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("MMRAG_TOKEN"), "远程 API 的 JWT")

	root.AddCommand(
		newVersionCmd(),
		newConfigCmd(opts),
		newIngestCmd(opts),
		newSearchCmd(opts),
		newResetCmd(opts),
		newDocsCmd(opts),
		newRemoteCmd(opts),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "显示版本",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mmrag cli %s\n", version)
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "显示配置概要",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "api.host=%s\n", cfg.API.Host)
			fmt.Fprintf(out, "api.port=%d\n", cfg.API.Port)
			fmt.Fprintf(out, "pipeline.mode=%s\n", cfg.Pipeline.Mode)
			fmt.Fprintf(out, "pipeline.index_type=%s\n", cfg.Pipeline.IndexType)
			fmt.Fprintf(out, "model.defaults.text=%s\n", cfg.Model.Defaults.Text)
			fmt.Fprintf(out, "model.defaults.joint=%s\n", cfg.Model.Defaults.Joint)
			fmt.Fprintf(out, "storage.data_dir=%s\n", cfg.Storage.DataDir)
			fmt.Fprintf(out, "storage.vector.type=%s\n", cfg.Storage.Vector.Type)
			return nil
		},
	}
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadConfig(o.configPath)
	} else {
		cfg, err = config.LoadAPIConfig()
	}
	return cfg, errors.Wrap(err, "加载配置失败")
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "序列化输出失败")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}
