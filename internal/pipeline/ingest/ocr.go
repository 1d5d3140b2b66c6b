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

package ingest

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strings"
)

// CommandRunner 执行外部命令，stdin 作为标准输入
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)
}

// ExecRunner 基于 os/exec 的 CommandRunner
type ExecRunner struct{}

// Run 执行命令并返回标准输出
func (ExecRunner) Run(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// OCR 图片文字识别
type OCR interface {
	Recognize(ctx context.Context, img image.Image) (string, error)
}

// TesseractOCR 调用 tesseract 命令行
type TesseractOCR struct {
	Command   string
	Languages string // 如 eng 或 eng+chi_sim
	Runner    CommandRunner
}

// NewTesseractOCR 创建 tesseract OCR；command 为空时使用 tesseract
func NewTesseractOCR(command, languages string, runner CommandRunner) *TesseractOCR {
	if command == "" {
		command = "tesseract"
	}
	if languages == "" {
		languages = "eng"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &TesseractOCR{Command: command, Languages: languages, Runner: runner}
}

// Recognize 以 PNG 经 stdin 传给 tesseract，读取 stdout 文本
func (t *TesseractOCR) Recognize(ctx context.Context, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("编码 OCR 图片failed: %w", err)
	}
	out, err := t.Runner.Run(ctx, t.Command, []string{"stdin", "stdout", "-l", t.Languages}, buf.Bytes())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
