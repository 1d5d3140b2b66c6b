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

package common

import (
	"errors"
	"fmt"
)

// 检索后端的错误类别，所有核心错误都包装其中之一
var (
	ErrInvalidInput      = errors.New("无效的输入")
	ErrParseFailure      = errors.New("PDF 解析失败")
	ErrIndexCorrupt      = errors.New("索引损坏")
	ErrModelUnavailable  = errors.New("模型不可用")
	ErrDimensionMismatch = errors.New("向量维度不匹配")
	ErrPersistence       = errors.New("持久化失败")
	ErrDocumentNotFound  = errors.New("文档不存在")
)

// 错误码，供 HTTP 边界返回
const (
	CodeInvalidInput      = "invalid_input"
	CodeParseFailure      = "parse_failure"
	CodeIndexCorrupt      = "index_corrupt"
	CodeModelUnavailable  = "model_unavailable"
	CodeDimensionMismatch = "dimension_mismatch"
	CodePersistence       = "persistence_failure"
	CodeNotFound          = "not_found"
	CodeInternal          = "internal"
)

// ErrorCode 返回错误对应的稳定错误码
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput), IsValidationError(err):
		return CodeInvalidInput
	case errors.Is(err, ErrParseFailure):
		return CodeParseFailure
	case errors.Is(err, ErrIndexCorrupt):
		return CodeIndexCorrupt
	case errors.Is(err, ErrModelUnavailable):
		return CodeModelUnavailable
	case errors.Is(err, ErrDimensionMismatch):
		return CodeDimensionMismatch
	case errors.Is(err, ErrPersistence):
		return CodePersistence
	case errors.Is(err, ErrDocumentNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

// PipelineError Pipeline 错误结构体
type PipelineError struct {
	Stage   string
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[Pipeline] %s 阶段错误: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("[Pipeline] %s 阶段错误: %s", e.Stage, e.Message)
}

// Unwrap 实现 errors.Unwrap 接口
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError 创建新的 Pipeline 错误
func NewPipelineError(stage string, message string, err error) *PipelineError {
	return &PipelineError{
		Stage:   stage,
		Message: message,
		Err:     err,
	}
}

// Errorf 以 kind 为类别构造带阶段信息的错误
func Errorf(stage string, kind error, format string, args ...interface{}) *PipelineError {
	return &PipelineError{
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		Err:     kind,
	}
}

// Wrapf 同时保留类别与底层原因，errors.Is 对两者都成立
func Wrapf(stage string, kind error, cause error, format string, args ...interface{}) *PipelineError {
	if cause == nil {
		return Errorf(stage, kind, format, args...)
	}
	return &PipelineError{
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		Err:     &kindError{kind: kind, cause: cause},
	}
}

type kindError struct {
	kind  error
	cause error
}

func (e *kindError) Error() string {
	return fmt.Sprintf("%v: %v", e.kind, e.cause)
}

func (e *kindError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// IsPipelineError 检查是否为 Pipeline 错误
func IsPipelineError(err error) bool {
	var pipelineErr *PipelineError
	return errors.As(err, &pipelineErr)
}

// GetPipelineError 获取 Pipeline 错误
func GetPipelineError(err error) (*PipelineError, bool) {
	var pipelineErr *PipelineError
	if errors.As(err, &pipelineErr) {
		return pipelineErr, true
	}
	return nil, false
}

// ValidationError 参数校验错误
type ValidationError struct {
	Field   string
	Message string
}

// Error 实现 error 接口
func (e *ValidationError) Error() string {
	return fmt.Sprintf("验证错误: %s: %s", e.Field, e.Message)
}

// Is 使 ValidationError 归入 ErrInvalidInput
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// NewValidationError 创建新的验证错误
func NewValidationError(field string, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// GetValidationError 获取验证错误
func GetValidationError(err error) (*ValidationError, bool) {
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr, true
	}
	return nil, false
}
