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

// Package errors 命令行与装配层的错误辅助，不依赖 internal
package errors

import (
	stderrors "errors"
	"fmt"
)

// New 创建错误
func New(msg string) error { return stderrors.New(msg) }

// Is 同标准库 errors.Is
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As 同标准库 errors.As
func As(err error, target any) bool { return stderrors.As(err, target) }

// Join 合并多个错误，全部为 nil 时返回 nil
func Join(errs ...error) error { return stderrors.Join(errs...) }

// Wrap 包装错误并附加消息；err 为 nil 时返回 nil
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf 带格式的 Wrap
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Hint 为已知错误附加面向用户的提示，其余错误原样返回
func Hint(err error, target error, hint string) error {
	if err == nil || !Is(err, target) {
		return err
	}
	return fmt.Errorf("%w（%s）", err, hint)
}
