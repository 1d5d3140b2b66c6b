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

package vector

import (
	"encoding/json"
	"os"
	"path/filepath"

	"mmrag/internal/pipeline/common"
	"mmrag/pkg/utils"
)

// journal 提交日志，存在即表示暂存文件已完整写入
type journal struct {
	Index string `json:"index"`
	Count int    `json:"count"`
}

func writeFileSync(path string, data []byte) error { return utils.WriteFileSync(path, data) }

func writeFileAtomic(path string, data []byte) error { return utils.WriteFileAtomic(path, data) }

func writeJournal(dir, name string, count int) error {
	b, err := json.Marshal(journal{Index: name, Count: count})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, journalFile(name)), b); err != nil {
		return common.Wrapf("vector", common.ErrPersistence, err, "写入提交日志 %s", name)
	}
	return nil
}

// recoverFiles 有提交日志时把暂存文件前滚为正式文件，否则丢弃暂存文件
func recoverFiles(dir, name string) (bool, error) {
	jpath := filepath.Join(dir, journalFile(name))
	if !utils.FileExists(jpath) {
		discardStaged(dir, name)
		return false, nil
	}
	for _, file := range []string{indexFile(name), metaFile(name)} {
		live := filepath.Join(dir, file)
		staged := live + stageSuffix
		if !utils.FileExists(staged) {
			continue
		}
		if err := os.Rename(staged, live); err != nil {
			return false, common.Wrapf("vector", common.ErrPersistence, err, "前滚 %s", file)
		}
	}
	if err := utils.SyncDir(dir); err != nil {
		return false, common.Wrapf("vector", common.ErrPersistence, err, "同步目录 %s", dir)
	}
	if _, err := utils.RemoveIfExists(jpath); err != nil {
		return false, common.Wrapf("vector", common.ErrPersistence, err, "删除提交日志 %s", name)
	}
	return true, nil
}

func discardStaged(dir, name string) {
	for _, file := range []string{indexFile(name), metaFile(name)} {
		_, _ = utils.RemoveIfExists(filepath.Join(dir, file) + stageSuffix)
	}
}
