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
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"mmrag/internal/pipeline/common"
	"mmrag/pkg/log"
)

const (
	indexMagic   = "MMVI"
	indexVersion = 1
	headerSize   = 20 // magic(4) version(2) metric(1) reserved(1) dim(4) count(8)

	stageSuffix = ".tmp"
)

// 文件命名与旧版布局保持一致
func indexFile(name string) string   { return name + ".index" }
func metaFile(name string) string    { return name + "_meta.json" }
func configFile(name string) string  { return name + "_index_config.json" }
func journalFile(name string) string { return name + ".commit" }

// FlatStore 基于本地文件的精确检索索引集合；dir 为空时只保存在内存
type FlatStore struct {
	dir     string
	logger  *log.Logger
	mu      sync.Mutex
	indexes map[string]*FlatIndex
}

// NewFlatStore 创建文件索引存储
func NewFlatStore(dir string, logger *log.Logger) (*FlatStore, error) {
	if logger == nil {
		logger = log.Nop()
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, common.Wrapf("vector", common.ErrPersistence, err, "创建索引目录 %s", dir)
		}
	}
	return &FlatStore{dir: dir, logger: logger, indexes: make(map[string]*FlatIndex)}, nil
}

// NewMemoryStore 创建不落盘的索引存储
func NewMemoryStore() *FlatStore {
	s, _ := NewFlatStore("", nil)
	return s
}

// Dir 索引目录
func (s *FlatStore) Dir() string {
	return s.dir
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return common.Errorf("vector", common.ErrInvalidInput, "非法索引名称 %q", name)
	}
	return nil
}

// Open 打开或创建索引
func (s *FlatStore) Open(ctx context.Context, name string, dim int, metric Metric) (Index, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, err := s.get(name)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		if dim <= 0 {
			return nil, common.Errorf("vector", common.ErrInvalidInput, "创建索引 %s 需要正数维度，当前 %d", name, dim)
		}
		if metric == "" {
			metric = MetricIP
		}
		idx = &FlatIndex{name: name, dir: s.dir, metric: metric, dim: dim, logger: s.logger}
		if err := idx.create(); err != nil {
			return nil, err
		}
		s.indexes[name] = idx
		s.logger.Info("创建向量索引", "index", name, "metric", string(metric), "dim", dim)
	}

	if dim > 0 && dim != idx.dim {
		return nil, common.Errorf("vector", common.ErrDimensionMismatch, "索引 %s 维度为 %d，请求维度 %d", name, idx.dim, dim)
	}
	if metric != "" && metric != idx.metric {
		s.logger.Info("沿用已有索引度量", "index", name, "persisted", string(idx.metric), "requested", string(metric))
	}
	return idx, nil
}

// Lookup 仅打开已存在的索引
func (s *FlatStore) Lookup(ctx context.Context, name string) (Index, bool, error) {
	if err := validName(name); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.get(name)
	if err != nil || idx == nil {
		return nil, false, err
	}
	return idx, true, nil
}

// get 从注册表或磁盘取索引，不存在返回 nil；调用方持有 s.mu
func (s *FlatStore) get(name string) (*FlatIndex, error) {
	if idx, ok := s.indexes[name]; ok {
		return idx, nil
	}
	if s.dir == "" {
		return nil, nil
	}
	idx, err := loadFlatIndex(s.dir, name, s.logger)
	if err != nil || idx == nil {
		return nil, err
	}
	s.indexes[name] = idx
	return idx, nil
}

// Reset 清空全部索引并删除相关文件
func (s *FlatStore) Reset(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, idx := range s.indexes {
		idx.drop()
	}
	s.indexes = make(map[string]*FlatIndex)
	if s.dir == "" {
		return nil, nil
	}

	var removed []string
	for _, pattern := range []string{"*.index", "*_meta.json", "*_index_config.json", "*.commit", "*" + stageSuffix} {
		matches, err := filepath.Glob(filepath.Join(s.dir, pattern))
		if err != nil {
			return removed, err
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
				return removed, common.Wrapf("vector", common.ErrPersistence, err, "删除 %s", m)
			}
			removed = append(removed, filepath.Base(m))
		}
	}
	sort.Strings(removed)
	s.logger.Info("向量索引已重置", "removed", len(removed))
	return removed, nil
}

// Close 关闭存储
func (s *FlatStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes = make(map[string]*FlatIndex)
	return nil
}

// FlatIndex 精确检索索引；写操作互斥，检索共享
type FlatIndex struct {
	mu      sync.RWMutex
	name    string
	dir     string
	metric  Metric
	dim     int
	data    []float32 // 行优先，len = Len()*dim
	records []json.RawMessage
	dropped bool
	logger  *log.Logger
}

// Name 索引名称
func (x *FlatIndex) Name() string { return x.name }

// Metric 索引度量
func (x *FlatIndex) Metric() Metric { return x.metric }

// Dimension 向量维度
func (x *FlatIndex) Dimension() int { return x.dim }

// Len 条目数
func (x *FlatIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

func (x *FlatIndex) path(file string) string {
	return filepath.Join(x.dir, file)
}

func (x *FlatIndex) create() error {
	if x.dir == "" {
		return nil
	}
	cfg, err := json.Marshal(IndexConfig{Type: x.metric, Dim: x.dim})
	if err != nil {
		return err
	}
	if err := writeFileAtomic(x.path(configFile(x.name)), cfg); err != nil {
		return common.Wrapf("vector", common.ErrPersistence, err, "写入索引配置 %s", x.name)
	}
	return x.commit(nil, nil)
}

// Add 原子追加
func (x *FlatIndex) Add(ctx context.Context, vectors [][]float32, records []json.RawMessage) error {
	if len(vectors) != len(records) {
		return common.Errorf("vector", common.ErrInvalidInput, "向量数 %d 与元数据数 %d 不一致", len(vectors), len(records))
	}
	if len(vectors) == 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != x.dim {
			return common.Errorf("vector", common.ErrDimensionMismatch, "第 %d 个向量维度 %d，索引 %s 维度 %d", i, len(v), x.name, x.dim)
		}
		for _, f := range v {
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				return common.Errorf("vector", common.ErrInvalidInput, "第 %d 个向量包含 NaN/Inf", i)
			}
		}
		if !json.Valid(records[i]) {
			return common.Errorf("vector", common.ErrInvalidInput, "第 %d 条元数据不是合法 JSON", i)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.dropped {
		return common.Errorf("vector", common.ErrPersistence, "索引 %s 已被重置，请重新打开", x.name)
	}

	data := make([]float32, len(x.data), len(x.data)+len(vectors)*x.dim)
	copy(data, x.data)
	for _, v := range vectors {
		data = append(data, v...)
	}
	recs := make([]json.RawMessage, len(x.records), len(x.records)+len(records))
	copy(recs, x.records)
	for _, r := range records {
		recs = append(recs, append(json.RawMessage(nil), r...))
	}

	if err := x.commit(data, recs); err != nil {
		return err
	}
	x.data = data
	x.records = recs
	return nil
}

// commit 先写暂存文件，再写提交日志，最后替换正式文件；调用方持有写锁
func (x *FlatIndex) commit(data []float32, records []json.RawMessage) error {
	if x.dir == "" {
		return nil
	}
	if _, err := recoverFiles(x.dir, x.name); err != nil {
		return err
	}
	if err := x.stage(data, records); err != nil {
		discardStaged(x.dir, x.name)
		return err
	}
	if err := writeJournal(x.dir, x.name, len(records)); err != nil {
		discardStaged(x.dir, x.name)
		return err
	}
	// 提交日志落盘即视为已提交，替换失败由下次打开时前滚
	if _, err := recoverFiles(x.dir, x.name); err != nil {
		x.logger.Warn("索引文件替换未完成，将在下次打开时前滚", "index", x.name, "error", err)
	}
	return nil
}

func (x *FlatIndex) stage(data []float32, records []json.RawMessage) error {
	if records == nil {
		records = []json.RawMessage{}
	}
	if err := writeFileSync(x.path(indexFile(x.name))+stageSuffix, encodeIndex(x.metric, x.dim, data)); err != nil {
		return common.Wrapf("vector", common.ErrPersistence, err, "写入暂存索引 %s", x.name)
	}
	meta, err := json.Marshal(records)
	if err != nil {
		return common.Wrapf("vector", common.ErrPersistence, err, "序列化元数据 %s", x.name)
	}
	if err := writeFileSync(x.path(metaFile(x.name))+stageSuffix, meta); err != nil {
		return common.Wrapf("vector", common.ErrPersistence, err, "写入暂存元数据 %s", x.name)
	}
	return nil
}

// Search 精确检索
func (x *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != x.dim {
		return nil, common.Errorf("vector", common.ErrDimensionMismatch, "查询维度 %d，索引 %s 维度 %d", len(query), x.name, x.dim)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.dropped {
		return []Hit{}, nil
	}

	cands := topK(x.metric, query, x.data, x.dim, k)
	hits := make([]Hit, 0, len(cands))
	for _, c := range cands {
		if c.pos < 0 || c.pos >= len(x.records) {
			continue
		}
		hits = append(hits, Hit{
			Rank:     len(hits) + 1,
			Score:    c.score,
			Position: c.pos,
			Record:   x.records[c.pos],
		})
	}
	return hits, nil
}

// Records 返回全部元数据
func (x *FlatIndex) Records(ctx context.Context) ([]json.RawMessage, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]json.RawMessage, len(x.records))
	copy(out, x.records)
	return out, nil
}

func (x *FlatIndex) drop() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.dropped = true
	x.data = nil
	x.records = nil
}

// loadFlatIndex 从磁盘加载索引，不存在返回 nil
func loadFlatIndex(dir, name string, logger *log.Logger) (*FlatIndex, error) {
	rolled, err := recoverFiles(dir, name)
	if err != nil {
		return nil, err
	}
	if rolled {
		logger.Warn("检测到未完成的提交，已前滚", "index", name)
	}

	cfgPath := filepath.Join(dir, configFile(name))
	idxPath := filepath.Join(dir, indexFile(name))
	cfgBytes, cfgErr := os.ReadFile(cfgPath)
	idxBytes, idxErr := os.ReadFile(idxPath)
	if cfgErr != nil && !errors.Is(cfgErr, os.ErrNotExist) {
		return nil, common.Wrapf("vector", common.ErrPersistence, cfgErr, "读取索引配置 %s", name)
	}
	if idxErr != nil && !errors.Is(idxErr, os.ErrNotExist) {
		return nil, common.Wrapf("vector", common.ErrPersistence, idxErr, "读取索引 %s", name)
	}
	if cfgErr != nil && idxErr != nil {
		return nil, nil
	}

	x := &FlatIndex{name: name, dir: dir, logger: logger}
	if cfgErr == nil {
		var cfg IndexConfig
		if err := json.Unmarshal(cfgBytes, &cfg); err != nil {
			return nil, common.Wrapf("vector", common.ErrIndexCorrupt, err, "解析索引配置 %s", name)
		}
		m, err := ParseMetric(string(cfg.Type))
		if err != nil || cfg.Dim <= 0 {
			return nil, common.Errorf("vector", common.ErrIndexCorrupt, "索引配置 %s 非法: %+v", name, cfg)
		}
		x.metric, x.dim = m, cfg.Dim
	}

	if idxErr == nil {
		m, dim, data, err := decodeIndex(idxBytes)
		if err != nil {
			return nil, common.Wrapf("vector", common.ErrIndexCorrupt, err, "解析索引 %s", name)
		}
		if cfgErr != nil {
			x.metric, x.dim = m, dim
			cfg, _ := json.Marshal(IndexConfig{Type: m, Dim: dim})
			if err := writeFileAtomic(cfgPath, cfg); err != nil {
				return nil, common.Wrapf("vector", common.ErrPersistence, err, "补写索引配置 %s", name)
			}
		} else if m != x.metric || dim != x.dim {
			return nil, common.Errorf("vector", common.ErrIndexCorrupt, "索引 %s 头部 (%s,%d) 与配置 (%s,%d) 不一致", name, m, dim, x.metric, x.dim)
		}
		x.data = data
	}

	metaBytes, err := os.ReadFile(filepath.Join(dir, metaFile(name)))
	switch {
	case errors.Is(err, os.ErrNotExist):
		x.records = []json.RawMessage{}
	case err != nil:
		return nil, common.Wrapf("vector", common.ErrPersistence, err, "读取元数据 %s", name)
	default:
		if err := json.Unmarshal(metaBytes, &x.records); err != nil {
			return nil, common.Wrapf("vector", common.ErrIndexCorrupt, err, "解析元数据 %s", name)
		}
	}

	if count := len(x.data) / x.dim; count != len(x.records) {
		return nil, common.Errorf("vector", common.ErrIndexCorrupt, "索引 %s 向量数 %d 与元数据数 %d 不一致", name, count, len(x.records))
	}
	return x, nil
}

func encodeIndex(m Metric, dim int, data []float32) []byte {
	buf := make([]byte, headerSize+4*len(data))
	copy(buf[0:4], indexMagic)
	binary.LittleEndian.PutUint16(buf[4:6], indexVersion)
	if m == MetricL2 {
		buf[6] = 1
	}
	binary.LittleEndian.PutUint32(buf[8:12], uint32(dim))
	count := 0
	if dim > 0 {
		count = len(data) / dim
	}
	binary.LittleEndian.PutUint64(buf[12:20], uint64(count))
	for i, f := range data {
		binary.LittleEndian.PutUint32(buf[headerSize+4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeIndex(buf []byte) (Metric, int, []float32, error) {
	if len(buf) < headerSize || string(buf[0:4]) != indexMagic {
		return "", 0, nil, errors.New("不是向量索引文件")
	}
	if v := binary.LittleEndian.Uint16(buf[4:6]); v != indexVersion {
		return "", 0, nil, fmt.Errorf("不支持的索引版本 %d", v)
	}
	var m Metric
	switch buf[6] {
	case 0:
		m = MetricIP
	case 1:
		m = MetricL2
	default:
		return "", 0, nil, fmt.Errorf("未知度量 %d", buf[6])
	}
	dim := int(binary.LittleEndian.Uint32(buf[8:12]))
	count := binary.LittleEndian.Uint64(buf[12:20])
	if dim <= 0 {
		return "", 0, nil, fmt.Errorf("非法维度 %d", dim)
	}
	want := uint64(headerSize) + count*uint64(dim)*4
	if uint64(len(buf)) != want {
		return "", 0, nil, fmt.Errorf("文件长度 %d，期望 %d", len(buf), want)
	}
	data := make([]float32, int(count)*dim)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[headerSize+4*i:]))
	}
	return m, dim, data, nil
}
