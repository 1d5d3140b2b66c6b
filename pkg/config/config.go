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

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultConfigPath API 服务默认配置文件
const DefaultConfigPath = "configs/api.yaml"

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Model      ModelConfig      `mapstructure:"model"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port          int              `mapstructure:"port"`
	Host          string           `mapstructure:"host"`
	MaxUploadSize int              `mapstructure:"max_upload_size"` // 字节，<=0 使用 hertz 默认
	Middleware    MiddlewareConfig `mapstructure:"middleware"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	CORS       bool    `mapstructure:"cors"`
	RateLimit  float64 `mapstructure:"rate_limit"` // 每秒请求数，<=0 不限
	Auth       bool    `mapstructure:"auth"`
	JWTKey     string  `mapstructure:"jwt_key"`
	JWTTimeout string  `mapstructure:"jwt_timeout"` // 如 "1h"
	Username   string  `mapstructure:"username"`
	Password   string  `mapstructure:"password"`
}

// PipelineConfig 入库与检索管线配置
type PipelineConfig struct {
	Mode         string         `mapstructure:"mode"` // unified | split
	OCREnabled   bool           `mapstructure:"ocr_enabled"`
	OCRLanguages string         `mapstructure:"ocr_languages"`
	OCRCommand   string         `mapstructure:"ocr_command"`
	MaxPages     int            `mapstructure:"max_pages"`       // 0 表示不限
	IndexType    string         `mapstructure:"index_type"`      // IP | L2，仅在首次建索引时生效
	ImageStorage string         `mapstructure:"image_storage"`   // inline | object（unified 模式）
	PDFLicense   string         `mapstructure:"pdf_license_key"` // unipdf 计量许可，支持 secret://
	SplitK       int            `mapstructure:"split_k"`
	UnifiedK     int            `mapstructure:"unified_k"`
	Chunking     ChunkingConfig `mapstructure:"chunking"`
	PageSplitter SplitterConfig `mapstructure:"page_splitter"`
}

// ChunkingConfig by_title 切片参数
type ChunkingConfig struct {
	MaxCharacters          int `mapstructure:"max_characters"`
	NewAfterNChars         int `mapstructure:"new_after_n_chars"`
	CombineTextUnderNChars int `mapstructure:"combine_text_under_n_chars"`
	Overlap                int `mapstructure:"overlap"`
}

// SplitterConfig 递归字符切分参数
type SplitterConfig struct {
	ChunkSize    int `mapstructure:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap"`
}

// ModelConfig 模型配置
type ModelConfig struct {
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Defaults  DefaultsConfig  `mapstructure:"defaults"`
}

// EmbeddingConfig Embedding 模型配置
type EmbeddingConfig struct {
	Providers map[string]ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig 模型提供商配置
type ProviderConfig struct {
	Type      string               `mapstructure:"type"` // openai | clip | hashing
	APIKey    string               `mapstructure:"api_key"`
	BaseURL   string               `mapstructure:"base_url"`
	Timeout   string               `mapstructure:"timeout"`
	RateLimit float64              `mapstructure:"rate_limit"` // 每秒请求数，<=0 不限
	BatchSize int                  `mapstructure:"batch_size"`
	Models    map[string]ModelInfo `mapstructure:"models"`
}

// ModelInfo 模型信息
type ModelInfo struct {
	Name      string `mapstructure:"name"`
	Dimension int    `mapstructure:"dimension"` // 0 表示加载时探测
}

// DefaultsConfig 默认模型，格式 provider.model_key
type DefaultsConfig struct {
	Text  string `mapstructure:"text"`
	Joint string `mapstructure:"joint"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	DataDir    string         `mapstructure:"data_dir"`
	UploadsDir string         `mapstructure:"uploads_dir"`
	Metadata   MetadataConfig `mapstructure:"metadata"`
	Vector     VectorConfig   `mapstructure:"vector"`
	Object     ObjectConfig   `mapstructure:"object"`
	Cache      CacheConfig    `mapstructure:"cache"`
}

// MetadataConfig catalog 存储配置
type MetadataConfig struct {
	Type string `mapstructure:"type"` // file | memory
	Path string `mapstructure:"path"` // 为空时使用 {data_dir}/catalog.json
}

// VectorConfig 向量索引存储配置
type VectorConfig struct {
	Type     string `mapstructure:"type"` // flat | pgvector
	Dir      string `mapstructure:"dir"`  // flat 索引目录，为空时使用 data_dir
	DSN      string `mapstructure:"dsn"`  // pgvector 连接串
	PoolSize int    `mapstructure:"pool_size"`
}

// ObjectConfig 图片等对象存储配置
type ObjectConfig struct {
	Type    string `mapstructure:"type"` // file | memory
	Root    string `mapstructure:"root"`
	BaseURL string `mapstructure:"base_url"` // 对外访问前缀，如 /static/images
}

// CacheConfig 查询向量缓存配置
type CacheConfig struct {
	Type     string `mapstructure:"type"` // memory | redis | none
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	TTL      string `mapstructure:"ttl"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// SecretsConfig 密钥存储配置
type SecretsConfig struct {
	Type       string `mapstructure:"type"` // env | memory | file | vault
	EnvPrefix  string `mapstructure:"env_prefix"`
	Dir        string `mapstructure:"dir"` // file 类型的挂载目录
	VaultAddr  string `mapstructure:"vault_addr"`
	VaultToken string `mapstructure:"vault_token"`
	VaultPath  string `mapstructure:"vault_path"`
}

// 与旧版部署兼容的环境变量
var legacyEnv = map[string]string{
	"api.port":                 "PORT",
	"pipeline.ocr_enabled":     "OCR_ENABLED",
	"pipeline.ocr_languages":   "OCR_LANGUAGES",
	"pipeline.max_pages":       "MAX_PAGES",
	"pipeline.index_type":      "INDEX_TYPE",
	"pipeline.mode":            "PIPELINE_MODE",
	"pipeline.pdf_license_key": "UNIDOC_LICENSE_API_KEY",
	"storage.data_dir":         "DATA_DIR",
	"storage.vector.dsn":       "DATABASE_URL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8000)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.max_upload_size", 64<<20)
	v.SetDefault("api.middleware.cors", true)
	v.SetDefault("api.middleware.jwt_timeout", "1h")

	v.SetDefault("pipeline.mode", "unified")
	v.SetDefault("pipeline.ocr_enabled", false)
	v.SetDefault("pipeline.ocr_languages", "eng")
	v.SetDefault("pipeline.ocr_command", "tesseract")
	v.SetDefault("pipeline.max_pages", 0)
	v.SetDefault("pipeline.index_type", "IP")
	v.SetDefault("pipeline.image_storage", "inline")
	v.SetDefault("pipeline.split_k", 3)
	v.SetDefault("pipeline.unified_k", 5)
	v.SetDefault("pipeline.chunking.max_characters", 1000)
	v.SetDefault("pipeline.chunking.new_after_n_chars", 800)
	v.SetDefault("pipeline.chunking.combine_text_under_n_chars", 200)
	v.SetDefault("pipeline.chunking.overlap", 0)
	v.SetDefault("pipeline.page_splitter.chunk_size", 500)
	v.SetDefault("pipeline.page_splitter.chunk_overlap", 100)

	v.SetDefault("model.defaults.text", "local.bge_small")
	v.SetDefault("model.defaults.joint", "clip.vit_b32")
	v.SetDefault("model.embedding.providers.local.type", "openai")
	v.SetDefault("model.embedding.providers.local.base_url", "http://localhost:8080/v1")
	v.SetDefault("model.embedding.providers.local.timeout", "60s")
	v.SetDefault("model.embedding.providers.local.batch_size", 64)
	v.SetDefault("model.embedding.providers.local.models.bge_small.name", "BAAI/bge-small-en-v1.5")
	v.SetDefault("model.embedding.providers.local.models.bge_small.dimension", 384)
	v.SetDefault("model.embedding.providers.clip.type", "clip")
	v.SetDefault("model.embedding.providers.clip.base_url", "http://localhost:8081")
	v.SetDefault("model.embedding.providers.clip.timeout", "60s")
	v.SetDefault("model.embedding.providers.clip.batch_size", 32)
	v.SetDefault("model.embedding.providers.clip.models.vit_b32.name", "openai/clip-vit-base-patch32")
	v.SetDefault("model.embedding.providers.clip.models.vit_b32.dimension", 512)
	v.SetDefault("model.embedding.providers.hashing.type", "hashing")
	v.SetDefault("model.embedding.providers.hashing.models.h384.name", "hashing-384")
	v.SetDefault("model.embedding.providers.hashing.models.h384.dimension", 384)
	v.SetDefault("model.embedding.providers.hashing.models.h512.name", "hashing-512")
	v.SetDefault("model.embedding.providers.hashing.models.h512.dimension", 512)

	v.SetDefault("storage.data_dir", "data/index")
	v.SetDefault("storage.uploads_dir", "static/uploads")
	v.SetDefault("storage.metadata.type", "file")
	v.SetDefault("storage.vector.type", "flat")
	v.SetDefault("storage.vector.pool_size", 4)
	v.SetDefault("storage.object.type", "file")
	v.SetDefault("storage.object.root", "static/images")
	v.SetDefault("storage.object.base_url", "/static/images")
	v.SetDefault("storage.cache.type", "memory")
	v.SetDefault("storage.cache.ttl", "1h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("monitoring.prometheus.enable", true)
	v.SetDefault("monitoring.tracing.service_name", "mmrag-api")

	v.SetDefault("secrets.type", "env")
}

// Default 返回仅包含默认值与环境变量的配置
func Default() (*Config, error) {
	return load("")
}

// LoadConfig 加载配置文件，文件不存在时报错
func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, errors.New("配置文件路径为空")
	}
	return load(configPath)
}

func load(configPath string) (*Config, error) {
	// .env 只补充未设置的变量
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s failed: %w", env, err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("无法读取配置文件: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}

	applyModelEnv(&config)
	replaceEnvVars(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyModelEnv 支持 EMBEDDING_MODEL 覆盖默认文本模型名称
func applyModelEnv(config *Config) {
	name := os.Getenv("EMBEDDING_MODEL")
	if name == "" {
		return
	}
	provider, modelKey, err := ParseDefaultKey(config.Model.Defaults.Text)
	if err != nil {
		return
	}
	if config.Model.Embedding.Providers == nil {
		config.Model.Embedding.Providers = make(map[string]ProviderConfig)
	}
	pc := config.Model.Embedding.Providers[provider]
	if pc.Models == nil {
		pc.Models = make(map[string]ModelInfo)
	}
	mi := pc.Models[modelKey]
	if mi.Name != name {
		mi.Name = name
		mi.Dimension = 0
	}
	pc.Models[modelKey] = mi
	config.Model.Embedding.Providers[provider] = pc
}

// replaceEnvVars 替换配置中形如 ${VAR} 的 API Key
func replaceEnvVars(config *Config) {
	for provider, providerConfig := range config.Model.Embedding.Providers {
		if strings.HasPrefix(providerConfig.APIKey, "$") {
			envVar := strings.TrimPrefix(strings.TrimSuffix(providerConfig.APIKey, "}"), "${")
			if val := os.Getenv(envVar); val != "" {
				providerConfig.APIKey = val
				config.Model.Embedding.Providers[provider] = providerConfig
			}
		}
	}
	if strings.HasPrefix(config.API.Middleware.JWTKey, "${") {
		envVar := strings.TrimPrefix(strings.TrimSuffix(config.API.Middleware.JWTKey, "}"), "${")
		config.API.Middleware.JWTKey = os.Getenv(envVar)
	}
}

// Validate 校验取值范围
func (c *Config) Validate() error {
	c.Pipeline.Mode = strings.ToLower(c.Pipeline.Mode)
	switch c.Pipeline.Mode {
	case "unified", "split":
	default:
		return fmt.Errorf("pipeline.mode 仅支持 unified|split，当前: %q", c.Pipeline.Mode)
	}
	c.Pipeline.IndexType = strings.ToUpper(c.Pipeline.IndexType)
	switch c.Pipeline.IndexType {
	case "IP", "L2":
	default:
		return fmt.Errorf("pipeline.index_type 仅支持 IP|L2，当前: %q", c.Pipeline.IndexType)
	}
	if c.Pipeline.MaxPages < 0 {
		return fmt.Errorf("pipeline.max_pages 不能为负数: %d", c.Pipeline.MaxPages)
	}
	if c.Pipeline.PageSplitter.ChunkOverlap >= c.Pipeline.PageSplitter.ChunkSize {
		return fmt.Errorf("pipeline.page_splitter.chunk_overlap 必须小于 chunk_size")
	}
	if c.Storage.DataDir == "" {
		return errors.New("storage.data_dir 不能为空")
	}
	return nil
}

// ParseDefaultKey 解析 provider.model_key 格式
func ParseDefaultKey(key string) (provider, modelKey string, err error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("default key 格式应为 provider.model_key，如 local.bge_small，当前: %q", key)
	}
	return parts[0], parts[1], nil
}

// LoadAPIConfig 加载 API 配置；MMRAG_CONFIG 指定路径，默认文件不存在时只使用默认值
func LoadAPIConfig() (*Config, error) {
	path := os.Getenv("MMRAG_CONFIG")
	if path != "" {
		return LoadConfig(path)
	}
	if _, err := os.Stat(DefaultConfigPath); err != nil {
		return Default()
	}
	return LoadConfig(DefaultConfigPath)
}
