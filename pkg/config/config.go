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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Research   ResearchConfig   `mapstructure:"research"`
	Model      ModelConfig      `mapstructure:"model"`
	Search     SearchConfig     `mapstructure:"search"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	RateLimits RateLimitsConfig `mapstructure:"rate_limits"`
}

// APIConfig API 服务配置
type APIConfig struct {
	Port    int    `mapstructure:"port"`
	Host    string `mapstructure:"host"`
	Timeout string `mapstructure:"timeout"`
}

// ResearchConfig 研究流程参数
type ResearchConfig struct {
	QueryGeneratorModel    string        `mapstructure:"query_generator_model"`
	ReflectionModel        string        `mapstructure:"reflection_model"`
	AnswerModel            string        `mapstructure:"answer_model"`
	NumberOfInitialQueries int           `mapstructure:"number_of_initial_queries"`
	MaxResearchLoops       int           `mapstructure:"max_research_loops"`
	MaxFanOut              int           `mapstructure:"max_fan_out"`
	MaxConcurrency         int           `mapstructure:"max_concurrency"` // <=0 不限制
	TaskTimeout            time.Duration `mapstructure:"task_timeout"`
	MaxSteps               int           `mapstructure:"max_steps"`
	Retry                  RetryConfig   `mapstructure:"retry"`
	Memory                 MemoryPolicy  `mapstructure:"memory"`
}

// RetryConfig 协作方调用重试
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Backoff     time.Duration `mapstructure:"backoff"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// MemoryPolicy 长期记忆去重与召回
type MemoryPolicy struct {
	Threshold    int     `mapstructure:"threshold"`     // 相似记录达到该数量则跳过写入
	Similarity   float64 `mapstructure:"similarity"`    // 视为相似的最低得分
	ContextLimit int     `mapstructure:"context_limit"` // 召回到 prompt 的记录上限
}

// ModelConfig 生成器配置
type ModelConfig struct {
	Provider     string        `mapstructure:"provider"` // gemini | openai | eino
	BaseURL      string        `mapstructure:"base_url"`
	APIKey       string        `mapstructure:"api_key"`
	APIKeySecret string        `mapstructure:"api_key_secret"` // secrets store 中的 key
	Timeout      time.Duration `mapstructure:"timeout"`
}

// SearchConfig 搜索协作方配置
type SearchConfig struct {
	Provider     string        `mapstructure:"provider"` // gemini
	Model        string        `mapstructure:"model"`
	APIKey       string        `mapstructure:"api_key"` // 为空时与 gemini 生成器共用
	APIKeySecret string        `mapstructure:"api_key_secret"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"` // 0 关闭搜索缓存
}

// StorageConfig 存储配置
type StorageConfig struct {
	Memory MemoryStoreConfig `mapstructure:"memory"`
	Cache  CacheConfig       `mapstructure:"cache"`
}

// MemoryStoreConfig 长期记忆存储
type MemoryStoreConfig struct {
	Type string `mapstructure:"type"` // memory | redis | postgres
	URL  string `mapstructure:"url"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Type string        `mapstructure:"type"` // memory | redis
	URL  string        `mapstructure:"url"`
	TTL  time.Duration `mapstructure:"ttl"`
}

// SecretsConfig 凭证 provider
type SecretsConfig struct {
	Provider string            `mapstructure:"provider"` // env | memory | vault
	Config   map[string]string `mapstructure:"config"`
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

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
}

// TracingConfig OTLP 导出配置
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// RateLimitsConfig 限流配置，按 LLM provider
type RateLimitsConfig struct {
	LLM map[string]LLMRateLimitConfig `mapstructure:"llm"`
}

// LLMRateLimitConfig 单个 LLM Provider 的限流配置
type LLMRateLimitConfig struct {
	TokensPerMinute   int     `mapstructure:"tokens_per_minute"`
	RequestsPerMinute float64 `mapstructure:"requests_per_minute"`
	MaxConcurrent     int     `mapstructure:"max_concurrent"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.timeout", "300s")

	v.SetDefault("research.query_generator_model", "gemini-2.0-flash")
	v.SetDefault("research.reflection_model", "gemini-2.5-flash")
	v.SetDefault("research.answer_model", "gemini-2.5-pro")
	v.SetDefault("research.number_of_initial_queries", 3)
	v.SetDefault("research.max_research_loops", 2)
	v.SetDefault("research.max_fan_out", 5)
	v.SetDefault("research.task_timeout", "60s")
	v.SetDefault("research.max_steps", 64)
	v.SetDefault("research.retry.max_attempts", 2)
	v.SetDefault("research.retry.backoff", "500ms")
	v.SetDefault("research.retry.multiplier", 2.0)
	v.SetDefault("research.memory.threshold", 4)
	v.SetDefault("research.memory.similarity", 0.5)
	v.SetDefault("research.memory.context_limit", 20)

	v.SetDefault("model.provider", "gemini")
	v.SetDefault("model.timeout", "60s")
	v.SetDefault("search.provider", "gemini")
	v.SetDefault("search.model", "gemini-2.0-flash")
	v.SetDefault("search.cache_ttl", "10m")

	v.SetDefault("storage.memory.type", "memory")
	v.SetDefault("storage.cache.type", "memory")
	v.SetDefault("storage.cache.ttl", "10m")

	v.SetDefault("secrets.provider", "env")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("monitoring.prometheus.enable", true)
	v.SetDefault("monitoring.tracing.service_name", "research-agent")
}

// LoadConfig 加载配置文件；path 为空时只使用默认值与环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

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

	replaceEnvVars(&config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// replaceEnvVars 展开形如 ${VAR} 的凭证与连接串
func replaceEnvVars(config *Config) {
	config.Model.APIKey = expand(config.Model.APIKey)
	config.Search.APIKey = expand(config.Search.APIKey)
	config.Storage.Memory.URL = expand(config.Storage.Memory.URL)
	config.Storage.Cache.URL = expand(config.Storage.Cache.URL)
	for k, v := range config.Secrets.Config {
		config.Secrets.Config[k] = expand(v)
	}
}

func expand(s string) string {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return s
	}
	return os.Getenv(strings.TrimSuffix(strings.TrimPrefix(s, "${"), "}"))
}

// Validate 校验研究参数的下界
func (c *Config) Validate() error {
	r := c.Research
	if r.NumberOfInitialQueries < 1 {
		return fmt.Errorf("research.number_of_initial_queries must be >= 1, got %d", r.NumberOfInitialQueries)
	}
	if r.MaxResearchLoops < 1 {
		return fmt.Errorf("research.max_research_loops must be >= 1, got %d", r.MaxResearchLoops)
	}
	if r.MaxFanOut < 1 {
		return fmt.Errorf("research.max_fan_out must be >= 1, got %d", r.MaxFanOut)
	}
	if r.Memory.Threshold < 1 {
		return fmt.Errorf("research.memory.threshold must be >= 1, got %d", r.Memory.Threshold)
	}
	switch c.Storage.Memory.Type {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("unsupported storage.memory.type %q", c.Storage.Memory.Type)
	}
	return nil
}

// APIKeyEnv 返回 provider 对应的默认环境变量名
func (m ModelConfig) APIKeyEnv() string {
	switch strings.ToLower(m.Provider) {
	case "openai", "eino":
		return "OPENAI_API_KEY"
	default:
		return "GEMINI_API_KEY"
	}
}

// Addr 返回监听地址
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
