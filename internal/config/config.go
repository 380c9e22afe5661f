package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AgentStudio/internal/upload"
	"AgentStudio/pkg/logger"
)

// 环境变量名。
const (
	EnvConfigPath = "AGENTSTUDIO_CONFIG"
	EnvAPIBaseURL = "AGENTSTUDIO_API_URL"
	EnvAPIToken   = "AGENTSTUDIO_API_TOKEN"
)

// Config 描述了 AgentStudio 客户端启动时需要加载的配置。
type Config struct {
	API       APIConfig       `yaml:"api"`
	Upload    UploadConfig    `yaml:"upload"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Logging   logger.Config   `yaml:"logging"`
}

// APIConfig 描述后端 REST 接口的访问方式。
type APIConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TokenEnv       string `yaml:"token_env"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回普通 JSON 请求的超时时间。
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// UploadConfig 控制附件上传流水线。
type UploadConfig struct {
	// MaxConcurrent 为 0 时不限制并发。
	MaxConcurrent      int      `yaml:"max_concurrent"`
	AcceptedExtensions []string `yaml:"accepted_extensions"`
}

// CatalogConfig 控制下拉数据源的缓存。
type CatalogConfig struct {
	Cache      string      `yaml:"cache"`
	TTLSeconds int         `yaml:"ttl_seconds"`
	Redis      RedisConfig `yaml:"redis"`
}

// TTL 返回缓存有效期。
func (c CatalogConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	Channel  string `yaml:"channel"`
}

// EventsConfig 选择上传生命周期事件的投递目标。
type EventsConfig struct {
	Sinks    []string       `yaml:"sinks"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	MySQL    MySQLConfig    `yaml:"mysql"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
	Durable bool   `yaml:"durable"`
}

// MySQLConfig 描述审计日志表所在的 MySQL。
type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

// MetricsConfig 控制 Prometheus 指标的暴露地址，为空表示不暴露。
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// DashboardConfig 控制智能体列表的分页。
type DashboardConfig struct {
	PageSize int `yaml:"page_size"`
}

// DefaultAcceptedExtensions 是允许上传的附件扩展名。
var DefaultAcceptedExtensions = upload.DefaultExtensions

// Default 返回填充了默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load 解析指定路径的 YAML 配置文件并叠加环境变量。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadOrDefault 在文件不存在时退回默认配置。
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return Load(path)
}

// applyDefaults 在用户未填写部分字段时设置默认值。
func (c *Config) applyDefaults() {
	if env := strings.TrimSpace(os.Getenv(EnvAPIBaseURL)); env != "" {
		c.API.BaseURL = env
	}
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:3000"
	}
	if c.API.TokenEnv == "" {
		c.API.TokenEnv = EnvAPIToken
	}
	if c.API.Token == "" {
		c.API.Token = strings.TrimSpace(os.Getenv(c.API.TokenEnv))
	}
	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = 15
	}

	if c.Upload.MaxConcurrent < 0 {
		c.Upload.MaxConcurrent = 0
	}
	if len(c.Upload.AcceptedExtensions) == 0 {
		c.Upload.AcceptedExtensions = append([]string(nil), DefaultAcceptedExtensions...)
	}

	if c.Catalog.Cache == "" {
		c.Catalog.Cache = "memory"
	}
	if c.Catalog.TTLSeconds <= 0 {
		c.Catalog.TTLSeconds = 300
	}
	if c.Catalog.Redis.Prefix == "" {
		c.Catalog.Redis.Prefix = "agentstudio:catalog:"
	}

	if c.Events.Redis.Channel == "" {
		c.Events.Redis.Channel = "agentstudio:uploads"
	}
	if c.Events.RabbitMQ.Queue == "" {
		c.Events.RabbitMQ.Queue = "agentstudio.uploads"
	}

	if c.Dashboard.PageSize <= 0 {
		c.Dashboard.PageSize = 5
	}
}
