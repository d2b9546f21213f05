package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Files     FilesConfig     `mapstructure:"files"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Tokenizer TokenizerConfig `mapstructure:"tokenizer"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// EngineConfig 推理引擎 (vLLM) 配置
type EngineConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // 单次调用上限，也是非流式请求的排队等待上限
}

// AuthConfig 鉴权配置
type AuthConfig struct {
	APIToken string `mapstructure:"api_token"` // 为空时关闭鉴权
}

// FilesConfig 批处理文件存储配置
type FilesConfig struct {
	Dir string `mapstructure:"dir"`
}

// BatchConfig 批处理请求物化配置
type BatchConfig struct {
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
	Priority  int    `mapstructure:"priority"`
}

// SchedulerConfig 调度器配置
type SchedulerConfig struct {
	QueueCapacity int         `mapstructure:"queue_capacity"`
	Interactive   ClassConfig `mapstructure:"interactive"`
	Batch         ClassConfig `mapstructure:"batch"`
}

// ClassConfig 单个调度类的参数
type ClassConfig struct {
	Workers  int           `mapstructure:"workers"`
	MaxBatch int           `mapstructure:"max_batch"`
	WaitTime time.Duration `mapstructure:"wait_time"`
}

// TokenizerConfig 分词器配置
type TokenizerConfig struct {
	Encoding string `mapstructure:"encoding"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load 加载配置
// 优先级 (低 → 高): 默认值 → 项目本地 config.yaml → 环境变量
func Load() (*Config, error) {
	// .env 仅填充缺失的环境变量，已设置的环境变量优先
	_ = godotenv.Load()

	v := viper.New()

	// 设置默认值
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// 项目本地配置: 检查 ./config/config.yaml 和 ./config.yaml, 用 MergeConfigMap 叠加
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break // 只取第一个找到的本地配置
		}
	}

	// 环境变量覆盖，沿用原部署的裸变量名 (VLLM_URL, API_TOKEN, ...)
	bindEnvs(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "production")

	// Engine
	v.SetDefault("engine.base_url", "http://vllm:8000")
	v.SetDefault("engine.request_timeout", 180*time.Second)

	// Auth
	v.SetDefault("auth.api_token", "")

	// Files
	v.SetDefault("files.dir", "batch_files")

	// Batch materialization
	v.SetDefault("batch.model", "qwen3-4b")
	v.SetDefault("batch.max_tokens", 256)
	v.SetDefault("batch.priority", 10)

	// Scheduler
	v.SetDefault("scheduler.queue_capacity", 4096)
	v.SetDefault("scheduler.interactive.workers", 4)
	v.SetDefault("scheduler.interactive.max_batch", 1)
	v.SetDefault("scheduler.interactive.wait_time", 10*time.Millisecond)
	v.SetDefault("scheduler.batch.workers", 2)
	v.SetDefault("scheduler.batch.max_batch", 128)
	v.SetDefault("scheduler.batch.wait_time", 100*time.Millisecond)

	// Tokenizer
	v.SetDefault("tokenizer.encoding", "cl100k_base")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// bindEnvs 绑定裸环境变量名
func bindEnvs(v *viper.Viper) {
	_ = v.BindEnv("server.host", "SERVER_HOST")
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.mode", "SERVER_MODE")
	_ = v.BindEnv("engine.base_url", "VLLM_URL")
	_ = v.BindEnv("engine.request_timeout", "REQUEST_TIMEOUT")
	_ = v.BindEnv("auth.api_token", "API_TOKEN")
	_ = v.BindEnv("files.dir", "BATCH_FILES_DIR")
	_ = v.BindEnv("batch.model", "BATCH_MODEL")
	_ = v.BindEnv("batch.max_tokens", "BATCH_MAX_TOKENS")
	_ = v.BindEnv("batch.priority", "BATCH_PRIORITY")
	_ = v.BindEnv("tokenizer.encoding", "TOKENIZER_ENCODING")
	_ = v.BindEnv("log.level", "LOG_LEVEL")
	_ = v.BindEnv("log.format", "LOG_FORMAT")
}

// Addr 返回 HTTP 监听地址
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
