package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`      // 是否自动迁移表结构
}

// RedisConfig Redis 配置（asynq 队列使用）
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// AuthConfig 管理端 API 认证配置
type AuthConfig struct {
	JWTSecret   string `mapstructure:"jwt_secret"`
	Issuer      string `mapstructure:"issuer"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
}

// AuditConfig 内容审核流水线配置。
// 构造组件时传入一次快照，运行期不再读取可变设置。
type AuditConfig struct {
	// LLM 端点
	APIEndpoint string  `mapstructure:"api_endpoint"` // OpenAI 兼容端点
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Timeout     int     `mapstructure:"timeout"` // 秒

	// 审核策略
	SystemPrompt        string  `mapstructure:"system_prompt"`        // 为空使用内置提示词
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"` // 低于阈值不执行违规动作
	PreApproveEnabled   bool    `mapstructure:"pre_approve_enabled"`  // 新内容先隐藏待审
	DownloadImages      bool    `mapstructure:"download_images"`      // 是否内联图片数据
	SuspendDays         int     `mapstructure:"suspend_days"`         // 封禁天数
	SystemUserID        string  `mapstructure:"system_user_id"`       // 执行动作/发消息的系统账号

	// 资料字段兜底值
	DefaultDisplayName string `mapstructure:"default_display_name"`
	DefaultBio         string `mapstructure:"default_bio"`

	// 违规私信通知
	NotifyEnabled   bool   `mapstructure:"notify_enabled"`
	MessageTemplate string `mapstructure:"message_template"` // 为空使用内置模板

	// 上传文件审核
	UploadAuditEnabled bool  `mapstructure:"upload_audit_enabled"`
	MaxImageBytes      int64 `mapstructure:"max_image_bytes"` // 图片大小上限
	MaxTextBytes       int64 `mapstructure:"max_text_bytes"`  // 文本文件读取上限
}

// 内置磁盘名，与论坛的文件布局对应
const (
	DiskAvatars = "avatars"
	DiskCovers  = "covers"
	DiskUploads = "uploads"
)

// StorageConfig 文件存储配置：磁盘名 -> 本地根目录
type StorageConfig struct {
	Disks        map[string]string `mapstructure:"disks"`
	FetchTimeout int               `mapstructure:"fetch_timeout"` // 远程抓取超时（秒）
}

// RequestTimeout LLM 请求超时
func (c *AuditConfig) RequestTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

// IsConfigured LLM 是否已配置（API Key 必填）
func (c *AuditConfig) IsConfigured() bool {
	return c.APIKey != ""
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // APP_AUDIT_API_KEY 等

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// setDefaults 集中声明全部默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")

	v.SetDefault("auth.issuer", "forumaudit")
	v.SetDefault("auth.expiry_hours", 24)

	// 密钥类配置默认为空，注册后才能被 APP_ 环境变量覆盖
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("audit.api_key", "")
	v.SetDefault("audit.system_user_id", "")

	v.SetDefault("audit.api_endpoint", "https://api.openai.com/v1")
	v.SetDefault("audit.model", "gpt-4o")
	v.SetDefault("audit.temperature", 0.3)
	v.SetDefault("audit.max_tokens", 4096)
	v.SetDefault("audit.timeout", 60)
	v.SetDefault("audit.confidence_threshold", 0.7)
	v.SetDefault("audit.pre_approve_enabled", false)
	v.SetDefault("audit.download_images", true)
	v.SetDefault("audit.suspend_days", 7)
	v.SetDefault("audit.notify_enabled", true)
	v.SetDefault("audit.upload_audit_enabled", true)
	v.SetDefault("audit.max_image_bytes", 5*1024*1024)
	v.SetDefault("audit.max_text_bytes", 64*1024)

	v.SetDefault("storage.fetch_timeout", 10)
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
