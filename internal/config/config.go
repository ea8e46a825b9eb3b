package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Policy     PolicyConfig     `mapstructure:"policy"`
	Planning   PlanningConfig   `mapstructure:"planning"`
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

// RedisConfig Redis 配置（任务队列与可选的检查点存储共用）
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int `mapstructure:"pool_size"`      // 连接池大小
	MinIdleConns int `mapstructure:"min_idle_conns"` // 最小空闲连接数
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
}

// CheckpointConfig 检查点存储配置
type CheckpointConfig struct {
	// Store 可选 database / redis / memory，默认 database。
	// 工作流可能挂起数周，生产环境应使用 database。
	Store string `mapstructure:"store"`
}

// PolicyConfig 审批策略配置
type PolicyConfig struct {
	// EscalationRules 升级规则列表，满足任一条件时提升审批级别。
	// 规则只能提升级别，不能降到固定阈值之下。
	EscalationRules []EscalationRule `mapstructure:"escalation_rules"`
}

// EscalationRule 审批升级规则
type EscalationRule struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"` // 如 "vendor_reliability < 0.7"
	Level      string `mapstructure:"level"`      // manager / executive
}

// PlanningConfig 补货计算参数
type PlanningConfig struct {
	TargetWeeksOfSupply int     `mapstructure:"target_weeks_of_supply"` // 目标供应周数，默认 8
	ServiceFactor       float64 `mapstructure:"service_factor"`         // 安全库存服务系数，默认 1.65
	FallbackLeadTime    int     `mapstructure:"fallback_lead_time"`     // 无供应商数据时的提前期（天），默认 14
	RequiredHistoryDays int     `mapstructure:"required_history_days"`  // 预测所需最少历史天数，默认 728
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

	// 读取环境变量（优先级高于配置文件）
	v.SetEnvPrefix("APP") // 环境变量前缀：APP_
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // 支持嵌套配置：APP_DATABASE_HOST

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults()

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// applyDefaults 填充未配置的默认值
func (c *Config) applyDefaults() {
	if c.Checkpoint.Store == "" {
		c.Checkpoint.Store = "database"
	}
	if c.Planning.TargetWeeksOfSupply <= 0 {
		c.Planning.TargetWeeksOfSupply = 8
	}
	if c.Planning.ServiceFactor <= 0 {
		c.Planning.ServiceFactor = 1.65
	}
	if c.Planning.FallbackLeadTime <= 0 {
		c.Planning.FallbackLeadTime = 14
	}
	if c.Planning.RequiredHistoryDays <= 0 {
		c.Planning.RequiredHistoryDays = 728
	}
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
