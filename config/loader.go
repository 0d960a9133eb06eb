// =============================================================================
// 📦 CoreData 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("COREDATA").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CoreData 的完整配置结构
type Config struct {
	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Cache 缓存配置（远程 Redis 层 + 本地兜底层）
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// DatabaseConfig 数据库配置
//
// 连接池参数遵循原 SQLAlchemy 语义: PoolSize 为常驻连接数,
// MaxOverflow 为峰值时允许的额外连接数, 两者之和是硬上限。
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 完整 DSN（设置后优先于下列分项）
	URL string `yaml:"url" env:"URL"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 时为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最大溢出连接数
	MaxOverflow int `yaml:"max_overflow" env:"MAX_OVERFLOW"`
	// 获取连接超时
	PoolTimeout time.Duration `yaml:"pool_timeout" env:"POOL_TIMEOUT"`
	// 连接回收周期
	PoolRecycle time.Duration `yaml:"pool_recycle" env:"POOL_RECYCLE"`
	// 取用前是否探活
	PrePing bool `yaml:"pre_ping" env:"PRE_PING"`

	// 慢查询阈值
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold" env:"SLOW_QUERY_THRESHOLD"`
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// 是否输出 SQL
	EchoSQL bool `yaml:"echo_sql" env:"ECHO_SQL"`

	// 启动时自动迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
	// 迁移前备份
	BackupBeforeMigrate bool `yaml:"backup_before_migrate" env:"BACKUP_BEFORE_MIGRATE"`
	// 迁移脚本目录
	MigrationsDir string `yaml:"migrations_dir" env:"MIGRATIONS_DIR"`
	// 备份目录
	BackupsDir string `yaml:"backups_dir" env:"BACKUPS_DIR"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// 单次缓存操作超时（独立于数据库池超时）
	OpTimeout time.Duration `yaml:"op_timeout" env:"OP_TIMEOUT"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接数
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 本地兜底缓存容量
	LocalSize int `yaml:"local_size" env:"LOCAL_SIZE"`
	// 本地兜底缓存过期时间（零值时取 DefaultTTL）
	LocalTTL time.Duration `yaml:"local_ttl" env:"LOCAL_TTL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "COREDATA",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver: %q", c.Database.Driver))
	}

	if c.Database.PoolSize <= 0 {
		errs = append(errs, "pool_size must be positive")
	}
	if c.Database.MaxOverflow < 0 {
		errs = append(errs, "max_overflow must not be negative")
	}
	if c.Database.PoolTimeout <= 0 {
		errs = append(errs, "pool_timeout must be positive")
	}
	if c.Cache.LocalSize <= 0 {
		errs = append(errs, "cache local_size must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}

	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// MaskedDSN 返回隐藏了凭据的 DSN，用于日志输出
func (d *DatabaseConfig) MaskedDSN() string {
	dsn := d.DSN()

	if d.URL != "" {
		if i := strings.Index(dsn, "://"); i >= 0 {
			rest := dsn[i+3:]
			if j := strings.Index(rest, "@"); j >= 0 {
				return dsn[:i+3] + "***:***@" + rest[j+1:]
			}
		}
		return dsn
	}

	if d.Password != "" {
		return strings.ReplaceAll(dsn, d.Password, "***")
	}
	return dsn
}

// IsEmbedded 返回后端是否为嵌入式文件数据库
func (d *DatabaseConfig) IsEmbedded() bool {
	return d.Driver == "sqlite"
}
