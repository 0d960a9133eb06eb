// =============================================================================
// 📦 CoreData 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Database:  DefaultDatabaseConfig(),
		Cache:     DefaultCacheConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "sqlite",
		Name:                "coresense.db",
		Host:                "localhost",
		Port:                5432,
		SSLMode:             "disable",
		PoolSize:            10,
		MaxOverflow:         20,
		PoolTimeout:         30 * time.Second,
		PoolRecycle:         time.Hour,
		PrePing:             true,
		SlowQueryThreshold:  time.Second,
		HealthCheckInterval: 5 * time.Minute,
		EchoSQL:             false,
		AutoMigrate:         false,
		BackupBeforeMigrate: true,
		MigrationsDir:       "migrations",
		BackupsDir:          "backups",
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		DefaultTTL:   5 * time.Minute,
		OpTimeout:    250 * time.Millisecond,
		PoolSize:     10,
		MinIdleConns: 2,
		LocalSize:    1000,
		LocalTTL:     0, // 0 表示取 DefaultTTL
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "coredata",
		SampleRate:   1.0,
	}
}
