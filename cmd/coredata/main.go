// =============================================================================
// CoreData 主入口
// =============================================================================
// 数据访问层命令行工具，包含环境初始化、健康检查、Schema 迁移与示例数据
//
// 使用方法:
//
//	coredata setup                        # 初始化数据库与迁移环境
//	coredata setup --config config.yaml   # 指定配置文件
//	coredata health                       # 健康检查
//	coredata migrate upgrade              # 升级到最新修订
//	coredata migrate status               # 查看迁移状态
//	coredata data populate                # 填充示例数据
//	coredata data clear --confirm         # 清空业务数据
//	coredata version                      # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/coresense/coredata/config"
	"github.com/coresense/coredata/internal/cache"
	"github.com/coresense/coredata/internal/database"
	"github.com/coresense/coredata/internal/metrics"
	"github.com/coresense/coredata/internal/migration"
	"github.com/coresense/coredata/internal/seed"
	"github.com/coresense/coredata/internal/telemetry"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "setup":
		runSetup(os.Args[2:])
	case "health":
		runHealth(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "data":
		runData(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}
}

// loadConfig 解析 --config 参数并加载配置
func loadConfig(fs *flag.FlagSet, args []string) *config.Config {
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

// newService 按配置组装数据访问服务，指标收集器由调用方创建（每进程一个）
func newService(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector, withCache bool) *database.Service {
	monitor := database.NewHealthMonitor(cfg.Database.SlowQueryThreshold, logger, collector)
	manager := database.NewManager(cfg.Database, monitor, logger)

	var cacheMgr *cache.Manager
	if withCache {
		cacheMgr = cache.NewManager(cfg.Cache, logger, collector)
	}

	return database.NewService(manager, monitor, cacheMgr, logger)
}

// =============================================================================
// 🛠️ setup 命令
// =============================================================================

func runSetup(args []string) {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	noMigrate := fs.Bool("no-migrate", false, "Skip schema upgrade")
	sampleData := fs.Bool("sample-data", false, "Populate sample data after setup")
	users := fs.Int("users", 20, "Number of sample users (with --sample-data)")
	sessions := fs.Int("sessions-per-user", 5, "Sessions per sample user (with --sample-data)")
	cfg := loadConfig(fs, args)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting CoreData setup",
		zap.String("version", Version),
		zap.String("driver", cfg.Database.Driver),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProviders.Shutdown(ctx)
	}()

	ctx := context.Background()
	collector := metrics.NewCollector("coredata", logger)

	// 准备迁移环境
	migrator, _, err := migration.NewMigratorFromConfig(cfg, logger, collector)
	if err != nil {
		logger.Error("Failed to create migrator", zap.Error(err))
		os.Exit(1)
	}
	defer migrator.Close()

	if err := migrator.Init(); err != nil {
		logger.Error("Failed to initialize migration environment", zap.Error(err))
		os.Exit(1)
	}

	if !*noMigrate {
		if err := migrator.Up(ctx, migration.TargetHead); err != nil {
			logger.Error("Schema upgrade failed", zap.Error(err))
			os.Exit(1)
		}
	}

	// 建立数据库连接并按配置自动建表
	svc := newService(cfg, logger, collector, false)
	if err := svc.Initialize(ctx); err != nil {
		logger.Error("Failed to initialize database", zap.Error(err))
		os.Exit(1)
	}
	defer svc.Close()

	report := svc.HealthCheck(ctx)
	if report.Database.Status != database.HealthHealthy {
		logger.Error("Database unhealthy after setup", zap.Any("report", report))
		os.Exit(1)
	}

	if *sampleData {
		g := seed.NewGenerator(1, logger)
		if err := g.Populate(ctx, svc, *users, *sessions); err != nil {
			logger.Error("Failed to populate sample data", zap.Error(err))
			os.Exit(1)
		}
	}

	fmt.Println("Setup complete.")
}

// =============================================================================
// 🏥 health 命令
// =============================================================================

func runHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	cfg := loadConfig(fs, args)

	logger := zap.NewNop()
	svc := newService(cfg, logger, metrics.NewCollector("coredata", logger), true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := svc.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer svc.Close()

	report := svc.HealthCheck(ctx)

	out, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(out))

	if report.Database.Status != database.HealthHealthy {
		os.Exit(1)
	}
}

// =============================================================================
// 🗃️ data 命令
// =============================================================================

func runData(args []string) {
	if len(args) < 1 {
		printDataUsage()
		os.Exit(2)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "populate":
		runDataPopulate(subargs)
	case "clear":
		runDataClear(subargs)
	case "help", "-h", "--help":
		printDataUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown data subcommand: %s\n", subcommand)
		printDataUsage()
		os.Exit(2)
	}
}

func runDataPopulate(args []string) {
	fs := flag.NewFlagSet("data populate", flag.ExitOnError)
	users := fs.Int("users", 20, "Number of sample users")
	sessions := fs.Int("sessions", 5, "Sessions per user")
	randSeed := fs.Int64("seed", 1, "Random seed")
	cfg := loadConfig(fs, args)

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	svc := newService(cfg, logger, metrics.NewCollector("coredata", logger), false)
	ctx := context.Background()

	if err := svc.Initialize(ctx); err != nil {
		logger.Error("Failed to initialize database", zap.Error(err))
		os.Exit(1)
	}
	defer svc.Close()

	g := seed.NewGenerator(*randSeed, logger)
	if err := g.Populate(ctx, svc, *users, *sessions); err != nil {
		logger.Error("Failed to populate sample data", zap.Error(err))
		os.Exit(1)
	}

	fmt.Printf("Populated %d users with %d sessions each.\n", *users, *sessions)
}

func runDataClear(args []string) {
	fs := flag.NewFlagSet("data clear", flag.ExitOnError)
	confirm := fs.Bool("confirm", false, "Confirm destructive operation")
	cfg := loadConfig(fs, args)

	if !*confirm {
		fmt.Fprintln(os.Stderr, "Refusing to clear data without --confirm")
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	svc := newService(cfg, logger, metrics.NewCollector("coredata", logger), false)
	ctx := context.Background()

	if err := svc.Initialize(ctx); err != nil {
		logger.Error("Failed to initialize database", zap.Error(err))
		os.Exit(1)
	}
	defer svc.Close()

	if err := seed.Clear(ctx, svc); err != nil {
		logger.Error("Failed to clear data", zap.Error(err))
		os.Exit(1)
	}

	fmt.Println("All business data cleared.")
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("CoreData %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`CoreData - Data Access Layer for CoreSense

Usage:
  coredata <command> [options]

Commands:
  setup     Initialize database and migration environment
  health    Check database and cache health
  migrate   Schema migration commands
  data      Sample data commands
  version   Show version information
  help      Show this help message

Options (all commands):
  --config <path>   Path to configuration file (YAML)

Options for 'setup':
  --no-migrate          Skip the schema upgrade
  --sample-data         Populate sample data after setup
  --users <n>           Number of sample users (with --sample-data)
  --sessions-per-user <n>  Sessions per sample user (with --sample-data)

Data subcommands:
  data populate [--users n] [--sessions n] [--seed n]
  data clear --confirm

Examples:
  coredata setup
  coredata setup --config /etc/coredata/config.yaml
  coredata migrate upgrade
  coredata data populate --users 50
  coredata health`)
}

func printDataUsage() {
	fmt.Println(`Sample Data Commands

Usage:
  coredata data <subcommand> [options]

Subcommands:
  populate  Insert deterministic sample users and sessions
  clear     Delete all business data (requires --confirm)

Options:
  --config <path>   Path to configuration file (YAML)
  --users <n>       Number of sample users (populate)
  --sessions <n>    Sessions per user (populate)
  --seed <n>        Random seed (populate)
  --confirm         Required for clear`)
}

// =============================================================================
// 🔧 日志初始化
// =============================================================================

func initLogger(cfg config.LogConfig) *zap.Logger {
	// 解析日志级别
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         "json",
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}

	return logger
}
