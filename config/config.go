// Package config 提供了统一的配置加载与管理能力.
// 生成摘要:
// 1) 裁剪为估值内核所需的配置面：模型артifact根目录、曲线变体、折现率、
//    APEX2 ramp 视窗、冲击参数、蒙特卡洛抽样数与 worker 池大小。
// 假设:
// 1) 远程日志为可选配置，默认关闭。
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/wyfcoding/mortgage-kernel/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config 全局顶级配置结构.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"    toml:"server"`
	Log       LogConfig       `mapstructure:"log"       toml:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"   toml:"metrics"`
	Model     ModelConfig     `mapstructure:"model"     toml:"model"`
	Valuation ValuationConfig `mapstructure:"valuation" toml:"valuation"`
	Cache     CacheConfig     `mapstructure:"cache"     toml:"cache"`
	Version   string          `mapstructure:"version"   toml:"version"`
}

// ServerConfig 定义进程运行时的基础环境参数（本内核不开放网络端口，
// 仅保留环境标识，供日志/指标打标签使用）。
type ServerConfig struct {
	Name        string `mapstructure:"name"        toml:"name"        validate:"required"`
	Environment string `mapstructure:"environment" toml:"environment" validate:"oneof=dev test prod"`
}

// LogConfig 定义结构化日志的输出与切割参数.
type LogConfig struct {
	Level      string          `mapstructure:"level"       toml:"level"`
	File       string          `mapstructure:"file"        toml:"file"`
	MaxSize    int             `mapstructure:"max_size"    toml:"max_size"`
	MaxBackups int             `mapstructure:"max_backups" toml:"max_backups"`
	MaxAge     int             `mapstructure:"max_age"     toml:"max_age"`
	Compress   bool            `mapstructure:"compress"    toml:"compress"`
	Remote     RemoteLogConfig `mapstructure:"remote"      toml:"remote"`
}

// RemoteLogConfig 定义远程日志写入配置。
type RemoteLogConfig struct {
	Enabled       bool          `mapstructure:"enabled"        toml:"enabled"`
	Endpoint      string        `mapstructure:"endpoint"       toml:"endpoint"`
	AuthToken     string        `mapstructure:"auth_token"     toml:"auth_token"`
	Timeout       time.Duration `mapstructure:"timeout"        toml:"timeout"`
	BatchSize     int           `mapstructure:"batch_size"     toml:"batch_size"`
	BufferSize    int           `mapstructure:"buffer_size"    toml:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval" toml:"flush_interval"`
	DropOnFull    bool          `mapstructure:"drop_on_full"   toml:"drop_on_full"`
}

// MetricsConfig 控制 Prometheus 指标采集的暴露方式.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Addr    string `mapstructure:"addr"    toml:"addr"`
}

// ModelConfig 定义模型 artifact 加载参数 (C1 Model Registry).
type ModelConfig struct {
	ArtifactRoot   string        `mapstructure:"artifact_root"    toml:"artifact_root"    validate:"required"`
	CurveVariant   string        `mapstructure:"curve_variant"    toml:"curve_variant"`
	WatchForReload bool          `mapstructure:"watch_for_reload" toml:"watch_for_reload"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"  toml:"reload_interval"`
}

// ValuationConfig 定义估值内核的数值缺省值.
type ValuationConfig struct {
	DiscountRate       float64       `mapstructure:"discount_rate"        toml:"discount_rate"        validate:"gte=0,lte=1"`
	SeasoningRampMonths int          `mapstructure:"seasoning_ramp_months" toml:"seasoning_ramp_months" validate:"gt=0"`
	ShockSigma          float64      `mapstructure:"shock_sigma"          toml:"shock_sigma"          validate:"gte=0"`
	ShockRho             float64      `mapstructure:"shock_rho"            toml:"shock_rho"            validate:"gte=-1,lte=1"`
	DefaultDraws         int          `mapstructure:"default_draws"        toml:"default_draws"        validate:"gt=0"`
	WorkerPoolSize       int          `mapstructure:"worker_pool_size"     toml:"worker_pool_size"     validate:"gte=0"`
	ValuationTimeout     time.Duration `mapstructure:"valuation_timeout"   toml:"valuation_timeout"`
}

// CacheConfig 定义危险率分解结果 (C3) 的进程内记忆化缓存参数。
type CacheConfig struct {
	TTL       time.Duration `mapstructure:"ttl"         toml:"ttl"`
	MaxSizeMB int           `mapstructure:"max_size_mb" toml:"max_size_mb" validate:"gte=0"`
}

// Default 返回内核默认配置，未显式配置的字段使用这些值.
func Default() Config {
	return Config{
		Server: ServerConfig{Name: "mortgage-kernel", Environment: "dev"},
		Log:    LogConfig{Level: "info"},
		Model: ModelConfig{
			ArtifactRoot:   "./artifacts",
			CurveVariant:   "",
			WatchForReload: false,
			ReloadInterval: 5 * time.Minute,
		},
		Valuation: ValuationConfig{
			DiscountRate:        0.06,
			SeasoningRampMonths: 30,
			ShockSigma:          0.15,
			ShockRho:            0.30,
			DefaultDraws:        1000,
			WorkerPoolSize:      0, // 0 表示使用机器 CPU 核数。
			ValuationTimeout:    5 * time.Minute,
		},
		Cache: CacheConfig{
			TTL:       10 * time.Minute,
			MaxSizeMB: 64,
		},
	}
}

var vInstance = viper.New()
var onReload []func(*Config)

// RegisterReloadHook 注册配置热更新回调。
func RegisterReloadHook(hook func(*Config)) {
	if hook == nil {
		return
	}
	onReload = append(onReload, hook)
}

// Load 全生产级的配置加载逻辑.
func Load(path string, conf any) error {
	vInstance.SetConfigFile(path)
	vInstance.SetConfigType("toml")

	vInstance.SetEnvPrefix("APP")
	vInstance.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vInstance.AutomaticEnv()

	if err := vInstance.ReadInConfig(); err != nil {
		return fmt.Errorf("read config error: %w", err)
	}

	if err := vInstance.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	vInstance.WatchConfig()
	vInstance.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		if unmarshalErr := vInstance.Unmarshal(conf); unmarshalErr != nil {
			slog.Error("reload config unmarshal failed", "error", unmarshalErr)

			return
		}

		// 核心优化：如果配置中有日志级别，自动更新全局日志级别
		if c, ok := conf.(*Config); ok {
			logging.SetLevel(c.Log.Level)
		} else {
			// 尝试使用反射获取 Log.Level
			val := reflect.ValueOf(conf)
			if val.Kind() == reflect.Ptr {
				val = val.Elem()
			}
			logField := val.FieldByName("Log")
			if logField.IsValid() {
				levelField := logField.FieldByName("Level")
				if levelField.IsValid() && levelField.Kind() == reflect.String {
					logging.SetLevel(levelField.String())
				}
			}
		}

		if validateErr := validate.Struct(conf); validateErr != nil {
			slog.Error("reload config validation failed", "error", validateErr)
		} else {
			slog.Info("config hot-reloaded and validated successfully")
		}

		if cfg, ok := conf.(*Config); ok {
			for _, hook := range onReload {
				hook(cfg)
			}
		}
	})

	return nil
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		slog.Error("failed to marshal config for printing", "error", err)

		return
	}

	var configMap map[string]any
	if unmarshalErr := json.Unmarshal(data, &configMap); unmarshalErr != nil {
		slog.Error("failed to unmarshal config for masking", "error", unmarshalErr)

		return
	}

	mask(configMap)

	maskedJSON, marshalErr := json.MarshalIndent(configMap, "  ", "  ")
	if marshalErr != nil {
		slog.Error("failed to marshal masked config", "error", marshalErr)

		return
	}

	slog.Info("Current effective configuration", "config", string(maskedJSON))
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "key", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)

			continue
		}

		if slice, ok := val.([]any); ok {
			for _, item := range slice {
				if itemMap, ok := item.(map[string]any); ok {
					mask(itemMap)
				}
			}

			continue
		}

		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"

				break
			}
		}
	}
}

// GetViper 返回底层的 Viper 实例.
func GetViper() *viper.Viper {
	return vInstance
}
