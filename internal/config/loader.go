package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(durationDecodeHook(), ruleModeDecodeHook())
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyAppDefaults(&cfg.App)
	for i := range cfg.Rules {
		applyRuleDefaults(&cfg.Rules[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StorageBackend", "fs")
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("ShutdownTimeout", "10s")
	v.SetDefault("ShellPath", "/")
	v.SetDefault("AwaitSkipWaiting", false)
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = "fs"
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.ShutdownTimeout.DurationValue() == 0 {
		g.ShutdownTimeout = Duration(10 * time.Second)
	}
}

func applyAppDefaults(a *AppConfig) {
	a.VersionTag = strings.TrimSpace(a.VersionTag)
	a.CachePrefix = strings.TrimSpace(a.CachePrefix)
	a.Origin = strings.TrimRight(strings.TrimSpace(a.Origin), "/")
	if strings.TrimSpace(a.ShellPath) == "" {
		a.ShellPath = "/"
	}
}

func applyRuleDefaults(r *RuleConfig) {
	r.Pattern = strings.ToLower(strings.TrimSpace(r.Pattern))
	if r.Mode == "" {
		r.Mode = RuleModePassthrough
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// ruleModeDecodeHook 统一大小写与分隔符，允许 "Cache_First"、"cachefirst" 等写法。
func ruleModeDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(RuleMode(""))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}
		raw, ok := data.(string)
		if !ok {
			return nil, fmt.Errorf("不支持的 Mode 类型: %T", data)
		}
		normalized := strings.ToLower(strings.TrimSpace(raw))
		normalized = strings.ReplaceAll(normalized, "_", "-")
		switch normalized {
		case "":
			return RuleMode(""), nil
		case string(RuleModePassthrough), "pass-through":
			return RuleModePassthrough, nil
		case string(RuleModeCacheFirst), "cachefirst":
			return RuleModeCacheFirst, nil
		default:
			return RuleMode(normalized), nil
		}
	}
}
