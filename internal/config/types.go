package config

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// RuleMode 描述命中规则的请求采用的拦截策略。
type RuleMode string

const (
	// RuleModePassthrough 不拦截，交给底层网络栈原样处理。
	RuleModePassthrough RuleMode = "passthrough"
	// RuleModeCacheFirst 虽属排除域名，但仍按 cache-first 处理（如 SDK 静态资源）。
	RuleModeCacheFirst RuleMode = "cache-first"
)

// GlobalConfig 描述进程级运行参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StorageBackend  string   `mapstructure:"StorageBackend"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// AppConfig 描述被代理的单页应用：当前缓存代际、App Shell 清单以及来源站点。
type AppConfig struct {
	VersionTag       string   `mapstructure:"VersionTag"`
	CachePrefix      string   `mapstructure:"CachePrefix"`
	Origin           string   `mapstructure:"Origin"`
	ShellPath        string   `mapstructure:"ShellPath"`
	Manifest         []string `mapstructure:"Manifest"`
	AwaitSkipWaiting bool     `mapstructure:"AwaitSkipWaiting"`
}

// RuleConfig 是排除域名表中的一项，Pattern 形如 host、*.domain 或 host/path/prefix。
type RuleConfig struct {
	Pattern string   `mapstructure:"Pattern"`
	Mode    RuleMode `mapstructure:"Mode"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	App    AppConfig    `mapstructure:",squash"`
	Rules  []RuleConfig `mapstructure:"Rule"`
}

// ShellURL 返回 App Shell 根文档的绝对地址，即离线导航时的兜底文档。
func (a AppConfig) ShellURL() string {
	return a.ResolveURL(a.ShellPath)
}

// ResolveURL 将清单中的相对地址解析为基于 Origin 的绝对地址，绝对地址原样返回。
func (a AppConfig) ResolveURL(ref string) string {
	base, err := url.Parse(a.Origin)
	if err != nil {
		return ref
	}
	target, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if target.IsAbs() {
		return target.String()
	}
	if target.Path != "" && !strings.HasPrefix(target.Path, "/") {
		target.Path = path.Join("/", target.Path)
	}
	return base.ResolveReference(target).String()
}

// ManifestURLs 返回解析后的 App Shell 清单，保持配置中的顺序并去重。
func (a AppConfig) ManifestURLs() []string {
	seen := make(map[string]struct{}, len(a.Manifest))
	result := make([]string, 0, len(a.Manifest))
	for _, ref := range a.Manifest {
		resolved := a.ResolveURL(strings.TrimSpace(ref))
		if _, ok := seen[resolved]; ok {
			continue
		}
		seen[resolved] = struct{}{}
		result = append(result, resolved)
	}
	return result
}

// RuleSummary 返回 pattern:mode 形式的规则摘要，供日志字段使用。
func RuleSummary(rules []RuleConfig) []string {
	if len(rules) == 0 {
		return nil
	}
	result := make([]string, len(rules))
	for i, rule := range rules {
		result[i] = fmt.Sprintf("%s:%s", rule.Pattern, rule.Mode)
	}
	return result
}
