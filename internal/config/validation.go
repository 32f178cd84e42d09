package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedBackends = map[string]struct{}{
	"fs":     {},
	"sqlite": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedBackends[g.StorageBackend]; !ok {
		return newFieldError("Global.StorageBackend", "仅支持 fs|sqlite")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.ShutdownTimeout.DurationValue() < 0 {
		return newFieldError("Global.ShutdownTimeout", "不能为负数")
	}

	if err := c.App.validate(); err != nil {
		return err
	}

	seen := map[string]struct{}{}
	for i := range c.Rules {
		rule := &c.Rules[i]
		if err := validatePattern(rule.Pattern); err != nil {
			return fmt.Errorf("%s: %w", ruleField(rule.Pattern, "Pattern"), err)
		}
		if _, exists := seen[rule.Pattern]; exists {
			return newFieldError(ruleField(rule.Pattern, "Pattern"), "重复")
		}
		seen[rule.Pattern] = struct{}{}

		switch rule.Mode {
		case RuleModePassthrough, RuleModeCacheFirst:
		default:
			return newFieldError(ruleField(rule.Pattern, "Mode"), "仅支持 passthrough/cache-first")
		}
	}

	return nil
}

func (a AppConfig) validate() error {
	if a.VersionTag == "" {
		return newFieldError("App.VersionTag", "不能为空")
	}
	if strings.ContainsAny(a.VersionTag, `/\ `) {
		return newFieldError("App.VersionTag", "不允许包含路径分隔符或空格")
	}
	if a.CachePrefix != "" && !strings.HasPrefix(a.VersionTag, a.CachePrefix) {
		return newFieldError("App.CachePrefix", "VersionTag 必须以 CachePrefix 开头")
	}
	if err := validateOrigin(a.Origin); err != nil {
		return fmt.Errorf("App.Origin: %w", err)
	}
	if !strings.HasPrefix(a.ShellPath, "/") {
		return newFieldError("App.ShellPath", "必须以 / 开头")
	}
	for i, ref := range a.Manifest {
		if strings.TrimSpace(ref) == "" {
			return newFieldError(fmt.Sprintf("App.Manifest[%d]", i), "不能为空")
		}
		if _, err := url.Parse(ref); err != nil {
			return fmt.Errorf("App.Manifest[%d]: %w", i, err)
		}
	}
	return nil
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return errors.New("Pattern 不能为空")
	}
	if strings.Contains(pattern, " ") {
		return errors.New("Pattern 不允许包含空格")
	}
	if strings.Contains(pattern, "://") {
		return errors.New("Pattern 不应包含协议头")
	}
	host := pattern
	if idx := strings.Index(pattern, "/"); idx >= 0 {
		host = pattern[:idx]
	}
	if host == "" || host == "*" || host == "*." {
		return errors.New("Pattern 缺少域名")
	}
	if strings.Contains(strings.TrimPrefix(host, "*."), "*") {
		return errors.New("通配符只允许出现在最左侧，例如 *.example.com")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少应用来源地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，来源: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("来源缺少 Host: %s", raw)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("来源不应包含路径: %s", raw)
	}
	return nil
}
