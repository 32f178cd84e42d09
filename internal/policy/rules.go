package policy

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/any-hub/swcache/internal/config"
)

// Class 是请求分类结果。
type Class int

const (
	// ClassAppAsset 未命中任何规则：cache-first。
	ClassAppAsset Class = iota
	// ClassExcluded 命中 passthrough 规则：不拦截。
	ClassExcluded
	// ClassSDKAsset 命中 cache-first 规则的排除域名（SDK 静态资源）。
	ClassSDKAsset
)

func (c Class) String() string {
	switch c {
	case ClassAppAsset:
		return "app_asset"
	case ClassExcluded:
		return "excluded"
	case ClassSDKAsset:
		return "sdk_asset"
	default:
		return "unknown"
	}
}

// Rule 是编译后的排除域名规则。
type Rule struct {
	Pattern string
	Mode    config.RuleMode

	host       string
	wildcard   bool
	pathPrefix string
}

// RuleTable 按声明顺序匹配规则，第一条命中的规则生效。
type RuleTable struct {
	rules []Rule
}

// NewRuleTable 编译配置中的规则表。Pattern 支持：
//
//	accounts.google.com            精确主机
//	*.firebaseio.com               任意子域名（不含顶级本身）
//	www.gstatic.com/firebasejs/    主机 + 路径前缀
func NewRuleTable(cfgs []config.RuleConfig) (*RuleTable, error) {
	table := &RuleTable{rules: make([]Rule, 0, len(cfgs))}
	for _, cfg := range cfgs {
		rule, err := compileRule(cfg)
		if err != nil {
			return nil, err
		}
		table.rules = append(table.rules, rule)
	}
	return table, nil
}

func compileRule(cfg config.RuleConfig) (Rule, error) {
	pattern := strings.ToLower(strings.TrimSpace(cfg.Pattern))
	if pattern == "" {
		return Rule{}, fmt.Errorf("empty rule pattern")
	}
	switch cfg.Mode {
	case config.RuleModePassthrough, config.RuleModeCacheFirst:
	default:
		return Rule{}, fmt.Errorf("rule %s: unsupported mode %q", pattern, cfg.Mode)
	}

	hostPart, pathPrefix := pattern, ""
	if idx := strings.Index(pattern, "/"); idx >= 0 {
		hostPart, pathPrefix = pattern[:idx], pattern[idx:]
	}

	rule := Rule{Pattern: pattern, Mode: cfg.Mode, pathPrefix: pathPrefix}
	if strings.HasPrefix(hostPart, "*.") {
		rule.wildcard = true
		hostPart = strings.TrimPrefix(hostPart, "*.")
	}
	host, _ := normalizeHost(hostPart)
	if host == "" || strings.Contains(host, "*") {
		return Rule{}, fmt.Errorf("rule %s: invalid host", pattern)
	}
	rule.host = host
	return rule, nil
}

// Match 返回第一条匹配 host/path 的规则。
func (t *RuleTable) Match(host, path string) (Rule, bool) {
	if t == nil {
		return Rule{}, false
	}
	normalized, _ := normalizeHost(host)
	if normalized == "" {
		return Rule{}, false
	}
	for _, rule := range t.rules {
		if rule.matches(normalized, path) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Classify 将请求映射到分类，只依据目标主机与路径。
func (t *RuleTable) Classify(req Request) Class {
	rule, ok := t.Match(req.Host(), req.Path())
	if !ok {
		return ClassAppAsset
	}
	if rule.Mode == config.RuleModeCacheFirst {
		return ClassSDKAsset
	}
	return ClassExcluded
}

// Rules 返回规则副本，按声明顺序排列，供诊断接口输出。
func (t *RuleTable) Rules() []Rule {
	if t == nil || len(t.rules) == 0 {
		return nil
	}
	return append([]Rule(nil), t.rules...)
}

func (r Rule) matches(host, path string) bool {
	if r.wildcard {
		if !strings.HasSuffix(host, "."+r.host) {
			return false
		}
	} else if host != r.host {
		return false
	}
	if r.pathPrefix == "" {
		return true
	}
	if path == "" {
		path = "/"
	}
	return strings.HasPrefix(strings.ToLower(path), r.pathPrefix)
}

// normalizeHost 去掉端口与末尾的点并转小写，兼容 host 与 host:port 两种写法。
func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
