// Package fetch 负责真正访问网络：为 cache-first 策略取回可缓存的响应，
// 并为直通请求原样转发。
package fetch

import (
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/any-hub/swcache/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回跟随重定向的 http.Client，用于 cache-first 请求与预热。
func NewUpstreamClient(cfg config.GlobalConfig) *http.Client {
	return &http.Client{
		Timeout:   upstreamTimeout(cfg),
		Transport: defaultTransport.Clone(),
	}
}

// NewPassthroughClient 返回不跟随重定向的 http.Client：3xx 原样交还给浏览器。
func NewPassthroughClient(cfg config.GlobalConfig) *http.Client {
	return &http.Client{
		Timeout:   upstreamTimeout(cfg),
		Transport: defaultTransport.Clone(),
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func upstreamTimeout(cfg config.GlobalConfig) time.Duration {
	if d := cfg.UpstreamTimeout.DurationValue(); d > 0 {
		return d
	}
	return 30 * time.Second
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
