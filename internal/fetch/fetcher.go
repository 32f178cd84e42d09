package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/policy"
	"github.com/any-hub/swcache/internal/version"
)

// Fetcher 以浏览器 fetch 的语义访问上游。
type Fetcher struct {
	client      *http.Client
	passthrough *http.Client
	origin      string
}

// New 创建 Fetcher。origin 为应用来源（scheme://host），用于判断 no-cors 跨域响应是否为 opaque。
func New(client, passthrough *http.Client, origin string) *Fetcher {
	if client == nil {
		client = &http.Client{Transport: defaultTransport.Clone()}
	}
	if passthrough == nil {
		passthrough = &http.Client{
			Transport: defaultTransport.Clone(),
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Fetcher{client: client, passthrough: passthrough, origin: strings.TrimSuffix(origin, "/")}
}

// Fetch 发起请求并跟随重定向。只有网络层失败返回 error，任何 HTTP 状态都作为响应返回。
func (f *Fetcher) Fetch(ctx context.Context, req policy.Request) (*cache.Response, error) {
	httpReq, err := buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	// 交给 Transport 协商压缩并透明解压，缓存中只保存解码后的正文
	httpReq.Header.Del("Accept-Encoding")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", req.URL(), err)
	}

	finalURL := req.URL()
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	return cache.NewResponse(cache.ResponseInit{
		Status:     resp.StatusCode,
		Header:     header,
		URL:        finalURL,
		Redirected: finalURL != req.URL(),
		Opaque:     f.isOpaque(req),
	}, resp.Body), nil
}

// Forward 将请求原样转发且不跟随重定向，调用方负责关闭响应体。
func (f *Fetcher) Forward(ctx context.Context, req policy.Request) (*http.Response, error) {
	httpReq, err := buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	resp, err := f.passthrough.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("forward %s: %w", req.URL(), err)
	}
	return resp, nil
}

// Get 抓取单个 URL，供缓存预热使用。
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*cache.Response, error) {
	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())
	req, err := policy.NewRequest(http.MethodGet, rawURL, policy.ModeSameOrigin, header, nil)
	if err != nil {
		return nil, err
	}
	return f.Fetch(ctx, req)
}

func (f *Fetcher) isOpaque(req policy.Request) bool {
	if req.Mode() != policy.ModeNoCORS || f.origin == "" {
		return false
	}
	return !strings.EqualFold(req.Origin(), f.origin)
}

func buildRequest(ctx context.Context, req policy.Request) (*http.Request, error) {
	var body io.Reader
	if payload := req.Body(); len(payload) > 0 {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method(), req.URL(), body)
	if err != nil {
		return nil, err
	}
	CopyHeaders(httpReq.Header, req.Header())
	httpReq.Header.Del("Host")
	return httpReq, nil
}
