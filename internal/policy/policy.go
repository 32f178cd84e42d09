package policy

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/event"
	"github.com/any-hub/swcache/internal/logging"
	"github.com/any-hub/swcache/internal/metrics"
)

// SourceHeader 标记响应来源，供客户端与日志排查。
const SourceHeader = "X-Swcache-Source"

// Source 描述响应是如何得到的。
type Source string

const (
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourceFallback    Source = "fallback"
	SourcePassthrough Source = "passthrough"
)

// Fetcher 执行真实的网络请求。返回 error 仅表示网络失败；非 2xx 状态属于正常响应。
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*cache.Response, error)
}

// Options 构造 Policy 所需依赖。
type Options struct {
	Rules    *RuleTable
	Fetcher  Fetcher
	ShellURL string
	Logger   *logrus.Logger
	Metrics  metrics.Recorder
}

// Policy 决定每个外发请求的处理方式：排除域名直通，其余 cache-first。
type Policy struct {
	rules    *RuleTable
	fetcher  Fetcher
	shellKey cache.Key
	logger   *logrus.Logger
	metrics  metrics.Recorder
}

// New 校验依赖并构造 Policy。
func New(opts Options) (*Policy, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("policy requires a fetcher")
	}
	if opts.ShellURL == "" {
		return nil, errors.New("policy requires a shell url")
	}
	if opts.Rules == nil {
		opts.Rules = &RuleTable{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	return &Policy{
		rules:    opts.Rules,
		fetcher:  opts.Fetcher,
		shellKey: cache.NewKey(http.MethodGet, opts.ShellURL),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}, nil
}

// Classify 返回请求分类。
func (p *Policy) Classify(req Request) Class {
	return p.rules.Classify(req)
}

// Rules 暴露编译后的规则表。
func (p *Policy) Rules() []Rule {
	return p.rules.Rules()
}

// Decide 为一次 fetch 事件给出动作。store 为当前版本的缓存库，nil 时全部直通。
func (p *Policy) Decide(req Request, store cache.Store) event.Action {
	class := p.Classify(req)
	if class == ClassExcluded || store == nil {
		return event.Passthrough()
	}
	return event.RespondWith(p.cacheFirst(req, class, store))
}

func (p *Policy) cacheFirst(req Request, class Class, store cache.Store) event.Task {
	return func(ctx context.Context, life *event.Lifetime) (*cache.Response, error) {
		key := req.Key()

		cached, err := store.Match(ctx, key)
		switch {
		case err == nil:
			return p.respond(ctx, req, class, SourceCache, cached)
		case !errors.Is(err, cache.ErrNotFound):
			// 读缓存失败按未命中处理
			p.logger.WithFields(p.fields(req, class, "")).WithError(err).Warn("cache_match_failed")
		}

		resp, err := p.fetcher.Fetch(ctx, req)
		if err != nil {
			return p.fallback(ctx, req, class, store, err)
		}

		if req.Method() == http.MethodGet && resp.Cacheable() {
			copied, err := resp.Clone()
			if err != nil {
				return p.fallback(ctx, req, class, store, fmt.Errorf("read response body: %w", err))
			}
			life.WaitUntil(p.storeJob(req, class, store, key, copied))
		}
		return p.respond(ctx, req, class, SourceNetwork, resp)
	}
}

// storeJob 返回后台缓存写入任务。写入失败只记录日志，不影响已返回的响应。
func (p *Policy) storeJob(req Request, class Class, store cache.Store, key cache.Key, resp *cache.Response) event.Job {
	return func(ctx context.Context) error {
		err := store.Put(ctx, key, resp)
		p.metrics.RecordCacheWrite(ctx, err)
		if err != nil {
			p.logger.WithFields(p.fields(req, class, "")).
				WithField("store", store.Name()).
				WithError(err).
				Warn("cache_write_failed")
		}
		return nil
	}
}

// fallback 处理网络失败：导航请求返回缓存的应用外壳，其余返回空 503。
func (p *Policy) fallback(ctx context.Context, req Request, class Class, store cache.Store, cause error) (*cache.Response, error) {
	entry := p.logger.WithFields(p.fields(req, class, string(SourceFallback))).WithError(cause)
	if req.Navigate() {
		shell, err := store.Match(ctx, p.shellKey)
		if err == nil {
			entry.Warn("network_failed_serving_shell")
			return p.respond(ctx, req, class, SourceFallback, shell)
		}
		entry = entry.WithField("shell_error", err.Error())
	}
	entry.Warn("network_failed_unavailable")
	return p.respond(ctx, req, class, SourceFallback, cache.Unavailable())
}

func (p *Policy) respond(ctx context.Context, req Request, class Class, source Source, resp *cache.Response) (*cache.Response, error) {
	tagged, err := resp.WithHeader(SourceHeader, string(source))
	if err != nil {
		return nil, err
	}
	p.metrics.RecordFetch(ctx, class.String(), string(source))
	p.logger.WithFields(p.fields(req, class, string(source))).
		WithField("status", tagged.Status()).
		Debug("fetch_handled")
	return tagged, nil
}

func (p *Policy) fields(req Request, class Class, source string) logrus.Fields {
	return logging.RequestFields(req.Method(), req.URL(), class.String(), source, req.Navigate())
}
