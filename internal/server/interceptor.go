package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/event"
	"github.com/any-hub/swcache/internal/fetch"
	"github.com/any-hub/swcache/internal/logging"
	"github.com/any-hub/swcache/internal/metrics"
	"github.com/any-hub/swcache/internal/policy"
	"github.com/any-hub/swcache/internal/worker"
)

// Forwarder 原样转发未被拦截的请求。
type Forwarder interface {
	Forward(ctx context.Context, req policy.Request) (*http.Response, error)
}

// interceptor 把 HTTP 请求翻译成 fetch 事件并执行 worker 返回的动作。
type interceptor struct {
	logger    *logrus.Logger
	worker    *worker.Worker
	forwarder Forwarder
	tracker   *event.Tracker
	metrics   metrics.Recorder
	origin    *url.URL
}

// Handle 处理一次代理请求。
func (h *interceptor) Handle(c fiber.Ctx) error {
	requestID := RequestID(c)
	req, err := h.buildRequest(c)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"action":     "fetch",
			"request_id": requestID,
			"url":        c.OriginalURL(),
		}).WithError(err).Warn("invalid_request")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request"})
	}
	action := h.worker.Handle(worker.FetchEvent{Request: req})
	return h.execute(c, req, action, requestID)
}

// execute 执行动作；处理器 panic 时返回 500 而不是断开连接。
func (h *interceptor) execute(c fiber.Ctx, req policy.Request, action event.Action, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = h.respondPanic(c, req, r, requestID)
		}
	}()

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	switch action.Kind {
	case event.KindRespond:
		life := h.tracker.Begin(ctx)
		resp, err := action.Respond(ctx, life)
		if err != nil {
			h.logFields(req, requestID, "").WithError(err).Error("fetch_handler_failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "fetch_handler_failed"})
		}
		return h.writeResponse(c, req, resp, requestID)
	case event.KindDefer:
		h.tracker.Begin(ctx).WaitUntil(action.Job)
		return h.passthrough(ctx, c, req, requestID)
	default:
		return h.passthrough(ctx, c, req, requestID)
	}
}

// passthrough 不读写缓存，把上游响应原样流回客户端。
func (h *interceptor) passthrough(ctx context.Context, c fiber.Ctx, req policy.Request, requestID string) error {
	started := time.Now()
	class := h.worker.Policy().Classify(req).String()
	h.metrics.RecordFetch(ctx, class, string(policy.SourcePassthrough))

	resp, err := h.forwarder.Forward(ctx, req)
	if err != nil {
		h.logFields(req, requestID, policy.SourcePassthrough).WithError(err).Warn("upstream_failed")
		c.Set(policy.SourceHeader, string(policy.SourcePassthrough))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set(policy.SourceHeader, string(policy.SourcePassthrough))
	c.Status(resp.StatusCode)

	var copyErr error
	if req.Method() != http.MethodHead {
		_, copyErr = io.Copy(c.Response().BodyWriter(), resp.Body)
	}
	h.logResult(req, requestID, policy.SourcePassthrough, resp.StatusCode, started, copyErr)
	if copyErr != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("passthrough stream failed: %v", copyErr))
	}
	return nil
}

func (h *interceptor) writeResponse(c fiber.Ctx, req policy.Request, resp *cache.Response, requestID string) error {
	copyResponseHeaders(c, resp.Header())
	c.Status(resp.Status())

	body, err := resp.Body()
	if err != nil {
		return err
	}
	defer body.Close()
	if req.Method() == http.MethodHead {
		return nil
	}
	if _, err := io.Copy(c.Response().BodyWriter(), body); err != nil {
		h.logFields(req, requestID, policy.Source(resp.Header().Get(policy.SourceHeader))).
			WithError(err).Warn("response_stream_failed")
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("response stream failed: %v", err))
	}
	return nil
}

func (h *interceptor) respondPanic(c fiber.Ctx, req policy.Request, recovered any, requestID string) error {
	h.logFields(req, requestID, "").
		WithError(fmt.Errorf("panic: %v", recovered)).
		Error("fetch_handler_panic")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "fetch_handler_panic"})
}

// buildRequest 还原浏览器视角的完整 URL：绝对形式的请求行直接使用，
// 否则由 Host 头与推断出的 scheme 拼接。
func (h *interceptor) buildRequest(c fiber.Ctx) (policy.Request, error) {
	rawURL := c.OriginalURL()
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		host := strings.TrimSpace(getHostHeader(c))
		if host == "" {
			return policy.Request{}, fmt.Errorf("missing host header")
		}
		rawURL = h.schemeFor(c, host) + "://" + host + rawURL
	}

	header := fiberHeadersAsHTTP(c)
	header.Del("X-Forwarded-Proto")
	return policy.NewRequest(c.Method(), rawURL, "", header, c.Body())
}

func (h *interceptor) schemeFor(c fiber.Ctx, host string) string {
	if proto := strings.ToLower(strings.TrimSpace(string(c.Request().Header.Peek("X-Forwarded-Proto")))); proto == "http" || proto == "https" {
		return proto
	}
	if h.origin != nil && h.origin.Scheme != "" && strings.EqualFold(host, h.origin.Host) {
		return h.origin.Scheme
	}
	return "https"
}

func (h *interceptor) logFields(req policy.Request, requestID string, source policy.Source) *logrus.Entry {
	fields := logging.RequestFields(req.Method(), req.URL(), h.worker.Policy().Classify(req).String(), string(source), req.Navigate())
	fields["action"] = "fetch"
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return h.logger.WithFields(fields)
}

func (h *interceptor) logResult(req policy.Request, requestID string, source policy.Source, status int, started time.Time, err error) {
	entry := h.logFields(req, requestID, source).WithFields(logrus.Fields{
		"upstream_status": status,
		"elapsed_ms":      time.Since(started).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("fetch_completed_with_error")
		return
	}
	entry.Info("fetch_completed")
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 透传响应头；长度与分块由 fasthttp 根据实际正文重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if fetch.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == "Content-Length" {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
}
