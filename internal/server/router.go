package server

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/event"
	"github.com/any-hub/swcache/internal/metrics"
	"github.com/any-hub/swcache/internal/worker"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger    *logrus.Logger
	Worker    *worker.Worker
	Forwarder Forwarder
	Tracker   *event.Tracker
	Metrics   metrics.Recorder
	// Origin 是应用来源地址，与其主机相同的请求沿用它的 scheme。
	Origin     string
	ListenPort int
}

const contextKeyRequestID = "_swcache_request_id"

// NewApp builds a Fiber application whose catch-all route turns every
// non-diagnostics request into a fetch event.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Worker == nil {
		return nil, errors.New("worker is required")
	}
	if opts.Forwarder == nil {
		return nil, errors.New("forwarder is required")
	}
	if opts.Tracker == nil {
		return nil, errors.New("event tracker is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	origin, err := url.Parse(opts.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin: %w", err)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	interceptor := &interceptor{
		logger:    opts.Logger,
		worker:    opts.Worker,
		forwarder: opts.Forwarder,
		tracker:   opts.Tracker,
		metrics:   opts.Metrics,
		origin:    origin,
	}
	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return interceptor.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 为每个请求生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

func getHostHeader(c fiber.Ctx) string {
	if raw := c.Request().Header.Peek(fiber.HeaderHost); len(raw) > 0 {
		return string(raw)
	}
	return c.Hostname()
}
