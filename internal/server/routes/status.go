package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/event"
	"github.com/any-hub/swcache/internal/policy"
	"github.com/any-hub/swcache/internal/worker"
)

// RegisterStatusRoutes 暴露 /-/status 诊断接口，供 SRE 查询当前代际、控制状态与规则表。
func RegisterStatusRoutes(app *fiber.App, w *worker.Worker, storage cache.Storage, tracker *event.Tracker) {
	if app == nil || w == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		payload := statusPayload{
			Version:     w.Version(),
			State:       string(w.State()),
			Controlling: w.Controlling(),
			Rules:       encodeRules(w.Policy().Rules()),
		}
		if tracker != nil {
			payload.PendingJobs = tracker.Pending()
		}
		if storage != nil {
			names, err := storage.Names(c.Context())
			if err != nil {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage_unavailable"})
			}
			payload.Stores = names
		}
		return c.JSON(payload)
	})
}

// RegisterMetricsRoute 通过 adaptor 挂载 Prometheus handler。
func RegisterMetricsRoute(app *fiber.App, handler http.Handler) {
	if app == nil || handler == nil {
		return
	}
	app.Get("/-/metrics", adaptor.HTTPHandler(handler))
}

type statusPayload struct {
	Version     string        `json:"version"`
	State       string        `json:"state"`
	Controlling bool          `json:"controlling"`
	Stores      []string      `json:"stores"`
	PendingJobs int           `json:"pending_jobs"`
	Rules       []rulePayload `json:"rules"`
}

type rulePayload struct {
	Pattern string `json:"pattern"`
	Mode    string `json:"mode"`
}

func encodeRules(rules []policy.Rule) []rulePayload {
	if len(rules) == 0 {
		return nil
	}
	result := make([]rulePayload, 0, len(rules))
	for _, rule := range rules {
		result = append(result, rulePayload{Pattern: rule.Pattern, Mode: string(rule.Mode)})
	}
	return result
}
