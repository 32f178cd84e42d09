package routes

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/event"
	"github.com/any-hub/swcache/internal/worker"
)

// RegisterWorkerRoutes 暴露宿主页面与 worker 通信的接口：消息、推送与通知点击。
func RegisterWorkerRoutes(app *fiber.App, w *worker.Worker, tracker *event.Tracker, logger *logrus.Logger) {
	if app == nil || w == nil || tracker == nil {
		return
	}

	// 消息需要同步回复，等待处理完成后把 Reply 写回
	app.Post("/-/sw/message", func(c fiber.Ctx) error {
		var msg worker.Message
		if err := json.Unmarshal(c.Body(), &msg); err != nil || strings.TrimSpace(msg.Type) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_message"})
		}

		var reply *worker.Reply
		action := w.Handle(worker.MessageEvent{
			Message: msg,
			Reply:   func(r worker.Reply) { reply = &r },
		})
		life := tracker.Begin(c.Context())
		life.WaitUntil(action.Job)
		err := life.Wait()

		switch {
		case errors.Is(err, event.ErrDraining):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "shutting_down"})
		case reply == nil:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "no_reply"})
		case reply.Type == worker.ReplyError && err != nil:
			return c.Status(fiber.StatusConflict).JSON(reply)
		case reply.Type == worker.ReplyError:
			return c.Status(fiber.StatusBadRequest).JSON(reply)
		}
		return c.JSON(reply)
	})

	app.Post("/-/sw/push", func(c fiber.Ctx) error {
		payload := append([]byte(nil), c.Body()...)
		dispatch(c, w.Handle(worker.PushEvent{Payload: payload}), tracker, logger, "push")
		return c.SendStatus(fiber.StatusAccepted)
	})

	app.Post("/-/sw/notification-click", func(c fiber.Ctx) error {
		var click worker.NotificationClick
		if err := json.Unmarshal(c.Body(), &click); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_notification_click"})
		}
		dispatch(c, w.Handle(worker.NotificationClickEvent{Click: click}), tracker, logger, "notificationclick")
		return c.SendStatus(fiber.StatusAccepted)
	})
}

// dispatch 把延迟任务登记到事件生命周期后立即返回，错误只记录日志。
func dispatch(c fiber.Ctx, action event.Action, tracker *event.Tracker, logger *logrus.Logger, name string) {
	life := tracker.Begin(c.Context())
	life.WaitUntil(action.Job)
	go func() {
		if err := life.Wait(); err != nil && logger != nil {
			logger.WithField("action", name).WithError(err).Warn("worker_event_failed")
		}
	}()
}
