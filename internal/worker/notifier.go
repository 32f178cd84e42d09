package worker

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Notifier 负责展示通知与响应点击，worker 只做转发。
type Notifier interface {
	Show(ctx context.Context, n Notification) error
	Click(ctx context.Context, c NotificationClick) error
}

// LogNotifier 把通知写入日志，适合无界面的部署。
type LogNotifier struct {
	Logger *logrus.Logger
}

func (n LogNotifier) Show(_ context.Context, notification Notification) error {
	n.Logger.WithFields(logrus.Fields{
		"action": "push",
		"title":  notification.Title,
		"tag":    notification.Tag,
		"url":    notification.URL,
	}).Info("notification_shown")
	return nil
}

func (n LogNotifier) Click(_ context.Context, click NotificationClick) error {
	n.Logger.WithFields(logrus.Fields{
		"action":       "notificationclick",
		"tag":          click.Tag,
		"click_action": click.Action,
		"url":          click.URL,
	}).Info("notification_clicked")
	return nil
}
