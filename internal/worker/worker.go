// Package worker 把生命周期、请求与消息事件翻译成动作，对应浏览器里的 service worker。
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/event"
	"github.com/any-hub/swcache/internal/generation"
	"github.com/any-hub/swcache/internal/logging"
	"github.com/any-hub/swcache/internal/policy"
)

// Options 构造 Worker 所需依赖。
type Options struct {
	Manager  *generation.Manager
	Policy   *policy.Policy
	Notifier Notifier
	// AwaitSkipWaiting 为 true 时安装完成后停在 installed，等待 SKIP_WAITING 消息再激活。
	AwaitSkipWaiting bool
	Logger           *logrus.Logger
}

// Worker 在激活前不控制任何请求，激活后对所有请求生效。
type Worker struct {
	manager          *generation.Manager
	policy           *policy.Policy
	notifier         Notifier
	awaitSkipWaiting bool
	logger           *logrus.Logger

	controlling atomic.Bool
}

// New 校验依赖并构造 Worker。
func New(opts Options) (*Worker, error) {
	if opts.Manager == nil || opts.Policy == nil {
		return nil, errors.New("worker requires a generation manager and a policy")
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	return &Worker{
		manager:          opts.Manager,
		policy:           opts.Policy,
		notifier:         opts.Notifier,
		awaitSkipWaiting: opts.AwaitSkipWaiting,
		logger:           opts.Logger,
	}, nil
}

// Controlling reports whether fetch events are intercepted.
func (w *Worker) Controlling() bool { return w.controlling.Load() }

func (w *Worker) Version() string { return w.manager.Version() }

func (w *Worker) State() generation.State { return w.manager.State() }

// Policy 返回拦截策略，供诊断接口读取规则表。
func (w *Worker) Policy() *policy.Policy { return w.policy }

// Handle 把事件翻译为动作。除 fetch 外的事件都以 Defer 形式返回，由宿主登记到事件生命周期。
func (w *Worker) Handle(ev Event) event.Action {
	switch e := ev.(type) {
	case InstallEvent:
		return event.Defer(w.install)
	case ActivateEvent:
		return event.Defer(w.activate)
	case FetchEvent:
		return w.fetch(e)
	case MessageEvent:
		return event.Defer(func(ctx context.Context) error { return w.message(ctx, e) })
	case PushEvent:
		return event.Defer(func(ctx context.Context) error {
			return w.notifier.Show(ctx, ParseNotification(e.Payload))
		})
	case NotificationClickEvent:
		return event.Defer(func(ctx context.Context) error {
			return w.notifier.Click(ctx, e.Click)
		})
	default:
		w.logger.WithField("event", fmt.Sprintf("%T", ev)).Warn("worker_unknown_event")
		return event.Passthrough()
	}
}

func (w *Worker) install(ctx context.Context) error {
	if err := w.manager.Seed(ctx); err != nil {
		return err
	}
	if w.awaitSkipWaiting {
		w.logger.WithFields(logging.GenerationFields("install", w.Version())).Info("worker_waiting")
		return nil
	}
	return w.activate(ctx)
}

// activate 清理旧版本并立即接管所有客户端，无需刷新页面。
func (w *Worker) activate(ctx context.Context) error {
	if err := w.manager.Activate(ctx); err != nil {
		return err
	}
	if !w.controlling.Swap(true) {
		w.logger.WithFields(logging.GenerationFields("claim", w.Version())).Info("worker_controlling")
	}
	return nil
}

func (w *Worker) fetch(e FetchEvent) event.Action {
	if !w.Controlling() {
		return event.Passthrough()
	}
	return w.policy.Decide(e.Request, w.manager.Store())
}

func (w *Worker) message(ctx context.Context, e MessageEvent) error {
	reply := e.Reply
	if reply == nil {
		reply = func(Reply) {}
	}
	switch e.Message.Type {
	case MessageSkipWaiting:
		if err := w.activate(ctx); err != nil {
			reply(Reply{Type: ReplyError, Error: err.Error()})
			return err
		}
		reply(Reply{Type: ReplyActivated, Version: w.Version()})
	case MessageGetVersion:
		reply(Reply{Type: ReplyVersion, Version: w.Version()})
	default:
		reply(Reply{Type: ReplyError, Error: fmt.Sprintf("unknown message type %q", e.Message.Type)})
	}
	return nil
}
