package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// ErrDraining 表示进程正在退出，不再接受新的后台工作。
var ErrDraining = errors.New("event tracker is draining")

// Tracker 记录所有事件登记的后台工作，进程退出前通过 Drain 等待它们完成。
type Tracker struct {
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	pending  atomic.Int64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	base, cancel := context.WithCancel(context.Background())
	return &Tracker{base: base, cancel: cancel}
}

// Begin 为一次事件创建 Lifetime。后台工作继承 ctx 的值但不继承其取消：
// 客户端断开不会中断已登记的缓存写入，只有 Drain 超时才会取消它们。
func (t *Tracker) Begin(ctx context.Context) *Lifetime {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Lifetime{tracker: t, parent: context.WithoutCancel(ctx)}
}

// Drain 拒绝新的后台工作并等待已登记的工作完成；ctx 到期时取消剩余工作并返回 ctx.Err()。
func (t *Tracker) Drain(ctx context.Context) error {
	t.mu.Lock()
	t.draining = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		<-done
		return ctx.Err()
	}
}

func (t *Tracker) add() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining {
		return false
	}
	t.wg.Add(1)
	t.pending.Add(1)
	return true
}

func (t *Tracker) done() {
	t.pending.Add(-1)
	t.wg.Done()
}

// Pending 返回尚未完成的后台工作数量。
func (t *Tracker) Pending() int {
	return int(t.pending.Load())
}

// Lifetime 对应单个事件的 "在这些工作完成之前保持处理器存活"。
type Lifetime struct {
	tracker *Tracker
	parent  context.Context
	g       errgroup.Group
}

// WaitUntil 在后台执行 job，并把它计入事件与进程的生命周期。
func (l *Lifetime) WaitUntil(job Job) {
	if job == nil {
		return
	}
	if !l.tracker.add() {
		l.g.Go(func() error { return ErrDraining })
		return
	}
	l.g.Go(func() error {
		defer l.tracker.done()
		ctx, cancel := context.WithCancel(l.parent)
		stop := context.AfterFunc(l.tracker.base, cancel)
		defer stop()
		defer cancel()
		return job(ctx)
	})
}

// Wait 阻塞直到该事件登记的所有工作完成，返回第一个错误。
func (l *Lifetime) Wait() error {
	return l.g.Wait()
}
