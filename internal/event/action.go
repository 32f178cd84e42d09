// Package event models how the proxy answers an event: a tagged Action that
// either lets the request through untouched, responds with the result of a
// task, or defers background work, plus the Lifetime that keeps deferred work
// alive after the response has been written.
package event

import (
	"context"

	"github.com/any-hub/swcache/internal/cache"
)

// Kind tags the variant carried by an Action.
type Kind int

const (
	// KindPassthrough 不拦截，由宿主网络栈原样处理。
	KindPassthrough Kind = iota
	// KindRespond 以 Task 的结果作为响应。
	KindRespond
	// KindDefer 不产生响应，仅在事件生命周期内完成 Job。
	KindDefer
)

func (k Kind) String() string {
	switch k {
	case KindPassthrough:
		return "passthrough"
	case KindRespond:
		return "respond"
	case KindDefer:
		return "defer"
	default:
		return "unknown"
	}
}

// Task 产出响应。需要在响应之后继续执行的工作通过 life.WaitUntil 登记。
type Task func(ctx context.Context, life *Lifetime) (*cache.Response, error)

// Job 是不产生响应的后台工作。
type Job func(ctx context.Context) error

// Action 是处理事件后的决策。同一时刻只有与 Kind 对应的字段有效。
type Action struct {
	Kind    Kind
	Respond Task
	Job     Job
}

// Passthrough 构造不拦截的 Action。
func Passthrough() Action {
	return Action{Kind: KindPassthrough}
}

// RespondWith 构造以 task 结果响应的 Action。
func RespondWith(task Task) Action {
	return Action{Kind: KindRespond, Respond: task}
}

// Defer 构造仅执行后台工作的 Action。
func Defer(job Job) Action {
	return Action{Kind: KindDefer, Job: job}
}
