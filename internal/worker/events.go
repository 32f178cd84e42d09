package worker

import (
	"encoding/json"
	"strings"

	"github.com/any-hub/swcache/internal/policy"
)

// Event 是宿主投递给 worker 的生命周期或功能事件。
type Event interface {
	eventName() string
}

// InstallEvent 触发当前版本的缓存预热。
type InstallEvent struct{}

// ActivateEvent 触发旧版本清理并接管控制。
type ActivateEvent struct{}

// FetchEvent 包装一次外发请求。
type FetchEvent struct {
	Request policy.Request
}

// MessageEvent 来自宿主页面的消息，Reply 必须被恰好调用一次。
type MessageEvent struct {
	Message Message
	Reply   func(Reply)
}

// PushEvent 携带推送负载。
type PushEvent struct {
	Payload []byte
}

// NotificationClickEvent 表示用户点击了某条通知。
type NotificationClickEvent struct {
	Click NotificationClick
}

func (InstallEvent) eventName() string           { return "install" }
func (ActivateEvent) eventName() string          { return "activate" }
func (FetchEvent) eventName() string             { return "fetch" }
func (MessageEvent) eventName() string           { return "message" }
func (PushEvent) eventName() string              { return "push" }
func (NotificationClickEvent) eventName() string { return "notificationclick" }

// 宿主页面可发送的消息类型。
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageGetVersion  = "GET_VERSION"

	ReplyVersion   = "VERSION"
	ReplyActivated = "ACTIVATED"
	ReplyError     = "ERROR"
)

// Message 是宿主页面发送的 JSON 消息。
type Message struct {
	Type string `json:"type"`
}

// Reply 是 worker 通过回复通道返回的 JSON。
type Reply struct {
	Type    string `json:"type"`
	Version string `json:"version,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Notification 是待展示的通知内容。
type Notification struct {
	Title string         `json:"title"`
	Body  string         `json:"body,omitempty"`
	Icon  string         `json:"icon,omitempty"`
	Tag   string         `json:"tag,omitempty"`
	URL   string         `json:"url,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// NotificationClick 描述一次通知点击。
type NotificationClick struct {
	Tag    string `json:"tag,omitempty"`
	Action string `json:"action,omitempty"`
	URL    string `json:"url,omitempty"`
}

const defaultNotificationTitle = "New notification"

// ParseNotification 解析推送负载：JSON 对象按字段解析，其余文本作为正文。
func ParseNotification(payload []byte) Notification {
	text := strings.TrimSpace(string(payload))
	var n Notification
	if strings.HasPrefix(text, "{") && json.Unmarshal(payload, &n) == nil {
		if n.Title == "" {
			n.Title = defaultNotificationTitle
		}
		return n
	}
	return Notification{Title: defaultNotificationTitle, Body: text}
}
