package policy

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/swcache/internal/cache"
)

// Mode 对应浏览器 fetch 的 request mode。
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeCORS       Mode = "cors"
	ModeNoCORS     Mode = "no-cors"
)

// ParseMode 规范化 Sec-Fetch-Mode 取值，未知值返回空字符串。
func ParseMode(raw string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeNavigate:
		return ModeNavigate
	case ModeSameOrigin:
		return ModeSameOrigin
	case ModeCORS:
		return ModeCORS
	case ModeNoCORS:
		return ModeNoCORS
	default:
		return ""
	}
}

// Request 是一次外发请求的不可变描述，由宿主构造后交给策略判断。
type Request struct {
	method string
	url    *url.URL
	mode   Mode
	header http.Header
	body   []byte
}

// NewRequest 解析 rawURL 并复制 header/body，构造后不再受调用方修改影响。
func NewRequest(method, rawURL string, mode Mode, header http.Header, body []byte) (Request, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Request{}, err
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	if mode == "" {
		mode = inferMode(method, h)
	}
	return Request{
		method: method,
		url:    parsed,
		mode:   mode,
		header: h,
		body:   append([]byte(nil), body...),
	}, nil
}

// inferMode 在缺少 Sec-Fetch-Mode 时推断：接受 HTML 的 GET 视为导航，其余按 no-cors。
func inferMode(method string, header http.Header) Mode {
	if mode := ParseMode(header.Get("Sec-Fetch-Mode")); mode != "" {
		return mode
	}
	if method == http.MethodGet && strings.Contains(header.Get("Accept"), "text/html") {
		return ModeNavigate
	}
	return ModeNoCORS
}

func (r Request) Method() string { return r.method }

func (r Request) URL() string { return r.url.String() }

func (r Request) Mode() Mode { return r.mode }

// Navigate reports whether the request is a top-level navigation.
func (r Request) Navigate() bool { return r.mode == ModeNavigate }

// Host 返回目标主机名（小写、不含端口）。
func (r Request) Host() string {
	return strings.ToLower(r.url.Hostname())
}

// Path 返回请求路径，空路径视为 /。
func (r Request) Path() string {
	if r.url.Path == "" {
		return "/"
	}
	return r.url.Path
}

// Origin 返回 scheme://host[:port]。
func (r Request) Origin() string {
	return r.url.Scheme + "://" + r.url.Host
}

func (r Request) Header() http.Header { return r.header.Clone() }

func (r Request) Body() []byte { return append([]byte(nil), r.body...) }

// Key 返回请求在缓存库中的标识。
func (r Request) Key() cache.Key {
	return cache.NewKey(r.method, r.URL())
}
