package cache

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"sync"
)

// ErrBodyUsed 表示响应正文已被某个消费者读取，无法再次读取。
var ErrBodyUsed = errors.New("response body already used")

// Response 是一次捕获的 HTTP 响应。构造后不可修改，正文只能被消费一次；
// 需要同时交给调用方与缓存写入时，必须先 Clone。
type Response struct {
	status     int
	header     http.Header
	url        string
	redirected bool
	opaque     bool

	mu   sync.Mutex
	body io.ReadCloser
	used bool
}

// ResponseInit 描述构造 Response 所需的元数据。
type ResponseInit struct {
	Status     int
	Header     http.Header
	URL        string
	Redirected bool
	Opaque     bool
}

// NewResponse 以流式正文构造响应，body 为 nil 时视为空正文。
func NewResponse(init ResponseInit, body io.ReadCloser) *Response {
	if body == nil {
		body = http.NoBody
	}
	header := init.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &Response{
		status:     init.Status,
		header:     header,
		url:        init.URL,
		redirected: init.Redirected,
		opaque:     init.Opaque,
		body:       body,
	}
}

// NewBytesResponse 以内存正文构造响应，常用于合成响应与缓存读取。
func NewBytesResponse(init ResponseInit, body []byte) *Response {
	return NewResponse(init, io.NopCloser(bytes.NewReader(body)))
}

// Unavailable 合成一个 503 且正文为空的响应。
func Unavailable() *Response {
	return NewResponse(ResponseInit{Status: http.StatusServiceUnavailable}, nil)
}

func (r *Response) Status() int { return r.status }

// Header 返回头部副本，调用方的修改不会影响响应本身。
func (r *Response) Header() http.Header { return r.header.Clone() }

func (r *Response) URL() string { return r.url }

func (r *Response) Redirected() bool { return r.redirected }

func (r *Response) Opaque() bool { return r.opaque }

// Used reports whether the body has been handed to a consumer.
func (r *Response) Used() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Body 交出正文流，只能调用一次。调用方负责 Close。
func (r *Response) Body() (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used {
		return nil, ErrBodyUsed
	}
	r.used = true
	return r.body, nil
}

// Bytes 读取并关闭整个正文。
func (r *Response) Bytes() ([]byte, error) {
	body, err := r.Body()
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(body)
}

// Clone 在任何消费者读取正文之前复制响应。原响应的正文被缓冲后重新装填，
// 两份响应共享同一份只读字节但各自拥有独立的读取器。
func (r *Response) Clone() (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used {
		return nil, ErrBodyUsed
	}
	data, err := io.ReadAll(r.body)
	closeErr := r.body.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		r.used = true
		return nil, err
	}
	r.body = io.NopCloser(bytes.NewReader(data))

	clone := &Response{
		status:     r.status,
		header:     r.header.Clone(),
		url:        r.url,
		redirected: r.redirected,
		opaque:     r.opaque,
		body:       io.NopCloser(bytes.NewReader(data)),
	}
	return clone, nil
}

// WithHeader 派生一个设置了额外头部的新响应，正文所有权随之转移，原响应随后不可再读。
func (r *Response) WithHeader(name, value string) (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.used {
		return nil, ErrBodyUsed
	}
	r.used = true

	header := r.header.Clone()
	header.Set(name, value)
	return &Response{
		status:     r.status,
		header:     header,
		url:        r.url,
		redirected: r.redirected,
		opaque:     r.opaque,
		body:       r.body,
	}, nil
}

// Cacheable 判断网络响应是否满足写入缓存的条件：200、非 opaque、非重定向。
func (r *Response) Cacheable() bool {
	return r.status == http.StatusOK && !r.opaque && !r.redirected
}
