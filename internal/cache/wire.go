package cache

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// 以下私有头部随条目一起落盘，读取时剥离，不会返回给调用方。
const (
	headerKeyMethod  = "X-Swcache-Key-Method"
	headerKeyURL     = "X-Swcache-Key-Url"
	headerURL        = "X-Swcache-Url"
	headerRedirected = "X-Swcache-Redirected"
	headerOpaque     = "X-Swcache-Opaque"
)

var privateHeaders = []string{headerKeyMethod, headerKeyURL, headerURL, headerRedirected, headerOpaque}

// encodeEntry 将 key + 响应编码为 HTTP/1.1 报文，消费 resp 的正文。
func encodeEntry(key Key, resp *Response) ([]byte, error) {
	body, err := resp.Bytes()
	if err != nil {
		return nil, err
	}

	header := resp.Header()
	for _, name := range privateHeaders {
		header.Del(name)
	}
	header.Del("Transfer-Encoding")
	header.Set(headerKeyMethod, key.Method)
	header.Set(headerKeyURL, key.URL)
	header.Set(headerURL, resp.URL())
	header.Set(headerRedirected, strconv.FormatBool(resp.Redirected()))
	header.Set(headerOpaque, strconv.FormatBool(resp.Opaque()))

	wire := &http.Response{
		StatusCode:    resp.Status(),
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}

	buf := &bytes.Buffer{}
	if err := wire.Write(buf); err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeEntry 解析 encodeEntry 的产物，返回 key 与完整读入内存的响应。
func decodeEntry(data []byte) (Key, *Response, error) {
	wire, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(data)), nil)
	if err != nil {
		return Key{}, nil, fmt.Errorf("decode cache entry: %w", err)
	}
	defer wire.Body.Close()

	body, err := io.ReadAll(wire.Body)
	if err != nil {
		return Key{}, nil, fmt.Errorf("decode cache body: %w", err)
	}

	header := wire.Header
	key := Key{Method: header.Get(headerKeyMethod), URL: header.Get(headerKeyURL)}
	redirected, _ := strconv.ParseBool(header.Get(headerRedirected))
	opaque, _ := strconv.ParseBool(header.Get(headerOpaque))
	finalURL := header.Get(headerURL)
	for _, name := range privateHeaders {
		header.Del(name)
	}

	resp := NewBytesResponse(ResponseInit{
		Status:     wire.StatusCode,
		Header:     header,
		URL:        finalURL,
		Redirected: redirected,
		Opaque:     opaque,
	}, body)
	return key, resp, nil
}
