package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Storage 管理所有具名缓存库（对应一个版本标签一个库）。
type Storage interface {
	// Open 打开指定名称的缓存库，不存在时创建。
	Open(ctx context.Context, name string) (Store, error)

	// Names 返回当前存在的所有缓存库名称，按字典序排列。
	Names(ctx context.Context) ([]string, error)

	// Delete 整体删除一个缓存库及其全部条目，返回该库此前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Close 释放底层资源。
	Close() error
}

// Store 是单个具名缓存库，以 Key 定位缓存的响应。
type Store interface {
	Name() string

	// Match 返回 key 对应的响应，不存在时返回 ErrNotFound。每次调用返回独立的 Response。
	Match(ctx context.Context, key Key) (*Response, error)

	// Put 写入（覆盖）一个条目，会消费 resp 的正文。
	Put(ctx context.Context, key Key, resp *Response) error

	// Keys 列出库内全部条目的 Key。
	Keys(ctx context.Context) ([]Key, error)
}

// Key 唯一定位一个缓存条目。
type Key struct {
	Method string
	URL    string
}

// NewKey 规范化 method，空 method 视为 GET。
func NewKey(method, url string) Key {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}
	return Key{Method: method, URL: url}
}

func (k Key) String() string {
	return k.Method + " " + k.URL
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidStoreName 表示库名不合法（为空或包含路径分隔符）。
var ErrInvalidStoreName = errors.New("invalid store name")

func validateStoreName(name string) error {
	if strings.TrimSpace(name) == "" || name != strings.TrimSpace(name) {
		return fmt.Errorf("%w: %q", ErrInvalidStoreName, name)
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidStoreName, name)
	}
	return nil
}

// Backend 标识存储实现。
type Backend string

const (
	BackendFS     Backend = "fs"
	BackendSQLite Backend = "sqlite"
)

// OpenStorage 按 backend 构建 Storage。fs 以 path 为根目录，sqlite 以 path 为数据库文件。
func OpenStorage(backend Backend, path string) (Storage, error) {
	switch backend {
	case BackendFS, "":
		return NewFileStorage(path)
	case BackendSQLite:
		storage, err := NewSQLiteStorage(path)
		if err != nil {
			return nil, err
		}
		return storage, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", backend)
	}
}
