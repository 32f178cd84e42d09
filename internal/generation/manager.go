// Package generation 管理按版本号命名的缓存库：安装时整体预热，激活时清理旧版本。
package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/logging"
	"github.com/any-hub/swcache/internal/metrics"
)

// State 对应 worker 的生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

var (
	// ErrNotInstalled 表示尚未成功预热就尝试激活。
	ErrNotInstalled = errors.New("cache generation not installed")
	// ErrSeedFailed 表示预热清单中至少一项抓取失败。
	ErrSeedFailed = errors.New("cache seed failed")
)

// Getter 抓取单个清单 URL。
type Getter interface {
	Get(ctx context.Context, rawURL string) (*cache.Response, error)
}

// Options 描述一个缓存代际。
type Options struct {
	Storage  cache.Storage
	Getter   Getter
	Version  string
	Prefix   string
	Manifest []string
	Logger   *logrus.Logger
	Metrics  metrics.Recorder
}

// Manager 负责当前版本缓存库的预热与旧版本清理。
type Manager struct {
	storage  cache.Storage
	getter   Getter
	version  string
	prefix   string
	manifest []string
	logger   *logrus.Logger
	metrics  metrics.Recorder

	// op 串行化 Seed/Activate。
	op sync.Mutex

	mu    sync.RWMutex
	state State
	store cache.Store
}

// NewManager 校验参数并返回处于 parsed 状态的 Manager。
func NewManager(opts Options) (*Manager, error) {
	if opts.Storage == nil {
		return nil, errors.New("generation requires storage")
	}
	if opts.Getter == nil {
		return nil, errors.New("generation requires a getter")
	}
	if strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("generation requires a version tag")
	}
	if !strings.HasPrefix(opts.Version, opts.Prefix) {
		return nil, fmt.Errorf("version %q does not start with prefix %q", opts.Version, opts.Prefix)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop()
	}
	return &Manager{
		storage:  opts.Storage,
		getter:   opts.Getter,
		version:  opts.Version,
		prefix:   opts.Prefix,
		manifest: append([]string(nil), opts.Manifest...),
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		state:    StateParsed,
	}, nil
}

// Version 返回当前版本号。
func (m *Manager) Version() string { return m.version }

// State 返回当前生命周期阶段。
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Ready reports whether the generation is activated and serving.
func (m *Manager) Ready() bool {
	return m.State() == StateActivated
}

// Store 返回已激活的缓存库，未激活时返回 nil。
func (m *Manager) Store() cache.Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateActivated {
		return nil
	}
	return m.store
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

type seedEntry struct {
	url  string
	resp *cache.Response
}

// Seed 并发抓取整个清单，全部成功后才写入版本库；任何一项失败都不写入。
func (m *Manager) Seed(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	previous := m.State()
	m.setState(StateInstalling)
	fields := logging.GenerationFields("install", m.version)

	count, err := m.seed(ctx)
	m.metrics.RecordSeed(ctx, m.version, count, err)
	if err != nil {
		// 已经安装过的代际不因重新预热失败而降级
		switch previous {
		case StateInstalled, StateActivated:
			m.setState(previous)
		default:
			m.setState(StateRedundant)
		}
		m.logger.WithFields(fields).WithError(err).Error("cache_seed_failed")
		return err
	}

	if previous != StateActivated {
		m.setState(StateInstalled)
	} else {
		m.setState(StateActivated)
	}
	m.logger.WithFields(fields).WithField("entries", count).Info("cache_seeded")
	return nil
}

func (m *Manager) seed(ctx context.Context) (int, error) {
	entries := make([]seedEntry, len(m.manifest))
	g, gctx := errgroup.WithContext(ctx)
	for i, url := range m.manifest {
		g.Go(func() error {
			resp, err := m.fetchEntry(gctx, url)
			if err != nil {
				return err
			}
			entries[i] = seedEntry{url: url, resp: resp}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSeedFailed, err)
	}

	store, err := m.storage.Open(ctx, m.version)
	if err != nil {
		return 0, fmt.Errorf("open store %s: %w", m.version, err)
	}
	for _, entry := range entries {
		if err := store.Put(ctx, cache.NewKey(http.MethodGet, entry.url), entry.resp); err != nil {
			return 0, fmt.Errorf("store %s: %w", entry.url, err)
		}
	}

	m.mu.Lock()
	m.store = store
	m.mu.Unlock()
	return len(entries), nil
}

// fetchEntry 抓取并完整读取单个清单项，非 200 视为失败。
func (m *Manager) fetchEntry(ctx context.Context, url string) (*cache.Response, error) {
	resp, err := m.getter.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.Status() != http.StatusOK {
		_, _ = resp.Bytes()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.Status())
	}
	body, err := resp.Bytes()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return cache.NewBytesResponse(cache.ResponseInit{
		Status:     resp.Status(),
		Header:     resp.Header(),
		URL:        resp.URL(),
		Redirected: resp.Redirected(),
		Opaque:     resp.Opaque(),
	}, body), nil
}

// Activate 删除所有与当前版本共享前缀的旧缓存库并接管控制。
// 前缀为空时删除所有非当前版本的库。
func (m *Manager) Activate(ctx context.Context) error {
	m.op.Lock()
	defer m.op.Unlock()

	previous := m.State()
	if previous != StateInstalled && previous != StateActivated {
		return ErrNotInstalled
	}
	m.setState(StateActivating)
	fields := logging.GenerationFields("activate", m.version)

	deleted, err := m.deleteStale(ctx)
	if err != nil {
		m.setState(previous)
		m.logger.WithFields(fields).WithError(err).Error("cache_activate_failed")
		return err
	}

	m.setState(StateActivated)
	m.logger.WithFields(fields).WithField("deleted", deleted).Info("cache_activated")
	return nil
}

func (m *Manager) deleteStale(ctx context.Context) ([]string, error) {
	names, err := m.storage.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	deleted := make([]string, 0, len(names))
	for _, name := range names {
		if name == m.version || !strings.HasPrefix(name, m.prefix) {
			continue
		}
		ok, err := m.storage.Delete(ctx, name)
		if err != nil {
			return deleted, fmt.Errorf("delete store %s: %w", name, err)
		}
		if ok {
			deleted = append(deleted, name)
		}
	}
	return deleted, nil
}
