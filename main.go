package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/swcache/internal/cache"
	"github.com/any-hub/swcache/internal/config"
	"github.com/any-hub/swcache/internal/event"
	"github.com/any-hub/swcache/internal/fetch"
	"github.com/any-hub/swcache/internal/generation"
	"github.com/any-hub/swcache/internal/logging"
	"github.com/any-hub/swcache/internal/metrics"
	"github.com/any-hub/swcache/internal/policy"
	"github.com/any-hub/swcache/internal/server"
	"github.com/any-hub/swcache/internal/server/routes"
	"github.com/any-hub/swcache/internal/version"
	"github.com/any-hub/swcache/internal/worker"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(ctx context.Context, opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global, cfg.App.VersionTag)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["manifest"] = len(cfg.App.ManifestURLs())
		fields["rules"] = config.RuleSummary(cfg.Rules)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// CLI 启动遵循“配置 → 缓存存储 → 策略/代际 → worker → Fiber server”顺序，
	// 保证所有请求共享同一个 worker 与存储实例。
	storage, err := cache.OpenStorage(cache.Backend(cfg.Global.StorageBackend), cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer storage.Close()

	provider, err := metrics.NewPrometheusProvider()
	if err != nil {
		fmt.Fprintf(stdErr, "初始化指标失败: %v\n", err)
		return 1
	}
	defer provider.Shutdown(context.Background())

	w, fetcher, err := buildWorker(cfg, storage, provider.Recorder, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建 worker 失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_backend"] = cfg.Global.StorageBackend
	fields["cache_version"] = cfg.App.VersionTag
	fields["rules"] = len(cfg.Rules)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := serve(ctx, cfg, w, fetcher, storage, provider, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务运行失败: %v\n", err)
		return 1
	}
	return 0
}

func buildWorker(cfg *config.Config, storage cache.Storage, recorder metrics.Recorder, logger *logrus.Logger) (*worker.Worker, *fetch.Fetcher, error) {
	fetcher := fetch.New(
		fetch.NewUpstreamClient(cfg.Global),
		fetch.NewPassthroughClient(cfg.Global),
		cfg.App.Origin,
	)

	rules, err := policy.NewRuleTable(cfg.Rules)
	if err != nil {
		return nil, nil, err
	}
	pol, err := policy.New(policy.Options{
		Rules:    rules,
		Fetcher:  fetcher,
		ShellURL: cfg.App.ShellURL(),
		Logger:   logger,
		Metrics:  recorder,
	})
	if err != nil {
		return nil, nil, err
	}

	manager, err := generation.NewManager(generation.Options{
		Storage:  storage,
		Getter:   fetcher,
		Version:  cfg.App.VersionTag,
		Prefix:   cfg.App.CachePrefix,
		Manifest: cfg.App.ManifestURLs(),
		Logger:   logger,
		Metrics:  recorder,
	})
	if err != nil {
		return nil, nil, err
	}

	w, err := worker.New(worker.Options{
		Manager:          manager,
		Policy:           pol,
		AwaitSkipWaiting: cfg.App.AwaitSkipWaiting,
		Logger:           logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return w, fetcher, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("swcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 SWCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("SWCACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// serve 启动 Fiber 并在后台触发 install；ctx 取消后先关闭监听，再等待缓存写入等后台工作收尾。
func serve(
	ctx context.Context,
	cfg *config.Config,
	w *worker.Worker,
	forwarder server.Forwarder,
	storage cache.Storage,
	provider *metrics.Provider,
	logger *logrus.Logger,
) error {
	port := cfg.Global.ListenPort
	tracker := event.NewTracker()

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Worker:     w,
		Forwarder:  forwarder,
		Tracker:    tracker,
		Metrics:    provider.Recorder,
		Origin:     cfg.App.Origin,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterStatusRoutes(app, w, storage, tracker)
	routes.RegisterWorkerRoutes(app, w, tracker, logger)
	routes.RegisterMetricsRoute(app, provider.Handler())

	install := tracker.Begin(ctx)
	install.WaitUntil(w.Handle(worker.InstallEvent{}).Job)
	go func() {
		// 预热失败时 worker 保持未控制状态，所有请求直通
		if err := install.Wait(); err != nil {
			logger.WithFields(logging.GenerationFields("install", w.Version())).
				WithError(err).
				Warn("worker_install_failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-listenErr:
		return err
	case <-ctx.Done():
	}

	timeout := cfg.Global.ShutdownTimeout.DurationValue()
	logger.WithFields(logrus.Fields{
		"action":  "shutdown",
		"pending": tracker.Pending(),
	}).Info("Fiber 服务关闭")

	if err := app.ShutdownWithTimeout(timeout); err != nil {
		logger.WithField("action", "shutdown").WithError(err).Warn("fiber_shutdown_failed")
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := tracker.Drain(drainCtx); err != nil {
		logger.WithField("action", "shutdown").WithError(err).Warn("deferred_work_abandoned")
	}
	return nil
}
