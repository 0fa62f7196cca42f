package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/artcache/internal/bridge"
	"github.com/any-hub/artcache/internal/cache"
	"github.com/any-hub/artcache/internal/config"
	"github.com/any-hub/artcache/internal/device"
	"github.com/any-hub/artcache/internal/eventloop"
	"github.com/any-hub/artcache/internal/fetch"
	"github.com/any-hub/artcache/internal/localfile"
	"github.com/any-hub/artcache/internal/logging"
	"github.com/any-hub/artcache/internal/server"
	"github.com/any-hub/artcache/internal/server/routes"
	"github.com/any-hub/artcache/internal/version"
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

const shutdownTimeout = 10 * time.Second

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

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["devices"] = config.DeviceSummaries(cfg.Devices)
		fields["cache_root"] = cfg.Global.CacheRoot
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：事件循环 → 网络拉取器 → 各设备缓存（挂上本地文件供给方）→ bridge → Fiber。
	loop := eventloop.New(logger)
	loop.Start()
	defer loop.Stop()

	registry, err := buildRegistry(cfg, loop, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "构建设备注册表失败: %v\n", err)
		return 1
	}
	defer registry.Close()

	images := bridge.New(bridge.Options{
		Resolver:      registry,
		Logger:        logger,
		MemoryTTL:     cfg.Global.MemoryCacheTTL.DurationValue(),
		MemoryEntries: cfg.Global.MemoryCacheEntries,
	})
	defer images.Close()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["devices"] = config.DeviceSummaries(cfg.Devices)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["cache_root"] = cfg.Global.CacheRoot
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := serveHTTP(ctx, cfg, registry, images, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildRegistry 为每个加载 mprisremote 的设备创建缓存，并让本地文件供给方订阅其请求。
func buildRegistry(cfg *config.Config, loop *eventloop.Loop, logger *logrus.Logger) (*device.Registry, error) {
	fetcher := fetch.New(fetch.Options{
		Timeout:       cfg.Global.UpstreamTimeout.DurationValue(),
		RatePerSecond: cfg.Global.FetchRatePerSecond,
		Burst:         cfg.Global.FetchBurst,
		Logger:        logger,
	})
	supplier := localfile.New(cfg.Global.LocalArtworkRoots, logger)

	return device.NewRegistry(cfg, func(dc config.DeviceConfig) *cache.Store {
		store := cache.NewStore(dc.ID, cache.Options{
			Root:         cfg.Global.CacheRoot,
			Loop:         loop,
			Fetcher:      fetcher,
			Logger:       logger,
			MaxRedirects: cfg.Global.MaxRedirects,
			FetchTimeout: cfg.Global.FetchTimeout.DurationValue(),
		})
		supplier.Attach(store)
		return store
	})
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("artcache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 ARTCACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("ARTCACHE_CONFIG")
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

// serveHTTP 启动 Fiber，并在 ctx 取消时优雅关闭。
func serveHTTP(ctx context.Context, cfg *config.Config, registry *device.Registry, images *bridge.Bridge, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Resolver:    images,
		WaitTimeout: cfg.Global.FetchTimeout.DurationValue(),
	})
	if err != nil {
		return err
	}
	routes.RegisterDeviceRoutes(app, registry, logger)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("Fiber 服务关闭")
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
