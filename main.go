package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/modmirror/modmirror/internal/config"
	"github.com/modmirror/modmirror/internal/crawl"
	"github.com/modmirror/modmirror/internal/logging"
	"github.com/modmirror/modmirror/internal/refill"
	"github.com/modmirror/modmirror/internal/server"
	"github.com/modmirror/modmirror/internal/server/routes"
	"github.com/modmirror/modmirror/internal/store"
	"github.com/modmirror/modmirror/internal/upstream"
	"github.com/modmirror/modmirror/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath   string
	checkOnly    bool
	showVersion  bool
	crawlCatalog string
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
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
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
		fields["listen_port"] = cfg.Global.ListenPort
		fields["storage_path"] = cfg.Global.StoragePath
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	diskStore, err := store.NewDiskStore(cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化存储目录失败: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := buildEngine(cfg, logger, diskStore)
	go eng.curseforgePool.Run(ctx)
	go eng.modrinthPool.Run(ctx)

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["pool_concurrency"] = cfg.Pool.Concurrency
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if opts.crawlCatalog != "" {
		return runCrawl(ctx, opts.crawlCatalog, cfg, logger, eng)
	}

	if err := startHTTPServer(cfg, logger, eng, diskStore); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// engine 聚合两个目录各自的同步引擎与调度器。
type engine struct {
	curseforgePool       *refill.Pool
	modrinthPool         *refill.Pool
	curseforgeDispatcher *refill.Dispatcher
	modrinthDispatcher   *refill.Dispatcher
	modrinthClient       *upstream.ModrinthClient
}

// buildEngine 按“上游客户端 → 每目录一个 Pool → 每目录一个 Dispatcher”
// 组装后台回填链路。限流冷却按池隔离，两个目录互不拖累。
func buildEngine(cfg *config.Config, logger *logrus.Logger, s store.Store) *engine {
	cfClient := upstream.NewCurseforgeClient(cfg.Curseforge)
	mrClient := upstream.NewModrinthClient(cfg.Modrinth)

	retry := upstream.RetryPolicy{
		MaxAttempts: cfg.Pool.MaxRetries,
		Backoff:     cfg.Pool.RetryBackoff.DurationValue(),
	}

	cfPool := refill.NewPool(refill.PoolOptions{
		Name:   "curseforge",
		Logger: logger,
		Store:  s,
		Fetchers: map[store.Class]upstream.Fetcher{
			store.ClassCurseforgeMod:         cfClient.Mods(),
			store.ClassCurseforgeFile:        cfClient.Files(),
			store.ClassCurseforgeFingerprint: cfClient.Fingerprints(),
			store.ClassCurseforgeTag:         cfClient.Tags(),
		},
		Concurrency: cfg.Pool.Concurrency,
		QueueSize:   cfg.Pool.QueueSize,
		Retry:       retry,
		Cooldown:    cfg.Pool.RateLimitCooldown.DurationValue(),
	})

	mrPool := refill.NewPool(refill.PoolOptions{
		Name:   "modrinth",
		Logger: logger,
		Store:  s,
		Fetchers: map[store.Class]upstream.Fetcher{
			store.ClassModrinthProject:  mrClient.Projects(),
			store.ClassModrinthVersion:  mrClient.Versions(),
			store.ClassModrinthFileHash: mrClient.FileHashes("sha1"),
			store.ClassModrinthTag:      mrClient.Tags(),
		},
		Concurrency: cfg.Pool.Concurrency,
		QueueSize:   cfg.Pool.QueueSize,
		Retry:       retry,
		Cooldown:    cfg.Pool.RateLimitCooldown.DurationValue(),
	})

	return &engine{
		curseforgePool:       cfPool,
		modrinthPool:         mrPool,
		curseforgeDispatcher: refill.NewDispatcher(logger, cfPool, cfg.Pool.FetchChunkSize),
		modrinthDispatcher:   refill.NewDispatcher(logger, mrPool, cfg.Pool.FetchChunkSize),
		modrinthClient:       mrClient,
	}
}

// Request 按类别所属目录把回填请求路由到对应的调度器。
func (e *engine) Request(class store.Class, ids []string) {
	if class.Catalog() == "curseforge" {
		e.curseforgeDispatcher.Request(class, ids)
		return
	}
	e.modrinthDispatcher.Request(class, ids)
}

func runCrawl(ctx context.Context, catalog string, cfg *config.Config, logger *logrus.Logger, eng *engine) int {
	runner := crawl.NewRunner(crawl.Options{
		Logger:     logger,
		Dispatcher: eng,
		Pager:      eng.modrinthClient,
		Crawl:      cfg.Crawl,
	})

	var err error
	switch catalog {
	case "curseforge":
		err = runner.RunIDRange(ctx)
	case "modrinth":
		err = runner.RunPaged(ctx)
	case "all":
		err = runner.Run(ctx)
	default:
		fmt.Fprintf(stdErr, "未知的 crawl 目录: %s（可选 curseforge/modrinth/all）\n", catalog)
		return 2
	}
	if err != nil {
		fmt.Fprintf(stdErr, "全量回填中断: %v\n", err)
		return 1
	}

	// 任务队列里可能还有未消费的批次，等待两池清空后再退出
	drainPools(ctx, eng)
	return 0
}

// drainPools 轮询等待队列清空。crawl 是一次性进程，退出前尽量送完在途任务。
func drainPools(ctx context.Context, eng *engine) {
	for eng.curseforgePool.QueueLength() > 0 || eng.modrinthPool.QueueLength() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func startHTTPServer(cfg *config.Config, logger *logrus.Logger, eng *engine, s store.Store) error {
	app, err := server.NewApp(server.AppOptions{Logger: logger})
	if err != nil {
		return err
	}

	deps := routes.Deps{
		Logger:    logger,
		Store:     s,
		Refill:    eng,
		TTL:       cfg.TTL,
		Responder: server.NewResponder(cfg.Global.UncachedStatus),
	}
	routes.RegisterCurseforgeRoutes(app, deps)
	routes.RegisterModrinthRoutes(app, deps)

	server.RegisterStatusRoute(app,
		map[string]server.PoolSnapshot{
			"curseforge": eng.curseforgePool,
			"modrinth":   eng.modrinthPool,
		},
		map[string]server.InFlightSource{
			"curseforge": eng.curseforgeDispatcher,
			"modrinth":   eng.modrinthDispatcher,
		},
	)

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("modmirror", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		crawlFlag  string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 MODMIRROR_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&crawlFlag, "crawl", "", "运行全量回填任务（curseforge/modrinth/all）后退出")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("MODMIRROR_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:   path,
		checkOnly:    checkOnly,
		showVersion:  showVer,
		crawlCatalog: crawlFlag,
	}, nil
}
