package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"MonadSwap-Engine/internal/api"
	"MonadSwap-Engine/internal/auth"
	"MonadSwap-Engine/internal/config"
	"MonadSwap-Engine/internal/monitor"
	"MonadSwap-Engine/internal/observability/alerting"
	"MonadSwap-Engine/internal/observability/metrics"
	"MonadSwap-Engine/internal/router"
	"MonadSwap-Engine/internal/service"
	"MonadSwap-Engine/internal/storage/history"
	"MonadSwap-Engine/internal/swap"
	"MonadSwap-Engine/internal/task"
	"MonadSwap-Engine/internal/web3/provider"
	"MonadSwap-Engine/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// main 是 swapd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("swapd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SWAPD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "swapd.yaml")
		if _, err := os.Stat(configPath); err != nil {
			configPath = ""
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Rotation: logger.RotationConfig{
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		},
		Audit: logger.AuditConfig{
			Enabled:    cfg.Log.AuditPath != "",
			Path:       cfg.Log.AuditPath,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		},
	}); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("swapd")

	dataDir := cfg.Runtime.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	chainRegistry, err := provider.NewRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	chain, err := chainRegistry.DefaultClient()
	if err != nil {
		return err
	}
	deployment := chainRegistry.DefaultDeployment()
	if !chain.IsConnected(ctx) {
		lg.Warn("RPC 节点暂不可用，服务将以降级模式启动", slog.String("chain", chainRegistry.DefaultName()))
	}

	routes := router.NewRegistry(chain, router.SettingsFromConfig(cfg.Router, deployment.Routers, deployment.Factories),
		router.WithCachePolicy(router.NeverExpire{}))

	ledger, err := history.Open(ctx, cfg.History, dataDir)
	if err != nil {
		return err
	}
	defer ledger.Close()

	m := metrics.New()

	var dispatcher alerting.Dispatcher
	if cfg.Alerting.Enabled {
		notifiers := []alerting.Notifier{alerting.LogNotifier{}}
		for _, url := range cfg.Alerting.Webhooks {
			notifiers = append(notifiers, alerting.NewWebhookNotifier(url, cfg.Alerting.Timeout))
		}
		dispatcher = alerting.NewFanout(notifiers...)
	}

	engineOpts := []swap.Option{
		swap.WithObserver(m),
		swap.WithObserver(history.NewRecorder(ledger)),
	}
	if dispatcher != nil {
		engineOpts = append(engineOpts, swap.WithObserver(alerting.NewSwapAlerter(dispatcher, cfg.Alerting.Timeout)))
	}
	engine := swap.NewEngine(chain, routes, swap.Settings{
		ChainID:           big.NewInt(deployment.ChainID),
		Quoter:            common.HexToAddress(deployment.Quoter),
		NativePlaceholder: common.HexToAddress(cfg.Router.NativePlaceholder),
		BuyGasLimit:       cfg.Gas.BuyLimit,
		SellGasLimit:      cfg.Gas.SellLimit,
		ApproveGasLimit:   cfg.Gas.ApproveLimit,
		FallbackGasLimit:  cfg.Gas.FallbackLimit,
		ReceiptTimeout:    cfg.Timeouts.Receipt,
		ApprovalTimeout:   cfg.Timeouts.Approval,
	}, engineOpts...)

	taskStore := task.NewMemoryStore()
	defer taskStore.Close()

	taskQueue, err := task.NewQueue(cfg.Scheduler)
	if err != nil {
		return err
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			lg.Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	keys := task.NewKeyring()
	scheduler := task.NewScheduler(taskStore, taskQueue, engine, keys)
	defer scheduler.Close()

	procOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.Scheduler.Workers),
		task.WithProcessorLogger(logger.Named("processor")),
	}
	if dispatcher != nil {
		procOpts = append(procOpts, task.WithAlertDispatcher(dispatcher))
	}
	processor := task.NewProcessor(engine, taskStore, taskQueue, keys, procOpts...)

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()

	go func() {
		if err := processor.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	monitors := monitor.NewService(engine,
		monitor.WithInterval(cfg.Monitor.Interval),
		monitor.WithBackoff(cfg.Monitor.Backoff),
		monitor.WithObserver(m),
	)
	go func() {
		if err := monitors.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("余额监控异常退出", slog.Any("error", err))
		}
	}()

	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" && cfg.Metrics.Address != cfg.Server.Address {
		go func() {
			if err := m.StartServer(workerCtx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				lg.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	authSvc, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}

	svcOpts := []service.Option{
		service.WithNetwork(cfg.Chain.Name),
		service.WithLedger(ledger),
	}
	if d, err := decimal.NewFromString(cfg.Monitor.DefaultThreshold); err == nil {
		svcOpts = append(svcOpts, service.WithDefaultThreshold(d))
	}
	facade := service.New(chain, engine, scheduler, monitors, svcOpts...)

	serverOpts := []api.Option{
		api.WithEventSource(monitors),
		api.WithAuth(authSvc),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
	}
	if cfg.Metrics.Enabled {
		serverOpts = append(serverOpts, api.WithMetrics(m))
	}
	server := api.NewServer(cfg.Server.Address, facade, serverOpts...)

	lg.Info("swapd 启动完成",
		slog.String("chain", chainRegistry.DefaultName()),
		slog.Int64("chain_id", deployment.ChainID),
		slog.String("queue", cfg.Scheduler.Driver),
		slog.String("history", cfg.History.Driver),
		slog.Bool("auth", authSvc.Enabled()))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
