// Command engine is the trading engine process: it loads configuration,
// wires every component (event bus, book engine, normalizer, storm
// guard, gateway policy, risk engine, order adapter, execution router,
// position store, recorder pipeline, reconciliation, strategy runtime,
// and the status/metrics API), and runs until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hftplatform/engine/internal/api"
	"github.com/hftplatform/engine/internal/broker"
	"github.com/hftplatform/engine/internal/bus"
	"github.com/hftplatform/engine/internal/config"
	"github.com/hftplatform/engine/internal/execrouter"
	"github.com/hftplatform/engine/internal/gateway"
	"github.com/hftplatform/engine/internal/gatewaypolicy"
	"github.com/hftplatform/engine/internal/lob"
	"github.com/hftplatform/engine/internal/metrics"
	"github.com/hftplatform/engine/internal/normalizer"
	"github.com/hftplatform/engine/internal/position"
	"github.com/hftplatform/engine/internal/pricecodec"
	"github.com/hftplatform/engine/internal/reconciliation"
	"github.com/hftplatform/engine/internal/recorder"
	"github.com/hftplatform/engine/internal/risk"
	"github.com/hftplatform/engine/internal/stormguard"
	"github.com/hftplatform/engine/internal/strategyruntime"
	"github.com/hftplatform/engine/internal/strategyruntime/examples"
	"github.com/hftplatform/engine/internal/symbolmeta"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("HFT_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	symbols, err := symbolmeta.New(cfg.SymbolFile)
	if err != nil {
		logger.Error("failed to load symbol registry", "error", err)
		os.Exit(1)
	}
	codec := pricecodec.New(symbols)

	reg := prometheus.NewRegistry()
	metricsReg := metrics.New(reg)

	guard := stormguard.New(stormguard.Thresholds{
		DrawdownWarnPct:  cfg.StormGuard.DrawdownWarnPct,
		DrawdownStormPct: cfg.StormGuard.DrawdownStormPct,
		DrawdownHaltPct:  cfg.StormGuard.DrawdownHaltPct,
		LatencyWarnUs:    cfg.StormGuard.LatencyWarnUs,
		LatencyStormUs:   cfg.StormGuard.LatencyStormUs,
		LatencyHaltUs:    cfg.StormGuard.LatencyHaltUs,
		FeedGapWarnS:     cfg.StormGuard.FeedGapWarnS,
		FeedGapStormS:    cfg.StormGuard.FeedGapStormS,
		FeedGapHaltS:     cfg.StormGuard.FeedGapHaltS,
	}, logger)
	overflowTracker := stormguard.NewBusOverflowTracker(cfg.Bus.OverflowWindow, cfg.Bus.OverflowHaltThresh, guard)

	ringBus := bus.New(cfg.Bus.Capacity, func() {
		metricsReg.ObserveBusOverflow()
		overflowTracker.Observe()
	})

	policy := gatewaypolicy.New(guard, cfg.StormGuard.AllowCancelOnHalt, logger)

	lobEngine := lob.New()
	refPrice := risk.NewBookReferencePrice(lobEngine, time.Minute)

	riskEngine := risk.New(risk.Config{
		PriceBandPct: cfg.Risk.PriceBandPct,
		MaxPriceCap:  cfg.Risk.MaxPriceCap,
		MaxNotional:  cfg.Risk.MaxNotional,
		MaxOrderSize: cfg.Risk.MaxOrderSize,
		ContractMult: cfg.Risk.ContractMult,
		Deadline:     cfg.Gateway.DefaultDeadline,
	}, policy, refPrice, metricsReg, logger)

	norm := normalizer.New(codec, logger, metricsReg, cfg.Normalizer.MaxFutureSkew)

	brokerClient := broker.New(cfg.Gateway.BrokerBaseURL, cfg.Gateway.DryRun)

	orderAdapter := gateway.New(gateway.Config{
		RateLimiter: gateway.RateLimiterConfig{
			WindowSeconds: float64(cfg.Gateway.WindowS),
			SoftCap:       cfg.Gateway.SoftCap,
			HardCap:       cfg.Gateway.HardCap,
		},
		CircuitBreaker: gateway.CircuitBreakerConfig{
			FailureThreshold: cfg.Gateway.CircuitThreshold,
			OpenSeconds:      float64(cfg.Gateway.CircuitTimeoutS),
		},
		DLQDir: cfg.Gateway.DLQDir,
	}, brokerClient, codec, metricsReg, logger)

	positionStore := position.New()
	execRouter := execrouter.New(orderAdapter, codec, positionStore, ringBus, metricsReg)

	pipeline, diskMonitor, replayer, replaySend := buildRecorderPipeline(cfg.Recorder, cfg.DiskPressure, metricsReg, logger)

	reconciler := reconciliation.New(
		&brokerPositionAdapter{fetcher: brokerClient},
		positionStore,
		reconciliation.Config{Interval: cfg.Reconcile.Interval, Tolerance: cfg.Reconcile.Tolerance},
		guard,
		logger,
	)

	queue := newIntentQueue(1024, logger)
	runtime := strategyruntime.New(queue, logger)
	runtime.Register(&examples.DemoQuoter{
		StrategyID:   "demo",
		Symbol:       "DEMO",
		Edge:         5,
		Qty:          1,
		MinSpread:    10,
		MaxInventory: 100,
		Positions:    &strategyPositionView{store: positionStore, accountID: "primary", strategyID: "demo"},
	})
	dispatcher := newRiskDispatcher(queue, riskEngine, guard, orderAdapter, logger)

	execFeed := broker.NewExecutionFeed(cfg.Gateway.ExecFeedURL, logger)
	marketFeed := broker.NewMarketFeed(cfg.Gateway.MarketFeedURL, logger)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(
			fmt.Sprintf(":%d", cfg.API.Port),
			&statusProvider{guard: guard, policy: policy, b: ringBus, store: positionStore},
			reg,
			logger,
		)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("api server failed", "error", err)
			}
		}()
	}

	recorderConsumer := ringBus.NewConsumer()
	strategyConsumer := ringBus.NewConsumer()

	go pipeline.Run(ctx)
	go pipeline.RunBridge(ctx, recorderConsumer, cfg.Bus.BatchConsumeMax)
	go runtime.RunBridge(ctx, strategyConsumer, cfg.Bus.BatchConsumeMax)
	go dispatcher.Run(ctx)
	go reconciler.Run(ctx)
	go diskMonitor.Run(ctx)
	if replayer != nil {
		go replayLoop(ctx, replayer, replaySend, logger)
	}
	go execFeed.Run(ctx)
	go runExecFeedBridge(ctx, execFeed, execRouter, logger)
	go marketFeed.Run(ctx)
	go runMarketFeedBridge(ctx, marketFeed, norm, lobEngine, ringBus, logger)
	go policyRefreshLoop(ctx, policy, guard, metricsReg)

	logger.Info("engine started",
		"dry_run", cfg.Gateway.DryRun,
		"recorder_mode", cfg.Recorder.Mode,
		"api_enabled", cfg.API.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop api server", "error", err)
		}
	}
}

func newLogHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildRecorderPipeline constructs the mode-selected Writer chain: a
// WALWriter always backs the pipeline (as the WAL_FIRST writer or as the
// DIRECT writer's fallback), with a disk-pressure Monitor watching its
// directory.
func buildRecorderPipeline(rc config.RecorderConfig, dc config.DiskPressureConfig, metricsReg *metrics.Registry, logger *slog.Logger) (*recorder.Pipeline, *recorder.Monitor, *recorder.Replayer, recorder.SendFunc) {
	wal, err := recorder.NewWALWriter(rc.WALDir)
	if err != nil {
		logger.Error("failed to open wal writer", "error", err)
		os.Exit(1)
	}

	monitor := recorder.NewMonitor(wal, recorder.DiskPressureConfig{
		CheckInterval: dc.CheckInterval,
		WarnMB:        dc.WarnMB,
		CriticalMB:    dc.CriticalMB,
		HaltMB:        dc.HaltMB,
	}, metricsReg, logger)

	tablePolicy := make(map[string]recorder.TablePolicy, len(dc.TablePolicy))
	for table, policy := range dc.TablePolicy {
		tablePolicy[table] = recorder.TablePolicy(policy)
	}

	batcherCfg := recorder.BatcherConfig{
		FlushLimit:    rc.FlushLimit,
		FlushInterval: rc.FlushInterval,
		MaxBufferSize: rc.MaxBufferSize,
		Backpressure:  recorder.BackpressurePolicy(rc.BackpressureMode),
	}

	var writer recorder.Writer
	var mode recorder.Mode
	var directForReplay *recorder.DirectWriter
	switch rc.Mode {
	case config.RecorderModeWALFirst:
		mode = recorder.ModeWALFirst
		writer = recorder.NewWALFirstWriter(wal, monitor, tablePolicy, metricsReg, logger)
	default:
		mode = recorder.ModeDirect
		direct, err := recorder.NewDirectWriter(rc.DSN, wal, rc.MaxRetries, rc.RetryBaseDelay, time.Duration(rc.MaxFutureSkewS*float64(time.Second)), logger)
		if err != nil {
			logger.Error("failed to open direct writer, falling back to wal-first", "error", err)
			mode = recorder.ModeWALFirst
			writer = recorder.NewWALFirstWriter(wal, monitor, tablePolicy, metricsReg, logger)
		} else {
			writer = direct
			directForReplay = direct
		}
	}

	pipeline := recorder.New(mode, writer, batcherCfg, metricsReg, logger)

	// Replay only applies when there's a DB to replay into; WAL_FIRST
	// mode has nothing downstream of the WAL to replay rows to.
	if directForReplay == nil {
		return pipeline, monitor, nil, nil
	}

	claims, err := recorder.NewClaimRegistry(filepath.Join(wal.Dir(), "claims"))
	if err != nil {
		logger.Warn("failed to open claim registry, replay disabled", "error", err)
		return pipeline, monitor, nil, nil
	}

	replayer := recorder.NewReplayer(wal, claims, logger)
	send := func(table string, rows []map[string]any) error {
		converted := make([]any, len(rows))
		for i, row := range rows {
			converted[i] = row
		}
		return directForReplay.WriteBatch(context.Background(), table, converted)
	}
	return pipeline, monitor, replayer, send
}

// replayLoop periodically attempts to drain pending WAL files into the
// analytics DB, every 30 seconds.
func replayLoop(ctx context.Context, replayer *recorder.Replayer, send recorder.SendFunc, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := replayer.Replay(send); err != nil {
				logger.Warn("wal replay stopped early", "replayed", n, "error", err)
			} else if n > 0 {
				logger.Info("wal replay completed", "replayed", n)
			}
		}
	}
}

// policyRefreshLoop applies the GatewayPolicy auto-transition rule on a
// fixed cadence, independent of the event-driven paths that read it, and
// publishes the stormguard_mode / gateway_policy_mode gauges.
func policyRefreshLoop(ctx context.Context, policy *gatewaypolicy.Policy, guard *stormguard.Guard, metricsReg *metrics.Registry) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			policy.Refresh()
			metricsReg.SetStormGuardMode("global", guard.Gauge())
			metricsReg.SetGatewayPolicyMode(int(policy.Mode()))
		}
	}
}
