package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/spikebot/internal/controlplane/server"
	"github.com/betbot/spikebot/internal/domain"
	"github.com/betbot/spikebot/internal/engine"
	"github.com/betbot/spikebot/internal/events"
	"github.com/betbot/spikebot/internal/execution"
	"github.com/betbot/spikebot/internal/infrastructure/deriv"
	"github.com/betbot/spikebot/internal/marketstate"
	"github.com/betbot/spikebot/internal/metrics"
	"github.com/betbot/spikebot/internal/notify"
	"github.com/betbot/spikebot/internal/risk"
	"github.com/betbot/spikebot/internal/services"
	"github.com/betbot/spikebot/internal/store"
	"github.com/betbot/spikebot/internal/strategies/spike"
	"github.com/betbot/spikebot/pkg/config"
	"github.com/betbot/spikebot/pkg/logger"
	"github.com/betbot/spikebot/pkg/ratelimit"
	"github.com/betbot/spikebot/pkg/shutdown"
	"github.com/betbot/spikebot/pkg/syncgroup"
)

const gracefulShutdownPeriod = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "config file (.yaml, .yml or .json)")
	envFiles := flag.String("env", ".env", "comma-separated .env files loaded before the config")
	flag.Parse()

	if err := logger.InitDefault(); err != nil {
		panic(fmt.Sprintf("init logger: %v", err))
	}

	if err := config.LoadEnvFiles(splitComma(*envFiles)...); err != nil {
		logrus.Errorf("load env files: %v", err)
		os.Exit(1)
	}
	if *configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			*configPath = "config.yaml"
		}
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Errorf("load config: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
		LogByDay:   cfg.Log.ByDay,
		JSON:       cfg.Log.JSON,
	}); err != nil {
		logrus.Errorf("init logger: %v", err)
		os.Exit(1)
	}
	defer logger.Close()
	if f := logger.CurrentLogFile(); f != "" {
		logrus.Infof("logging to %s", f)
	}

	if err := run(cfg); err != nil {
		logrus.Errorf("spikebot stopped: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	stake, err := cfg.StakeAmount()
	if err != nil {
		return err
	}
	lossLimit, err := cfg.DailyLossLimit()
	if err != nil {
		return err
	}
	symbols := buildSymbols(cfg.Symbols)
	logrus.Infof("starting spikebot: %d symbols (%s), store=%s, auto_trade=%v",
		len(symbols), strings.Join(cfg.SymbolCodes(), ","), cfg.Store.Driver, cfg.Trading.AutoTrade)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()
	shutdowns := shutdown.NewManager()
	workers := syncgroup.NewSyncGroup()

	storeKey, err := cfg.StoreEncryptionKey()
	if err != nil {
		return err
	}
	st, err := store.OpenOrMemory(store.Options{
		Driver:        cfg.Store.Driver,
		Path:          cfg.Store.Path,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		RedisDB:       cfg.Store.RedisDB,
		RedisPrefix:   cfg.Store.RedisPrefix,
		EncryptionKey: storeKey,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	limits := ratelimit.NewManager()
	sinks := []notify.Sink{notify.LogSink{}}
	var closers []func()
	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegramSink(notify.TelegramOptions{
			Token:   cfg.Telegram.Token,
			ChatIDs: cfg.Telegram.ChatIDs,
			BaseURL: cfg.Telegram.BaseURL,
			Limits:  limits,
		})
		if err != nil {
			return err
		}
		closers = append(closers, tg.Close)
		sinks = append(sinks, tg)
		logrus.Infof("telegram notifications to %d chats", len(cfg.Telegram.ChatIDs))
	}
	if cfg.NATS.URL != "" {
		ns, err := notify.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			logrus.Warnf("nats disabled: %v", err)
		} else {
			closers = append(closers, ns.Close)
			sinks = append(sinks, ns)
		}
	}
	dispatcher := notify.NewDispatcher(
		notify.NewFormatter(notify.FormatterOptions{Window: cfg.Lifecycle.ObservationWindow.D(), Location: loc}),
		notify.DispatcherOptions{
			Observer: func(sink string, kind events.Kind, err error) {
				metrics.ObserveNotification(sink, string(kind), err)
			},
		},
		sinks...,
	)

	lifecycle := services.NewLifecycleManager(services.LifecycleConfig{
		Window:   cfg.Lifecycle.ObservationWindow.D(),
		Location: loc,
		Symbols:  symbols,
	}, st, dispatcher)
	if err := lifecycle.Restore(); err != nil {
		logrus.Warnf("restore signal history: %v (continuing with what loaded)", err)
	}

	detector := spike.NewDetector(spike.Config{
		SpikeThreshold:        cfg.Detector.SpikeThreshold,
		AccelerationThreshold: cfg.Detector.AccelerationThreshold,
		MomentumWindow:        cfg.Detector.MomentumWindow,
		PredictionEnabled:     cfg.Detector.PredictionEnabled,
		EarlyWarningCooldown:  cfg.Detector.EarlyWarningCooldown.D(),
		TradeSignalCooldown:   cfg.Detector.TradeSignalCooldown.D(),
		StopDistance:          cfg.Detector.StopDistance,
		TargetDistance:        cfg.Detector.TargetDistance,
	}, symbols)
	buffer := marketstate.NewBuffer(cfg.Detector.BufferSize)

	bot := engine.New(engine.Options{
		Symbols:   symbols,
		Detector:  detector,
		Buffer:    buffer,
		Lifecycle: lifecycle,
		Notifier:  dispatcher,
		Running:   cfg.MonitorOnStart,
	})
	session := deriv.NewSession(deriv.Config{
		Endpoint:       cfg.Deriv.Endpoint,
		AppID:          cfg.Deriv.AppID,
		Token:          cfg.Deriv.APIToken,
		Symbols:        cfg.SymbolCodes(),
		ReconnectDelay: cfg.Deriv.ReconnectDelay.D(),
		PingInterval:   cfg.Deriv.PingInterval.D(),
		RequestTimeout: cfg.Deriv.RequestTimeout.D(),
		ProxyURL:       cfg.Deriv.ProxyURL,
	}, buffer, bot)
	bot.AttachSession(session)

	var executor *execution.Executor
	if cfg.Deriv.APIToken != "" {
		breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{
			MaxConsecutiveErrors: cfg.Trading.MaxConsecutiveFailures,
			DailyLossLimit:       lossLimit,
			Location:             loc,
		})
		executor = execution.NewExecutor(execution.Config{
			Stake:    stake,
			Currency: cfg.Trading.Currency,
			Duration: cfg.Trading.Duration.D(),
			Breaker:  breaker,
		}, session, dispatcher, limits)
		bot.SetExecutor(executor)
		bot.SetAutoTrade(cfg.Trading.AutoTrade)
	} else {
		logrus.Warn("no DERIV_API_TOKEN: monitoring only, auto-trade unavailable")
	}

	if cfg.MetricsListen != "" {
		if _, _, err := metrics.StartAsync(rootCtx, cfg.MetricsListen); err != nil {
			logrus.Errorf("metrics server: %v", err)
		}
	}
	if cfg.APIListen != "" {
		api, err := server.New(server.Config{Listen: cfg.APIListen, AuthToken: cfg.APIToken}, bot)
		if err != nil {
			return err
		}
		if _, err := api.StartAsync(rootCtx); err != nil {
			logrus.Errorf("api server: %v", err)
		}
	}

	workers.Add(func() {
		if err := session.Run(rootCtx); err != nil && rootCtx.Err() == nil {
			logrus.Errorf("deriv session: %v", err)
		}
	})
	workers.Add(func() { lifecycle.Run(rootCtx) })
	// The dispatcher has its own context so that it can flush after the
	// session and lifecycle are gone.
	dispatchCtx, dispatchCancel := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(dispatchCtx)
	}()
	logger.StartRotationChecker(rootCtx.Done())
	workers.Run()

	shutdowns.OnShutdown(func(context.Context) { lifecycle.Stop() })
	if executor != nil {
		shutdowns.OnShutdown(func(context.Context) { executor.Wait() })
	}

	logrus.Infof("spikebot running (monitoring=%v), press Ctrl+C to stop", bot.Running())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logrus.Info("stop signal received, shutting down...")
	bot.Stop()
	rootCancel()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()
	if !shutdowns.Shutdown(shutdownCtx) {
		logrus.Warn("shutdown callbacks did not finish in time")
	}
	dispatchCancel()
	<-dispatchDone
	for _, c := range closers {
		c()
	}
	if err := st.Close(); err != nil {
		logrus.Warnf("close store: %v", err)
	}
	logrus.Info("spikebot stopped")
	return nil
}

// buildSymbols converts the configured symbols, inferring the spike class
// from the code when none is given.
func buildSymbols(in []config.SymbolConfig) []domain.Symbol {
	out := make([]domain.Symbol, 0, len(in))
	for _, s := range in {
		class := domain.InferSpikeClass(s.Code)
		if strings.TrimSpace(s.Class) != "" {
			class = domain.ParseSpikeClass(s.Class)
		}
		out = append(out, domain.Symbol{Code: s.Code, Name: s.Name, Class: class})
	}
	return out
}

func splitComma(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
