package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	gobot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/vitos/crypto_dip_bot/internal/config"
	"github.com/vitos/crypto_dip_bot/internal/domain"
	"github.com/vitos/crypto_dip_bot/internal/infrastructure/exchange"
	"github.com/vitos/crypto_dip_bot/internal/infrastructure/logger"
	"github.com/vitos/crypto_dip_bot/internal/infrastructure/metrics"
	"github.com/vitos/crypto_dip_bot/internal/infrastructure/notify"
	"github.com/vitos/crypto_dip_bot/internal/infrastructure/storage"
	"github.com/vitos/crypto_dip_bot/internal/telegram"
	"github.com/vitos/crypto_dip_bot/internal/usecase"
	"github.com/vitos/crypto_dip_bot/internal/web"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to config.yaml")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	tradeLog := log
	if cfg.Logging.JournalFile != "" {
		tradeLog, err = logger.NewFileLogger(cfg.Logging.JournalFile, cfg.Logging.Level)
		if err != nil {
			log.Error("Failed to init trade logger, using default", zap.Error(err))
			tradeLog = log
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Init Storage
	stateStore := storage.NewJSONStateStore(cfg.Storage.StatePath)
	state, err := usecase.LoadStateService(ctx, stateStore, cfg.Defaults, log)
	if err != nil {
		log.Fatal("Failed to load state", zap.String("path", stateStore.Path()), zap.Error(err))
	}

	var journal domain.TradeRepository
	if cfg.Storage.JournalPath != "" {
		store, err := storage.NewSQLiteStore(cfg.Storage.JournalPath)
		if err != nil {
			log.Fatal("Failed to init sqlite", zap.Error(err))
		}
		defer store.Close()
		journal = store
	}

	// 4. Init Metrics
	recorder := metrics.NewRecorder()
	state.WithLock(recorder.ObserveState)

	// 5. Init Exchange (Binance)
	var gatewayOpts []exchange.GatewayOption
	var stream *exchange.PriceStream
	if cfg.Binance.WSPrices {
		wsURL := exchange.BinanceWSURL
		if cfg.Binance.Testnet {
			wsURL = exchange.BinanceTestnetWSURL
		}
		stream = exchange.NewPriceStream(wsURL, log)
		gatewayOpts = append(gatewayOpts, exchange.WithPriceStream(stream, exchange.DefaultStreamFreshness))
	}
	gateway := exchange.NewBinanceGateway(cfg.Binance.APIKey, cfg.Binance.APISecret, cfg.Binance.Testnet, log, gatewayOpts...)

	// 6. Init Notifier
	var senders []notify.Sender
	var tgAPI *gobot.BotAPI
	if cfg.Telegram.Enabled {
		tgAPI, err = gobot.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			log.Fatal("Failed to connect telegram bot", zap.Error(err))
		}
		log.Info("Telegram connected", zap.String("bot", tgAPI.Self.UserName))
		senders = append(senders, notify.NewTelegramSender(tgAPI, cfg.Telegram.ChatID))
	}
	if cfg.Discord.WebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Discord.WebhookURL))
	}
	if len(senders) == 0 {
		log.Warn("No notification destination configured, messages will be skipped")
	}
	notifier := notify.NewDispatcher(senders, notify.DefaultSendTimeout, log)

	// 7. Init Engine
	evalOpts := []usecase.EvaluatorOption{
		usecase.WithTrailingStop(cfg.Engine.TrailingStopEnabled),
		usecase.WithMetrics(recorder),
	}
	if journal != nil {
		evalOpts = append(evalOpts, usecase.WithTradeRepository(journal))
	}
	evaluator := usecase.NewSignalEvaluator(gateway, notifier, state, tradeLog, evalOpts...)
	monitor := usecase.NewPriceMonitor(state, gateway, evaluator, log,
		usecase.WithPollInterval(cfg.Engine.PollInterval),
		usecase.WithMonitorMetrics(recorder),
	)
	commands := usecase.NewCommandService(state, monitor, cfg.Defaults, log)

	// 8. Recover
	readiness := usecase.NewReadiness()
	recovery := usecase.NewRecoveryCoordinator(state, monitor, notifier, readiness, cfg.Engine.RestartRetryInterval, log)
	recovery.Recover(ctx)

	// 9. Start Server, Telegram and Price Stream
	g, gctx := errgroup.WithContext(ctx)

	server := web.NewServer(cfg.Server.Port, commands, journal, recorder.Handler(), log)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if tgAPI != nil {
		bot := telegram.NewBot(tgAPI, cfg.Telegram.ChatID, commands, log)
		g.Go(func() error { return bot.Run(gctx) })
	}

	if stream != nil {
		g.Go(func() error { return stream.Run(gctx) })
		g.Go(func() error {
			stream.Follow(gctx, cfg.Engine.PollInterval, func() string {
				return commands.Status().Params.Symbol
			})
			return nil
		})
	}

	// 10. Wait for Shutdown
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service failed", zap.Error(err))
	}

	log.Info("Shutting down...")
	monitor.Shutdown()
	notifier.Wait()
}
