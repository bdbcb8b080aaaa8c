package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"optiontrader/config"
	"optiontrader/internal/api"
	"optiontrader/internal/auth"
	"optiontrader/internal/broker"
	"optiontrader/internal/broker/angel"
	"optiontrader/internal/events"
	"optiontrader/internal/execution"
	"optiontrader/internal/gateway"
	"optiontrader/internal/indicator"
	"optiontrader/internal/logger"
	"optiontrader/internal/markethours"
	"optiontrader/internal/metrics"
	"optiontrader/internal/notification"
	"optiontrader/internal/options"
	"optiontrader/internal/position"
	redisstore "optiontrader/internal/store/redis"
	"optiontrader/internal/store/state"
	"optiontrader/internal/strategy"
	"optiontrader/internal/trader"
	"optiontrader/pkg/smartconnect"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[trader] %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[trader] invalid config: %v", err)
	}
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("[trader] LOG_LEVEL: %v", err)
	}
	holidays, err := markethours.ParseHolidays(cfg.MarketHolidays)
	if err != nil {
		log.Fatalf("[trader] MARKET_HOLIDAYS: %v", err)
	}
	logger.InitWithFile("trader", level, logger.FileConfig{Path: cfg.LogFile, Compress: true})
	lg := slog.With("component", "main")
	lg.Info("starting", "mode", cfg.Mode(), "underlying", cfg.Underlying, "interval", cfg.Interval,
		"atr_length", cfg.ATRLength, "factor", cfg.Factor, "stop_loss", cfg.StopLoss)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.Mode(), 3*cfg.PollInterval+cfg.CycleTimeout)
	srv := metrics.NewServer(cfg.MetricsAddr, health)

	// ---- Trade state ----
	repo, err := openRepository(cfg)
	if err != nil {
		log.Fatalf("[trader] state backend: %v", err)
	}
	store, err := state.Open(repo, state.Options{StartFresh: cfg.StartFresh, PaperBalance: cfg.PaperBalance})
	if errors.Is(err, state.ErrCorruptState) {
		log.Fatalf("[trader] %v; fix or remove %s, or set START_FRESH=true", err, cfg.StatePath)
	}
	if err != nil {
		log.Fatalf("[trader] open state: %v", err)
	}
	defer store.Close()

	// ---- Journal ----
	if err := os.MkdirAll(filepath.Dir(cfg.JournalPath), 0o755); err != nil {
		log.Fatalf("[trader] journal dir: %v", err)
	}
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[trader] journal: %v", err)
	}
	defer journal.Close()
	health.EnableSQLite()

	// ---- Event sinks: websocket feed, Redis ----
	bus := events.NewBus(2 * time.Second)
	bus.OnPublished = func(sink string) { prom.EventsPublished.WithLabelValues(sink).Inc() }
	bus.OnDropped = func(sink string) { prom.EventsDropped.WithLabelValues(sink).Inc() }

	hub := gateway.NewHub(256)
	hub.OnClientsChanged = func(n int) { prom.WSClients.Set(float64(n)) }
	bus.Add("ws", hub)
	srv.Handle("/ws", hub)
	defer hub.Close()

	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		w, err := redisstore.New(redisstore.WriterConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			lg.Warn("redis unavailable, continuing without it", "error", err)
		} else {
			defer w.Close()
			cb := redisstore.NewCircuitBreaker(5, 10*time.Second)
			cb.OnStateChange = func(from, to redisstore.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redisstore.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
				slog.Warn("redis circuit breaker", "component", "redis", "from", from.String(), "to", to.String())
			}
			bus.Add("redis", redisstore.NewBufferedPublisher(w, cb, 1000))
			health.EnableRedis()
			rdb = w.Client()
		}
	}
	health.StartLivenessChecker(ctx, rdb, journal.DB(), 30*time.Second)

	notifier := buildNotifier(cfg)

	// ---- Broker ----
	sc := smartconnect.NewSmartConnect(smartconnect.Config{APIKey: cfg.AngelAPIKey, RootURL: cfg.AngelRootURL})
	sessions := auth.NewManager(sc, auth.Credentials{
		ClientCode: cfg.AngelClientCode,
		Password:   cfg.AngelPassword,
		TOTPSecret: cfg.AngelTOTPSecret,
	})
	sc.SessionExpiryHook = sessions.MarkExpired
	angelBroker := angel.New(sc, angel.Config{
		HistoryDays:  cfg.HistoryDays,
		SpotToken:    cfg.SymbolToken,
		SpotExchange: cfg.Exchange,
	}, sessions, prom)

	if err := sessions.Ensure(ctx); err != nil {
		lg.Error("initial login failed, cycles will retry", "error", err)
		health.SetBrokerOK(false)
	} else {
		health.SetBrokerOK(true)
	}

	// ---- Execution ----
	var (
		placer  execution.Placer
		account broker.Account
	)
	if cfg.PaperTrading {
		paper := execution.NewPaperExecutor(store, cfg.PaperSlippageBps)
		placer, account = paper, paper
		prom.PaperBalance.Set(store.PaperBalance().InexactFloat64())
	} else {
		placer, account = execution.NewLiveExecutor(angelBroker), angelBroker
	}

	selector := options.NewSelector(options.SelectorConfig{
		Underlying: cfg.Underlying,
		Exchange:   cfg.OptionExchange,
		DefaultLot: cfg.LotSize,
	}, angelBroker, angelBroker, angelBroker)

	exits := position.NewManager(position.Config{StopLoss: cfg.StopLoss, Mode: cfg.Mode()}, store, placer, angelBroker)
	exits.Journal = journal
	exits.Notifier = notifier
	exits.Events = bus
	exits.Metrics = prom

	sess := trader.NewSession(trader.Config{
		SymbolToken:     cfg.SymbolToken,
		Exchange:        cfg.Exchange,
		Interval:        cfg.Interval,
		OptionExpiry:    cfg.OptionExpiry,
		TradeAllocation: cfg.TradeAllocation,
		CooldownPeriod:  cfg.CooldownPeriod,
		Mode:            cfg.Mode(),
	}, trader.Deps{
		Store:     store,
		Spot:      angelBroker,
		Market:    angelBroker,
		Account:   account,
		Selector:  selector,
		Placer:    placer,
		Exits:     exits,
		Evaluator: strategy.NewEvaluator(indicator.Params{Period: cfg.ATRLength, Multiplier: cfg.Factor}),
		Journal:   journal,
		Notifier:  notifier,
		Events:    bus,
		Metrics:   prom,
		Health:    health,
	})

	srv.Handle("/api/v1/", api.NewRouter(api.Deps{
		Positions: store,
		Trades:    journal,
		Quotes:    angelBroker,
		Mode:      cfg.Mode(),
		StopLoss:  cfg.StopLoss,
	}))
	srv.Start()

	if !cfg.PaperTrading {
		rctx, rcancel := context.WithTimeout(ctx, cfg.CycleTimeout)
		if _, err := reconcile(rctx, store.Positions(), angelBroker); err != nil {
			lg.Warn("reconciliation skipped", "error", err)
		}
		rcancel()
	}

	cal := markethours.NewCalendar(holidays...)
	runLoop(ctx, cfg, cal, sess, health, prom, notifier)

	// ---- Shutdown ----
	lg.Info("shutting down", "open_positions", store.Count())
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Stop(shutdownCtx)
	if _, err := sessions.Session(); err == nil {
		if err := sc.TerminateSession(shutdownCtx); err != nil {
			lg.Warn("logout failed", "error", err)
		}
	}
	lg.Info("shutdown complete")
}

func openRepository(cfg *config.Config) (state.Repository, error) {
	if cfg.StateBackend == config.BackendBadger {
		return state.NewBadgerRepository(cfg.StatePath)
	}
	return state.NewFileRepository(cfg.StatePath)
}

func buildNotifier(cfg *config.Config) notification.Notifier {
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	return notification.NewMulti(5*time.Second, backends...)
}
