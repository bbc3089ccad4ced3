package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"riskwatch/internal/api"
	"riskwatch/internal/bot"
	"riskwatch/internal/calendar"
	"riskwatch/internal/config"
	"riskwatch/internal/feed"
	"riskwatch/internal/models"
	"riskwatch/internal/publisher"
	"riskwatch/internal/repository"
	"riskwatch/internal/service"
	"riskwatch/internal/websocket"
	"riskwatch/pkg/crypto"
	"riskwatch/pkg/retry"
	"riskwatch/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := utils.InitGlobalLogger(utils.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect to database", utils.Err(err))
	}
	defer db.Close()

	logger.Info("connected to database",
		zap.String("driver", cfg.Database.Driver),
		zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Репозитории
	accountRepo := repository.NewAccountRepository(db)
	calendarRepo := repository.NewCalendarRepository(db)
	positionRepo := repository.NewPositionRepository(db)
	riskEventRepo := repository.NewRiskEventRepository(db)

	// Реквизиты потока: без аккаунта, URL или ключа работать нечем
	key, err := crypto.ParseKey(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Fatal("invalid encryption key", utils.Err(err))
	}
	accountService := service.NewAccountService(accountRepo, key, logger)
	// Аккаунт без реквизитов не исправится повтором, сбой БД может
	credsRetry := retry.NetworkConfig()
	credsRetry.RetryIf = func(err error) bool {
		return retry.RetryIfNotContext(err) &&
			!errors.Is(err, service.ErrNoFeedAccount) &&
			!errors.Is(err, service.ErrMissingCredential)
	}
	creds, err := retry.DoWithResult(ctx, func() (*models.FeedCredentials, error) {
		return accountService.LoadFeedCredentials(ctx)
	}, credsRetry)
	if err != nil {
		logger.Fatal("failed to load feed credentials", utils.Err(err))
	}

	// Календарь
	loc, err := utils.LoadLocation(cfg.Market.Timezone)
	if err != nil {
		logger.Fatal("failed to load market timezone", utils.Err(err))
	}
	cal := calendar.NewCache(calendarRepo, calendar.Config{
		Location:      loc,
		PreOpenBuffer: cfg.Market.PreOpenBuffer,
	}, logger)
	cal.SetFallbackHook(bot.RecordCalendarFallback)
	cal.Refresh(ctx, time.Now())

	// Поток котировок
	transport := feed.NewWSTransport(feed.TransportConfig{
		ConnectTimeout: cfg.Feed.ConnectTimeout,
		PingInterval:   cfg.Feed.PingInterval,
	}, logger)
	conn := feed.NewConnection(transport, feed.Config{
		URL:            creds.WebSocketURL,
		APIKey:         creds.APIKey,
		ConnectTimeout: cfg.Feed.ConnectTimeout,
		AuthTimeout:    cfg.Feed.AuthTimeout,
		SubscribeRate:  cfg.Feed.SubscribeRate,
	}, logger)
	conn.SetShouldReconnect(func() bool { return cal.IsOpen(time.Now()) })
	conn.SetOnSessionLost(func(err error) {
		logger.Warn("feed session lost", utils.Err(err))
	})

	// Ядро: выход, оценка риска, диспетчер, движок
	exits := bot.NewExitManager(positionRepo, cfg.Exit.RetrySpacing, logger)
	evaluator := bot.NewRiskEvaluator(positionRepo, exits, logger)
	dispatcher := bot.NewDispatcher(evaluator, bot.DispatcherConfig{
		Shards:      cfg.Bot.Shards,
		ShardBuffer: cfg.Bot.ShardBuffer,
		EvalTimeout: cfg.Bot.EvalTimeout,
	}, logger)
	store := bot.NewPriceStore(logger)
	engine := bot.NewEngine(bot.EngineConfig{
		LoopInterval:        cfg.Bot.LoopInterval,
		ConnectRetryDelay:   cfg.Bot.ConnectRetryDelay,
		ErrorRetryDelay:     cfg.Bot.ErrorRetryDelay,
		SubscriptionRefresh: cfg.Feed.SubscriptionRefresh,
		SleepChunk:          cfg.Bot.SleepChunk,
		MaxClosedSleep:      cfg.Bot.MaxClosedSleep,
	}, cal, conn, positionRepo, store, dispatcher, logger)
	conn.SetOnTick(engine.HandleTick)

	if _, err := engine.Recover(ctx); err != nil {
		logger.Error("failed to recover exit pending positions", utils.Err(err))
	}

	// Публикация снапшотов: файл для других процессов и websocket для дашборда
	filePub := publisher.NewFilePublisher(cfg.Publish.SharedDataPath, logger)
	hub := websocket.NewHub(cfg.Server.AllowedOrigins, logger)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	dispatcher.Start(ctx)
	run(func() { hub.Run(ctx) })
	run(func() { store.RunPublisher(ctx, filePub, hub) })
	run(func() { broadcastStatus(ctx, hub, engine, cfg.Server.StatusInterval) })
	run(func() {
		if err := engine.Run(ctx); err != nil {
			logger.Error("engine stopped with error", utils.Err(err))
		}
	})

	// HTTP API оператора
	router := api.SetupRoutes(&api.Dependencies{
		Engine:            engine,
		Prices:            store,
		Positions:         positionRepo,
		RiskEvents:        service.NewRiskEventService(riskEventRepo),
		Stream:            hub.ServeWS,
		AdminUsername:     cfg.Security.AdminUsername,
		AdminPasswordHash: cfg.Security.AdminPasswordHash,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		Logger:            logger,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting http server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", utils.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server forced to shutdown", utils.Err(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		dispatcher.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("server exited")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, exiting")
	}
}

// initDatabase открывает БД и проверяет соединение с повторами
func initDatabase(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Database.Driver == "sqlite3" {
		// sqlite не любит конкурентных писателей
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	retryCfg := retry.NetworkConfig()
	retryCfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("database ping failed, retrying",
			utils.Attempt(attempt), utils.Err(err), utils.Duration("delay", delay))
	}

	err = retry.Do(ctx, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	}, retryCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// broadcastStatus периодически рассылает состояние движка клиентам дашборда
func broadcastStatus(ctx context.Context, hub *websocket.Hub, engine *bot.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if hub.ClientCount() > 0 {
				hub.BroadcastStatus(engine.Status())
			}
		}
	}
}
