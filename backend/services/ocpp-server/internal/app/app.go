package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"

	libdb "chargehub/backend/libs/db"
	"chargehub/backend/libs/logging"
	libredis "chargehub/backend/libs/redis"
	"chargehub/backend/services/ocpp-server/internal/billing"
	"chargehub/backend/services/ocpp-server/internal/commands"
	"chargehub/backend/services/ocpp-server/internal/config"
	ocpphandlers "chargehub/backend/services/ocpp-server/internal/handlers"
	httpserver "chargehub/backend/services/ocpp-server/internal/http"
	adminhandlers "chargehub/backend/services/ocpp-server/internal/http/handlers"
	"chargehub/backend/services/ocpp-server/internal/http/middleware"
	"chargehub/backend/services/ocpp-server/internal/memstore"
	"chargehub/backend/services/ocpp-server/internal/notify"
	"chargehub/backend/services/ocpp-server/internal/ocpp"
	"chargehub/backend/services/ocpp-server/internal/redisstore"
	"chargehub/backend/services/ocpp-server/internal/repository"
	"chargehub/backend/services/ocpp-server/internal/revenue"
	"chargehub/backend/services/ocpp-server/internal/scheduler"
	"chargehub/backend/services/ocpp-server/internal/service"
	"chargehub/backend/services/ocpp-server/internal/sessions"
	"chargehub/backend/services/ocpp-server/internal/ws"
)

// chargePointStore is everything the gateway needs from charge point storage.
type chargePointStore interface {
	ocpphandlers.ChargePointRegistry
	sessions.ChargePointStore
	adminhandlers.ChargePointLister
}

// messageLog archives frames and reads them back.
type messageLog interface {
	ocpp.OCPPLogRepository
	adminhandlers.MessageLog
}

type storage struct {
	sessions     sessions.SessionStore
	reservations sessions.ReservationStore
	chargePoints chargePointStore
	cards        sessions.CardDirectory
	wallets      billing.Store
	revenue      revenue.Recorder
	messages     messageLog
	outbox       notify.Outbox
}

// App wires all dependencies for the OCPP server.
type App struct {
	server     *httpserver.Server
	manager    *ws.Manager
	scheduler  *scheduler.Scheduler
	dispatcher *notify.Dispatcher
	finalizer  *sessions.Finalizer
	closers    []func()
	logger     *zap.Logger
}

// New builds the application graph.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	store, err := a.openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Mongo.URI != "" {
		mongoLog, err := repository.NewMongoMessageLog(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = mongoLog.Close(context.Background()) })
		store.messages = mongoLog
	}

	var cache *redisstore.Store
	if cfg.Redis.Addr != "" {
		client, err := libredis.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		cache = redisstore.NewStore(client, cfg.RedisTTL())
	}

	revenueSink, err := a.revenueSink(cfg, store.revenue)
	if err != nil {
		return nil, err
	}

	a.dispatcher, err = a.notifier(cfg, store.outbox)
	if err != nil {
		return nil, err
	}

	gst, pst := cfg.TaxRates()
	ledger := billing.NewLedger(store.wallets, billing.StaticTaxRates{GST: gst, PST: pst}, logger.Named("ledger"))

	a.manager = ws.NewManager(cfg.PingInterval(), 0, logger.Named("ws"))
	cmdManager := commands.NewManager(a.manager, commands.Config{Timeout: cfg.CommandTimeout()}, logger.Named("commands"))

	a.scheduler = scheduler.New(scheduler.Config{Workers: cfg.Scheduler.Workers}, logger.Named("scheduler"))

	sessionCfg := sessions.Config{
		MinCardBalance:           cfg.MinCardBalance(),
		DeliveryRateKWhPerMinute: cfg.DeliveryRate(),
		Currency:                 cfg.Billing.Currency,
	}
	deps := sessions.Deps{
		Sessions:     store.sessions,
		Reservations: store.reservations,
		ChargePoints: store.chargePoints,
		Cards:        store.cards,
		Ledger:       ledger,
		Scheduler:    a.scheduler,
		Notifier:     a.dispatcher,
		Revenue:      revenueSink,
		RemoteStop:   commands.NewRemoteStopper(cmdManager),
		Logger:       logger.Named("sessions"),
	}
	if cache != nil {
		deps.Cache = cache
	}
	resolver := sessions.NewResolver(sessionCfg, deps)
	a.finalizer = sessions.NewFinalizer(sessionCfg, deps)

	stationState := service.NewStationState()
	router := ocpp.NewRouter()
	ocpphandlers.Register(router, ocpphandlers.Deps{
		ChargePoints:      store.chargePoints,
		Cards:             store.cards,
		Resolver:          resolver,
		Settler:           a.finalizer,
		Transactions:      service.NewTransactionStore(),
		State:             stationState,
		HeartbeatInterval: cfg.HeartbeatInterval(),
		Logger:            logger.Named("handlers"),
	})
	processor := ocpp.NewProcessor(ocpp.NewParser(), router, cmdManager, store.messages, logger.Named("ocpp"))

	wsServer := ws.NewServer(ctx, a.manager, processor, ws.Options{WriteTimeout: cfg.WriteTimeout()}, ws.Hooks{
		OnConnect: func(ctx context.Context, stationID string) {
			if err := store.chargePoints.SetAvailability(ctx, stationID, true); err != nil {
				logger.Debug("mark charge point available", zap.String("station_id", stationID), zap.Error(err))
			}
		},
		OnDisconnect: func(ctx context.Context, stationID string) {
			if n := cmdManager.FailStation(stationID, "connection lost"); n > 0 {
				logger.Info("pending commands failed", zap.String("station_id", stationID), zap.Int("count", n))
			}
			if err := store.chargePoints.SetAvailability(ctx, stationID, false); err != nil {
				logger.Debug("mark charge point unavailable", zap.String("station_id", stationID), zap.Error(err))
			}
		},
	}, logger.Named("ws"))

	var active adminhandlers.ActiveSessions
	if cache != nil {
		active = cache
	}
	var auth func(httprouter.Handle) httprouter.Handle
	if cfg.Admin.JWTSecret != "" {
		auth = middleware.AuthMiddleware(cfg.Admin.JWTSecret)
	} else {
		logger.Warn("admin api disabled: no jwt secret configured")
	}

	handler := httpserver.NewRouter(httpserver.RouterDeps{
		WebSocket:    wsServer.HandleWS,
		ChargePoints: adminhandlers.NewChargePointsHandlers(store.chargePoints, a.manager, stationState, cmdManager, store.messages, cfg.CommandTimeout(), logger),
		Sessions:     adminhandlers.NewSessionsHandlers(a.finalizer, active, logger),
		Accounts:     adminhandlers.NewAccountsHandlers(ledger, logger),
		Health: func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		},
	}, auth)

	accessLog := zap.NewStdLog(logger.Named("access")).Writer()
	a.server = httpserver.NewServer(cfg.HTTPAddress(), handler, logger,
		gorillahandlers.RecoveryHandler(
			gorillahandlers.RecoveryLogger(logging.StdLogger{Logger: logger}),
			gorillahandlers.PrintRecoveryStack(true),
		),
		func(next http.Handler) http.Handler { return gorillahandlers.CombinedLoggingHandler(accessLog, next) },
	)

	ok = true
	return a, nil
}

func (a *App) openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		a.logger.Warn("using in-memory storage; state is lost on restart")
		mem := memstore.New()
		return &storage{
			sessions:     mem.Sessions(),
			reservations: mem.Reservations(),
			chargePoints: mem.ChargePoints(),
			cards:        mem,
			wallets:      mem,
			revenue:      mem,
			messages:     mem,
		}, nil
	}

	sqlDB, err := libdb.NewPostgresDB(ctx, cfg.Database.DSN, libdb.PoolOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		ConnLifetime: cfg.Database.ConnLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, func() { closeDB(sqlDB, a.logger) })

	if cfg.Database.Migrate {
		if err := repository.Migrate(ctx, sqlDB); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &storage{
		sessions:     repository.NewSessionRepository(sqlDB),
		reservations: repository.NewReservationRepository(sqlDB),
		chargePoints: repository.NewChargePointRepository(sqlDB),
		cards:        repository.NewCardRepository(sqlDB),
		wallets:      repository.NewWalletRepository(sqlDB),
		revenue:      repository.NewRevenueRepository(sqlDB),
		messages:     repository.NewOCPPLogRepository(sqlDB),
		outbox:       repository.NewNotificationRepository(sqlDB),
	}, nil
}

func (a *App) revenueSink(cfg *config.Config, primary revenue.Recorder) (revenue.Recorder, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return primary, nil
	}
	sink, err := revenue.NewKafkaSink(revenue.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.RevenueTopic))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = sink.Close() })
	return revenue.NewMulti(a.logger.Named("revenue"), primary, sink), nil
}

func (a *App) notifier(cfg *config.Config, outbox notify.Outbox) (*notify.Dispatcher, error) {
	d := notify.NewDispatcher(0, a.logger.Named("notify"))
	log := notify.LogSink(a.logger.Named("notify"))
	d.AddUserSink(log)
	if outbox != nil {
		d.AddUserSink(notify.OutboxSink(outbox))
	}
	d.AddAdminSink(log)
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramSink(cfg.Telegram.Token, cfg.Telegram.AdminChatIDs)
		if err != nil {
			return nil, err
		}
		d.AddAdminSink(tg)
	}
	return d, nil
}

// Run starts background workers and the HTTP server; it returns when ctx ends.
func (a *App) Run(ctx context.Context) error {
	a.dispatcher.Start(ctx)
	a.scheduler.Start(ctx, a.finalizer.AutoStop)
	go a.manager.Start(ctx)

	err := a.server.Run(ctx)

	a.scheduler.Stop()
	a.dispatcher.Stop()
	return err
}

// Close releases resources.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("failed to close db", zap.Error(err))
	}
}
