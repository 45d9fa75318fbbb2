package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/lab-status-service/internal/api/http"
	"github.com/spec-kit/lab-status-service/internal/api/http/handlers"
	"github.com/spec-kit/lab-status-service/internal/auth"
	"github.com/spec-kit/lab-status-service/internal/cache"
	"github.com/spec-kit/lab-status-service/internal/config"
	"github.com/spec-kit/lab-status-service/internal/domain"
	"github.com/spec-kit/lab-status-service/internal/events"
	"github.com/spec-kit/lab-status-service/internal/observability"
	"github.com/spec-kit/lab-status-service/internal/persistence"
	"github.com/spec-kit/lab-status-service/internal/repository"
	"github.com/spec-kit/lab-status-service/internal/repository/memory"
	"github.com/spec-kit/lab-status-service/internal/service"
	"github.com/spec-kit/lab-status-service/internal/worker"
	apperrors "github.com/spec-kit/lab-status-service/pkg/util"
)

// stores groups the repository implementations the server runs on.
type stores struct {
	uow     repository.UnitOfWork
	reports repository.ReportRepository
	users   repository.UserRepository
}

func newServeCmd(rt *cliEnv) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rooms, _ := cmd.Flags().GetStringSlice("provision")
			admin, _ := cmd.Flags().GetString("admin")
			return serve(cmd.Context(), rt, rooms, admin)
		},
	}
	cmd.Flags().StringSlice("provision", nil, "Rooms to provision at startup as ROOM=N, repeatable")
	cmd.Flags().String("admin", "", "Bootstrap admin account as username:password, created when missing")
	return cmd
}

func serve(ctx context.Context, rt *cliEnv, rooms []string, admin string) error {
	cfg, logger := rt.cfg, rt.logger

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if pg.Enabled() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}
	st := openStores(pg)

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)

	sequencer, err := ticketSequencer(ctx, cfg.Lifecycle, pg, redis, st.uow, logger)
	if err != nil {
		return err
	}

	authService := service.NewAuthService(cfg.Auth, st.users)
	lifecycle := service.NewLifecycleService(service.LifecycleDependencies{
		UnitOfWork: st.uow,
		Sequencer:  sequencer,
		Users:      st.users,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger,
	})
	var reportCache service.ReportCache
	if rc := cache.NewReportCache(redis.ClientHandle(), cfg.Redis.ReportCacheTTL(), logger); rc != nil {
		reportCache = rc
	}
	reports := service.NewReportService(service.ReportDependencies{
		ReportRepo: st.reports,
		UserRepo:   st.users,
		Cache:      reportCache,
		Logger:     logger,
	})
	analytics := service.NewAnalyticsService(st.reports, logger, nil)
	notifications := service.NewNotificationService(dispatcher, logger, cfg.Notification)

	var broker *events.AMQPPublisher
	if cfg.Broker.URL != "" {
		broker = events.NewAMQPPublisher(cfg.Broker.URL, cfg.Broker.Queue, logger)
		defer broker.Close()
	}
	worker.StartNotificationWorker(worker.Subscribers{
		Dispatcher:    dispatcher,
		Notifications: notifications,
		Reports:       reports,
		Broker:        broker,
		Logger:        logger,
	})

	if err := bootstrap(ctx, st.uow, authService, rooms, admin, logger); err != nil {
		return err
	}

	app := httptransport.NewApp(cfg.App.Name, logger, metrics)
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Auth:           handlers.NewAuthHandler(authService),
		Status:         handlers.NewStatusHandler(lifecycle),
		Reports:        handlers.NewReportsHandler(reports),
		Metrics:        handlers.NewMetricsHandler(analytics, metrics),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), st.users),
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", cfg.App.Addr()),
			zap.Bool("postgres", pg.Enabled()),
			zap.String("sequencer", cfg.Lifecycle.Sequencer))
		listenErr <- app.Listen(cfg.App.Addr())
	}()

	select {
	case err := <-listenErr:
		return fmt.Errorf("fiber listen: %w", err)
	case <-ctx.Done():
		logger.Info("shutting down")
	}
	return app.ShutdownWithTimeout(10 * time.Second)
}

func openStores(pg *persistence.Postgres) stores {
	if !pg.Enabled() {
		store := memory.NewStore()
		return stores{uow: store, reports: store, users: store}
	}
	pool := pg.PoolHandle()
	return stores{
		uow:     repository.NewUnitOfWork(pool),
		reports: repository.NewReportRepository(pool),
		users:   repository.NewUserRepository(pool),
	}
}

// ticketSequencer returns nil for the Postgres sequence, which is drawn inside each unit of
// work; that sequence is first synced past serials a Redis counter may have issued. The
// Redis counter is seeded past the highest serial already issued.
func ticketSequencer(ctx context.Context, cfg config.LifecycleConfig, pg *persistence.Postgres, redis *persistence.Redis, uow repository.UnitOfWork, logger *zap.Logger) (repository.TicketSequencer, error) {
	if cfg.Sequencer != config.SequencerRedis {
		if pg.Enabled() {
			last, err := repository.SyncSerialSequence(ctx, pg.PoolHandle())
			if err != nil {
				return nil, err
			}
			logger.Info("ticket serial sequence synced", zap.Int64("last_value", last))
		}
		return nil, nil
	}
	client := redis.ClientHandle()
	if client == nil {
		return nil, errors.New("redis sequencer selected but redis is disabled")
	}

	var floor int64
	err := uow.Do(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		floor, err = tx.Events().MaxSerial(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read max ticket serial: %w", err)
	}
	seq := cache.NewRedisSequencer(client, cfg.SequencerRedisKey)
	current, err := seq.Seed(ctx, floor)
	if err != nil {
		return nil, err
	}
	logger.Info("redis ticket sequencer ready", zap.Int64("floor", floor), zap.Int64("current", current))
	return seq, nil
}

// bootstrap applies the --provision and --admin startup flags.
func bootstrap(ctx context.Context, uow repository.UnitOfWork, authService *service.AuthService, rooms []string, admin string, logger *zap.Logger) error {
	for _, spec := range rooms {
		room, count, err := parseRoomSpec(spec)
		if err != nil {
			return err
		}
		created, err := provisionRoom(ctx, uow, room, count)
		if err != nil {
			return fmt.Errorf("provision %s: %w", room, err)
		}
		logger.Info("room provisioned", zap.String("room_id", room), zap.Int("created", created))
	}

	if admin == "" {
		return nil
	}
	username, password, ok := strings.Cut(admin, ":")
	if !ok {
		return errors.New("--admin must be username:password")
	}
	user, err := authService.CreateUser(ctx, service.CreateUserInput{
		Username:  username,
		Password:  password,
		FirstName: username,
		Role:      domain.UserRoleAdmin,
	})
	switch {
	case apperrors.CodeOf(err) == apperrors.CodeConflict:
		logger.Info("bootstrap admin already exists", zap.String("username", username))
	case err != nil:
		return fmt.Errorf("create admin: %w", err)
	default:
		logger.Info("bootstrap admin created", zap.Int64("user_id", user.ID))
	}
	return nil
}
