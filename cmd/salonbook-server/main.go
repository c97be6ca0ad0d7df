package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"salonbook/backend/internal/cache"
	"salonbook/backend/internal/config"
	"salonbook/backend/internal/domain"
	"salonbook/backend/internal/notify"
	"salonbook/backend/internal/paystack"
	"salonbook/backend/internal/service/auth"
	"salonbook/backend/internal/service/availability"
	"salonbook/backend/internal/service/booking"
	"salonbook/backend/internal/service/payments"
	"salonbook/backend/internal/service/transactions"
	"salonbook/backend/internal/store/postgres"
	"salonbook/backend/internal/telemetry"
	grpcTransport "salonbook/backend/internal/transport/grpc"
	httpTransport "salonbook/backend/internal/transport/http"
)

const serviceName = "salonbook-server"

var version = "dev"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", serviceName),
	)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	grpcAddr := net.JoinHostPort(cfg.GRPCHost, strconv.Itoa(cfg.GRPCPort))
	log.Info("starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("grpc_addr", grpcAddr),
		slog.String("log_level", cfg.LogLevel),
		slog.String("timezone", cfg.Schedule.Location.String()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: serviceName,
		Version:     version,
	}, log)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn("tracing shutdown failed", slog.Any("err", err))
		}
	}()

	if cfg.DBAutoMigrate {
		if err := postgres.Migrate(cfg.DatabaseURL, postgres.MigrateUp, log); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}()

	var (
		calendarCache availability.CalendarCache
		queueClient   *asynq.Client
		redisClient   *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient, err = cache.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		calendarCache = cache.NewCalendarCache(redisClient, cfg.CalendarTTL)

		queueClient = asynq.NewClient(queueRedisOpt(cfg))
		defer queueClient.Close()
		log.Info("redis enabled", slog.String("redis_addr", cfg.RedisAddr))
	} else {
		log.Warn("redis not configured; calendar cache and background queue disabled")
	}

	// A nil *SMTPMailer must stay out of the Deliverer interface so the
	// dispatcher sees a nil deliverer and skips mail.
	var mailer notify.Deliverer
	if m := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	}); m != nil {
		mailer = m
	} else {
		log.Warn("smtp not configured; emails will be skipped")
	}
	deliverer := mailer
	if mailer != nil && queueClient != nil {
		deliverer = notify.NewQueueDeliverer(queueClient)
	}
	dispatcher := notify.NewDispatcher(deliverer, cfg.AdminEmail, cfg.SMTP.FromName, log)

	template, err := scheduleTemplate(cfg.Schedule)
	if err != nil {
		return err
	}

	scheduleRepo := postgres.NewScheduleRepo(db)
	catalogRepo := postgres.NewCatalogRepo(db)
	bookingRepo := postgres.NewBookingRepo(db)
	paymentRepo := postgres.NewPaymentRepo(db)

	availabilitySvc := availability.NewService(scheduleRepo, catalogRepo, calendarCache, availability.Config{
		Template:    template,
		Location:    cfg.Schedule.Location,
		HorizonDays: cfg.Schedule.HorizonDays,
	}, log)
	bookingSvc := booking.NewService(bookingRepo, catalogRepo, availabilitySvc, dispatcher, log)
	transactionSvc := transactions.NewService(paymentRepo, log)

	if cfg.Paystack.SecretKey == "" {
		log.Warn("paystack secret key not configured; payment initialization and webhooks will fail")
	}
	gateway := paystack.NewClient(cfg.Paystack.SecretKey, cfg.Paystack.BaseURL, cfg.Paystack.Timeout)
	paymentSvc := payments.NewService(bookingRepo, paymentRepo, gateway, transactionSvc, dispatcher, payments.Config{
		Currency:       cfg.Paystack.Currency,
		CallbackURL:    cfg.Paystack.CallbackURL,
		DepositPercent: decimal.NewFromInt(int64(cfg.DepositPercent)),
		VerifyTimeout:  cfg.Paystack.Timeout,
		WebhookSecret:  cfg.Paystack.SecretKey,
	}, log)
	if queueClient != nil {
		paymentSvc.SetSink(payments.NewQueueSink(queueClient))
	}

	authSvc := auth.NewService(auth.Config{
		Secret:       cfg.Auth.JWTSecret,
		TokenTTL:     cfg.Auth.TokenTTL,
		AdminEmail:   cfg.Auth.AdminLogin,
		PasswordHash: cfg.Auth.AdminPasswordHash,
	}, log)
	if !authSvc.Enabled() {
		log.Warn("admin login not configured; admin routes will reject every request")
	}

	router := httpTransport.NewRouter(httpTransport.Services{
		Catalog:      catalogRepo,
		Availability: availabilitySvc,
		Bookings:     bookingSvc,
		Payments:     paymentSvc,
		Transactions: transactionSvc,
		Auth:         authSvc,
	}, httpTransport.Options{
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRPS:      cfg.RateLimitRPS,
		RateLimitBurst:    cfg.RateLimitBurst,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Ready:             readiness(db, redisClient),
		Logger:            log,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
	}

	healthServer := health.NewServer()
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout)),
	)
	grpcTransport.Register(grpcServer, grpcTransport.NewAvailabilityServer(availabilitySvc, log))
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(grpcTransport.ServiceName, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", grpcAddr))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server started", slog.String("http_addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		log.Info("grpc server started", slog.String("grpc_addr", grpcAddr))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	var worker *asynq.Server
	if queueClient != nil {
		worker = asynq.NewServer(queueRedisOpt(cfg), asynq.Config{
			Concurrency: 10,
			Queues:      map[string]int{"default": 1},
			Logger:      workerLogger{log: log.With(slog.String("component", "worker"))},
		})
		mux := asynq.NewServeMux()
		if mailer != nil {
			mux.Handle(notify.TypeEmailSend, notify.HandleEmailTask(mailer, log.With(slog.String("component", "worker"))))
		}
		mux.Handle(payments.TypePaymentReconcile, payments.HandleReconcileTask(paymentSvc, log.With(slog.String("component", "worker"))))
		if err := worker.Start(mux); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		log.Info("background worker started")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http graceful shutdown failed", slog.Any("err", err))
		}
		shutdownGRPC(log, grpcServer, cfg.ShutdownTimeout)
		if worker != nil {
			worker.Shutdown()
		}
		dispatcher.Wait()
		return nil
	})

	return g.Wait()
}

// openDatabase retries the first connection so the server can start
// alongside a database that is still booting.
func openDatabase(ctx context.Context, cfg config.Config, log *slog.Logger) (*bun.DB, error) {
	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)

	open := func() (*bun.DB, error) {
		return postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
			SlowQuery:       500 * time.Millisecond,
			Logger:          log,
		})
	}
	db, err := backoff.Retry(ctx, open,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(30*time.Second),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn("database not ready, retrying", slog.Any("err", err), slog.Duration("next", next))
		}),
	)
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return nil, err
	}
	return db, nil
}

func readiness(db *bun.DB, rdb *redis.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}
}

func scheduleTemplate(s config.Schedule) (availability.Template, error) {
	first, err := domain.ParseClockTime(s.DayStart)
	if err != nil {
		return availability.Template{}, fmt.Errorf("schedule.day_start: %w", err)
	}
	last, err := domain.ParseClockTime(s.DayEnd)
	if err != nil {
		return availability.Template{}, fmt.Errorf("schedule.day_end: %w", err)
	}
	return availability.Template{First: first, Last: last, Step: s.SlotMinutes}, nil
}

func queueRedisOpt(cfg config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisQueueDB,
	}
}

func defaultRequestTimeoutInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if _, ok := ctx.Deadline(); ok {
			return handler(ctx, req)
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctx, req)
	}
}

func shutdownGRPC(log *slog.Logger, s *grpc.Server, timeout time.Duration) {
	log.Info("shutting down grpc server", slog.Duration("timeout", timeout))

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		log.Info("grpc server stopped")
	case <-timer.C:
		log.Warn("grpc graceful shutdown timed out; forcing stop")
		s.Stop()
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func databaseLogArgs(databaseURL string) []any {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return []any{slog.String("db_url", "invalid")}
	}
	name := strings.TrimPrefix(u.Path, "/")
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "default"
	}
	if host == "" {
		host = "unknown"
	}
	if name == "" {
		name = "unknown"
	}
	return []any{
		slog.String("db_host", host),
		slog.String("db_port", port),
		slog.String("db_name", name),
	}
}

// workerLogger routes asynq's internal logging through slog.
type workerLogger struct {
	log *slog.Logger
}

func (l workerLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l workerLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l workerLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l workerLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l workerLogger) Fatal(args ...any) {
	l.log.Error(fmt.Sprint(args...))
	os.Exit(1)
}
