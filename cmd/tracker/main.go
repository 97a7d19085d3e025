package main

import (
	"context"
	"flag"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/totegamma/attendance-tracker"
	"github.com/totegamma/attendance-tracker/internal/config"
	"github.com/totegamma/attendance-tracker/internal/infra/database"
	"github.com/totegamma/attendance-tracker/internal/infra/gateway"
	"github.com/totegamma/attendance-tracker/internal/infra/repository"
	"github.com/totegamma/attendance-tracker/internal/infra/wallet"
	"github.com/totegamma/attendance-tracker/internal/interface/rest"
	restmw "github.com/totegamma/attendance-tracker/internal/interface/rest/middleware"
	"github.com/totegamma/attendance-tracker/internal/notify"
	"github.com/totegamma/attendance-tracker/internal/service"
	"github.com/totegamma/attendance-tracker/internal/usecase"
)

const serviceName = "attendance-tracker"

var version = "dev"

func main() {
	configPath := flag.String("config", "/etc/tracker/config.yaml", "path to the YAML configuration")
	envPath := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	logger := log.New("main")

	if err := config.LoadEnv(*envPath); err != nil {
		logger.Fatalf("env: %v", err)
	}
	conf, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if conf.Server.EnableTrace {
		cleanup, err := setupTraceProvider(ctx, conf.Server.TraceEndpoint)
		if err != nil {
			logger.Fatalf("trace: %v", err)
		}
		defer cleanup()
	}

	client, err := ethclient.DialContext(ctx, conf.Ledger.RPCURL)
	if err != nil {
		logger.Fatalf("dial %s: %v", conf.Ledger.RPCURL, err)
	}
	defer client.Close()

	keys := wallet.New(big.NewInt(conf.Ledger.ChainID))
	for _, k := range conf.Wallet.PrivateKeys {
		addr, err := keys.AddPrivateKey(k)
		if err != nil {
			logger.Fatalf("wallet: %v", err)
		}
		logger.Infof("loaded key for %s", tracker.ShortAddress(addr))
	}
	if conf.Wallet.KeystoreDir != "" {
		if err := keys.OpenKeystore(conf.Wallet.KeystoreDir, conf.Wallet.Passphrase); err != nil {
			logger.Fatalf("wallet: %v", err)
		}
	}

	var (
		walletPort usecase.Wallet
		selector   rest.AccountSelector
	)
	if len(keys.Accounts()) > 0 {
		walletPort = keys
		selector = keys
	} else {
		logger.Warn("no wallet accounts configured; the session will report a configuration error")
	}

	ledger, err := gateway.NewGateway(conf.Contract, client, keys, conf.ConfirmTimeout)
	if err != nil {
		logger.Fatalf("gateway: %v", err)
	}

	notices := notify.NewQueue(conf.NotificationTTL)

	var hints usecase.IdentityHintStore
	if conf.Server.MemcachedAddr != "" {
		hints = repository.NewHintRepository(database.NewMemcached(conf.Server.MemcachedAddr), conf.Contract)
	}

	var publisher usecase.SignalPublisher
	if conf.Server.RedisAddr != "" {
		rdb, err := database.NewRedis(ctx, conf.Server.RedisAddr, conf.Server.RedisDB)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		signals := service.NewSignalService(rdb)
		publisher = signals
		go forwardNotifications(ctx, notices, signals)
	}

	var events *usecase.EventUsecase
	if conf.Server.PostgresDsn != "" {
		db, err := database.NewPostgres(conf.Server.PostgresDsn)
		if err != nil {
			logger.Fatalf("postgres: %v", err)
		}
		events = usecase.NewEventUsecase(repository.NewEventRepository(db), publisher)
		go watchEvents(ctx, ledger, conf.Ledger.StartBlock, events)
	}

	session := usecase.NewSessionManager(walletPort, ledger, hints, notices)
	actions := usecase.NewActionOrchestrator(session, ledger, notices, conf.Schedule)

	go func() {
		if err := session.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("session: %v", err)
		}
	}()
	if err := session.Connect(ctx); err != nil {
		logger.Warnf("initial connect: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(log.INFO)
	if conf.Server.EnableTrace {
		e.Use(otelecho.Middleware(serviceName))
	}
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handler := rest.NewHandler(session, actions, events, notices, selector, restmw.NewOperatorToken(conf.Server.OperatorToken))
	handler.RegisterRoutes(e)

	go func() {
		if err := e.Start(conf.Server.Listen); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
}

// watchEvents keeps the contract log subscription alive until ctx is done.
func watchEvents(ctx context.Context, ledger *gateway.Gateway, startBlock uint64, events *usecase.EventUsecase) {
	logger := log.New("watcher")
	for {
		err := ledger.Watch(ctx, startBlock, events.Record)
		if ctx.Err() != nil {
			return
		}
		logger.Warnf("event watch stopped: %v; retrying", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Second):
		}
	}
}

func forwardNotifications(ctx context.Context, notices *notify.Queue, publisher usecase.SignalPublisher) {
	logger := log.New("signal")
	ch := make(chan tracker.Notification, 16)
	sub := notices.Subscribe(ch)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-ch:
			if n.Message == "" {
				continue
			}
			if err := publisher.PublishNotification(ctx, n); err != nil {
				logger.Warnf("publish notification: %v", err)
			}
		}
	}
}

func setupTraceProvider(ctx context.Context, endpoint string) (func(), error) {
	exporter, err := otlptracehttp.New(
		ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Errorf("trace provider shutdown: %v", err)
		}
	}
	return cleanup, nil
}
