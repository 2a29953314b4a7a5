package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	redisCache "github.com/relaydesk/relaydesk/internal/cache/redis"
	"github.com/relaydesk/relaydesk/internal/domain"
	"github.com/relaydesk/relaydesk/internal/gateway"
	amqpHandler "github.com/relaydesk/relaydesk/internal/handler/amqp"
	httpHandler "github.com/relaydesk/relaydesk/internal/handler/http"
	"github.com/relaydesk/relaydesk/internal/persistant/postgresql"
	convRepo "github.com/relaydesk/relaydesk/internal/repository/conversation"
	sessionRepo "github.com/relaydesk/relaydesk/internal/repository/session"
	"github.com/relaydesk/relaydesk/internal/service"
	"gorm.io/gorm"
)

var (
	configFile = flag.String("config", "config.json", "config file path")
)

func main() {
	// create root context
	appCtx, appCtxCancel := context.WithCancel(context.Background())
	defer appCtxCancel()

	// listen for terminate signal
	notifyCtx, stop := signal.NotifyContext(appCtx, syscall.SIGTERM)
	defer stop()

	// parse flags
	flag.Parse()

	// parse config
	config, err := ReadConfigJson(*configFile)
	if err != nil {
		log.Fatalf("failed to read config file: %v", err)
	}

	// initialize external dependencies
	db, rClient, err := initExternalDependencies(notifyCtx, config)
	if err != nil {
		log.Fatalf("failed to initialize external dependencies: %v", err)
	}

	// setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// init repositories
	sessions := sessionRepo.NewSessionRepository(db)
	conversations := convRepo.NewConversationRepository(db)

	// init gateway client
	gatewayClient, err := gateway.NewHTTPClient(
		config.GatewayBaseUrl,
		config.GatewayToken,
		config.SendTimeout,
		&config.GatewayMaxRetry,
	)
	if err != nil {
		log.Fatalf("failed to initiate gateway client: %v", err)
	}

	// one lock set shared by commands and event application so writes to the
	// same session are serialized across both paths
	locks := service.NewKeyedMutex()

	// init services
	eventProcessor := service.NewEventProcessor(
		sessions,
		conversations,
		rClient,
		locks,
		logger.With(slog.String("component", "eventProcessor")),
	)
	sessionService := service.NewSessionService(
		sessions,
		gatewayClient,
		rClient,
		locks,
		logger.With(slog.String("component", "sessionService")),
		config.CommandTimeout,
	)
	dispatcher := service.NewDispatcher(
		sessions,
		conversations,
		gatewayClient,
		rClient,
		locks,
		logger.With(slog.String("component", "dispatcher")),
		config.SendTimeout,
	)

	// init http handler
	httpHandler := httpHandler.NewHttpHandler(
		fmt.Sprintf(":%d", config.HttpPort),
		config.WebhookSecret,
		sessionService,
		dispatcher,
		eventProcessor,
		logger.With(slog.String("component", "httpHandler")),
	)

	// init amqp event consumer when configured
	var consumer *amqpHandler.Consumer
	if config.AmqpUrl != "" {
		consumer, err = amqpHandler.NewConsumer(
			config.AmqpUrl,
			config.AmqpExchange,
			eventProcessor,
			logger.With(slog.String("component", "amqpConsumer")),
			config.AmqpWorkerCount,
		)
		if err != nil {
			log.Fatalf("failed to initiate amqp consumer: %v", err)
		}
		if err := consumer.Start(config.AmqpQueue); err != nil {
			log.Fatalf("failed to start amqp consumer: %v", err)
		}
	}

	wg := sync.WaitGroup{}
	// run http handler
	wg.Go(func() {
		if err := httpHandler.Run(); err != nil {
			logger.Error("http server encountered with an error and closed", "error", err.Error())
		}
		// cancel app context if http handler fails
		appCtxCancel()
	})

	// graceful shutdown
	wg.Go(func() {
		<-notifyCtx.Done()
		logger.Info("application shutting down...")

		shutDownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		if consumer != nil {
			if err := consumer.Close(); err != nil {
				logger.Error("failed to close amqp consumer", "error", err.Error())
			}
		}
		httpHandler.Shutdown(shutDownCtx)
		postgresql.Close(db)
	})

	wg.Wait()
	os.Exit(0)
}

func initExternalDependencies(ctx context.Context, config *Config) (db *gorm.DB, rCache *redisCache.RedisCache, err error) {
	// initialize database
	db, err = postgresql.Initialize(config.DbConnString, []any{
		&domain.Session{},
		&domain.Conversation{},
		&domain.Message{},
	})
	if err != nil {
		return
	}

	// initialize cache
	rCache, err = redisCache.NewRedisCache(ctx, config.RedisAddr)

	return
}
