// cmd/fulfillment-service/main.go
package main

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"

	"printforge/internal/pkg/bootstrap"
	"printforge/internal/pkg/config"
	"printforge/internal/pkg/cooldown"
	"printforge/internal/pkg/httpclient"
	"printforge/internal/pkg/logger"
	"printforge/internal/pkg/mq"
	"printforge/internal/pkg/redis"
	"printforge/internal/pkg/retry"
	"printforge/internal/pkg/webhook"
	"printforge/internal/service/order/application"
	"printforge/internal/service/order/domain/port"
	"printforge/internal/service/order/infrastructure"
	"printforge/internal/service/order/infrastructure/adapter"
	"printforge/internal/service/order/infrastructure/rule"
	"printforge/internal/service/order/interfaces"
	"printforge/internal/zookeeper"
)

const serviceName = "fulfillment-service"

func main() {
	cfg, err := config.Load(getEnv("CONFIG_FILE", "configs/fulfillment.yaml"))
	if err != nil {
		logger.L().Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.App.ServiceName == "" {
		cfg.App.ServiceName = serviceName
	}

	err = bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      cfg.App.ServiceName,
		Config:           cfg,
		RegisterHandlers: registerHandlers,
	})
	if err != nil {
		logger.L().Fatal().Err(err).Msg("service exited with error")
	}
}

// registerHandlers 是应用的组装根：创建并组装所有依赖项，然后注册路由
func registerHandlers(app bootstrap.AppCtx) error {
	cfg := app.Config
	tracer := otel.Tracer(cfg.App.ServiceName)

	// 1. 基础设施
	db, err := infrastructure.OpenMySQL(cfg.Infra.MySQL)
	if err != nil {
		return err
	}
	app.OnShutdown("mysql", func(context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	orders := infrastructure.NewGormOrderRepository(db)
	fulfillments := infrastructure.NewGormFulfillmentRepository(db)
	assets := infrastructure.NewGormAssetRepository(db)
	market := infrastructure.NewGormMarketRepository(db)
	credits := infrastructure.NewGormCreditRepository(db)

	sizes, err := rule.NewCELSizePolicy(cfg.Fulfillment.PremiumRule, cfg.Fulfillment.Sizes)
	if err != nil {
		return err
	}

	// 2. 通知：Kafka 写入 + 异步分发
	kafkaWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.NotificationTopic)
	app.OnShutdown("kafka-writer", func(context.Context) error { return kafkaWriter.Close() })

	dispatcher := application.NewNotificationDispatcher(
		adapter.NewNotificationKafkaAdapter(kafkaWriter),
		cfg.Notifications.QueueSize,
		cfg.Notifications.Workers,
		cfg.Notifications.SendTimeout,
	)
	dispatcher.Start()
	app.OnShutdown("notification-dispatcher", dispatcher.Stop)

	notifier := application.NewNotifier(dispatcher, application.NotifierConfig{
		PartnerName:  cfg.Partner.Name,
		PartnerEmail: cfg.Partner.Email,
		AdminEmail:   cfg.Alerts.AdminEmail,
	})

	// 3. 告警冷却存储
	var store cooldown.Store = cooldown.NewMemoryStore()
	if cfg.Alerts.Store == "redis" {
		redisClient, err := redis.NewClient(context.Background(), cfg.Infra.Redis.Addrs, cfg.Infra.Redis.Password, cfg.Infra.Redis.DB)
		if err != nil {
			return err
		}
		app.OnShutdown("redis", func(context.Context) error { return redisClient.Close() })
		store = cooldown.NewRedisStore(redisClient, cfg.App.ServiceName+":alert:")
	}
	alerts := application.NewAlertNotifier(store, cfg.Alerts.Cooldown, notifier)

	// 4. 远程服务与资源生成
	httpClient := httpclient.NewClient(tracer)
	catalog := adapter.NewCatalogHTTPAdapter(httpClient, cfg.Services.CatalogURL)
	var fallback port.Upscaler
	if cfg.Services.UpscalerFallbackURL != "" {
		fallback = adapter.NewUpscalerHTTPAdapter(httpClient, "fallback", cfg.Services.UpscalerFallbackURL, cfg.Services.UpscalerAPIKey)
	}
	generator := application.NewAssetService(
		catalog,
		adapter.NewRendererHTTPAdapter(httpClient, cfg.Services.RendererURL),
		adapter.NewUpscalerHTTPAdapter(httpClient, "primary", cfg.Services.UpscalerPrimaryURL, cfg.Services.UpscalerAPIKey),
		fallback,
		assets,
		sizes,
		retry.NewExecutor(alerts),
		application.AssetServiceConfig{
			MinSourceRatio: cfg.Fulfillment.MinSourceRatio,
			Retry: retry.Policy{
				MaxPrimaryAttempts:  cfg.Retry.MaxPrimaryAttempts,
				MaxFallbackAttempts: cfg.Retry.MaxFallbackAttempts,
				BaseDelay:           cfg.Retry.BaseDelay,
			},
		},
		tracer,
	)

	// 5. 可选的 ZooKeeper 订单锁
	var locker port.OrderLocker = port.NoopLocker{}
	if len(cfg.Infra.Zookeeper.Servers) > 0 {
		conn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if err != nil {
			return err
		}
		app.OnShutdown("zookeeper", func(context.Context) error { conn.Close(); return nil })
		locker = zookeeper.NewOrderLocker(conn, cfg.Infra.Zookeeper.LockTimeout)
	}

	// 6. 用例
	rollup := application.NewRollup(orders, fulfillments)
	orchestrator := application.NewFulfillmentOrchestrator(fulfillments, assets, catalog, generator, sizes, application.OrchestratorConfig{
		Partner:           cfg.Partner.Name,
		Concurrency:       cfg.Fulfillment.ItemConcurrency,
		GenerationTimeout: cfg.Fulfillment.GenerationTimeout,
		PrintDPI:          cfg.Fulfillment.PrintDPI,
	}, tracer)

	processor := application.NewPaymentEventProcessor(
		webhook.NewVerifier(cfg.Payment.WebhookSecret, cfg.Payment.SignatureTolerance),
		application.NewOrderFinalizer(orders, tracer),
		application.NewMarketFinalizer(market, tracer),
		application.NewCreditService(credits, cfg.Credits.FirstPurchaseBonus, tracer),
		orchestrator,
		notifier,
		locker,
		application.ProcessorConfig{Budget: cfg.HTTP.WebhookTimeout},
		tracer,
	)
	partner := application.NewPartnerService(orders, fulfillments, rollup, notifier, tracer)
	admin := application.NewAdminService(orders, fulfillments, generator, rollup, notifier, application.AdminConfig{
		Partner:         cfg.Partner.Name,
		GenerateTimeout: cfg.Admin.GenerateTimeout,
		PrintDPI:        cfg.Fulfillment.PrintDPI,
		FinalDPI:        cfg.Fulfillment.FinalDPI,
	}, tracer)

	// 7. 路由
	handler := interfaces.NewFulfillmentHandler(processor, partner, admin, interfaces.HandlerConfig{
		SignatureHeader:      cfg.Payment.SignatureHeader,
		PartnerSecretHeader:  cfg.Partner.SecretHeader,
		PartnerWebhookSecret: cfg.Partner.WebhookSecret,
		AdminToken:           cfg.Admin.Token,
	})
	handler.RegisterRoutes(app.Mux)

	logger.L().Info().Int("sizes", len(cfg.Fulfillment.Sizes)).Msg("✅ fulfillment pipeline wired")
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
