// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"printforge/internal/pkg/config"
	"printforge/internal/pkg/logger"
	"printforge/internal/pkg/nacos"
	"printforge/internal/pkg/tracing"
)

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// AppCtx 是注册路由时可用的公共组件
type AppCtx struct {
	Mux    *http.ServeMux
	Config *config.Config

	closers *[]closer
}

// OnShutdown 注册一个关停时执行的清理函数，按后进先出的顺序执行
func (a AppCtx) OnShutdown(name string, fn func(ctx context.Context) error) {
	*a.closers = append(*a.closers, closer{name: name, fn: fn})
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Config           *config.Config
	RegisterHandlers func(appCtx AppCtx) error // 每个服务注册自己的 HTTP 路由和依赖
}

// StartService 封装了通用的启动和优雅关停逻辑，阻塞直到收到退出信号。
func StartService(info AppInfo) error {
	cfg := info.Config
	logger.Init(info.ServiceName, cfg.App.LogLevel, cfg.App.LogFormat)
	log := logger.L()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		return err
	}

	// 2. 服务自己的依赖和路由
	closers := []closer{}
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		if err := info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg, closers: &closers}); err != nil {
			runClosers(context.Background(), closers)
			tracing.Shutdown(context.Background(), tp)
			return err
		}
	}

	// 3. 可选的 Nacos 注册
	var (
		namingClient *nacos.Client
		ip           string
	)
	if cfg.Infra.Nacos.ServerAddrs != "" {
		namingClient, ip, err = registerNacos(info.ServiceName, cfg)
		if err != nil {
			log.Warn().Err(err).Msg("⚠️ Nacos registration skipped")
			namingClient = nil
		}
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.HTTP.Port).Msgf("🚀 %s listening", info.ServiceName)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msgf("Shutting down service %s...", info.ServiceName)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()

		// 按顺序执行清理操作：先摘流量，再停服务，最后刷新 trace
		if namingClient != nil {
			if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, cfg.HTTP.Port); err != nil {
				log.Error().Err(err).Msg("Error deregistering from Nacos")
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error shutting down http server")
		} else {
			log.Info().Msg("HTTP server shut down.")
		}
		runClosers(shutdownCtx, closers)
		tracing.Shutdown(shutdownCtx, tp)
		return nil
	})

	err = g.Wait()
	log.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
	return err
}

func registerNacos(serviceName string, cfg *config.Config) (*nacos.Client, string, error) {
	client, err := nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		return nil, "", err
	}
	ip, err := nacos.OutboundIP()
	if err != nil {
		return nil, "", err
	}
	if err := client.RegisterServiceInstance(serviceName, ip, cfg.HTTP.Port); err != nil {
		return nil, "", err
	}
	return client, ip, nil
}

func runClosers(ctx context.Context, closers []closer) {
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(ctx); err != nil {
			logger.L().Error().Err(err).Str("component", c.name).Msg("error during shutdown")
			continue
		}
		logger.L().Info().Str("component", c.name).Msg("closed")
	}
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.HTTP.ShutdownTimeout > 0 {
		return cfg.HTTP.ShutdownTimeout
	}
	return 10 * time.Second
}
