package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/ITspirit/vanilla/internal/cache"
	"github.com/ITspirit/vanilla/internal/config"
	"github.com/ITspirit/vanilla/internal/flow"
	httptransport "github.com/ITspirit/vanilla/internal/http"
	"github.com/ITspirit/vanilla/internal/http/handler"
	"github.com/ITspirit/vanilla/internal/httpx"
	"github.com/ITspirit/vanilla/internal/provider"
	"github.com/ITspirit/vanilla/internal/repository"
	"github.com/ITspirit/vanilla/internal/server"
	"github.com/ITspirit/vanilla/internal/stash"
	"github.com/ITspirit/vanilla/internal/statetoken"
	"github.com/ITspirit/vanilla/internal/telemetry"
	"github.com/ITspirit/vanilla/internal/token"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newPGXPool,
			newRedisClient,
			newProviderStore,
			newAccountLinker,
			newClientIDCache,
			newStateTokenService,
			newStashStore,
			newRequester,
			newExchangeClient,
			newProfileFetcher,
			newTokenGenerator,
			newFlowController,
			newIssuer,
			handler.NewSSOHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client, nil
}

func newProviderStore(pool *pgxpool.Pool) flow.ProviderStore {
	return repository.NewPostgresProviderRepo(pool)
}

func newAccountLinker(pool *pgxpool.Pool) flow.AccountLinker {
	return repository.NewPostgresAccountRepo(pool)
}

func newClientIDCache(cfg config.Config) (flow.Cache, error) {
	return cache.NewLRU(cfg.ClientCacheSize)
}

func newStateTokenService(client *redis.Client, cfg config.Config) flow.StateTokenService {
	return statetoken.NewService(client, cfg.StateTokenTTL)
}

func newStashStore(client *redis.Client) flow.StashStore {
	return stash.NewStore(client)
}

func newRequester(cfg config.Config, logger *zap.Logger) httpx.Requester {
	return httpx.NewClient(cfg.ProviderTimeout, logger)
}

func newExchangeClient(requester httpx.Requester, logger *zap.Logger) *provider.ExchangeClient {
	return provider.NewExchangeClient(requester, logger)
}

func newProfileFetcher(requester httpx.Requester, logger *zap.Logger) *provider.ProfileFetcher {
	return provider.NewProfileFetcher(requester, logger)
}

func newTokenGenerator(cfg config.Config) (*token.Generator, error) {
	return token.NewGenerator([]byte(cfg.TokenSigningSecret), cfg.TokenIssuer)
}

func newFlowController(
	providers flow.ProviderStore,
	stateTokens flow.StateTokenService,
	stashStore flow.StashStore,
	exchange *provider.ExchangeClient,
	fetcher *provider.ProfileFetcher,
	logger *zap.Logger,
) *flow.Controller {
	return flow.NewController(providers, stateTokens, stashStore, exchange, fetcher, logger)
}

func newIssuer(
	providers flow.ProviderStore,
	clientCache flow.Cache,
	fetcher *provider.ProfileFetcher,
	linker flow.AccountLinker,
	generator *token.Generator,
	logger *zap.Logger,
) *flow.Issuer {
	return flow.NewIssuer(providers, clientCache, fetcher, linker, generator, logger)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
