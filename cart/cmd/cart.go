package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Alturino/cartsync/cart/internal/controller"
	"github.com/Alturino/cartsync/cart/internal/persistence"
	"github.com/Alturino/cartsync/cart/internal/repository"
	"github.com/Alturino/cartsync/cart/internal/service"
	"github.com/Alturino/cartsync/cart/internal/session"
	"github.com/Alturino/cartsync/internal/config"
	"github.com/Alturino/cartsync/internal/constants"
	inErrors "github.com/Alturino/cartsync/internal/errors"
	"github.com/Alturino/cartsync/internal/infra"
	"github.com/Alturino/cartsync/internal/log"
	"github.com/Alturino/cartsync/internal/middleware"
	"github.com/Alturino/cartsync/internal/otel"
)

// newRepository builds the remote cart store selected by
// application.store_backend. The returned func releases its connections.
func newRepository(c context.Context, cfg *config.Config) (repository.Repository, func(), error) {
	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyTag, "main newRepository").
		Str(log.KeyStoreBackend, cfg.Application.StoreBackend).
		Logger()

	switch cfg.Application.StoreBackend {
	case config.StoreBackendMemory:
		logger.Warn().Msg("using in memory cart store, carts are lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	case config.StoreBackendPostgres:
	default:
		err := fmt.Errorf("failed selecting store backend=%s with error=%w", cfg.Application.StoreBackend, inErrors.ErrUnknownStore)
		logger.Error().Err(err).Msg(err.Error())
		return nil, nil, err
	}

	logger = logger.With().Str(log.KeyProcess, "initializing database").Logger()
	logger.Info().Msg("initializing database")
	c = logger.WithContext(c)
	db := infra.NewDatabaseClient(c, cfg.Database)
	logger.Info().Msg("initialized database")

	logger = logger.With().Str(log.KeyProcess, "migrating database").Logger()
	logger.Info().Msg("migrating database")
	if err := infra.Migrate(c, db, cfg.Database, infra.MigrationUp); err != nil {
		db.Close()
		err = fmt.Errorf("failed migrating database with error=%w", err)
		logger.Error().Err(err).Msg(err.Error())
		return nil, nil, err
	}
	logger.Info().Msg("migrated database")

	var repo repository.Repository = repository.NewPostgresRepository(db)
	if !cfg.Cache.Enabled {
		return repo, db.Close, nil
	}

	logger = logger.With().Str(log.KeyProcess, "initializing cache").Logger()
	logger.Info().Msg("initializing cache")
	cache := infra.NewCacheClient(c, cfg.Cache)
	logger.Info().Msg("initialized cache")

	closeFn := func() {
		if err := cache.Close(); err != nil {
			logger.Error().Err(err).Msgf("failed closing cache with error=%s", err.Error())
		}
		db.Close()
	}
	return repository.NewCachedRepository(repo, cache, cfg.Cache.TTL), closeFn, nil
}

func RunCartService(c context.Context, cfg *config.Config) {
	c, span := otel.Tracer.Start(c, "RunCartService")
	defer span.End()

	logger := zerolog.Ctx(c).
		With().
		Str(log.KeyAppName, constants.APP_CART_SERVICE).
		Str(log.KeyTag, "main RunCartService").
		Logger()

	logger = logger.With().Str(log.KeyProcess, "initializing otel sdk").Logger()
	logger.Info().Msg("initializing otel sdk")
	c = logger.WithContext(c)
	otelShutdowns, err := otel.InitOtelSdk(c, constants.APP_CART_SERVICE, cfg.Otel)
	if err != nil {
		err = fmt.Errorf("failed initializing otel sdk with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	defer func() {
		logger.Info().Msg("shutting down otel")
		c := logger.WithContext(context.WithoutCancel(c))
		if err := otel.ShutdownOtel(c, otelShutdowns); err != nil {
			err = fmt.Errorf("failed shutting down otel with error=%w", err)
			logger.Error().Err(err).Msg(err.Error())
			return
		}
		logger.Info().Msg("shutdown otel")
	}()
	logger.Info().Msg("initialized otel sdk")

	logger = logger.With().Str(log.KeyProcess, "initializing cart store").Logger()
	logger.Info().Msg("initializing cart store")
	c = logger.WithContext(c)
	repo, closeRepo, err := newRepository(c, cfg)
	if err != nil {
		err = fmt.Errorf("failed initializing cart store with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	defer func() {
		logger.Info().Msg("closing cart store")
		closeRepo()
		logger.Info().Msg("closed cart store")
	}()
	logger.Info().Msg("initialized cart store")

	logger = logger.With().Str(log.KeyProcess, "initializing session registry").Logger()
	logger.Info().Msg("initializing session registry")
	adapter := persistence.NewAdapter(repo, persistence.NewMetrics(prometheus.DefaultRegisterer))
	registry := service.NewRegistry(
		c,
		adapter,
		session.NewMetrics(prometheus.DefaultRegisterer),
		cfg.Application.SecretKey,
		cfg.Sync,
	)
	defer func() {
		logger.Info().Msg("closing sessions")
		c := logger.WithContext(context.WithoutCancel(c))
		if err := registry.CloseAll(c); err != nil {
			err = fmt.Errorf("failed closing sessions with error=%w", err)
			logger.Error().Err(err).Msg(err.Error())
			return
		}
		logger.Info().Msg("closed sessions")
	}()
	logger.Info().Msg("initialized session registry")

	logger = logger.With().Str(log.KeyProcess, "initializing router").Logger()
	logger.Info().Msg("initializing router")
	router := mux.NewRouter()
	router.Use(otelmux.Middleware(constants.APP_CART_SERVICE), middleware.Logging, middleware.RecoverPanic)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	controller.AttachSessionController(router, registry)
	logger.Info().Msg("initialized router")

	logger = logger.With().Str(log.KeyProcess, "initializing server").Logger()
	logger.Info().Msg("initializing server")
	httpServer := http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Application.Host, cfg.Application.Port),
		BaseContext:  func(net.Listener) context.Context { return c },
		Handler:      otelhttp.NewHandler(router, constants.APP_CART_SERVICE),
		ReadTimeout:  45 * time.Second,
		WriteTimeout: 45 * time.Second,
	}
	logger.Info().Msg("initialized server")

	serverErr := make(chan error, 1)
	go func() {
		logger := logger.With().Str(log.KeyProcess, "start server").Logger()
		logger.Info().Msgf("start listening request at %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("error=%w occured while server is running", err)
		}
		close(serverErr)
	}()

	select {
	case <-c.Done():
		logger = logger.With().Str(log.KeyProcess, "shutdown server").Logger()
		logger.Info().Msg("received interuption signal shutting down")
	case err := <-serverErr:
		logger = logger.With().Str(log.KeyProcess, "shutdown server").Logger()
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
	}

	logger.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(c), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		err = fmt.Errorf("failed shutting down http server with error=%w", err)
		inErrors.HandleError(err, span)
		logger.Error().Err(err).Msg(err.Error())
		return
	}
	logger.Info().Msg("shutdown http server")
}
