package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/infrastructure/persistence"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/services"
	"github.com/iota-uz/iota-hierarchy/pkg/configuration"
	"github.com/iota-uz/iota-hierarchy/pkg/eventbus"
	"github.com/iota-uz/iota-hierarchy/pkg/httpapi"
	"github.com/iota-uz/iota-hierarchy/pkg/metrics"
	"github.com/iota-uz/iota-hierarchy/pkg/middleware"
	"github.com/iota-uz/iota-hierarchy/pkg/server"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	logger := conf.Logger()

	if conf.Hierarchy.MigrateOnStart {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := persistence.Migrate(ctx, conf.Database.Opts, persistence.MigrateUp, logger); err != nil {
			cancel()
			log.Fatalf("failed to migrate: %v", err)
		}
		cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	permissionCache, closeCache, err := hierarchy.NewPermissionCache(
		conf.Hierarchy.PermissionCache,
		conf.Hierarchy.PermissionCacheTTL,
		conf.RedisURL,
		logger,
	)
	if err != nil {
		log.Fatalf("failed to build permission cache: %v", err)
	}
	defer func() {
		if err := closeCache(); err != nil {
			logger.WithError(err).Warn("failed to close permission cache")
		}
	}()

	var bus eventbus.EventBus
	if conf.Hierarchy.AuditEnabled {
		bus = eventbus.NewEventPublisher(logger)
		services.SubscribeAuditLog(bus, logger)
	}

	module := hierarchy.NewModule(hierarchy.Options{
		Logger:          logger,
		Bus:             bus,
		Cache:           permissionCache,
		DefaultMaxDepth: conf.Hierarchy.DefaultMaxDepth,
		TenantHeader:    conf.TenantIDHeader,
	})

	controllers := module.Controllers()
	if conf.Prometheus.Enabled {
		controllers = append(controllers, metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	loggerOpts := middleware.DefaultLoggerOptions()
	loggerOpts.RequestIDHeader = conf.RequestIDHeader
	srv := server.NewHTTPServer(
		controllers,
		[]mux.MiddlewareFunc{
			middleware.WithLogger(logger, loggerOpts),
			middleware.ProvidePool(pool),
		},
		http.HandlerFunc(notFound),
		nil,
	)

	logger.WithFields(logrus.Fields{
		"address":          conf.SocketAddress,
		"permission_cache": conf.Hierarchy.PermissionCache,
		"audit":            conf.Hierarchy.AuditEnabled,
	}).Info("hierarchy server starting")
	log.Printf("Listening on: %s\n", conf.SocketAddress)
	if err := srv.Start(conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

func notFound(w http.ResponseWriter, r *http.Request) {
	_ = httpapi.NewError(http.StatusNotFound, services.CodeNotFound, "route not found").With("path", r.URL.Path).Write(w)
}
