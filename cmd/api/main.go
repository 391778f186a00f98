package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/joao-fontenele/salesflow/internal/auth"
	"github.com/joao-fontenele/salesflow/internal/catalog"
	"github.com/joao-fontenele/salesflow/internal/clients"
	"github.com/joao-fontenele/salesflow/internal/config"
	"github.com/joao-fontenele/salesflow/internal/messaging"
	"github.com/joao-fontenele/salesflow/internal/orders"
	"github.com/joao-fontenele/salesflow/internal/reports"
	"github.com/joao-fontenele/salesflow/internal/telemetry"
	"github.com/joao-fontenele/salesflow/internal/web"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "salesflow-api", cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("salesflow-api")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB(ctx, cfg.PostgresURL, cfg.StoreTimeout)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	creds, err := auth.NewCredentials(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		logger.Error("failed to configure credentials", "error", err)
		os.Exit(1)
	}

	accounts, err := auth.NewAccounts(auth.NewSellerRepository(db), creds, cfg.BcryptCost, logger)
	if err != nil {
		logger.Error("failed to configure accounts", "error", err)
		os.Exit(1)
	}

	products := catalog.NewRepository(db)
	clientRepo := clients.NewRepository(db)
	directory := clients.NewDirectory(clientRepo, logger)

	engineOpts := []orders.Option{orders.WithStoreTimeout(cfg.StoreTimeout)}
	if cfg.Kafka() {
		events := messaging.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic)
		defer func() { _ = events.Close() }()

		releases := messaging.NewProducer(cfg.KafkaBrokers, cfg.StockReleaseTopic)
		defer func() { _ = releases.Close() }()

		engineOpts = append(engineOpts,
			orders.WithEvents(events),
			orders.WithReleaseQueue(messaging.NewReleaseQueue(releases)),
		)
	} else {
		logger.Warn("KAFKA_BROKERS not set; order events disabled and failed stock releases will only be logged")
	}

	engine, err := orders.NewEngine(orders.NewOrderRepository(db), products, clientRepo, logger, engineOpts...)
	if err != nil {
		logger.Error("failed to create order engine", "error", err)
		os.Exit(1)
	}

	var reportCache *reports.Cache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		reportCache = reports.NewCache(rdb, cfg.ReportCacheTTL, logger)
	}
	reportSvc := reports.NewService(reports.NewRepository(db), products, reportCache)

	authHandler := auth.NewHandler(accounts, logger)
	productHandler := catalog.NewHandler(catalog.NewService(products, logger), creds, logger)
	clientHandler := clients.NewHandler(directory, creds, logger)
	orderHandler := orders.NewHandler(engine, creds, logger)
	reportHandler := reports.NewHandler(reportSvc, creds, logger)

	if cfg.AdminKey == "" {
		logger.Warn("ADMIN_KEY not set; admin listings are disabled")
	}
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return telemetry.WithHTTPRoute(web.AdminOnly(cfg.AdminKey, logger, h))
	}
	route := telemetry.WithHTTPRoute

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sellers", route(authHandler.HandleRegister))
	mux.HandleFunc("POST /login", route(authHandler.HandleLogin))
	mux.HandleFunc("GET /me", route(authHandler.HandleWhoAmI))

	mux.HandleFunc("GET /products", route(productHandler.HandleList))
	mux.HandleFunc("GET /products/search", route(reportHandler.HandleSearchProducts))
	mux.HandleFunc("GET /products/{id}", route(productHandler.HandleGet))
	mux.HandleFunc("POST /products", route(productHandler.HandleCreate))
	mux.HandleFunc("PUT /products/{id}", route(productHandler.HandleUpdate))
	mux.HandleFunc("DELETE /products/{id}", route(productHandler.HandleDelete))

	mux.HandleFunc("GET /admin/clients", admin(clientHandler.HandleListAll))
	mux.HandleFunc("GET /clients", route(clientHandler.HandleListMine))
	mux.HandleFunc("GET /clients/{id}", route(clientHandler.HandleGet))
	mux.HandleFunc("POST /clients", route(clientHandler.HandleCreate))
	mux.HandleFunc("PUT /clients/{id}", route(clientHandler.HandleUpdate))
	mux.HandleFunc("DELETE /clients/{id}", route(clientHandler.HandleDelete))

	mux.HandleFunc("GET /admin/orders", admin(orderHandler.HandleListAll))
	mux.HandleFunc("GET /orders", route(orderHandler.HandleListMine))
	mux.HandleFunc("GET /orders/{id}", route(orderHandler.HandleGet))
	mux.HandleFunc("POST /orders", route(orderHandler.HandleCreate))
	mux.HandleFunc("PUT /orders/{id}", route(orderHandler.HandleUpdate))
	mux.HandleFunc("PATCH /orders/{id}/status", route(orderHandler.HandleUpdateStatus))
	mux.HandleFunc("DELETE /orders/{id}", route(orderHandler.HandleDelete))

	mux.HandleFunc("GET /reports/top-clients", route(reportHandler.HandleTopClients))
	mux.HandleFunc("GET /reports/top-sellers", route(reportHandler.HandleTopSellers))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), cfg.StoreTimeout)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			logger.Warn("health check failed", "error", err)
			web.WriteJSON(w, logger, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		web.WriteJSON(w, logger, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metricsHandler)

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: otelhttp.NewHandler(web.WithTimeout(cfg.RequestTimeout, mux), "salesflow-api",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				if r.Pattern != "" {
					return r.Pattern
				}
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("starting salesflow api", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
