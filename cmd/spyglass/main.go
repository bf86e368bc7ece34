package main

import (
	"context"
	"strings"
	"time"

	"frameworks/spyglass/internal/aggregates"
	"frameworks/spyglass/internal/export"
	"frameworks/spyglass/internal/handlers"
	"frameworks/spyglass/internal/ingest"
	"frameworks/spyglass/internal/metrics"
	"frameworks/spyglass/internal/notify"
	"frameworks/spyglass/internal/query"
	"frameworks/spyglass/internal/realtime"
	"frameworks/spyglass/internal/store"
	"frameworks/spyglass/pkg/config"
	"frameworks/spyglass/pkg/database"
	"frameworks/spyglass/pkg/logging"
	"frameworks/spyglass/pkg/middleware"
	"frameworks/spyglass/pkg/monitoring"
	"frameworks/spyglass/pkg/server"
	"frameworks/spyglass/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("spyglass")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Spyglass (Engagement Analytics API)")

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("spyglass", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("spyglass", version.Version, version.GitCommit)

	// Storage: ClickHouse holds the raw events, Postgres the aggregates and
	// the video catalog slice. The memory backend exists for local dev.
	var (
		events  store.EventStore
		aggs    store.AggregateStore
		catalog store.VideoCatalog
	)
	switch backend := config.GetEnv("STORAGE_BACKEND", "database"); backend {
	case "memory":
		logger.Warn("Using in-memory storage, data is lost on restart")
		events = store.NewMemoryEventStore()
		aggs = store.NewMemoryAggregateStore()
		catalog = store.NewMemoryVideoCatalog()
	default:
		dbURL := config.RequireEnv("DATABASE_URL")
		clickhouseHost := config.RequireEnv("CLICKHOUSE_HOST")
		clickhouseDB := config.RequireEnv("CLICKHOUSE_DB")
		clickhouseUser := config.RequireEnv("CLICKHOUSE_USER")
		clickhousePassword := config.RequireEnv("CLICKHOUSE_PASSWORD")

		dbConfig := database.DefaultConfig()
		dbConfig.URL = dbURL
		pg := database.MustConnect(dbConfig, logger)
		defer func() { _ = pg.Close() }()

		chConfig := database.DefaultClickHouseConfig()
		chConfig.Addr = []string{clickhouseHost}
		chConfig.Database = clickhouseDB
		chConfig.Username = clickhouseUser
		chConfig.Password = clickhousePassword
		chNative := database.MustConnectClickHouseNative(chConfig, logger)
		defer func() { _ = chNative.Close() }()
		chSQL := database.MustConnectClickHouse(chConfig, logger)
		defer func() { _ = chSQL.Close() }()

		events = store.NewClickHouseEventStore(chNative, chSQL, logger)
		aggs = store.NewPostgresAggregateStore(pg, logger)
		catalog = store.NewPostgresVideoCatalog(pg, logger)

		healthChecker.AddCheck("postgres", monitoring.DatabaseHealthCheck(pg))
		healthChecker.AddCheck("clickhouse", monitoring.ClickHouseNativeHealthCheck(chNative))
		healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
			"DATABASE_URL":    dbURL,
			"CLICKHOUSE_HOST": clickhouseHost,
			"CLICKHOUSE_DB":   clickhouseDB,
		}))
	}

	// Real-time fan-out hub, always available on /ws.
	hub := realtime.NewHub(logger)
	go hub.Run()

	// Live-view notification backends, comma-separated.
	var backends notify.Multi
	for _, name := range strings.Split(config.GetEnv("NOTIFY_BACKEND", "ws"), ",") {
		switch strings.TrimSpace(name) {
		case "ws":
			backends = append(backends, hub)
		case "kafka":
			brokers := strings.Split(config.RequireEnv("KAFKA_BROKERS"), ",")
			topic := config.GetEnv("KAFKA_TOPIC", "engagement_live_views")
			producer, err := notify.NewKafkaPublisher(brokers, topic, logger)
			if err != nil {
				logger.WithError(err).Fatal("Failed to create Kafka publisher")
			}
			defer func() { _ = producer.Close() }()
			healthChecker.AddCheck("kafka", monitoring.KafkaProducerHealthCheck(producer.GetClient()))
			backends = append(backends, producer)
		case "redis":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			publisher, err := notify.NewRedisPublisher(ctx, config.RequireEnv("REDIS_URL"))
			cancel()
			if err != nil {
				logger.WithError(err).Fatal("Failed to create Redis publisher")
			}
			defer func() { _ = publisher.Close() }()
			backends = append(backends, publisher)
		case "none":
		default:
			logger.WithField("backend", name).Fatal("Unknown NOTIFY_BACKEND entry")
		}
	}
	var publisher notify.Publisher = backends
	if len(backends) == 0 {
		publisher = notify.Nop{}
	}

	// Aggregate maintainer runs refreshes off the request path.
	maintainer := aggregates.NewMaintainer(events, aggs, logger,
		time.Duration(config.GetEnvInt("REFRESH_TIMEOUT_SECONDS", 30))*time.Second)
	maintainer.Start()
	defer maintainer.Stop()

	gate := ingest.NewGate(events, catalog, maintainer, publisher, logger)
	engine := query.NewEngine(events, aggs, catalog, logger,
		config.GetEnvInt("FALLBACK_MAX_ROWS", query.DefaultFallbackMaxRows))
	exporter := export.NewExporter(events)

	serviceMetrics := &metrics.Metrics{
		EventsTracked:    metricsCollector.NewCounter("engagement_events_total", "Engagement events processed", []string{"event_type", "status"}),
		DedupHits:        metricsCollector.NewCounter("engagement_dedup_hits_total", "View events answered from the de-dup window", []string{"event_type"}),
		AnalyticsQueries: metricsCollector.NewCounter("analytics_queries_total", "Analytics queries executed", []string{"query_type", "detail"}),
		QueryDuration:    metricsCollector.NewHistogram("analytics_query_duration_seconds", "Analytics query duration", []string{"query_type"}, nil),
		FallbackQueries:  metricsCollector.NewCounter("analytics_fallback_queries_total", "Queries answered from raw events", []string{"query_type"}),
		ExportRows:       metricsCollector.NewCounter("csv_exports_total", "CSV exports served", []string{"format"}),
	}

	handlers.Init(gate, engine, exporter, hub, logger, serviceMetrics)

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "spyglass", healthChecker, metricsCollector)

	tenant := router.Group("/", middleware.TenantContextMiddleware())
	tenant.POST("/track", handlers.TrackEvent)
	tenant.GET("/ws", handlers.ServeWS)

	analytics := tenant.Group("/analytics")
	analytics.GET("/overview", handlers.GetOverview)
	analytics.GET("/videos/:video_id/timeseries", handlers.GetTimeseries)
	analytics.GET("/videos/:video_id/retention", handlers.GetRetention)
	analytics.GET("/videos/:video_id/geography", handlers.GetGeography)
	analytics.GET("/videos/:video_id/devices", handlers.GetDevices)
	analytics.GET("/videos/:video_id/engagement", handlers.GetEngagement)
	analytics.GET("/videos/:video_id/export.csv", handlers.ExportCSV)

	// Start HTTP server with graceful shutdown
	serverConfig := server.DefaultConfig("spyglass", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
