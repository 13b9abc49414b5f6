package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shenikar/sos_dispatch_system/internal/config"
	"github.com/shenikar/sos_dispatch_system/internal/dispatch"
	"github.com/shenikar/sos_dispatch_system/internal/facility"
	v1 "github.com/shenikar/sos_dispatch_system/internal/handler/http/v1"
	"github.com/shenikar/sos_dispatch_system/internal/models"
	"github.com/shenikar/sos_dispatch_system/internal/observability"
	"github.com/shenikar/sos_dispatch_system/internal/repository"
	"github.com/shenikar/sos_dispatch_system/internal/service"
	"github.com/shenikar/sos_dispatch_system/internal/session"
	"github.com/shenikar/sos_dispatch_system/internal/webhook"
	"github.com/shenikar/sos_dispatch_system/pkg/logger"
	"github.com/shenikar/sos_dispatch_system/pkg/postgres"
	redisclient "github.com/shenikar/sos_dispatch_system/pkg/redis"
	"github.com/sirupsen/logrus"

	_ "github.com/shenikar/sos_dispatch_system/docs"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// @title SOS Dispatch System API
// @version 1.0
// @description Incident board, SOS report intake and nearest facility search.
// @host localhost:8080
// @BasePath /api/v1
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
func runMigrations(cfg *config.Config, log *logrus.Logger) error {
	log.Info("Running database migrations...")

	migrationURL := cfg.DatabaseURL
	if !strings.HasPrefix(migrationURL, "pgx5://") {
		migrationURL = strings.Replace(migrationURL, "postgres://", "pgx5://", 1)
	}

	m, err := migrate.New(
		"file://migrations",
		migrationURL,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("Database migrations applied successfully")
	return nil
}

// newFacilityFinder возвращает nil, если ключ Google Maps не задан: поиск служб выключен
func newFacilityFinder(cfg *config.Config, log *logrus.Logger, metrics *observability.Metrics) (dispatch.FacilityFinder, error) {
	if cfg.MapsAPIKey == "" {
		log.Warn("MAPS_API_KEY is not set, nearest facility search is disabled")
		return nil, nil
	}
	maps, err := facility.NewGoogleMaps(cfg.MapsAPIKey)
	if err != nil {
		return nil, err
	}
	return facility.NewResolver(maps, maps, log, metrics, cfg.FacilitySearchTimeout), nil
}

func main() {
	// Загрузка конфигурации
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	// Контекст для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Запуск миграций
	if err := runMigrations(cfg, log); err != nil {
		log.Fatalf("Failed to run database migrations: %v", err)
	}

	// Подключение к PostgreSQL
	dbpool, err := postgres.NewPostgresDB(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer dbpool.Close()
	log.Info("Successfully connected to PostgreSQL")

	// Инициализация Redis клиента
	redisClient, err := redisclient.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Info("Successfully connected to Redis")

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	clock := clockwork.NewRealClock()

	// Инициализация издателя вебхуков
	webhookPublisher := webhook.NewRedisWebhookPublisher(redisClient)

	// Инициализация и запуск воркера вебхуков
	webhookWorker := webhook.NewWebhookWorker(redisClient, log, cfg, metrics, clock)
	webhookWorker.Start(ctx)

	// Инициализация репозиториев
	incidentRepo := repository.NewIncidentRepository(dbpool, redisClient, cfg.IncidentCacheTTL)

	// Инициализация сервисов
	incidentService := service.NewIncidentService(incidentRepo, log, cfg, webhookPublisher, metrics, clock)
	sessions := session.NewManager(session.NewRedisStore(redisClient), cfg.DispatcherCredentials, cfg.SessionTTL, clock, log)

	finder, err := newFacilityFinder(cfg, log, metrics)
	if err != nil {
		log.Fatalf("Failed to create facility resolver: %v", err)
	}

	// Разбор сообщений репортеров на сервере: озвучивать некому, ответ уходит в HTTP
	coordinator := dispatch.NewCoordinator(incidentService.CreateIncident, finder, nil, log, metrics, clock, dispatch.Options{
		FallbackLocation: models.LatLng{Lat: cfg.Dispatch.FallbackLat, Lng: cfg.Dispatch.FallbackLng},
		LocateTimeout:    cfg.Dispatch.GeolocationTimeout,
		SearchRadius:     cfg.FacilitySearchRadius,
	})

	// Инициализация хэндлеров
	handler := v1.NewHandler(incidentService, coordinator, finder, sessions, log, cfg, clock)

	// Настройка Gin роутера
	router := gin.Default()
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)

	// Добавление маршрута для Swagger UI
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Запуск HTTP-сервера
	serverAddr := fmt.Sprintf(":%s", cfg.HTTPPort)

	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Запуск сервера в горутине
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Error starting HTTP server: %v", err)
		}
	}()
	log.Infof("HTTP server started on port %s", cfg.HTTPPort)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Received shutdown signal, shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	// Останавливаем воркер вебхуков после того, как новые запросы перестали приходить
	cancel()
	select {
	case <-webhookWorker.Done():
	case <-shutdownCtx.Done():
		log.Warn("Webhook worker did not stop in time")
	}

	log.Info("Server gracefully stopped")
}
