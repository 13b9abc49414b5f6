package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config - структура для хранения конфигурации сервера
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	// Redis Config
	RedisAddr        string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPass        string        `env:"REDIS_PASSWORD"`
	RedisDB          int           `env:"REDIS_DB" envDefault:"0"`
	IncidentCacheTTL time.Duration `env:"INCIDENT_CACHE_TTL" envDefault:"5m"`

	// Webhook Config
	WebhookURL        string        `env:"WEBHOOK_URL"`
	WebhookSecret     string        `env:"WEBHOOK_SECRET"`
	WebhookTimeout    time.Duration `env:"WEBHOOK_TIMEOUT" envDefault:"5s"`
	WebhookMaxRetries int           `env:"WEBHOOK_MAX_RETRIES" envDefault:"3"`
	WebhookBaseDelay  time.Duration `env:"WEBHOOK_BASE_DELAY" envDefault:"1s"`

	// API Keys for authentication
	APIKeys []string `env:"API_KEYS"`

	// Учетные записи диспетчеров в формате user:password[:role], через запятую
	DispatcherCredentials map[string]Credential `env:"DISPATCHER_CREDENTIALS"`
	SessionTTL            time.Duration         `env:"SESSION_TTL" envDefault:"8h"`

	// Поиск ближайших служб
	MapsAPIKey            string        `env:"MAPS_API_KEY"`
	FacilitySearchRadius  int           `env:"FACILITY_SEARCH_RADIUS" envDefault:"5000"`
	FacilitySearchTimeout time.Duration `env:"FACILITY_SEARCH_TIMEOUT" envDefault:"10s"`

	Dispatch DispatchConfig
}

// Credential - демо-учетка диспетчера
type Credential struct {
	Password string
	Role     string
}

// DispatchConfig - параметры приема сообщений, общие для сервера и консольного клиента
type DispatchConfig struct {
	GeolocationTimeout time.Duration `env:"GEOLOCATION_TIMEOUT" envDefault:"15s"`
	FallbackLat        float64       `env:"FALLBACK_LAT" envDefault:"28.6139"`
	FallbackLng        float64       `env:"FALLBACK_LNG" envDefault:"77.2090"`
}

// ClientConfig - конфигурация консольного клиента репортера/диспетчера
type ClientConfig struct {
	ServerURL     string        `env:"SERVER_URL" envDefault:"http://localhost:8080/api/v1"`
	APIKey        string        `env:"API_KEY"`
	SessionToken  string        `env:"SESSION_TOKEN"`
	LogLevel      string        `env:"LOG_LEVEL" envDefault:"warn"`
	LogFormat     string        `env:"LOG_FORMAT" envDefault:"text"`
	HTTPTimeout   time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	PollInterval  time.Duration `env:"SYNC_POLL_INTERVAL" envDefault:"3s"`
	MapsAPIKey    string        `env:"MAPS_API_KEY"`
	SearchRadius  int           `env:"FACILITY_SEARCH_RADIUS" envDefault:"5000"`
	SearchTimeout time.Duration `env:"FACILITY_SEARCH_TIMEOUT" envDefault:"10s"`

	Dispatch DispatchConfig
}

// LoadConfig загружает конфигурацию из переменных окружения и .env файла
func LoadConfig() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		DBMaxConns:            int32(getEnvAsInt("DB_MAX_CONNS", 10)),
		HTTPPort:              getEnv("HTTP_PORT", "8080"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		RedisAddr:             getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPass:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvAsInt("REDIS_DB", 0),
		IncidentCacheTTL:      getEnvAsDuration("INCIDENT_CACHE_TTL", 5*time.Minute),
		WebhookURL:            os.Getenv("WEBHOOK_URL"),
		WebhookSecret:         os.Getenv("WEBHOOK_SECRET"),
		WebhookTimeout:        getEnvAsDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		WebhookMaxRetries:     getEnvAsInt("WEBHOOK_MAX_RETRIES", 3),
		WebhookBaseDelay:      getEnvAsDuration("WEBHOOK_BASE_DELAY", time.Second),
		APIKeys:               getEnvAsList("API_KEYS"),
		SessionTTL:            getEnvAsDuration("SESSION_TTL", 8*time.Hour),
		MapsAPIKey:            os.Getenv("MAPS_API_KEY"),
		FacilitySearchRadius:  getEnvAsInt("FACILITY_SEARCH_RADIUS", 5000),
		FacilitySearchTimeout: getEnvAsDuration("FACILITY_SEARCH_TIMEOUT", 10*time.Second),
		Dispatch:              loadDispatchConfig(),
	}

	creds, err := parseCredentials(getEnv("DISPATCHER_CREDENTIALS", "admin:admin123:DISPATCHER"))
	if err != nil {
		return nil, err
	}
	cfg.DispatcherCredentials = creds

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if cfg.FacilitySearchRadius <= 0 {
		return nil, fmt.Errorf("FACILITY_SEARCH_RADIUS must be positive")
	}
	if cfg.WebhookMaxRetries < 1 {
		cfg.WebhookMaxRetries = 1
	}

	return cfg, nil
}

// LoadClientConfig загружает конфигурацию консольного клиента. База данных ему не нужна.
func LoadClientConfig() (*ClientConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &ClientConfig{
		ServerURL:     strings.TrimRight(getEnv("SERVER_URL", "http://localhost:8080/api/v1"), "/"),
		APIKey:        os.Getenv("API_KEY"),
		SessionToken:  os.Getenv("SESSION_TOKEN"),
		LogLevel:      getEnv("LOG_LEVEL", "warn"),
		LogFormat:     getEnv("LOG_FORMAT", "text"),
		HTTPTimeout:   getEnvAsDuration("HTTP_TIMEOUT", 10*time.Second),
		PollInterval:  getEnvAsDuration("SYNC_POLL_INTERVAL", 3*time.Second),
		MapsAPIKey:    os.Getenv("MAPS_API_KEY"),
		SearchRadius:  getEnvAsInt("FACILITY_SEARCH_RADIUS", 5000),
		SearchTimeout: getEnvAsDuration("FACILITY_SEARCH_TIMEOUT", 10*time.Second),
		Dispatch:      loadDispatchConfig(),
	}

	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("SYNC_POLL_INTERVAL must be positive")
	}
	return cfg, nil
}

func loadDotEnv() error {
	// Загрузка переменных окружения из .env файла (если есть)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ошибка загрузки файла .env: %w", err)
	}
	return nil
}

func loadDispatchConfig() DispatchConfig {
	return DispatchConfig{
		GeolocationTimeout: getEnvAsDuration("GEOLOCATION_TIMEOUT", 15*time.Second),
		FallbackLat:        getEnvAsFloat("FALLBACK_LAT", 28.6139),
		FallbackLng:        getEnvAsFloat("FALLBACK_LNG", 77.2090),
	}
}

// parseCredentials разбирает строку вида "admin:admin123:DISPATCHER,ops:secret"
func parseCredentials(raw string) (map[string]Credential, error) {
	creds := make(map[string]Credential)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.SplitN(item, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid DISPATCHER_CREDENTIALS entry %q", item)
		}
		role := "DISPATCHER"
		if len(parts) == 3 && parts[2] != "" {
			role = parts[2]
		}
		creds[parts[0]] = Credential{Password: parts[1], Role: role}
	}
	return creds, nil
}

// getEnv возвращает значение переменной окружения или значение по умолчанию
func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvAsInt возвращает значение переменной окружения как int или значение по умолчанию
func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsDuration возвращает значение переменной окружения как time.Duration или значение по умолчанию
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if durationValue, err := time.ParseDuration(value); err == nil {
			return durationValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
