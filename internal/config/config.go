package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/supportchat/internal/logger"
	"gopkg.in/yaml.v3"
)

const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
)

// loadEnv читает .env только вне production (в контейнере конфиг только из env).
func loadEnv() {
	if os.Getenv("APP_ENV") == "production" {
		return
	}
	// godotenv не перезаписывает уже заданные переменные окружения.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warnf("config: .env: %v", err)
	}
}

// WebPushConfig: доставка уведомлений в браузер агента напрямую через VAPID.
type WebPushConfig struct {
	VAPIDKeysFile     string `yaml:"vapid_keys_file"`
	SubscriptionsFile string `yaml:"subscriptions_file"`
	Subscriber        string `yaml:"subscriber"`
	TTLSeconds        int    `yaml:"ttl_seconds" validate:"gte=0"`
}

// Config содержит настройки клиента синхронизации.
// Приоритет: переменные окружения > YAML-файл > значения по умолчанию.
type Config struct {
	// REST-коллаборатор
	APIBaseURL string        `yaml:"api_base_url" validate:"required,url"`
	APIToken   string        `yaml:"api_token"`
	APITimeout time.Duration `yaml:"-"`

	// Push-канал
	PushTransport string        `yaml:"push_transport" validate:"oneof=websocket redis"`
	WSURL         string        `yaml:"ws_url" validate:"required_if=PushTransport websocket"`
	RedisURL      string        `yaml:"redis_url" validate:"required_if=PushTransport redis"`
	WSPongTimeout time.Duration `yaml:"-"`

	// Кто работает с чатами в этой сессии
	ViewerID   string `yaml:"viewer_id" validate:"required"`
	ViewerName string `yaml:"viewer_name"`
	ViewerRole string `yaml:"viewer_role" validate:"oneof=customer agent"`

	// Синхронизация
	PageSize     int           `yaml:"page_size" validate:"gte=1,lte=200"`
	PollInterval time.Duration `yaml:"-"`
	AutoMarkRead bool          `yaml:"auto_mark_read"`

	// Консольный API для UI
	ConsoleAddr        string `yaml:"console_addr" validate:"required"`
	CORSAllowedOrigins string `yaml:"cors_allowed_origins"`
	ConsoleToken       string `yaml:"console_token"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute" validate:"gte=0"`

	// Логирование
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error"`

	// Уведомления вне канала
	WebPush       WebPushConfig `yaml:"webpush"`
	AlertRelayURL string        `yaml:"alert_relay_url" validate:"omitempty,url"`
}

// yamlConfig: промежуточная структура: длительности в YAML задаются в секундах.
type yamlConfig struct {
	APIBaseURL          string        `yaml:"api_base_url"`
	APIToken            string        `yaml:"api_token"`
	APITimeout          int           `yaml:"api_timeout_seconds"`
	PushTransport       string        `yaml:"push_transport"`
	WSURL               string        `yaml:"ws_url"`
	RedisURL            string        `yaml:"redis_url"`
	WSPongTimeout       int           `yaml:"ws_pong_timeout_seconds"`
	ViewerID            string        `yaml:"viewer_id"`
	ViewerName          string        `yaml:"viewer_name"`
	ViewerRole          string        `yaml:"viewer_role"`
	PageSize            int           `yaml:"page_size"`
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
	AutoMarkRead        bool          `yaml:"auto_mark_read"`
	ConsoleAddr         string        `yaml:"console_addr"`
	CORSAllowedOrigins  string        `yaml:"cors_allowed_origins"`
	ConsoleToken        string        `yaml:"console_token"`
	RateLimitPerMinute  int           `yaml:"rate_limit_per_minute"`
	LogLevel            string        `yaml:"log_level"`
	WebPush             WebPushConfig `yaml:"webpush"`
	AlertRelayURL       string        `yaml:"alert_relay_url"`
}

func defaults() yamlConfig {
	return yamlConfig{
		APIBaseURL:          "http://localhost:8080/api",
		APITimeout:          15,
		PushTransport:       TransportWebSocket,
		WSURL:               "ws://localhost:8080/ws",
		RedisURL:            "redis://localhost:6379",
		WSPongTimeout:       60,
		ViewerRole:          "agent",
		PageSize:            30,
		PollIntervalSeconds: 30,
		AutoMarkRead:        true,
		ConsoleAddr:         "127.0.0.1:8090",
		CORSAllowedOrigins:  "*",
		RateLimitPerMinute:  240,
		LogLevel:            "info",
		WebPush: WebPushConfig{
			VAPIDKeysFile: "config/vapid.json",
			Subscriber:    "support-chat",
			TTLSeconds:    30,
		},
	}
}

// Load загружает конфигурацию: .env, затем YAML (CONFIG_PATH или config/chatsync.yaml), затем env.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom как Load, но явно заданный path имеет приоритет над CONFIG_PATH.
func LoadFrom(path string) (*Config, error) {
	loadEnv()
	yc := defaults()

	for i, p := range []string{path, os.Getenv("CONFIG_PATH"), "config/chatsync.yaml"} {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			if i == 0 {
				return nil, fmt.Errorf("config: %w", err)
			}
			continue
		}
		if err := yaml.Unmarshal(data, &yc); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", p, err)
		}
		logger.Infof("config: loaded %s", p)
		break
	}

	cfg := &Config{
		APIBaseURL:         strings.TrimSuffix(envStr("API_BASE_URL", yc.APIBaseURL), "/"),
		APIToken:           envStr("API_TOKEN", yc.APIToken),
		APITimeout:         time.Duration(envInt("API_TIMEOUT_SECONDS", yc.APITimeout)) * time.Second,
		PushTransport:      envStr("PUSH_TRANSPORT", yc.PushTransport),
		WSURL:              envStr("WS_URL", yc.WSURL),
		RedisURL:           envStr("REDIS_URL", yc.RedisURL),
		WSPongTimeout:      time.Duration(envInt("WS_PONG_TIMEOUT_SECONDS", yc.WSPongTimeout)) * time.Second,
		ViewerID:           envStr("VIEWER_ID", yc.ViewerID),
		ViewerName:         envStr("VIEWER_NAME", yc.ViewerName),
		ViewerRole:         envStr("VIEWER_ROLE", yc.ViewerRole),
		PageSize:           envInt("PAGE_SIZE", yc.PageSize),
		PollInterval:       time.Duration(envInt("POLL_INTERVAL_SECONDS", yc.PollIntervalSeconds)) * time.Second,
		AutoMarkRead:       envBool("AUTO_MARK_READ", yc.AutoMarkRead),
		ConsoleAddr:        envStr("CONSOLE_ADDR", yc.ConsoleAddr),
		CORSAllowedOrigins: envStr("CORS_ALLOWED_ORIGINS", yc.CORSAllowedOrigins),
		ConsoleToken:       envStr("CONSOLE_TOKEN", yc.ConsoleToken),
		RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", yc.RateLimitPerMinute),
		LogLevel:           envStr("LOG_LEVEL", yc.LogLevel),
		WebPush:            yc.WebPush,
		AlertRelayURL:      envStr("ALERT_RELAY_URL", yc.AlertRelayURL),
	}
	cfg.WebPush.VAPIDKeysFile = envStr("VAPID_KEYS_FILE", cfg.WebPush.VAPIDKeysFile)
	cfg.WebPush.SubscriptionsFile = envStr("WEBPUSH_SUBSCRIPTIONS_FILE", cfg.WebPush.SubscriptionsFile)
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = 15 * time.Second
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate проверяет обязательные поля и допустимые значения.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// CORSOrigins разбивает cors_allowed_origins по запятым.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// envStr возвращает значение переменной окружения или fallback.
func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envInt возвращает числовое значение переменной окружения или fallback.
func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
