package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/voiceorder/internal/browser"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/idempotency"
	"github.com/vladislavdragonenkov/voiceorder/internal/service/matcher"
)

// Поддерживаемые хранилища журнала запусков и ключей идемпотентности.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Переменные окружения, перекрывающие файл конфигурации.
const (
	EnvConfigPath    = "VOICEORDER_CONFIG"
	envHTTPAddr      = "VOICEORDER_HTTP_ADDR"
	envGRPCAddr      = "VOICEORDER_GRPC_ADDR"
	envMetricsAddr   = "VOICEORDER_METRICS_ADDR"
	envLogLevel      = "VOICEORDER_LOG_LEVEL"
	envProfileDir    = "VOICEORDER_PROFILE_DIR"
	envHeadless      = "VOICEORDER_HEADLESS"
	envBrowserBin    = "VOICEORDER_BROWSER_BIN"
	envEmail         = "WOLT_EMAIL"
	envPassword      = "WOLT_EMAIL_PASSWORD"
	envOpenAIKey     = "OPENAI_API_KEY"
	envOpenAIBaseURL = "OPENAI_BASE_URL"
	envOpenAIModel   = "VOICEORDER_OPENAI_MODEL"
	envMatcher       = "VOICEORDER_MATCHER"
	envStorage       = "VOICEORDER_STORAGE"
	envPostgresDSN   = "VOICEORDER_POSTGRES_DSN"
	envAutoMigrate   = "VOICEORDER_POSTGRES_AUTO_MIGRATE"
	envRedisAddr     = "VOICEORDER_REDIS_ADDR"
	envKafkaBrokers  = "KAFKA_BROKERS"
	envRabbitMQURL   = "RABBITMQ_URL"
)

// BrowserConfig: параметры Chromium.
type BrowserConfig struct {
	ProfileDir        string        `yaml:"profile_dir"`
	Headless          bool          `yaml:"headless"`
	Bin               string        `yaml:"bin"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
}

// CredentialsConfig: учётная запись провайдера входа.
type CredentialsConfig struct {
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// MatcherConfig: выбор и настройка матчера.
type MatcherConfig struct {
	Backend         string        `yaml:"backend"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	OpenAIBaseURL   string        `yaml:"openai_base_url"`
	Model           string        `yaml:"model"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset"`
}

// StorageConfig: журнал запусков и ключи идемпотентности.
type StorageConfig struct {
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// IdempotencyConfig: срок жизни ключей и их очистка.
type IdempotencyConfig struct {
	TTL              time.Duration `yaml:"ttl"`
	CleanupInterval  time.Duration `yaml:"cleanup_interval"`
	CleanupBatchSize int           `yaml:"cleanup_batch_size"`
}

// Config описывает настройки запуска сервиса.
type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"`
	LogLevel        string        `yaml:"log_level"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Browser     BrowserConfig     `yaml:"browser"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Matcher     MatcherConfig     `yaml:"matcher"`
	Storage     StorageConfig     `yaml:"storage"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`

	RedisAddr    string   `yaml:"redis_addr"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	RabbitMQURL  string   `yaml:"rabbitmq_url"`
}

// DefaultConfig возвращает настройки по умолчанию: HTTP на :8080, как у исходного сервера.
func DefaultConfig() Config {
	b := browser.DefaultConfig()
	m := matcher.DefaultConfig()
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		MetricsAddr:     ":9090",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
		Browser: BrowserConfig{
			ProfileDir: b.ProfileDir,
			Headless:   b.Headless,
		},
		Matcher: MatcherConfig{
			CacheTTL:        m.CacheTTL,
			BreakerFailures: m.BreakerFailures,
			BreakerReset:    m.BreakerReset,
		},
		Storage: StorageConfig{
			Driver:      StorageDriverMemory,
			AutoMigrate: true,
		},
		Idempotency: IdempotencyConfig{
			TTL:              idempotency.DefaultTTL,
			CleanupInterval:  10 * time.Minute,
			CleanupBatchSize: 500,
		},
	}
}

// LoadConfig накладывает на значения по умолчанию YAML-файл (если path не пуст),
// затем переменные окружения. Нераспознанные значения окружения возвращаются
// предупреждениями и не меняют конфигурацию.
func LoadConfig(path string, lookup func(string) (string, bool)) (Config, []string, error) {
	cfg := DefaultConfig()

	if path = strings.TrimSpace(path); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	warnings := applyEnv(&cfg, lookup)
	if err := cfg.Validate(); err != nil {
		return Config{}, warnings, err
	}
	return cfg, warnings, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) []string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var warnings []string

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", key, err))
			return
		}
		*dst = parsed
	}

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envLogLevel, &cfg.LogLevel)
	str(envProfileDir, &cfg.Browser.ProfileDir)
	boolean(envHeadless, &cfg.Browser.Headless)
	str(envBrowserBin, &cfg.Browser.Bin)
	str(envEmail, &cfg.Credentials.Email)
	str(envPassword, &cfg.Credentials.Password)
	str(envOpenAIKey, &cfg.Matcher.OpenAIAPIKey)
	str(envOpenAIBaseURL, &cfg.Matcher.OpenAIBaseURL)
	str(envOpenAIModel, &cfg.Matcher.Model)
	str(envMatcher, &cfg.Matcher.Backend)
	str(envStorage, &cfg.Storage.Driver)
	str(envPostgresDSN, &cfg.Storage.PostgresDSN)
	boolean(envAutoMigrate, &cfg.Storage.AutoMigrate)
	str(envRedisAddr, &cfg.RedisAddr)
	str(envRabbitMQURL, &cfg.RabbitMQURL)

	if v, ok := lookup(envKafkaBrokers); ok && strings.TrimSpace(v) != "" {
		cfg.KafkaBrokers = splitList(v)
	}

	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)
	cfg.Matcher.Backend = strings.ToLower(cfg.Matcher.Backend)
	return warnings
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires a DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Matcher.Backend {
	case "", matcher.BackendFuzzy:
	case matcher.BackendOpenAI:
		if c.Matcher.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("openai matcher requires OPENAI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown matcher backend %q", c.Matcher.Backend))
	}
	if c.HTTPAddr == "" {
		errs = append(errs, errors.New("http address is required"))
	}
	if c.Idempotency.CleanupBatchSize < 0 {
		errs = append(errs, errors.New("idempotency cleanup batch size must be >= 0"))
	}
	return errors.Join(errs...)
}

// BrowserSessionConfig переводит настройки в параметры сессии.
func (c Config) BrowserSessionConfig() browser.Config {
	out := browser.DefaultConfig()
	out.ProfileDir = c.Browser.ProfileDir
	out.Headless = c.Browser.Headless
	out.Bin = c.Browser.Bin
	out.NavigationTimeout = c.Browser.NavigationTimeout
	return out
}

// MatcherChainConfig переводит настройки в конфигурацию цепочки матчера.
func (c Config) MatcherChainConfig() matcher.Config {
	out := matcher.DefaultConfig()
	out.Backend = c.Matcher.Backend
	out.OpenAI = matcher.OpenAIConfig{
		APIKey:  c.Matcher.OpenAIAPIKey,
		BaseURL: c.Matcher.OpenAIBaseURL,
		Model:   c.Matcher.Model,
	}
	out.CacheTTL = c.Matcher.CacheTTL
	out.BreakerFailures = c.Matcher.BreakerFailures
	out.BreakerReset = c.Matcher.BreakerReset
	return out
}

// ExtractionEnabled сообщает, доступен ли разбор фраз (нужен бэкенд openai).
func (c Config) ExtractionEnabled() bool {
	backend := c.Matcher.Backend
	if backend == "" && c.Matcher.OpenAIAPIKey != "" {
		backend = matcher.BackendOpenAI
	}
	return backend == matcher.BackendOpenAI
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "yes", "y":
		return true, nil
	case "off", "no", "n":
		return false, nil
	}
	return strconv.ParseBool(strings.TrimSpace(v))
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
