package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Resolver  ResolverConfig  `mapstructure:"resolver"`
	Panic     PanicConfig     `mapstructure:"panic"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера консоли.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig описывает подключение к PostgreSQL (Override Store).
type DatabaseConfig struct {
	URL           string `mapstructure:"url"`
	MaxConns      int32  `mapstructure:"max_conns"`
	MinConns      int32  `mapstructure:"min_conns"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// RedisConfig описывает подключение к Redis (счетчики очередей и Pub/Sub).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT консоли.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"` // Только для Console API
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// ResolverConfig — настройки кэша резолвера capability.
type ResolverConfig struct {
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`     // Дефолт 30s
	StoreTimeout time.Duration `mapstructure:"store_timeout"` // Короткий таймаут похода в БД
	EnvStaleTTL  time.Duration `mapstructure:"env_stale_ttl"` // После этого env-оверрайд считается протухшим
}

// IntegrationConfig — пороги паники для одной интеграции.
type IntegrationConfig struct {
	Capability        string        `mapstructure:"capability"`         // "external.afip"
	FailureThreshold  int           `mapstructure:"failure_threshold"`  // N подряд
	Window            time.Duration `mapstructure:"window"`             // В пределах W
	RecoverySuccesses int           `mapstructure:"recovery_successes"` // M успешных проб
	ProbeInterval     time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
}

// PanicConfig — конфигурация Panic Controller.
type PanicConfig struct {
	EvaluateInterval time.Duration                `mapstructure:"evaluate_interval"`
	Integrations     map[string]IntegrationConfig `mapstructure:"integrations"`
}

// QueueConfig — вместимость и лимиты одной очереди.
type QueueConfig struct {
	Capacity        int `mapstructure:"capacity"`         // Общее число слотов воркеров
	MaxPerOrg       int `mapstructure:"max_per_org"`      // Потолок на тенанта
	CapacityPercent int `mapstructure:"capacity_percent"` // Доля очереди на тенанта, %
}

// SchedulerConfig — конфигурация Fair Scheduler.
type SchedulerConfig struct {
	Queues        map[string]QueueConfig `mapstructure:"queues"`
	MaxProcessing time.Duration          `mapstructure:"max_processing"` // Порог сиротства lease
	SweepInterval time.Duration          `mapstructure:"sweep_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")    // имя файла без расширения
	v.SetConfigType("yaml")      // формат
	v.AddConfigPath(".")         // ищем в корне
	v.AddConfigPath("./configs") // и в папке с конфигами

	// 2. Настройка переменных окружения (ENV)
	// Позволяет перекрывать конфиг: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Загрузка ключей из Файла ИЛИ из ENV
	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	// Если нет — читаем файл по указанному пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if cfg.Panic.Integrations == nil {
		cfg.Panic.Integrations = DefaultIntegrations()
	}
	if cfg.Scheduler.Queues == nil {
		cfg.Scheduler.Queues = map[string]QueueConfig{
			"default": {Capacity: 20, MaxPerOrg: 10, CapacityPercent: 50},
		}
	}

	return &cfg, nil
}

// DefaultIntegrations — пороги паники из эксплуатационной практики:
// фискальный сервис падает надолго (окно шире), мессенджер шумный (порог выше).
func DefaultIntegrations() map[string]IntegrationConfig {
	return map[string]IntegrationConfig{
		"afip": {
			Capability:       "external.afip",
			FailureThreshold: 5, Window: 5 * time.Minute,
			RecoverySuccesses: 3, ProbeInterval: 30 * time.Second, ProbeTimeout: 5 * time.Second,
		},
		"whatsapp": {
			Capability:       "external.whatsapp",
			FailureThreshold: 10, Window: 1 * time.Minute,
			RecoverySuccesses: 3, ProbeInterval: 20 * time.Second, ProbeTimeout: 5 * time.Second,
		},
		"mercadopago": {
			Capability:       "external.mercadopago",
			FailureThreshold: 5, Window: 2 * time.Minute,
			RecoverySuccesses: 3, ProbeInterval: 30 * time.Second, ProbeTimeout: 5 * time.Second,
		},
		"speech": {
			Capability:       "external.speech",
			FailureThreshold: 5, Window: 3 * time.Minute,
			RecoverySuccesses: 2, ProbeInterval: 60 * time.Second, ProbeTimeout: 10 * time.Second,
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.migrations_dir", "migrations")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("logger.level", "info")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("resolver.cache_ttl", 30*time.Second)
	v.SetDefault("resolver.store_timeout", 2*time.Second)
	v.SetDefault("resolver.env_stale_ttl", 24*time.Hour)
	v.SetDefault("panic.evaluate_interval", 5*time.Second)
	v.SetDefault("scheduler.max_processing", 15*time.Minute)
	v.SetDefault("scheduler.sweep_interval", 1*time.Minute)
}

// loadKeyResource — универсальный хелпер архитектора
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ключ прилетел напрямую в ENV (Base64 или PEM)
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
