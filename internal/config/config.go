// Package config предоставляет структуры и функции для загрузки конфигурации студии
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/magabrotheeeer/yoga-studio/internal/models"
)

// Окружения запуска.
const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string          `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string          `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string          `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	Timezone                string          `yaml:"timezone" env:"TZ_NAME" env-default:"Europe/Moscow"`
	Redis                   RedisConnection `yaml:"redis_connection"`
	RabbitMQ                RabbitMQ        `yaml:"rabbitmq"`
	HTTPServer              HTTPServer      `yaml:"http_server"`
	Telegram                Telegram        `yaml:"telegram"`
	SMTP                    SMTP            `yaml:"smtp"`
	Ledger                  Ledger          `yaml:"ledger"`
	Notifications           Notifications   `yaml:"notifications"`
	Scheduler               Scheduler       `yaml:"scheduler"`
}

// HTTPServer структура для настройки сервера здоровья и метрик
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"5s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDR"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries" env-default:"3"`
	DialTimeout  time.Duration `yaml:"dial_timeout" env-default:"5s"`
	TimeoutRedis time.Duration `yaml:"timeoutredis" env-default:"3s"`
}

// RabbitMQ настройки подключения к брокеру
type RabbitMQ struct {
	URL        string        `yaml:"url" env:"RABBITMQ_URL"`
	MaxRetries int           `yaml:"max_retries" env-default:"5"`
	RetryDelay time.Duration `yaml:"retry_delay" env-default:"3s"`
}

// Telegram настройки бота
type Telegram struct {
	Token     string        `yaml:"token" env:"TELEGRAM_BOT_TOKEN"`
	// DryRun отключает реальную отправку: сообщения только пишутся в лог.
	DryRun    bool          `yaml:"dry_run" env:"TELEGRAM_DRY_RUN"`
	RateLimit float64       `yaml:"rate_limit" env-default:"25"`
	RateBurst int           `yaml:"rate_burst" env-default:"5"`
	ParseMode string        `yaml:"parse_mode" env-default:"Markdown"`
	Timeout   time.Duration `yaml:"timeout" env-default:"10s"`
}

// SMTP настройки почтового канала
type SMTP struct {
	Host string `yaml:"host" env:"SMTP_HOST"`
	Port string `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	User string `yaml:"user" env:"SMTP_USER"`
	Pass string `yaml:"pass" env:"SMTP_PASS"`
}

// Ledger настройки учёта абонементов
type Ledger struct {
	MaxAttempts     int           `yaml:"max_attempts" env-default:"3"`
	SelectionPolicy string        `yaml:"selection_policy" env-default:"most_recent"`
	DistributedLock bool          `yaml:"distributed_lock"`
	LockTTL         time.Duration `yaml:"lock_ttl" env-default:"10s"`

	// Plans переопределяет тарифы по умолчанию.
	Plans map[models.SubscriptionType]models.Plan `yaml:"plans"`
}

// Notifications настройки доставки уведомлений
type Notifications struct {
	// Transport amqp или direct.
	Transport    string        `yaml:"transport" env:"NOTIFICATIONS_TRANSPORT" env-default:"direct"`
	SendTimeout  time.Duration `yaml:"send_timeout" env-default:"10s"`
	Concurrency  int           `yaml:"concurrency" env-default:"4"`
	ReminderLead time.Duration `yaml:"reminder_lead" env-default:"2h"`
	ConsumerPool int           `yaml:"consumer_pool" env-default:"10"`
}

// Scheduler расписание периодических задач
type Scheduler struct {
	ProcessScheduledEvery time.Duration `yaml:"process_scheduled_every" env-default:"5m"`
	RetryFailedEvery      time.Duration `yaml:"retry_failed_every" env-default:"30m"`
	RefreshStatusesAt     string        `yaml:"refresh_statuses_at" env-default:"00:05"`
	ExpiringCheckAt       string        `yaml:"expiring_check_at" env-default:"10:00"`
	ExpiringDaysBefore    int           `yaml:"expiring_days_before" env-default:"3"`
	DailyScheduleAt       string        `yaml:"daily_schedule_at" env-default:"18:00"`

	// ClassSchedule переопределяет расписание занятий по дням недели (monday, tuesday...).
	ClassSchedule map[string]string `yaml:"class_schedule"`
}

// Load читает конфиг из файла path с подстановкой переменных окружения.
func Load(path string) (*Config, error) {
	const op = "config.Load"
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: file %s does not exist", op, path)
	}
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

// MustLoad загружает конфиг по пути из CONFIG_PATH и завершает процесс при ошибке
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return cfg
}

func (c *Config) validate() error {
	switch c.Notifications.Transport {
	case "direct", "amqp":
	default:
		return fmt.Errorf("unknown notifications transport %q", c.Notifications.Transport)
	}
	if c.Notifications.Transport == "amqp" && c.RabbitMQ.URL == "" {
		return fmt.Errorf("rabbitmq url is required for amqp transport")
	}
	switch c.Ledger.SelectionPolicy {
	case "most_recent", "earliest_expiring":
	default:
		return fmt.Errorf("unknown selection policy %q", c.Ledger.SelectionPolicy)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.Scheduler.ProcessScheduledEvery <= 0 {
		return fmt.Errorf("process_scheduled_every must be positive, got %s", c.Scheduler.ProcessScheduledEvery)
	}
	if c.Scheduler.RetryFailedEvery <= 0 {
		return fmt.Errorf("retry_failed_every must be positive, got %s", c.Scheduler.RetryFailedEvery)
	}
	if c.Notifications.SendTimeout <= 0 {
		return fmt.Errorf("send_timeout must be positive, got %s", c.Notifications.SendTimeout)
	}
	return nil
}

// Location возвращает часовой пояс студии. Конфиг уже проверен в Load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Catalog строит таблицу тарифов с учётом переопределений из конфига.
func (c *Config) Catalog() (models.Catalog, error) {
	return models.NewCatalog(c.Ledger.Plans)
}
