// Package config содержит логику чтения конфигурации сервиса holidayd.
//
// Источники применяются по возрастанию приоритета: значения по умолчанию,
// файл TOML (-c), флаги командной строки, переменные окружения.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// MailConfig содержит параметры почтового шлюза. Пустой URL отключает отправку писем.
type MailConfig struct {
	URL     string        `env:"MAIL_API_URL" toml:"url"`
	APIKey  string        `env:"MAIL_API_KEY" toml:"api_key"`
	From    string        `env:"MAIL_FROM" toml:"from"`
	Timeout time.Duration `env:"MAIL_TIMEOUT" toml:"timeout"`
	Retries int           `env:"MAIL_RETRY_MAX" toml:"retry_max"`
}

// SweepConfig содержит параметры запусков чистильщика.
type SweepConfig struct {
	Limit          int           `env:"SWEEP_LIMIT" toml:"limit"`
	BatchSize      int           `env:"SWEEP_BATCH_SIZE" toml:"batch_size"`
	BatchDelay     time.Duration `env:"SWEEP_BATCH_DELAY" toml:"batch_delay"`
	StartupDelay   time.Duration `env:"SWEEP_STARTUP_DELAY" toml:"startup_delay"`
	ScheduleWarn   string        `env:"SCHEDULE_WARN" toml:"schedule_warn"`
	ScheduleExpire string        `env:"SCHEDULE_EXPIRE" toml:"schedule_expire"`
}

// RatesConfig задаёт курсы токенов (LKR за один токен) и процент комиссии агента.
type RatesConfig struct {
	HSC        decimal.Decimal `env:"RATE_HSC" toml:"hsc"`
	HSG        decimal.Decimal `env:"RATE_HSG" toml:"hsg"`
	HSD        decimal.Decimal `env:"RATE_HSD" toml:"hsd"`
	Commission decimal.Decimal `env:"RATE_AGENT_COMMISSION" toml:"agent_commission"`
}

// Config содержит параметры конфигурации сервиса holidayd.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS" toml:"run_address"`
	DatabaseURI string `env:"DATABASE_URI" toml:"database_uri"`
	InMemory    bool   `env:"IN_MEMORY" toml:"in_memory"`
	JWTSecret   string `env:"JWT_SECRET" toml:"jwt_secret"`
	LogLevel    string `env:"LOG_LEVEL" toml:"log_level"`
	Timezone    string `env:"SCHEDULE_TIMEZONE" toml:"timezone"`

	Mail  MailConfig  `toml:"mail"`
	Sweep SweepConfig `toml:"sweep"`
	Rates RatesConfig `toml:"rates"`

	location *time.Location
}

// Location возвращает часовой пояс расписаний, вычисленный при загрузке.
func (c *Config) Location() *time.Location {
	if c.location == nil {
		return time.UTC
	}
	return c.location
}

// Default возвращает конфигурацию по умолчанию.
func Default() *Config {
	return &Config{
		RunAddress: "localhost:8080",
		LogLevel:   "info",
		Timezone:   "Asia/Colombo",
		Mail: MailConfig{
			From:    "no-reply@holidaysrilanka.lk",
			Timeout: 30 * time.Second,
			Retries: 3,
		},
		Sweep: SweepConfig{
			Limit:          100,
			BatchSize:      10,
			BatchDelay:     time.Second,
			StartupDelay:   10 * time.Second,
			ScheduleWarn:   "0 */6 * * *",
			ScheduleExpire: "*/30 * * * *",
		},
		Rates: RatesConfig{
			HSC:        decimal.NewFromInt(100),
			HSG:        decimal.NewFromInt(100),
			HSD:        decimal.NewFromInt(100),
			Commission: decimal.NewFromInt(10),
		},
	}
}

type binding struct {
	name  string
	apply func(dst, src *Config)
}

// Loader связывает флаги командной строки с конфигурацией.
type Loader struct {
	fs         *pflag.FlagSet
	flags      Config
	configPath string
	bindings   []binding
}

// BindFlags регистрирует флаги конфигурации в fs.
func BindFlags(fs *pflag.FlagSet) *Loader {
	def := Default()
	l := &Loader{fs: fs}

	fs.StringVarP(&l.configPath, "config", "c", "", "path to TOML config file")

	fs.StringVarP(&l.flags.RunAddress, "address", "a", def.RunAddress, "address and port for HTTP server")
	l.bind("address", func(dst, src *Config) { dst.RunAddress = src.RunAddress })

	fs.StringVarP(&l.flags.DatabaseURI, "database", "d", "", "database URI")
	l.bind("database", func(dst, src *Config) { dst.DatabaseURI = src.DatabaseURI })

	fs.BoolVar(&l.flags.InMemory, "in-memory", false, "use in-process store instead of PostgreSQL")
	l.bind("in-memory", func(dst, src *Config) { dst.InMemory = src.InMemory })

	fs.StringVar(&l.flags.LogLevel, "log-level", def.LogLevel, "log level (debug, info, warn, error)")
	l.bind("log-level", func(dst, src *Config) { dst.LogLevel = src.LogLevel })

	fs.StringVar(&l.flags.Timezone, "timezone", def.Timezone, "timezone for sweep schedules")
	l.bind("timezone", func(dst, src *Config) { dst.Timezone = src.Timezone })

	fs.StringVar(&l.flags.Mail.URL, "mail-url", "", "mail relay base URL")
	l.bind("mail-url", func(dst, src *Config) { dst.Mail.URL = src.Mail.URL })

	fs.IntVar(&l.flags.Sweep.Limit, "sweep-limit", def.Sweep.Limit, "max candidates per sweep run")
	l.bind("sweep-limit", func(dst, src *Config) { dst.Sweep.Limit = src.Sweep.Limit })

	fs.IntVar(&l.flags.Sweep.BatchSize, "sweep-batch-size", def.Sweep.BatchSize, "candidates processed concurrently")
	l.bind("sweep-batch-size", func(dst, src *Config) { dst.Sweep.BatchSize = src.Sweep.BatchSize })

	fs.DurationVar(&l.flags.Sweep.BatchDelay, "sweep-batch-delay", def.Sweep.BatchDelay, "pause between sweep batches")
	l.bind("sweep-batch-delay", func(dst, src *Config) { dst.Sweep.BatchDelay = src.Sweep.BatchDelay })

	return l
}

func (l *Loader) bind(name string, apply func(dst, src *Config)) {
	l.bindings = append(l.bindings, binding{name: name, apply: apply})
}

// Load собирает конфигурацию из всех источников и проверяет её.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if _, err := toml.DecodeFile(l.configPath, cfg); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	for _, b := range l.bindings {
		if l.fs.Changed(b.name) {
			b.apply(cfg, &l.flags)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.RunAddress == "" {
		c.RunAddress = Default().RunAddress
	}

	if !c.InMemory && c.DatabaseURI == "" {
		errs = append(errs, errors.New("database URI is required unless running in memory"))
	}

	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	c.location = loc

	for name, spec := range map[string]string{"warn": c.Sweep.ScheduleWarn, "expire": c.Sweep.ScheduleExpire} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s schedule %q: %w", name, spec, err))
		}
	}

	if c.Mail.Retries < 0 {
		errs = append(errs, errors.New("mail retries must not be negative"))
	}

	if c.Sweep.Limit <= 0 {
		errs = append(errs, errors.New("sweep limit must be positive"))
	}
	if c.Sweep.BatchSize <= 0 {
		errs = append(errs, errors.New("sweep batch size must be positive"))
	}
	if c.Sweep.BatchDelay < 0 || c.Sweep.StartupDelay < 0 {
		errs = append(errs, errors.New("sweep delays must not be negative"))
	}

	for name, rate := range map[string]decimal.Decimal{"HSC": c.Rates.HSC, "HSG": c.Rates.HSG, "HSD": c.Rates.HSD} {
		if !rate.IsPositive() {
			errs = append(errs, fmt.Errorf("rate %s must be positive", name))
		}
	}
	if c.Rates.Commission.IsNegative() || c.Rates.Commission.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, errors.New("agent commission must be between 0 and 100 percent"))
	}

	return errors.Join(errs...)
}
