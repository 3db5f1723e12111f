package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config contém as configurações da aplicação
type Config struct {
	DatabasePath string
	LogLevel     string
	HTTPAddr     string

	// Agendador
	Workers       int
	MaxAttempts   int
	BackoffBase   time.Duration
	ResultTimeout time.Duration
	JobTTL        time.Duration
	ScanSchedule  string

	// Histórico
	RetentionDays     int
	RetentionSchedule string
	ReportSchedule    string

	// Navegação
	ScrapeTimeout     time.Duration
	Settle            time.Duration
	WarmUp            bool
	RequestsPerMinute int

	// Notificações
	WebhookTimeout   time.Duration
	SMTP             SMTPConfig
	TelegramBotToken string
	TelegramChatID   int64
	TelegramTimeout  time.Duration

	Redis RedisConfig
}

// SMTPConfig configura o envio de emails. Host vazio desativa o canal.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// RedisConfig configura o lock distribuído. Addr vazio usa lock local.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RetentionWindow retorna a janela de retenção como duração
func (c *Config) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DATABASE_PATH", "./prices.db")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("WORKERS", 4)
	v.SetDefault("MAX_ATTEMPTS", 3)
	v.SetDefault("BACKOFF_BASE", "60s")
	v.SetDefault("RESULT_TIMEOUT", "60s")
	v.SetDefault("JOB_TTL", "1h")
	v.SetDefault("SCAN_SCHEDULE", "@every 1m")
	v.SetDefault("RETENTION_DAYS", 90)
	v.SetDefault("RETENTION_SCHEDULE", "0 3 * * *")
	v.SetDefault("REPORT_SCHEDULE", "55 23 * * *")
	v.SetDefault("SCRAPE_TIMEOUT", "30s")
	v.SetDefault("SETTLE", "2s")
	v.SetDefault("WARMUP", true)
	v.SetDefault("REQUESTS_PER_MINUTE", 20)
	v.SetDefault("WEBHOOK_TIMEOUT", "10s")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_TIMEOUT", "30s")
	v.SetDefault("TELEGRAM_TIMEOUT", "15s")
	v.SetDefault("REDIS_DB", 0)
}

// Load carrega o .env (se existir) e as variáveis de ambiente
func Load() (*Config, error) {
	// .env é opcional
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	return FromViper(v)
}

// FromViper monta e valida a configuração a partir de v
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	cfg := &Config{
		DatabasePath:      v.GetString("DATABASE_PATH"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		HTTPAddr:          v.GetString("HTTP_ADDR"),
		Workers:           v.GetInt("WORKERS"),
		MaxAttempts:       v.GetInt("MAX_ATTEMPTS"),
		BackoffBase:       v.GetDuration("BACKOFF_BASE"),
		ResultTimeout:     v.GetDuration("RESULT_TIMEOUT"),
		JobTTL:            v.GetDuration("JOB_TTL"),
		ScanSchedule:      v.GetString("SCAN_SCHEDULE"),
		RetentionDays:     v.GetInt("RETENTION_DAYS"),
		RetentionSchedule: v.GetString("RETENTION_SCHEDULE"),
		ReportSchedule:    v.GetString("REPORT_SCHEDULE"),
		ScrapeTimeout:     v.GetDuration("SCRAPE_TIMEOUT"),
		Settle:            v.GetDuration("SETTLE"),
		WarmUp:            v.GetBool("WARMUP"),
		RequestsPerMinute: v.GetInt("REQUESTS_PER_MINUTE"),
		WebhookTimeout:    v.GetDuration("WEBHOOK_TIMEOUT"),
		SMTP: SMTPConfig{
			Host:     v.GetString("SMTP_HOST"),
			Port:     v.GetInt("SMTP_PORT"),
			Username: v.GetString("SMTP_USERNAME"),
			Password: v.GetString("SMTP_PASSWORD"),
			From:     v.GetString("SMTP_FROM"),
			Timeout:  v.GetDuration("SMTP_TIMEOUT"),
		},
		TelegramBotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   v.GetInt64("TELEGRAM_CHAT_ID"),
		TelegramTimeout:  v.GetDuration("TELEGRAM_TIMEOUT"),
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate verifica os valores obrigatórios e os limites
func (c *Config) Validate() error {
	var errs []error
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH não pode ser vazio"))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("WORKERS deve ser positivo: %d", c.Workers))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("MAX_ATTEMPTS deve ser positivo: %d", c.MaxAttempts))
	}
	if c.BackoffBase <= 0 {
		errs = append(errs, errors.New("BACKOFF_BASE deve ser positivo"))
	}
	if c.ResultTimeout <= 0 {
		errs = append(errs, errors.New("RESULT_TIMEOUT deve ser positivo"))
	}
	if c.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("RETENTION_DAYS deve ser positivo: %d", c.RetentionDays))
	}
	if c.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("REQUESTS_PER_MINUTE não pode ser negativo"))
	}
	if c.WebhookTimeout <= 0 || c.SMTP.Timeout <= 0 || c.TelegramTimeout <= 0 {
		errs = append(errs, errors.New("WEBHOOK_TIMEOUT, SMTP_TIMEOUT e TELEGRAM_TIMEOUT devem ser positivos"))
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		errs = append(errs, errors.New("SMTP_FROM é obrigatório quando SMTP_HOST está configurado"))
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for key, spec := range map[string]string{
		"SCAN_SCHEDULE":      c.ScanSchedule,
		"RETENTION_SCHEDULE": c.RetentionSchedule,
		"REPORT_SCHEDULE":    c.ReportSchedule,
	} {
		if _, err := parser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s inválido %q: %w", key, spec, err))
		}
	}

	return errors.Join(errs...)
}
