package main

import (
	"context"
	"fmt"

	"price-watcher/config"
	"price-watcher/internal/bot"
	"price-watcher/internal/database"
	"price-watcher/internal/lock"
	"price-watcher/internal/logger"
	"price-watcher/internal/monitor"
	"price-watcher/internal/notify"
	"price-watcher/internal/scraper"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app reúne as dependências montadas a partir da configuração
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *database.DB
	registry *scraper.Registry
	monitor  *monitor.Monitor
	gatherer prometheus.Gatherer
	telegram *tgbotapi.BotAPI
	redis    *redis.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("erro ao carregar configurações: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel})
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg.DatabasePath, log)
	if err != nil {
		return nil, fmt.Errorf("erro ao inicializar banco de dados: %w", err)
	}
	a := &app{cfg: cfg, logger: log, db: db}

	session := scraper.DefaultSessionConfig()
	session.WarmUp = cfg.WarmUp
	session.Settle = cfg.Settle
	session.RequestTimeout = cfg.ScrapeTimeout
	a.registry = scraper.NewRegistry(session, scraper.WithRequestsPerMinute(cfg.RequestsPerMinute))

	var mailer notify.Mailer
	if cfg.SMTP.Host != "" {
		mailer = &notify.SMTPMailer{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			Timeout:  cfg.SMTP.Timeout,
		}
	} else {
		log.Warn("SMTP_HOST não configurado, alertas por email desativados")
	}

	var telegram notify.TelegramSender
	if cfg.TelegramBotToken != "" {
		// clientes separados: alertas com timeout curto, long polling com longo
		sendAPI, err := bot.Init(cfg.TelegramBotToken, cfg.TelegramTimeout, log)
		if err != nil {
			log.Warn("Erro ao conectar com Telegram, canal desativado", zap.Error(err))
		} else {
			telegram = sendAPI
			pollAPI, err := bot.Init(cfg.TelegramBotToken, bot.PollClientTimeout, log)
			if err != nil {
				log.Warn("Erro ao conectar com Telegram, comandos desativados", zap.Error(err))
			} else {
				a.telegram = pollAPI
			}
		}
	}
	dispatcher := notify.NewDispatcher(mailer, notify.NewWebhookClient(cfg.WebhookTimeout), telegram, log)

	var locker lock.Locker
	if cfg.Redis.Addr != "" {
		client, err := lock.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = client
		locker = lock.NewRedisLocker(client, "")
		log.Info("Usando lock distribuído no Redis", zap.String("addr", cfg.Redis.Addr))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.gatherer = reg

	opts := monitor.DefaultOptions()
	opts.Workers = cfg.Workers
	opts.MaxAttempts = cfg.MaxAttempts
	opts.BackoffBase = cfg.BackoffBase
	opts.ResultTimeout = cfg.ResultTimeout
	opts.JobTTL = cfg.JobTTL
	a.monitor = monitor.New(db, a.registry, dispatcher, locker, monitor.NewMetrics(reg), log, opts)

	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Erro ao fechar conexão com Redis", zap.Error(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("Erro ao fechar banco de dados", zap.Error(err))
	}
	_ = a.logger.Sync()
}
