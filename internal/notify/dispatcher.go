// Package notify entrega alertas disparados nos canais habilitados
// (email, webhook e Telegram). Cada canal falha de forma isolada.
package notify

import (
	"context"
	"fmt"
	"time"

	"price-watcher/internal/models"

	"go.uber.org/zap"
)

// Nomes dos canais, usados em erros e métricas
const (
	ChannelEmail    = "Email"
	ChannelWebhook  = "Webhook"
	ChannelTelegram = "Telegram"
)

// Notification reúne tudo o que os canais precisam para um disparo
type Notification struct {
	Alert       models.Alert
	User        models.User
	Product     models.Product
	StoreName   string
	Snapshot    models.PriceSnapshot
	TriggeredAt time.Time
	// Currency é a moeda dos valores (models.CurrencyPHP por padrão)
	Currency string
}

// Result é o resultado agregado de um disparo
type Result struct {
	EmailSent    bool     `json:"email_sent"`
	WebhookSent  bool     `json:"webhook_sent"`
	TelegramSent bool     `json:"telegram_sent"`
	Errors       []string `json:"errors"`
	// Failures guarda os erros tipados na mesma ordem de Errors
	Failures []*ChannelError `json:"-"`
}

// Outcome converte o resultado no formato gravado junto ao disparo
func (r Result) Outcome() models.TriggerOutcome {
	return models.TriggerOutcome{
		EmailSent:    r.EmailSent,
		WebhookSent:  r.WebhookSent,
		TelegramSent: r.TelegramSent,
		Errors:       r.Errors,
	}
}

func (r *Result) fail(channel string, err error) {
	chErr := &ChannelError{Channel: channel, Err: err}
	r.Failures = append(r.Failures, chErr)
	r.Errors = append(r.Errors, chErr.Error())
}

// ChannelError é a falha de entrega de um canal
type ChannelError struct {
	Channel string
	Err     error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Channel, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Mailer envia emails
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Dispatcher entrega notificações em todos os canais habilitados
type Dispatcher struct {
	mailer   Mailer
	webhook  *WebhookClient
	telegram TelegramSender
	logger   *zap.Logger
}

// NewDispatcher cria um dispatcher. mailer e telegram podem ser nil,
// desabilitando os respectivos canais.
func NewDispatcher(mailer Mailer, webhook *WebhookClient, telegram TelegramSender, logger *zap.Logger) *Dispatcher {
	if webhook == nil {
		webhook = NewWebhookClient(DefaultWebhookTimeout)
	}
	return &Dispatcher{
		mailer:   mailer,
		webhook:  webhook,
		telegram: telegram,
		logger:   logger,
	}
}

// Dispatch envia a notificação em cada canal habilitado. Falhas não
// interrompem os outros canais e nunca são retentadas aqui.
func (d *Dispatcher) Dispatch(ctx context.Context, n Notification) Result {
	var res Result
	res.Errors = []string{}

	if n.Alert.EmailEnabled && n.User.Email != "" {
		if d.mailer == nil {
			res.fail(ChannelEmail, fmt.Errorf("email não configurado"))
		} else {
			subject, body := RenderEmail(n)
			if err := d.mailer.Send(ctx, n.User.Email, subject, body); err != nil {
				res.fail(ChannelEmail, err)
			} else {
				res.EmailSent = true
			}
		}
	}

	if n.Alert.WebhookURL != "" {
		if err := d.webhook.Send(ctx, n.Alert.WebhookURL, BuildPayload(n)); err != nil {
			res.fail(ChannelWebhook, err)
		} else {
			res.WebhookSent = true
		}
	}

	if n.Alert.TelegramChatID != 0 {
		if d.telegram == nil {
			res.fail(ChannelTelegram, fmt.Errorf("bot do Telegram não configurado"))
		} else if err := sendTelegram(ctx, d.telegram, n); err != nil {
			res.fail(ChannelTelegram, err)
		} else {
			res.TelegramSent = true
		}
	}

	fields := []zap.Field{
		zap.Int64("alert_id", n.Alert.ID),
		zap.Int64("product_id", n.Product.ID),
		zap.String("alert_type", string(n.Alert.Type)),
		zap.Bool("email_sent", res.EmailSent),
		zap.Bool("webhook_sent", res.WebhookSent),
		zap.Bool("telegram_sent", res.TelegramSent),
	}
	if len(res.Errors) > 0 {
		d.logger.Warn("Alerta entregue com falhas", append(fields, zap.Strings("errors", res.Errors))...)
	} else {
		d.logger.Info("Alerta entregue", fields...)
	}
	return res
}
