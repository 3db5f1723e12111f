// Package bot expõe os comandos de coleta pelo Telegram
package bot

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"price-watcher/internal/history"
	"price-watcher/internal/monitor"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// longPollSeconds é o tempo que o Telegram segura cada getUpdates
const longPollSeconds = 60

// PollClientTimeout é o timeout HTTP do cliente usado em Run. Precisa
// ser maior que o long polling.
const PollClientTimeout = (longPollSeconds + 15) * time.Second

// Init inicializa o cliente do Telegram. Toda requisição do cliente,
// inclusive a validação do token, é limitada por timeout.
func Init(token string, timeout time.Duration, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	return initWithEndpoint(token, tgbotapi.APIEndpoint, timeout, logger)
}

func initWithEndpoint(token, endpoint string, timeout time.Duration, logger *zap.Logger) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN não configurado. Verifique o arquivo .env")
	}

	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		if err.Error() == "Unauthorized" {
			return nil, fmt.Errorf("token do Telegram inválido ou expirado. Verifique o TELEGRAM_BOT_TOKEN no arquivo .env. Para obter um token, fale com @BotFather no Telegram")
		}
		return nil, fmt.Errorf("erro ao conectar com Telegram: %w", err)
	}

	api.Debug = false
	logger.Info("Bot autorizado", zap.String("username", api.Self.UserName))
	return api, nil
}

// Sender envia mensagens pelo Telegram
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Scheduler é a parte do monitor usada pelos comandos
type Scheduler interface {
	ScrapeNow(productID int64) (*monitor.Job, error)
	SubmitAllDue(ctx context.Context) (*monitor.Batch, error)
	Job(id string) (*monitor.Job, bool)
	Batch(id string) (*monitor.Batch, bool)
}

// Reporter gera o relatório diário
type Reporter interface {
	Daily(ctx context.Context, day time.Time) (*history.DailyReport, error)
}

// SiteLister lista os domínios suportados
type SiteLister interface {
	SupportedDomains() []string
}

// Bot atende os comandos recebidos pelo Telegram
type Bot struct {
	sender       Sender
	scheduler    Scheduler
	reporter     Reporter
	sites        SiteLister
	authorizedID int64
	logger       *zap.Logger

	// waitTimeout limita quanto /scrape espera o resultado do job
	waitTimeout time.Duration
	now         func() time.Time
}

// New cria o bot. authorizedChatID 0 aceita qualquer chat.
func New(sender Sender, scheduler Scheduler, reporter Reporter, sites SiteLister, authorizedChatID int64, waitTimeout time.Duration, logger *zap.Logger) *Bot {
	if waitTimeout <= 0 {
		waitTimeout = 90 * time.Second
	}
	return &Bot{
		sender:       sender,
		scheduler:    scheduler,
		reporter:     reporter,
		sites:        sites,
		authorizedID: authorizedChatID,
		logger:       logger,
		waitTimeout:  waitTimeout,
		now:          time.Now,
	}
}

// Run consome as atualizações até o contexto terminar
func (b *Bot) Run(ctx context.Context, api *tgbotapi.BotAPI) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = longPollSeconds
	updates := api.GetUpdatesChan(u)
	defer api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			go b.Handle(ctx, update.Message)
		}
	}
}

// parseCommand separa o comando (sem @botname, minúsculo) dos argumentos
func parseCommand(text string) (string, []string) {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil
	}
	command := strings.ToLower(parts[0])
	if idx := strings.Index(command, "@"); idx > 0 {
		command = command[:idx]
	}
	return command, parts[1:]
}

// authorized indica se o chat pode usar o comando. /start e /help são
// públicos.
func (b *Bot) authorized(command string, chatID int64) bool {
	if command == "/start" || command == "/help" {
		return true
	}
	return b.authorizedID == 0 || chatID == b.authorizedID
}

func (b *Bot) reply(chatID int64, text string, html bool) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if html {
		msg.ParseMode = tgbotapi.ModeHTML
	}
	sent, err := b.sender.Send(msg)
	if err != nil && html {
		b.logger.Warn("Erro ao enviar mensagem com HTML, reenviando sem formatação", zap.Error(err))
		msg.ParseMode = ""
		sent, err = b.sender.Send(msg)
	}
	if err != nil {
		b.logger.Error("Erro ao enviar mensagem", zap.Int64("chat_id", chatID), zap.Error(err))
		return 0, err
	}
	return sent.MessageID, nil
}

// edit substitui o texto de uma mensagem já enviada, ou envia uma nova
func (b *Bot) edit(chatID int64, messageID int, text string) {
	if messageID == 0 {
		_, _ = b.reply(chatID, text, true)
		return
	}
	msg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Warn("Erro ao editar mensagem, enviando nova", zap.Error(err))
		_, _ = b.reply(chatID, text, true)
	}
}
