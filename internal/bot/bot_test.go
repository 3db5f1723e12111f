package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"price-watcher/internal/database"
	"price-watcher/internal/history"
	"price-watcher/internal/models"
	"price-watcher/internal/monitor"
	"price-watcher/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	ownerChat = int64(42)
	otherChat = int64(7)
)

type sentMessage struct {
	ChatID    int64
	MessageID int
	Text      string
	Edit      bool
}

type fakeSender struct {
	mu   sync.Mutex
	next int
	sent []sentMessage
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch m := c.(type) {
	case tgbotapi.MessageConfig:
		f.next++
		f.sent = append(f.sent, sentMessage{ChatID: m.ChatID, MessageID: f.next, Text: m.Text})
		return tgbotapi.Message{MessageID: f.next}, nil
	case tgbotapi.EditMessageTextConfig:
		f.sent = append(f.sent, sentMessage{ChatID: m.ChatID, MessageID: m.MessageID, Text: m.Text, Edit: true})
		return tgbotapi.Message{MessageID: m.MessageID}, nil
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeSender) Last(t *testing.T) sentMessage {
	t.Helper()
	msgs := f.Messages()
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

type staticExtractor struct{}

func (staticExtractor) Extract(_ context.Context, _ string) (*models.RawExtraction, error) {
	return &models.RawExtraction{Name: "Fone", Price: "1299.00", IsAvailable: true}, nil
}

type nopNotifier struct{}

func (nopNotifier) Dispatch(_ context.Context, _ notify.Notification) notify.Result {
	return notify.Result{Errors: []string{}}
}

type staticSites []string

func (s staticSites) SupportedDomains() []string { return s }

func newTestBot(t *testing.T) (*Bot, *fakeSender) {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	u := &models.User{Username: "carla", Email: "carla@example.com"}
	require.NoError(t, db.CreateUser(ctx, u))
	s := &models.Store{Name: "Shopee Philippines", Platform: "shopee"}
	require.NoError(t, db.CreateStore(ctx, s))
	require.NoError(t, db.CreateProduct(ctx, &models.Product{
		UserID:   u.ID,
		StoreID:  s.ID,
		Name:     "Fone",
		URL:      "https://shopee.ph/fone-i.1.2",
		IsActive: true,
	}))

	m := monitor.New(db, staticExtractor{}, nopNotifier{}, nil, monitor.NewMetrics(prometheus.NewRegistry()), zap.NewNop(), monitor.Options{})
	m.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Stop(ctx)
	})

	sender := &fakeSender{}
	b := New(sender, m, history.NewReporter(db, zap.NewNop()), staticSites{"lazada.com.ph", "shopee.ph"}, ownerChat, 5*time.Second, zap.NewNop())
	return b, sender
}

func message(chatID int64, text string) *tgbotapi.Message {
	return &tgbotapi.Message{Text: text, Chat: &tgbotapi.Chat{ID: chatID}}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text    string
		command string
		args    []string
	}{
		{"/scrape 12", "/scrape", []string{"12"}},
		{"/Status@PriceBot abc", "/status", []string{"abc"}},
		{"  /help  ", "/help", []string{}},
		{"", "", nil},
	}
	for _, tt := range tests {
		command, args := parseCommand(tt.text)
		assert.Equal(t, tt.command, command, tt.text)
		if tt.args == nil {
			assert.Nil(t, args)
		} else {
			assert.Equal(t, tt.args, args)
		}
	}
}

func TestHandle_Unauthorized(t *testing.T) {
	b, sender := newTestBot(t)

	b.Handle(context.Background(), message(otherChat, "/sites"))
	assert.Equal(t, "Você não está autorizado a usar este bot.", sender.Last(t).Text)

	b.Handle(context.Background(), message(otherChat, "/help"))
	assert.Contains(t, sender.Last(t).Text, "/scrape &lt;id&gt;")
}

func TestHandle_NoAuthorizedChatAcceptsAll(t *testing.T) {
	b, sender := newTestBot(t)
	b.authorizedID = 0

	b.Handle(context.Background(), message(otherChat, "/sites"))
	assert.Contains(t, sender.Last(t).Text, "shopee.ph")
}

func TestHandle_Scrape(t *testing.T) {
	b, sender := newTestBot(t)

	b.Handle(context.Background(), message(ownerChat, "/scrape 1"))

	msgs := sender.Messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].Text, "Coletando preço")
	assert.True(t, msgs[1].Edit)
	assert.Equal(t, msgs[0].MessageID, msgs[1].MessageID)
	assert.Contains(t, msgs[1].Text, "✅ concluído")
	assert.Contains(t, msgs[1].Text, "₱1,299.00")
}

func TestHandle_ScrapeInvalidArgs(t *testing.T) {
	b, sender := newTestBot(t)

	b.Handle(context.Background(), message(ownerChat, "/scrape"))
	assert.Contains(t, sender.Last(t).Text, "Uso: /scrape <id>")

	b.Handle(context.Background(), message(ownerChat, "/scrape abc"))
	assert.Equal(t, "❌ ID inválido.", sender.Last(t).Text)
}

func TestHandle_ScrapeUnknownProductFails(t *testing.T) {
	b, sender := newTestBot(t)

	b.Handle(context.Background(), message(ownerChat, "/scrape 999"))
	last := sender.Last(t)
	assert.Contains(t, last.Text, "❌ falhou")
	assert.Contains(t, last.Text, "produto não encontrado")
}

func TestHandle_ScrapeAllAndStatus(t *testing.T) {
	b, sender := newTestBot(t)

	b.Handle(context.Background(), message(ownerChat, "/scrapeall"))
	assert.Contains(t, sender.Last(t).Text, "1 coletas agendadas")

	b.Handle(context.Background(), message(ownerChat, "/status nope"))
	assert.Contains(t, sender.Last(t).Text, "Job não encontrado")
}

func TestHandle_ReportAndSites(t *testing.T) {
	b, sender := newTestBot(t)

	b.Handle(context.Background(), message(ownerChat, "/report"))
	assert.Contains(t, sender.Last(t).Text, "Relatório de")

	b.Handle(context.Background(), message(ownerChat, "/sites"))
	assert.Contains(t, sender.Last(t).Text, "• lazada.com.ph")

	b.Handle(context.Background(), message(ownerChat, "/add x"))
	assert.Contains(t, sender.Last(t).Text, "Comando não reconhecido")
}

func TestFormatJob(t *testing.T) {
	next := time.Date(2026, 3, 1, 10, 0, 2, 0, time.UTC)
	text := formatJob(monitor.JobResult{
		JobID:         "j1",
		ProductID:     3,
		Status:        monitor.JobRetryScheduled,
		Attempts:      1,
		Error:         "preço <ausente>",
		NextAttemptAt: &next,
	})
	assert.Contains(t, text, "🔁 nova tentativa agendada")
	assert.Contains(t, text, "preço &lt;ausente&gt;")
	assert.Contains(t, text, "01/03/2026 10:00:02 UTC")
}

func TestFormatBatch(t *testing.T) {
	res := monitor.BatchResult{
		BatchID: "b1",
		Total:   2,
		Success: 1,
		Failed:  1,
		Errors:  []monitor.BatchError{{ProductID: 2, Error: "site não suportado"}},
	}
	assert.Contains(t, formatBatch(res, false), "em andamento")

	done := formatBatch(res, true)
	assert.Contains(t, done, "✅ Sucesso: 1")
	assert.Contains(t, done, "• Produto 2: site não suportado")
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "₱14,500.00", formatPrice("14500", models.CurrencyPHP))
	assert.Equal(t, "R$ 14.500,00", formatPrice("14500", models.CurrencyBRL))
	assert.Equal(t, "n/d", formatPrice("n/d", ""))
}
