package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"price-watcher/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMailer struct {
	mu      sync.Mutex
	err     error
	sent    []string
	subject string
	body    string
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	f.subject = subject
	f.body = body
	return nil
}

type fakeTelegram struct {
	chatIDs []int64
	err     error
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.chatIDs = append(f.chatIDs, msg.ChatID)
	}
	return tgbotapi.Message{}, nil
}

func sampleNotification(webhookURL string) Notification {
	discount := 9
	return Notification{
		Alert: models.Alert{
			ID:             3,
			Type:           models.AlertBelow,
			Threshold:      decimal.RequireFromString("15000"),
			IsActive:       true,
			EmailEnabled:   true,
			WebhookURL:     webhookURL,
			TriggeredCount: 1,
		},
		User:      models.User{ID: 5, Username: "testuser", Email: "test@example.com"},
		Product:   models.Product{ID: 9, Name: "Test Smartphone", URL: "https://shopee.ph/test-smartphone-i.123.456"},
		StoreName: "Shopee Philippines",
		Snapshot: models.PriceSnapshot{
			Price:              decimal.RequireFromString("14500.00"),
			OriginalPrice:      decimal.NewNullDecimal(decimal.RequireFromString("16000.00")),
			DiscountPercentage: &discount,
			IsAvailable:        true,
			StockLevel:         "In Stock",
			ScrapedAt:          time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC),
		},
	}
}

func TestDispatch_AllChannelsSucceed(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	mailer := &fakeMailer{}
	tg := &fakeTelegram{}
	n := sampleNotification(srv.URL)
	n.Alert.TelegramChatID = 777

	res := NewDispatcher(mailer, NewWebhookClient(time.Second), tg, zap.NewNop()).Dispatch(context.Background(), n)

	assert.True(t, res.EmailSent)
	assert.True(t, res.WebhookSent)
	assert.True(t, res.TelegramSent)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{"test@example.com"}, mailer.sent)
	assert.Equal(t, []int64{777}, tg.chatIDs)

	assert.Equal(t, "price_alert", payload["event"])
	assert.Equal(t, "below", payload["alert_type"])
	assert.Equal(t, "2026-02-01T08:30:00Z", payload["timestamp"])
	price := payload["price"].(map[string]any)
	assert.Equal(t, "14500", price["current"])
	assert.Equal(t, "16000", price["original"])
	assert.EqualValues(t, 9, price["discount_percentage"])
	assert.Equal(t, true, price["is_available"])
	product := payload["product"].(map[string]any)
	assert.Equal(t, "Shopee Philippines", product["store"])
	alert := payload["alert"].(map[string]any)
	assert.Equal(t, "15000", alert["threshold"])
	assert.EqualValues(t, 1, alert["triggered_count"])
	user := payload["user"].(map[string]any)
	assert.Equal(t, "testuser", user["username"])
}

func TestDispatch_ChannelFailuresAreIsolated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	mailer := &fakeMailer{err: errors.New("smtp down")}
	n := sampleNotification(srv.URL)
	n.Alert.TelegramChatID = 42
	tg := &fakeTelegram{}

	res := NewDispatcher(mailer, NewWebhookClient(time.Second), tg, zap.NewNop()).Dispatch(context.Background(), n)

	assert.False(t, res.EmailSent)
	assert.False(t, res.WebhookSent)
	assert.True(t, res.TelegramSent)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, "Email failed: smtp down", res.Errors[0])
	assert.Contains(t, res.Errors[1], "Webhook failed: status code: 502")
	require.Len(t, res.Failures, 2)
	assert.Equal(t, ChannelWebhook, res.Failures[1].Channel)
}

func TestDispatch_WebhookTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	n := sampleNotification(srv.URL)
	n.Alert.EmailEnabled = false

	res := NewDispatcher(nil, NewWebhookClient(50*time.Millisecond), nil, zap.NewNop()).Dispatch(context.Background(), n)
	assert.False(t, res.WebhookSent)
	require.Len(t, res.Errors, 1)
	assert.True(t, strings.HasPrefix(res.Errors[0], "Webhook failed:"))
}

func TestDispatch_SkipsDisabledChannels(t *testing.T) {
	mailer := &fakeMailer{}
	n := sampleNotification("")
	n.User.Email = ""

	res := NewDispatcher(mailer, nil, nil, zap.NewNop()).Dispatch(context.Background(), n)
	assert.False(t, res.EmailSent)
	assert.False(t, res.WebhookSent)
	assert.Empty(t, res.Errors)
	assert.Empty(t, mailer.sent)
}

func TestRenderEmail(t *testing.T) {
	n := sampleNotification("")

	subject, body := RenderEmail(n)
	assert.Equal(t, "Price Drop Alert: Test Smartphone", subject)
	assert.Contains(t, body, "Current Price: ₱14,500.00")
	assert.Contains(t, body, "Target Price: ₱15,000.00")
	assert.Contains(t, body, "Original Price: ₱16,000.00")
	assert.Contains(t, body, "Discount: 9% off")

	n.Alert.Type = models.AlertAvailable
	subject, body = RenderEmail(n)
	assert.Equal(t, "Back in Stock: Test Smartphone", subject)
	assert.Contains(t, body, "Stock Level: In Stock")

	n.Alert.Type = models.AlertChange
	subject, _ = RenderEmail(n)
	assert.Equal(t, "Price Change Alert: Test Smartphone", subject)

	n.Alert.Type = models.AlertAbove
	subject, _ = RenderEmail(n)
	assert.Equal(t, "Price Increase Alert: Test Smartphone", subject)
}

func TestFormatPeso(t *testing.T) {
	assert.Equal(t, "₱0.50", FormatPeso(decimal.RequireFromString("0.5")))
	assert.Equal(t, "₱999.00", FormatPeso(decimal.RequireFromString("999")))
	assert.Equal(t, "₱1,000,000.25", FormatPeso(decimal.RequireFromString("1000000.25")))
}

func TestBuildPayload_NullOriginal(t *testing.T) {
	n := sampleNotification("")
	n.Snapshot.OriginalPrice = decimal.NullDecimal{}
	n.Snapshot.DiscountPercentage = nil

	raw, err := json.Marshal(BuildPayload(n))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"original":null`)
	assert.Contains(t, string(raw), `"discount_percentage":null`)
}
