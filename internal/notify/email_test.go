package notify

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"price-watcher/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentSMTP aceita conexões e nunca envia a saudação 220
func silentSMTP(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var conns []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, conn)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
		for _, c := range conns {
			c.Close()
		}
	})

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestSMTPMailer_StalledServerHonorsContext(t *testing.T) {
	host, port := silentSMTP(t)
	mailer := &SMTPMailer{Host: host, Port: port, From: "alerts@example.com"}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := mailer.Send(ctx, "test@example.com", "Price Drop Alert", "body")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSMTPMailer_StalledServerHonorsTimeout(t *testing.T) {
	host, port := silentSMTP(t)
	mailer := &SMTPMailer{Host: host, Port: port, From: "alerts@example.com", Timeout: 150 * time.Millisecond}

	start := time.Now()
	err := mailer.Send(context.Background(), "test@example.com", "Price Drop Alert", "body")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestBuildMessage_StripsHeaderInjection(t *testing.T) {
	msg := string(buildMessage("alerts@example.com", "test@example.com", "Fone\r\nBcc: victim@example.com", "hello"))

	headers, body, ok := strings.Cut(msg, "\r\n\r\n")
	require.True(t, ok)
	assert.NotContains(t, headers, "\r\nBcc:")
	assert.Contains(t, headers, "Subject: FoneBcc: victim@example.com\r\n")
	assert.Equal(t, "hello", body)
}

func TestBuildMessage_EncodesNonASCIISubject(t *testing.T) {
	msg := string(buildMessage("alerts@example.com", "test@example.com", "Price Drop Alert: Pão de Açúcar", "corpo"))

	assert.Contains(t, msg, "Subject: =?utf-8?q?")
	assert.NotContains(t, msg, "Pão de Açúcar")
	assert.Contains(t, msg, "From: alerts@example.com\r\n")
}

func TestFormatMoney(t *testing.T) {
	amount := decimal.RequireFromString("1299.5")
	assert.Equal(t, "₱1,299.50", FormatMoney(amount, models.CurrencyPHP))
	assert.Equal(t, "R$ 1.299,50", FormatMoney(amount, models.CurrencyBRL))
	assert.Equal(t, "₱1,299.50", FormatMoney(amount, ""))
	assert.Equal(t, "R$ 1.000.000,25", FormatMoney(decimal.RequireFromString("1000000.25"), models.CurrencyBRL))
}

func TestRenderEmail_UsesStoreCurrency(t *testing.T) {
	n := sampleNotification("")
	n.StoreName = "Mercado Livre"
	n.Currency = models.CurrencyBRL

	_, body := RenderEmail(n)
	assert.Contains(t, body, "Current Price: R$ 14.500,00")
	assert.Contains(t, body, "Target Price: R$ 15.000,00")
	assert.NotContains(t, body, "₱")
}

type blockingTelegram struct {
	release chan struct{}
}

func (b *blockingTelegram) Send(tgbotapi.Chattable) (tgbotapi.Message, error) {
	<-b.release
	return tgbotapi.Message{}, nil
}

func TestSendTelegram_ReturnsWhenContextEnds(t *testing.T) {
	sender := &blockingTelegram{release: make(chan struct{})}
	defer close(sender.release)

	n := sampleNotification("")
	n.Alert.TelegramChatID = 42

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sendTelegram(ctx, sender, n)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}
