package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"price-watcher/internal/models"

	"github.com/shopspring/decimal"
)

// DefaultSMTPTimeout limita cada envio quando SMTPMailer.Timeout é zero
const DefaultSMTPTimeout = 30 * time.Second

// SMTPMailer envia emails por SMTP
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout limita a conexão e toda a conversa SMTP
	Timeout time.Duration
}

// Send envia um email de texto simples. O envio inteiro respeita o prazo
// de ctx e o Timeout do mailer, o que vencer primeiro.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultSMTPTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := m.send(ctx, to, subject, body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("erro ao enviar email para %s: %w (%v)", to, ctxErr, err)
		}
		return fmt.Errorf("erro ao enviar email para %s: %w", to, err)
	}
	return nil
}

func (m *SMTPMailer) send(ctx context.Context, to, subject, body string) error {
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))

	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return err
		}
	}
	// fecha a conexão se ctx for cancelado antes do prazo
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		return err
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
			return err
		}
	}
	if m.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.Username, m.Password, m.Host)); err != nil {
			return err
		}
	}

	if err := c.Mail(m.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(buildMessage(m.From, to, subject, body)); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

// headerValue remove quebras de linha e codifica texto não ASCII
func headerValue(v string) string {
	v = strings.NewReplacer("\r", "", "\n", "").Replace(v)
	return mime.QEncoding.Encode("utf-8", v)
}

func buildMessage(from, to, subject, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + headerValue(from) + "\r\n")
	b.WriteString("To: " + headerValue(to) + "\r\n")
	b.WriteString("Subject: " + headerValue(subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// RenderEmail monta assunto e corpo do email conforme o tipo do alerta
func RenderEmail(n Notification) (string, string) {
	name := n.Product.Name
	snap := n.Snapshot

	var subject string
	var b strings.Builder
	switch n.Alert.Type {
	case models.AlertBelow:
		subject = "Price Drop Alert: " + name
		fmt.Fprintf(&b, "Good news! The price for %s has dropped below your target price.\n\n", name)
		fmt.Fprintf(&b, "Current Price: %s\n", FormatMoney(snap.Price, n.Currency))
		fmt.Fprintf(&b, "Target Price: %s\n", FormatMoney(n.Alert.Threshold, n.Currency))
		fmt.Fprintf(&b, "Store: %s\n", n.StoreName)
		writeDiscount(&b, snap, n.Currency)
		fmt.Fprintf(&b, "\nView Product: %s\n\nHappy shopping!\n", n.Product.URL)
	case models.AlertAbove:
		subject = "Price Increase Alert: " + name
		fmt.Fprintf(&b, "Price Alert: %s has exceeded your alert threshold.\n\n", name)
		fmt.Fprintf(&b, "Current Price: %s\n", FormatMoney(snap.Price, n.Currency))
		fmt.Fprintf(&b, "Alert Threshold: %s\n", FormatMoney(n.Alert.Threshold, n.Currency))
		fmt.Fprintf(&b, "Store: %s\n", n.StoreName)
		fmt.Fprintf(&b, "\nView Product: %s\n", n.Product.URL)
	case models.AlertAvailable:
		subject = "Back in Stock: " + name
		fmt.Fprintf(&b, "Great news! %s is back in stock!\n\n", name)
		fmt.Fprintf(&b, "Current Price: %s\n", FormatMoney(snap.Price, n.Currency))
		fmt.Fprintf(&b, "Store: %s\n", n.StoreName)
		if snap.StockLevel != "" {
			fmt.Fprintf(&b, "Stock Level: %s\n", snap.StockLevel)
		}
		writeDiscount(&b, snap, n.Currency)
		fmt.Fprintf(&b, "\nView Product: %s\n\nDon't wait too long - it might sell out again!\n", n.Product.URL)
	case models.AlertChange:
		subject = "Price Change Alert: " + name
		fmt.Fprintf(&b, "Price Change Alert: %s\n\n", name)
		fmt.Fprintf(&b, "Current Price: %s\n", FormatMoney(snap.Price, n.Currency))
		fmt.Fprintf(&b, "Change Threshold: %s%%\n", n.Alert.Threshold.String())
		fmt.Fprintf(&b, "Store: %s\n", n.StoreName)
		fmt.Fprintf(&b, "\nView Product: %s\n", n.Product.URL)
	default:
		subject = "Price Alert: " + name
		fmt.Fprintf(&b, "Current Price: %s\n\nView Product: %s\n", FormatMoney(snap.Price, n.Currency), n.Product.URL)
	}
	b.WriteString("Price Watcher Team\n")
	return subject, b.String()
}

func writeDiscount(b *strings.Builder, snap models.PriceSnapshot, currency string) {
	if snap.OriginalPrice.Valid {
		fmt.Fprintf(b, "Original Price: %s\n", FormatMoney(snap.OriginalPrice.Decimal, currency))
	}
	if snap.DiscountPercentage != nil && *snap.DiscountPercentage > 0 {
		fmt.Fprintf(b, "Discount: %d%% off\n", *snap.DiscountPercentage)
	}
}

// FormatPeso formata um valor como "₱1,299.00"
func FormatPeso(d decimal.Decimal) string {
	return FormatMoney(d, models.CurrencyPHP)
}

// FormatMoney formata um valor na moeda indicada: "₱1,299.00" para PHP e
// "R$ 1.299,00" para BRL. Moeda vazia ou desconhecida usa PHP.
func FormatMoney(d decimal.Decimal, currency string) string {
	symbol, thousands, decimals := "₱", ",", "."
	if currency == models.CurrencyBRL {
		symbol, thousands, decimals = "R$ ", ".", ","
	}

	fixed := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			grouped.WriteString(thousands)
		}
		grouped.WriteRune(r)
	}

	sign := ""
	if d.IsNegative() {
		sign = "-"
	}
	return sign + symbol + grouped.String() + decimals + frac
}
