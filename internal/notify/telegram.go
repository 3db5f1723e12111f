package notify

import (
	"context"
	"fmt"
	"html"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender é a parte do BotAPI usada para enviar mensagens
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// sendTelegram envia a mensagem e retorna assim que ctx terminar, mesmo se
// o envio ainda estiver pendente no cliente HTTP
func sendTelegram(ctx context.Context, sender TelegramSender, n Notification) error {
	subject, _ := RenderEmail(n)
	text := fmt.Sprintf(
		"🎉 <b>%s</b>\n\nPreço atual: %s\nLoja: %s\n",
		html.EscapeString(subject),
		FormatMoney(n.Snapshot.Price, n.Currency),
		html.EscapeString(n.StoreName),
	)
	if n.Snapshot.DiscountPercentage != nil && *n.Snapshot.DiscountPercentage > 0 {
		text += fmt.Sprintf("Desconto: %d%%\n", *n.Snapshot.DiscountPercentage)
	}
	text += fmt.Sprintf("\nLink: %s", n.Product.URL)

	msg := tgbotapi.NewMessage(n.Alert.TelegramChatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	done := make(chan error, 1)
	go func() {
		_, err := sender.Send(msg)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
