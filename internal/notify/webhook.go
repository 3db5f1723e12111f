package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultWebhookTimeout é o limite de cada entrega de webhook
const DefaultWebhookTimeout = 10 * time.Second

// WebhookPayload é o corpo JSON enviado aos webhooks
type WebhookPayload struct {
	Event     string         `json:"event"`
	AlertType string         `json:"alert_type"`
	Timestamp string         `json:"timestamp"`
	User      WebhookUser    `json:"user"`
	Product   WebhookProduct `json:"product"`
	Price     WebhookPrice   `json:"price"`
	Alert     WebhookAlert   `json:"alert"`
}

type WebhookUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type WebhookProduct struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Store string `json:"store"`
	URL   string `json:"url"`
}

type WebhookPrice struct {
	Current            string  `json:"current"`
	Original           *string `json:"original"`
	DiscountPercentage *int    `json:"discount_percentage"`
	IsAvailable        bool    `json:"is_available"`
	StockLevel         string  `json:"stock_level"`
}

type WebhookAlert struct {
	Threshold      string `json:"threshold"`
	TriggeredCount int    `json:"triggered_count"`
}

// BuildPayload monta o payload do webhook para uma notificação
func BuildPayload(n Notification) WebhookPayload {
	price := WebhookPrice{
		Current:            n.Snapshot.Price.String(),
		DiscountPercentage: n.Snapshot.DiscountPercentage,
		IsAvailable:        n.Snapshot.IsAvailable,
		StockLevel:         n.Snapshot.StockLevel,
	}
	if n.Snapshot.OriginalPrice.Valid {
		original := n.Snapshot.OriginalPrice.Decimal.String()
		price.Original = &original
	}

	return WebhookPayload{
		Event:     "price_alert",
		AlertType: string(n.Alert.Type),
		Timestamp: n.Snapshot.ScrapedAt.UTC().Format(time.RFC3339),
		User: WebhookUser{
			ID:       n.User.ID,
			Username: n.User.Username,
			Email:    n.User.Email,
		},
		Product: WebhookProduct{
			ID:    n.Product.ID,
			Name:  n.Product.Name,
			Store: n.StoreName,
			URL:   n.Product.URL,
		},
		Price: price,
		Alert: WebhookAlert{
			Threshold:      n.Alert.Threshold.String(),
			TriggeredCount: n.Alert.TriggeredCount,
		},
	}
}

// WebhookClient entrega payloads JSON com tempo limite
type WebhookClient struct {
	client *http.Client
}

// NewWebhookClient cria um cliente com o timeout informado
func NewWebhookClient(timeout time.Duration) *WebhookClient {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookClient{client: &http.Client{Timeout: timeout}}
}

// Send faz o POST do payload. Respostas fora de 2xx são erro.
func (w *WebhookClient) Send(ctx context.Context, url string, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("erro ao serializar payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("erro ao criar requisição: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status code: %d", resp.StatusCode)
	}
	return nil
}
