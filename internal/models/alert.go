package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertType define a regra de um alerta
type AlertType string

const (
	AlertBelow     AlertType = "below"
	AlertAbove     AlertType = "above"
	AlertChange    AlertType = "change"
	AlertAvailable AlertType = "available"
)

// Valid indica se o tipo é conhecido
func (t AlertType) Valid() bool {
	switch t {
	case AlertBelow, AlertAbove, AlertChange, AlertAvailable:
		return true
	}
	return false
}

// Alert é uma regra do usuário ligada a um produto.
// TriggeredCount e LastTriggered só avançam.
type Alert struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	ProductID      int64           `db:"product_id" json:"product_id"`
	Type           AlertType       `db:"alert_type" json:"alert_type"`
	Threshold      decimal.Decimal `db:"threshold_value" json:"threshold_value"`
	IsActive       bool            `db:"is_active" json:"is_active"`
	EmailEnabled   bool            `db:"email_enabled" json:"email_enabled"`
	WebhookURL     string          `db:"webhook_url" json:"webhook_url"`
	TelegramChatID int64           `db:"telegram_chat_id" json:"telegram_chat_id"`
	TriggeredCount int             `db:"triggered_count" json:"triggered_count"`
	LastTriggered  *time.Time      `db:"last_triggered" json:"last_triggered"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// TriggerOutcome é o resultado de entrega gravado junto ao disparo
type TriggerOutcome struct {
	EmailSent    bool
	WebhookSent  bool
	TelegramSent bool
	Errors       []string
}
