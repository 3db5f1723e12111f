package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DefaultScrapeFrequency é o intervalo padrão entre coletas de um produto
const DefaultScrapeFrequency = 60 * time.Minute

// Store representa uma loja/plataforma de e-commerce
type Store struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	Platform string `db:"platform" json:"platform"`
	BaseURL  string `db:"base_url" json:"base_url"`
	Country  string `db:"country" json:"country"`
}

// Moedas dos preços coletados
const (
	CurrencyPHP = "PHP"
	CurrencyBRL = "BRL"
)

// Currency retorna a moeda local da loja. Mercado Livre e lojas do Brasil
// usam real; o resto, peso filipino.
func (s Store) Currency() string {
	if s.Platform == "mercadolivre" || s.Country == "BR" {
		return CurrencyBRL
	}
	return CurrencyPHP
}

// User representa o dono de produtos e alertas
type User struct {
	ID       int64  `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
	Email    string `db:"email" json:"email"`
}

// Product representa um produto sendo monitorado
type Product struct {
	ID                     int64               `db:"id" json:"id"`
	UserID                 int64               `db:"user_id" json:"user_id"`
	StoreID                int64               `db:"store_id" json:"store_id"`
	Name                   string              `db:"name" json:"name"`
	URL                    string              `db:"url" json:"url"`
	ImageURL               string              `db:"image_url" json:"image_url"`
	TargetPrice            decimal.NullDecimal `db:"target_price" json:"target_price"` // Apenas informativo
	IsActive               bool                `db:"is_active" json:"is_active"`
	ScrapeFrequencyMinutes int                 `db:"scrape_frequency" json:"scrape_frequency"`
	LastScraped            *time.Time          `db:"last_scraped" json:"last_scraped"`
	CreatedAt              time.Time           `db:"created_at" json:"created_at"`
}

// ScrapeFrequency retorna o intervalo mínimo entre coletas
func (p Product) ScrapeFrequency() time.Duration {
	if p.ScrapeFrequencyMinutes <= 0 {
		return DefaultScrapeFrequency
	}
	return time.Duration(p.ScrapeFrequencyMinutes) * time.Minute
}

// IsDue indica se o produto precisa ser coletado no instante now
func (p Product) IsDue(now time.Time) bool {
	if !p.IsActive {
		return false
	}
	if p.LastScraped == nil {
		return true
	}
	return now.Sub(*p.LastScraped) >= p.ScrapeFrequency()
}
