package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSnapshot é uma observação imutável de preço/disponibilidade.
// Só é criada pelo pipeline de coleta e só é removida pela retenção.
type PriceSnapshot struct {
	ID                 int64               `db:"id" json:"id"`
	ProductID          int64               `db:"product_id" json:"product_id"`
	Price              decimal.Decimal     `db:"price" json:"price"`
	OriginalPrice      decimal.NullDecimal `db:"original_price" json:"original_price"`
	DiscountPercentage *int                `db:"discount_percentage" json:"discount_percentage"`
	IsAvailable        bool                `db:"is_available" json:"is_available"`
	StockLevel         string              `db:"stock_level" json:"stock_level"`
	Rating             decimal.NullDecimal `db:"rating" json:"rating"`
	ReviewCount        *int                `db:"review_count" json:"review_count"`
	ScrapedAt          time.Time           `db:"scraped_at" json:"scraped_at"`
	ScrapeDuration     float64             `db:"scrape_duration" json:"scrape_duration"` // Segundos
}

// Newer indica se s é mais recente que other (desempate pelo ID)
func (s PriceSnapshot) Newer(other PriceSnapshot) bool {
	if s.ScrapedAt.Equal(other.ScrapedAt) {
		return s.ID > other.ID
	}
	return s.ScrapedAt.After(other.ScrapedAt)
}

// RawExtraction é o resultado textual de um adapter, antes da normalização
type RawExtraction struct {
	Name          string
	Price         string
	OriginalPrice string
	Discount      string
	IsAvailable   bool
	StockLevel    string
	Rating        string
	ReviewCount   string
	ImageURL      string
}

// ScrapeRun registra uma tentativa de coleta (sucesso ou falha)
type ScrapeRun struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	StoreName string    `db:"store_name" json:"store_name"`
	JobID     string    `db:"job_id" json:"job_id"`
	Attempt   int       `db:"attempt" json:"attempt"`
	StartedAt time.Time `db:"started_at" json:"started_at"`
	Duration  float64   `db:"duration" json:"duration"`
	Success   bool      `db:"success" json:"success"`
	Error     string    `db:"error" json:"error"`
}
