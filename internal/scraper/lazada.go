package scraper

import (
	"context"
	"regexp"

	"price-watcher/internal/models"
)

var pesoPattern = regexp.MustCompile(`(?:₱|PHP)\s?\d[\d,]*(?:\.\d{1,2})?`)

// LazadaScraper implementa o scraper para Lazada Filipinas
type LazadaScraper struct {
	session   SessionConfig
	selectors pageSelectors
}

// NewLazadaScraper cria uma nova instância do scraper da Lazada
func NewLazadaScraper(session SessionConfig) *LazadaScraper {
	return &LazadaScraper{
		session: session,
		selectors: pageSelectors{
			Name: []string{
				"h1[data-spm='product_title']",
				".pdp-mod-product-badge-title",
				"[class*='product-title']",
			},
			Price: []string{
				".pdp-product-price .pdp-price_type_normal",
				"[class*='current-price']",
				"[data-spm='product_price']",
			},
			OriginalPrice: []string{
				".pdp-product-price .pdp-price_type_deleted",
				"[class*='original-price']",
			},
			Discount: []string{
				".pdp-product-price__discount",
				"[class*='discount']",
			},
			OutOfStock: []string{
				"[class*='out-of-stock']",
				"[class*='unavailable']",
			},
			OutOfStockText: []string{"Out of stock", "Sold out"},
			StockLevel:     []string{".quantity-content-default", "[class*='stock-level']"},
			Rating:         []string{".score-average", "[class*='rating-average']"},
			ReviewCount:    []string{".pdp-review-summary__link", "[class*='review-count']"},
			Image: []string{
				".gallery-preview-panel__image",
				"[class*='product-image'] img",
			},
			CurrencyPattern: pesoPattern,
		},
	}
}

// Domains retorna os domínios atendidos
func (l *LazadaScraper) Domains() []string {
	return []string{"lazada.com.ph"}
}

// Extract extrai os dados de um produto da Lazada
func (l *LazadaScraper) Extract(ctx context.Context, url string) (*models.RawExtraction, error) {
	doc, err := fetchDocument(ctx, l.session, url)
	if err != nil {
		return nil, err
	}
	return extractPage(doc, url, l.selectors)
}
