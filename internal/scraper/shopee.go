package scraper

import (
	"context"

	"price-watcher/internal/models"
)

// ShopeeScraper implementa o scraper para Shopee Filipinas.
// A Shopee renderiza quase tudo no cliente, então os dados estruturados
// (meta tags e JSON-LD) costumam ser a fonte mais confiável do preço.
type ShopeeScraper struct {
	session   SessionConfig
	selectors pageSelectors
}

// NewShopeeScraper cria uma nova instância do scraper da Shopee
func NewShopeeScraper(session SessionConfig) *ShopeeScraper {
	return &ShopeeScraper{
		session: session,
		selectors: pageSelectors{
			Name: []string{
				"span[data-testid='product-name']",
				"[class*='product-title']",
			},
			Price: []string{
				"[class*='price-current']",
				"[data-testid='product-price']",
			},
			OriginalPrice:   []string{"[class*='price-before-discount']"},
			Discount:        []string{"[class*='discount-badge']", "[class*='discount']"},
			OutOfStock:      []string{"[class*='out-of-stock']", "[class*='sold-out']"},
			OutOfStockText:  []string{"Sold out"},
			StockLevel:      []string{"[class*='stock-count']"},
			Rating:          []string{"[class*='rating-score']"},
			ReviewCount:     []string{"[class*='review-count']"},
			Image:           []string{"[class*='product-image'] img"},
			CurrencyPattern: pesoPattern,
		},
	}
}

// Domains retorna os domínios atendidos
func (s *ShopeeScraper) Domains() []string {
	return []string{"shopee.ph"}
}

// Extract extrai os dados de um produto da Shopee
func (s *ShopeeScraper) Extract(ctx context.Context, url string) (*models.RawExtraction, error) {
	doc, err := fetchDocument(ctx, s.session, url)
	if err != nil {
		return nil, err
	}
	return extractPage(doc, url, s.selectors)
}
