package scraper

import (
	"context"
	"regexp"
	"strings"

	"price-watcher/internal/models"
)

var (
	reaisPattern    = regexp.MustCompile(`R\$\s?\d[\d.]*(?:,\d{2})?`)
	brThousandsOnly = regexp.MustCompile(`^\D*\d{1,3}(?:\.\d{3})+\D*$`)
)

// MercadoLivreScraper implementa o scraper para Mercado Livre
type MercadoLivreScraper struct {
	session   SessionConfig
	selectors pageSelectors
}

// NewMercadoLivreScraper cria uma nova instância do scraper do Mercado Livre
func NewMercadoLivreScraper(session SessionConfig) *MercadoLivreScraper {
	session.AcceptLanguage = "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"
	return &MercadoLivreScraper{
		session: session,
		selectors: pageSelectors{
			Name: []string{
				"h1.ui-pdp-title",
				"h1[data-testid='title']",
				".ui-pdp-title",
				"h1",
			},
			// O preço promocional aparece na segunda linha; a primeira
			// linha com "previous" é o preço original riscado
			Price: []string{
				".ui-pdp-price__second-line .andes-money-amount__fraction",
				".ui-pdp-price--size-large .andes-money-amount__fraction",
				"[data-testid='price'] .andes-money-amount__fraction",
				".andes-money-amount__fraction",
				".price-tag-fraction",
			},
			OriginalPrice: []string{
				".andes-money-amount--previous-price .andes-money-amount__fraction",
				".ui-pdp-price__original .andes-money-amount__fraction",
			},
			Discount: []string{
				".ui-pdp-price__second-line .andes-money-amount__discount",
				".andes-money-amount__discount",
				".ui-pdp-price__discount",
			},
			OutOfStock:      []string{".ui-pdp-stock-information__title--out-of-stock"},
			OutOfStockText:  []string{"Estoque esgotado", "Anúncio pausado"},
			StockLevel:      []string{".ui-pdp-buybox__quantity__available", ".ui-pdp-stock-information__title"},
			Rating:          []string{".ui-pdp-review__rating"},
			ReviewCount:     []string{".ui-pdp-review__amount"},
			Image:           []string{".ui-pdp-gallery__figure img", "figure.ui-pdp-gallery__figure img"},
			CurrencyPattern: reaisPattern,
			Canonical:       brazilianAmount,
		},
	}
}

// Domains retorna os domínios atendidos
func (m *MercadoLivreScraper) Domains() []string {
	return []string{"mercadolivre.com.br", "produto.mercadolivre.com.br"}
}

// Extract extrai os dados de um produto do Mercado Livre
func (m *MercadoLivreScraper) Extract(ctx context.Context, url string) (*models.RawExtraction, error) {
	cleanURL := m.cleanURL(url)
	doc, err := fetchDocument(ctx, m.session, cleanURL)
	if err != nil {
		return nil, err
	}
	return extractPage(doc, cleanURL, m.selectors)
}

func (m *MercadoLivreScraper) cleanURL(url string) string {
	parts := strings.Split(url, "#")
	return parts[0]
}

// brazilianAmount converte "1.299,90" em "1299.90".
// Valores já no formato 1299.90 (JSON-LD, meta tags) passam intactos.
func brazilianAmount(text string) string {
	if strings.Contains(text, ",") {
		text = strings.ReplaceAll(text, ".", "")
		return strings.ReplaceAll(text, ",", ".")
	}
	if brThousandsOnly.MatchString(text) {
		return strings.ReplaceAll(text, ".", "")
	}
	return text
}
