// Package normalize converte os textos extraídos das páginas em campos
// canônicos de um PriceSnapshot. Valores monetários usam aritmética decimal
// exata.
package normalize

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"price-watcher/internal/models"

	"github.com/shopspring/decimal"
)

// ErrMissingPrice indica que não há preço positivo no texto extraído
var ErrMissingPrice = errors.New("preço ausente ou não positivo")

var (
	currencyRe = regexp.MustCompile(`(?i)(₱|php|r\$|us\$|\$|€|£)`)
	numberRe   = regexp.MustCompile(`\d*\.?\d+`)
	percentRe  = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	countRe    = regexp.MustCompile(`\d[\d,]*`)

	hundred = decimal.NewFromInt(100)
	maxRate = decimal.NewFromInt(5)
)

// ParseAmount extrai o primeiro valor numérico de um texto monetário.
// Remove símbolos de moeda, separadores de milhar e espaços. Um valor
// negativo é rejeitado.
func ParseAmount(text string) (decimal.Decimal, bool) {
	cleaned := currencyRe.ReplaceAllString(text, "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.Join(strings.Fields(cleaned), "")

	loc := numberRe.FindStringIndex(cleaned)
	if loc == nil {
		return decimal.Zero, false
	}
	if loc[0] > 0 && cleaned[loc[0]-1] == '-' {
		return decimal.Zero, false
	}
	match := cleaned[loc[0]:loc[1]]
	if strings.HasPrefix(match, ".") {
		match = "0" + match
	}
	value, err := decimal.NewFromString(match)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

// ParsePercent extrai um percentual como "-17%" ou "17% OFF"
func ParsePercent(text string) (int, bool) {
	matches := percentRe.FindStringSubmatch(text)
	if len(matches) < 2 {
		return 0, false
	}
	value, err := decimal.NewFromString(matches[1])
	if err != nil {
		return 0, false
	}
	return clampPercent(value.Round(0)), true
}

// ParseCount extrai uma contagem inteira como "1,250 Ratings"
func ParseCount(text string) (int, bool) {
	match := countRe.FindString(text)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.ReplaceAll(match, ",", ""))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseRating extrai uma nota entre 0 e 5
func ParseRating(text string) (decimal.Decimal, bool) {
	match := numberRe.FindString(strings.ReplaceAll(text, ",", "."))
	if match == "" {
		return decimal.Zero, false
	}
	if strings.HasPrefix(match, ".") {
		match = "0" + match
	}
	value, err := decimal.NewFromString(match)
	if err != nil || value.IsNegative() || value.GreaterThan(maxRate) {
		return decimal.Zero, false
	}
	return value, true
}

// DiscountPercent calcula (original - atual) / original * 100,
// arredondado para o inteiro mais próximo (meio para cima) e limitado a [0, 100].
func DiscountPercent(current, original decimal.Decimal) int {
	if !original.IsPositive() {
		return 0
	}
	pct := original.Sub(current).Div(original).Mul(hundred)
	return clampPercent(pct.Round(0))
}

func clampPercent(d decimal.Decimal) int {
	if d.IsNegative() {
		return 0
	}
	if d.GreaterThan(hundred) {
		return 100
	}
	return int(d.IntPart())
}

// Snapshot converte uma extração bruta em um PriceSnapshot canônico
func Snapshot(raw models.RawExtraction, productID int64, scrapedAt time.Time, duration time.Duration) (models.PriceSnapshot, error) {
	price, ok := ParseAmount(raw.Price)
	if !ok || !price.IsPositive() {
		return models.PriceSnapshot{}, ErrMissingPrice
	}

	snap := models.PriceSnapshot{
		ProductID:      productID,
		Price:          price,
		IsAvailable:    raw.IsAvailable,
		StockLevel:     strings.TrimSpace(raw.StockLevel),
		ScrapedAt:      scrapedAt.UTC(),
		ScrapeDuration: duration.Seconds(),
	}

	if original, ok := ParseAmount(raw.OriginalPrice); ok && original.IsPositive() {
		snap.OriginalPrice = decimal.NewNullDecimal(original)
	}

	// Desconto explícito tem prioridade; senão é derivado do preço original
	if pct, ok := ParsePercent(raw.Discount); ok {
		snap.DiscountPercentage = &pct
	} else if snap.OriginalPrice.Valid {
		pct := DiscountPercent(price, snap.OriginalPrice.Decimal)
		snap.DiscountPercentage = &pct
	}

	if rating, ok := ParseRating(raw.Rating); ok {
		snap.Rating = decimal.NewNullDecimal(rating)
	}
	if count, ok := ParseCount(raw.ReviewCount); ok {
		snap.ReviewCount = &count
	}

	return snap, nil
}
