package scraper

import (
	"regexp"
	"strings"

	"price-watcher/internal/models"
	"price-watcher/internal/normalize"

	"github.com/PuerkitoBio/goquery"
)

// pageSelectors lista, em ordem de preferência, os seletores de cada campo
type pageSelectors struct {
	Name          []string
	Price         []string
	OriginalPrice []string
	Discount      []string
	OutOfStock    []string
	// OutOfStockText são marcadores procurados nos botões/blocos de estoque
	OutOfStockText []string
	StockLevel     []string
	Rating         []string
	ReviewCount    []string
	Image          []string
	// CurrencyPattern é o último recurso: busca na página inteira
	CurrencyPattern *regexp.Regexp
	// Canonical converte o texto de preço local para o formato 1234.56
	Canonical func(string) string
}

var (
	ldPriceRe     = regexp.MustCompile(`"price"\s*:\s*"?([0-9.,]+)"?`)
	ldListPriceRe = regexp.MustCompile(`"(?:listPrice|highPrice|originalPrice)"\s*:\s*"?([0-9.,]+)"?`)
	ldNameRe      = regexp.MustCompile(`"name"\s*:\s*"([^"]+)"`)
	ldOutOfStock  = regexp.MustCompile(`"availability"\s*:\s*"[^"]*(OutOfStock|SoldOut)"`)
)

// extractPage aplica os seletores ao documento. Só o preço é obrigatório.
func extractPage(doc *goquery.Document, url string, sel pageSelectors) (*models.RawExtraction, error) {
	canon := sel.Canonical
	if canon == nil {
		canon = func(s string) string { return s }
	}
	jsonLD := jsonLDText(doc)

	price := firstPrice(canon, candidates(doc, sel.Price, jsonLD, sel.CurrencyPattern)...)
	if price == "" {
		return nil, newError(KindNoPriceFound, url, nil)
	}

	raw := &models.RawExtraction{
		Name:        firstText(doc, sel.Name),
		Price:       price,
		IsAvailable: true,
	}
	if raw.Name == "" {
		raw.Name = metaContent(doc, "og:title")
	}
	if raw.Name == "" {
		raw.Name = submatch(ldNameRe, jsonLD)
	}

	originals := textsOf(doc, sel.OriginalPrice)
	if v := submatch(ldListPriceRe, jsonLD); v != "" {
		originals = append(originals, v)
	}
	raw.OriginalPrice = firstPrice(canon, originals...)

	for _, text := range textsOf(doc, sel.Discount) {
		if strings.Contains(text, "%") {
			raw.Discount = text
			break
		}
	}

	if outOfStock(doc, sel, jsonLD) {
		raw.IsAvailable = false
		raw.StockLevel = "Out of Stock"
	} else {
		raw.StockLevel = firstText(doc, sel.StockLevel)
	}

	raw.Rating = firstText(doc, sel.Rating)
	raw.ReviewCount = firstText(doc, sel.ReviewCount)
	raw.ImageURL = firstAttr(doc, sel.Image, "src", "data-src")
	if raw.ImageURL == "" {
		raw.ImageURL = metaContent(doc, "og:image")
	}

	return raw, nil
}

// candidates monta a lista ordenada de textos que podem conter o preço
func candidates(doc *goquery.Document, selectors []string, jsonLD string, pattern *regexp.Regexp) []string {
	texts := textsOf(doc, selectors)
	if v := metaContent(doc, "product:price:amount"); v != "" {
		texts = append(texts, v)
	}
	if v, ok := doc.Find("[itemprop='price']").First().Attr("content"); ok {
		texts = append(texts, v)
	}
	if v := submatch(ldPriceRe, jsonLD); v != "" {
		texts = append(texts, v)
	}
	if pattern != nil {
		texts = append(texts, pattern.FindAllString(doc.Find("body").Text(), 3)...)
	}
	return texts
}

// firstPrice retorna o primeiro texto que contém um valor positivo
func firstPrice(canon func(string) string, texts ...string) string {
	for _, text := range texts {
		text = canon(strings.TrimSpace(text))
		if amount, ok := normalize.ParseAmount(text); ok && amount.IsPositive() {
			return text
		}
	}
	return ""
}

// textsOf coleta o primeiro texto não vazio de cada seletor, na ordem
func textsOf(doc *goquery.Document, selectors []string) []string {
	var texts []string
	for _, selector := range selectors {
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if text == "" {
				return true
			}
			texts = append(texts, text)
			return false
		})
	}
	return texts
}

func firstText(doc *goquery.Document, selectors []string) string {
	if texts := textsOf(doc, selectors); len(texts) > 0 {
		return texts[0]
	}
	return ""
}

func firstAttr(doc *goquery.Document, selectors []string, attrs ...string) string {
	for _, selector := range selectors {
		s := doc.Find(selector).First()
		for _, attr := range attrs {
			if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
				return v
			}
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, property string) string {
	s := doc.Find("meta[property='" + property + "'], meta[name='" + property + "']").First()
	return strings.TrimSpace(s.AttrOr("content", ""))
}

func jsonLDText(doc *goquery.Document) string {
	var b strings.Builder
	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		b.WriteString(s.Text())
		b.WriteString("\n")
	})
	return b.String()
}

func submatch(re *regexp.Regexp, text string) string {
	if m := re.FindStringSubmatch(text); len(m) > 1 {
		return m[1]
	}
	return ""
}

func outOfStock(doc *goquery.Document, sel pageSelectors, jsonLD string) bool {
	for _, selector := range sel.OutOfStock {
		if doc.Find(selector).Length() > 0 {
			return true
		}
	}
	if len(sel.OutOfStockText) > 0 {
		found := false
		doc.Find("button, [class*='stock'], [class*='availability']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.ToLower(s.Text())
			for _, marker := range sel.OutOfStockText {
				if strings.Contains(text, strings.ToLower(marker)) {
					found = true
					return false
				}
			}
			return true
		})
		if found {
			return true
		}
	}
	return ldOutOfStock.MatchString(jsonLD)
}
