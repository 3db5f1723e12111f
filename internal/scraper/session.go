package scraper

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
)

// SessionConfig controla como cada adapter simula uma navegação real
type SessionConfig struct {
	// WarmUp visita a origem do site antes da página do produto
	WarmUp bool
	// Settle é a espera base entre navegações; Jitter soma um aleatório
	Settle time.Duration
	Jitter time.Duration
	// RequestTimeout limita cada requisição individual
	RequestTimeout time.Duration
	AcceptLanguage string
	// Transport permite substituir o transporte HTTP (testes, proxy)
	Transport http.RoundTripper
}

// DefaultSessionConfig retorna a configuração usada em produção
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		WarmUp:         true,
		Settle:         2 * time.Second,
		Jitter:         1500 * time.Millisecond,
		RequestTimeout: 30 * time.Second,
		AcceptLanguage: "en-PH,en;q=0.9,fil;q=0.8",
	}
}

// fetchDocument abre uma sessão nova (cookies próprios, user agent
// aleatório), aquece a origem quando configurado e carrega a página alvo
func fetchDocument(ctx context.Context, cfg SessionConfig, target string) (*goquery.Document, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, newError(KindMalformedURL, target, err)
	}

	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	if cfg.RequestTimeout > 0 {
		c.SetRequestTimeout(cfg.RequestTimeout)
	}
	if cfg.Transport != nil {
		c.WithTransport(cfg.Transport)
	}
	extensions.RandomUserAgent(c)
	extensions.Referer(c)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
		r.Headers.Set("Sec-Fetch-Mode", "navigate")
		if cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", cfg.AcceptLanguage)
		}
	})

	var body []byte
	capture := false
	c.OnResponse(func(r *colly.Response) {
		if capture {
			body = r.Body
		}
	})

	origin := u.Scheme + "://" + u.Host + "/"
	if cfg.WarmUp && origin != target {
		// Falha no aquecimento não impede a tentativa na página do produto
		_ = c.Visit(origin)
		if err := settle(ctx, cfg); err != nil {
			return nil, classifyFetchError(target, err)
		}
	}

	capture = true
	if err := c.Visit(target); err != nil {
		return nil, classifyFetchError(target, err)
	}
	if len(body) == 0 {
		return nil, newError(KindFetch, target, errors.New("resposta vazia"))
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindFetch, target, err)
	}
	return doc, nil
}

// settle espera o tempo de acomodação da página, respeitando o contexto
func settle(ctx context.Context, cfg SessionConfig) error {
	wait := cfg.Settle
	if cfg.Jitter > 0 {
		wait += rand.N(cfg.Jitter)
	}
	if wait <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
