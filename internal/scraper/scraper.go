package scraper

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"price-watcher/internal/models"

	"golang.org/x/time/rate"
)

// Scraper define o contrato dos adapters de cada loja
type Scraper interface {
	// Domains retorna os domínios atendidos, sem "www."
	Domains() []string
	// Extract carrega a página do produto e retorna os campos em texto
	Extract(ctx context.Context, url string) (*models.RawExtraction, error)
}

// Registry mantém um registro de todos os scrapers disponíveis,
// indexados por domínio
type Registry struct {
	mu       sync.RWMutex
	scrapers map[string]Scraper
	limiters map[string]*rate.Limiter
	perMin   int
}

// RegistryOption configura o Registry
type RegistryOption func(*Registry)

// WithRequestsPerMinute limita as requisições por domínio
func WithRequestsPerMinute(n int) RegistryOption {
	return func(r *Registry) {
		r.perMin = n
	}
}

// NewRegistry cria um novo registro com os scrapers das lojas suportadas
func NewRegistry(session SessionConfig, opts ...RegistryOption) *Registry {
	r := NewEmptyRegistry(opts...)
	r.Register(NewLazadaScraper(session))
	r.Register(NewShopeeScraper(session))
	r.Register(NewMercadoLivreScraper(session))
	return r
}

// NewEmptyRegistry cria um registro sem scrapers
func NewEmptyRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		scrapers: make(map[string]Scraper),
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adiciona (ou substitui) um scraper para os seus domínios
func (r *Registry) Register(s Scraper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, domain := range s.Domains() {
		domain = strings.TrimPrefix(strings.ToLower(domain), "www.")
		r.scrapers[domain] = s
		if r.perMin > 0 {
			r.limiters[domain] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.perMin)), 1)
		}
	}
}

// FindScraper encontra o scraper apropriado para uma URL
func (r *Registry) FindScraper(rawURL string) (Scraper, error) {
	domain, err := DomainOf(rawURL)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scrapers[domain]
	if !ok {
		return nil, newError(KindUnsupportedSite, rawURL, nil)
	}
	return s, nil
}

// Extract espera o limite do domínio e extrai
func (r *Registry) Extract(ctx context.Context, rawURL string) (*models.RawExtraction, error) {
	if err := r.Wait(ctx, rawURL); err != nil {
		return nil, err
	}
	return r.ExtractUnpaced(ctx, rawURL)
}

// Wait bloqueia até o limite de requisições do domínio da URL liberar a
// próxima. Domínios sem scraper não esperam.
func (r *Registry) Wait(ctx context.Context, rawURL string) error {
	domain, err := DomainOf(rawURL)
	if err != nil {
		return err
	}
	r.mu.RLock()
	limiter := r.limiters[domain]
	r.mu.RUnlock()
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return classifyFetchError(rawURL, err)
	}
	return nil
}

// ExtractUnpaced resolve o scraper da URL e extrai sem passar pelo limite
// do domínio. Quem chama é responsável por Wait.
func (r *Registry) ExtractUnpaced(ctx context.Context, rawURL string) (*models.RawExtraction, error) {
	s, err := r.FindScraper(rawURL)
	if err != nil {
		return nil, err
	}
	return s.Extract(ctx, rawURL)
}

// SupportedDomains lista os domínios atendidos, em ordem alfabética
func (r *Registry) SupportedDomains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	domains := make([]string, 0, len(r.scrapers))
	for domain := range r.scrapers {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	return domains
}

// DomainOf extrai o domínio de uma URL, sem porta e sem "www."
func DomainOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", newError(KindMalformedURL, rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", newError(KindMalformedURL, rawURL, fmt.Errorf("esquema %q não suportado", u.Scheme))
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", newError(KindMalformedURL, rawURL, fmt.Errorf("host ausente"))
	}
	return strings.TrimPrefix(host, "www."), nil
}
