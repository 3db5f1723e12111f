package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifica falhas de extração
type ErrorKind int

const (
	KindFetch ErrorKind = iota
	KindNoPriceFound
	KindTimeout
	KindUnsupportedSite
	KindMalformedURL
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoPriceFound:
		return "no_price_found"
	case KindTimeout:
		return "timeout"
	case KindUnsupportedSite:
		return "unsupported_site"
	case KindMalformedURL:
		return "malformed_url"
	default:
		return "fetch"
	}
}

// ExtractionError é o erro retornado por adapters e pelo registry
type ExtractionError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

// Sentinelas para uso com errors.Is
var (
	ErrNoPriceFound    = &ExtractionError{Kind: KindNoPriceFound}
	ErrTimeout         = &ExtractionError{Kind: KindTimeout}
	ErrUnsupportedSite = &ExtractionError{Kind: KindUnsupportedSite}
	ErrMalformedURL    = &ExtractionError{Kind: KindMalformedURL}
)

func (e *ExtractionError) Error() string {
	msg := e.Kind.String()
	switch e.Kind {
	case KindNoPriceFound:
		msg = "preço não encontrado na página"
	case KindTimeout:
		msg = "tempo esgotado ao carregar a página"
	case KindUnsupportedSite:
		msg = "site não suportado"
	case KindMalformedURL:
		msg = "URL inválida"
	case KindFetch:
		msg = "erro ao carregar a página"
	}
	if e.URL != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.URL)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// Is compara pelo tipo de falha, permitindo errors.Is(err, ErrTimeout)
func (e *ExtractionError) Is(target error) bool {
	t, ok := target.(*ExtractionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.URL == "" && t.Err == nil
}

// Terminal indica falhas que não devem ser retentadas
func (e *ExtractionError) Terminal() bool {
	return e.Kind == KindUnsupportedSite || e.Kind == KindMalformedURL
}

// IsTerminal indica se err é uma falha de extração sem retry
func IsTerminal(err error) bool {
	var extractionErr *ExtractionError
	if errors.As(err, &extractionErr) {
		return extractionErr.Terminal()
	}
	return false
}

func newError(kind ErrorKind, url string, err error) *ExtractionError {
	return &ExtractionError{Kind: kind, URL: url, Err: err}
}

// classifyFetchError separa timeouts dos demais erros de transporte
func classifyFetchError(url string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return newError(KindTimeout, url, err)
	}
	return newError(KindFetch, url, err)
}
