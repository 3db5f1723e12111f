// Package alerts decide se uma regra de alerta dispara para o snapshot
// mais recente de um histórico de preços. As funções daqui são puras: a
// gravação do disparo e o envio das notificações ficam com quem chama.
package alerts

import (
	"fmt"
	"sort"
	"time"

	"price-watcher/internal/models"

	"github.com/shopspring/decimal"
)

// ChangeWindow é a distância mínima do ponto de referência do alerta "change"
const ChangeWindow = 24 * time.Hour

var hundred = decimal.NewFromInt(100)

// Decision é o resultado da avaliação de um alerta
type Decision struct {
	Triggered bool
	Reason    string
	// Reference é o snapshot usado como base no alerta "change"
	Reference *models.PriceSnapshot
	// ChangePercent é a variação absoluta em relação à referência
	ChangePercent decimal.Decimal
}

func noTrigger(reason string) Decision {
	return Decision{Reason: reason}
}

// Evaluate avalia o alerta contra o snapshot mais recente do histórico.
// O histórico pode vir em qualquer ordem; now é o instante da avaliação.
func Evaluate(alert models.Alert, history []models.PriceSnapshot, now time.Time) Decision {
	if !alert.IsActive {
		return noTrigger("alerta inativo")
	}
	if len(history) == 0 {
		return noTrigger("histórico vazio")
	}

	ordered := make([]models.PriceSnapshot, len(history))
	copy(ordered, history)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Newer(ordered[j])
	})
	newest := ordered[0]

	switch alert.Type {
	case models.AlertBelow:
		if newest.Price.LessThanOrEqual(alert.Threshold) {
			return Decision{Triggered: true, Reason: fmt.Sprintf("preço %s <= %s", newest.Price, alert.Threshold)}
		}
		return noTrigger("preço acima do limite")

	case models.AlertAbove:
		if newest.Price.GreaterThanOrEqual(alert.Threshold) {
			return Decision{Triggered: true, Reason: fmt.Sprintf("preço %s >= %s", newest.Price, alert.Threshold)}
		}
		return noTrigger("preço abaixo do limite")

	case models.AlertChange:
		return evaluateChange(alert, newest, ordered[1:], now)

	case models.AlertAvailable:
		if len(ordered) < 2 {
			return noTrigger("sem snapshot anterior")
		}
		previous := ordered[1]
		if !previous.IsAvailable && newest.IsAvailable {
			return Decision{Triggered: true, Reason: "produto voltou ao estoque"}
		}
		return noTrigger("sem transição indisponível -> disponível")
	}

	return noTrigger(fmt.Sprintf("tipo de alerta desconhecido: %q", alert.Type))
}

// evaluateChange compara o mais recente com o último snapshot de pelo menos
// 24h atrás. older deve estar ordenado do mais novo para o mais antigo.
func evaluateChange(alert models.Alert, newest models.PriceSnapshot, older []models.PriceSnapshot, now time.Time) Decision {
	cutoff := now.Add(-ChangeWindow)

	var reference *models.PriceSnapshot
	for i := range older {
		if !older[i].ScrapedAt.After(cutoff) {
			reference = &older[i]
			break
		}
	}
	if reference == nil {
		return noTrigger("sem referência de 24h")
	}
	if !reference.Price.IsPositive() {
		return noTrigger("preço de referência inválido")
	}

	change := newest.Price.Sub(reference.Price).Abs().Div(reference.Price).Mul(hundred)
	d := Decision{Reference: reference, ChangePercent: change}
	if change.GreaterThanOrEqual(alert.Threshold) {
		d.Triggered = true
		d.Reason = fmt.Sprintf("variação de %s%% em relação a %s", change.StringFixed(2), reference.ScrapedAt.Format(time.RFC3339))
		return d
	}
	d.Reason = "variação abaixo do limite"
	return d
}
