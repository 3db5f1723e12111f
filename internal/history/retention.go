// Package history cuida do histórico de preços depois de gravado: poda
// dos snapshots antigos e o relatório diário de coletas.
package history

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultRetentionWindow é a idade a partir da qual snapshots podem ser podados
const DefaultRetentionWindow = 90 * 24 * time.Hour

// PruneStore é a parte do banco usada pela retenção
type PruneStore interface {
	PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error)
}

// Retention remove snapshots antigos mantendo, por produto, o mais recente
// anterior ao corte
type Retention struct {
	store  PruneStore
	window time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewRetention cria o gerenciador. window <= 0 usa o padrão de 90 dias.
func NewRetention(store PruneStore, window time.Duration, logger *zap.Logger) *Retention {
	if window <= 0 {
		window = DefaultRetentionWindow
	}
	return &Retention{store: store, window: window, logger: logger, now: time.Now}
}

// Cutoff retorna o instante de corte para a execução em now
func (r *Retention) Cutoff(now time.Time) time.Time {
	return now.UTC().Add(-r.window)
}

// Run executa uma poda e retorna quantos snapshots foram removidos
func (r *Retention) Run(ctx context.Context) (int64, error) {
	cutoff := r.Cutoff(r.now())
	deleted, err := r.store.PruneSnapshots(ctx, cutoff)
	if err != nil {
		r.logger.Error("Erro na limpeza de snapshots", zap.Time("cutoff", cutoff), zap.Error(err))
		return 0, fmt.Errorf("erro na retenção: %w", err)
	}
	r.logger.Info("Limpeza de snapshots concluída",
		zap.Time("cutoff", cutoff),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}
