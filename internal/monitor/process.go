package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"price-watcher/internal/alerts"
	"price-watcher/internal/models"
	"price-watcher/internal/normalize"
	"price-watcher/internal/notify"
	"price-watcher/internal/scraper"

	"go.uber.org/zap"
)

type attemptOutcome struct {
	snapshotID      int64
	price           string
	currency        string
	alertsTriggered int
	notifications   []notify.Result
}

// isTerminal indica erros que não adianta repetir
func isTerminal(err error) bool {
	return scraper.IsTerminal(err) || errors.Is(err, ErrProductNotFound)
}

func lockKey(productID int64) string {
	return "product:" + strconv.FormatInt(productID, 10)
}

// attempt executa uma tentativa completa: extrai, normaliza, grava e avalia
// os alertas. Depois que o snapshot é gravado a tentativa não falha mais,
// para que uma nova tentativa nunca duplique o snapshot.
func (m *Monitor) attempt(job *Job, attempt int, log *zap.Logger) (attemptOutcome, error) {
	// jobs aceitos não são cancelados
	ctx := context.Background()

	product, err := m.store.GetProduct(ctx, job.ProductID)
	if errors.Is(err, models.ErrNotFound) {
		return attemptOutcome{}, fmt.Errorf("%w: %d", ErrProductNotFound, job.ProductID)
	}
	if err != nil {
		return attemptOutcome{}, &PersistenceError{Op: "get_product", Err: err}
	}

	lockCtx, cancel := context.WithTimeout(ctx, m.opts.LockTTL)
	release, err := m.locker.Acquire(lockCtx, lockKey(product.ID), m.opts.LockTTL)
	cancel()
	if err != nil {
		return attemptOutcome{}, fmt.Errorf("erro ao adquirir lock do produto %d: %w", product.ID, err)
	}
	defer release()

	run := &models.ScrapeRun{
		ProductID: product.ID,
		JobID:     job.ID,
		Attempt:   attempt,
		StartedAt: m.opts.Now(),
	}

	snap, elapsed, err := m.scrapeAndSave(ctx, product)
	run.Duration = elapsed.Seconds()
	run.Success = err == nil
	if err != nil {
		run.Error = err.Error()
	}
	if recErr := m.store.RecordScrapeRun(ctx, run); recErr != nil {
		log.Warn("Erro ao registrar execução", zap.Error(recErr))
	}
	if err != nil {
		return attemptOutcome{}, err
	}

	triggered, results := m.evaluateAlerts(ctx, product, snap, log)
	return attemptOutcome{
		snapshotID:      snap.ID,
		price:           snap.Price.String(),
		currency:        m.currency(ctx, product, log),
		alertsTriggered: triggered,
		notifications:   results,
	}, nil
}

// extract espera o limite do domínio (quando o extrator o expõe) e extrai.
// A duração retornada cobre só a extração.
func (m *Monitor) extract(ctx context.Context, url string) (*models.RawExtraction, time.Duration, error) {
	if paced, ok := m.extractor.(PacedExtractor); ok {
		if err := paced.Wait(ctx, url); err != nil {
			return nil, 0, err
		}
		started := time.Now()
		raw, err := paced.ExtractUnpaced(ctx, url)
		return raw, time.Since(started), err
	}
	started := time.Now()
	raw, err := m.extractor.Extract(ctx, url)
	return raw, time.Since(started), err
}

func (m *Monitor) scrapeAndSave(ctx context.Context, product *models.Product) (models.PriceSnapshot, time.Duration, error) {
	domain, _ := scraper.DomainOf(product.URL)

	raw, elapsed, err := m.extract(ctx, product.URL)
	if domain != "" && elapsed > 0 {
		m.metrics.ExtractionSeconds.WithLabelValues(domain).Observe(elapsed.Seconds())
	}
	if err != nil {
		return models.PriceSnapshot{}, elapsed, err
	}

	snap, err := normalize.Snapshot(*raw, product.ID, m.opts.Now(), elapsed)
	if err != nil {
		return models.PriceSnapshot{}, elapsed, fmt.Errorf("erro ao normalizar %s: %w", product.URL, err)
	}

	if err := m.store.SaveScrape(ctx, &snap, raw.ImageURL); err != nil {
		return models.PriceSnapshot{}, elapsed, &PersistenceError{Op: "save_scrape", Err: err}
	}
	return snap, elapsed, nil
}

// evaluateAlerts avalia cada alerta ativo do produto uma única vez contra
// snap. snap precisa ser o snapshot mais recente do produto. Cada disparo é
// reservado no banco antes da notificação; só quem reserva notifica.
func (m *Monitor) evaluateAlerts(ctx context.Context, product *models.Product, snap models.PriceSnapshot, log *zap.Logger) (int, []notify.Result) {
	latest, err := m.store.LatestSnapshot(ctx, product.ID)
	if err != nil {
		log.Error("Erro ao buscar último snapshot", zap.Error(err))
		return 0, nil
	}
	if latest == nil || latest.ID != snap.ID {
		log.Warn("Snapshot não é o mais recente, avaliação de alertas ignorada", zap.Int64("snapshot_id", snap.ID))
		return 0, nil
	}

	rules, err := m.store.ActiveAlerts(ctx, product.ID)
	if err != nil {
		log.Error("Erro ao buscar alertas", zap.Error(err))
		return 0, nil
	}
	if len(rules) == 0 {
		return 0, nil
	}

	now := m.opts.Now()
	history, err := m.history(ctx, snap, now)
	if err != nil {
		log.Error("Erro ao montar histórico", zap.Error(err))
		return 0, nil
	}

	var triggered int
	var results []notify.Result
	for _, rule := range rules {
		decision := alerts.Evaluate(rule, history, now)
		if !decision.Triggered {
			log.Debug("Alerta não disparou",
				zap.Int64("alert_id", rule.ID),
				zap.String("reason", decision.Reason),
			)
			continue
		}

		claimed, err := m.store.ClaimTrigger(ctx, rule.ID, snap.ID, now)
		if err != nil {
			log.Error("Erro ao reservar disparo", zap.Int64("alert_id", rule.ID), zap.Error(err))
			continue
		}
		if !claimed {
			log.Info("Disparo já registrado para este snapshot", zap.Int64("alert_id", rule.ID))
			continue
		}

		n := m.notification(ctx, product, rule, snap, now, log)
		res := m.notifier.Dispatch(ctx, n)
		triggered++
		results = append(results, res)
		m.metrics.AlertsTriggeredTotal.WithLabelValues(string(rule.Type)).Inc()
		for _, f := range res.Failures {
			m.metrics.NotificationFailures.WithLabelValues(f.Channel).Inc()
		}

		if err := m.store.CompleteTrigger(ctx, rule.ID, snap.ID, now, res.Outcome()); err != nil {
			log.Error("Erro ao atualizar estado do alerta", zap.Int64("alert_id", rule.ID), zap.Error(err))
		}
		log.Info("Alerta disparado",
			zap.Int64("alert_id", rule.ID),
			zap.String("alert_type", string(rule.Type)),
			zap.String("reason", decision.Reason),
		)
	}
	return triggered, results
}

// history reúne o que as regras precisam: o snapshot novo, o anterior e a
// referência de 24h para "change"
func (m *Monitor) history(ctx context.Context, snap models.PriceSnapshot, now time.Time) ([]models.PriceSnapshot, error) {
	out := []models.PriceSnapshot{snap}

	prev, err := m.store.PreviousSnapshot(ctx, snap)
	if err != nil {
		return nil, err
	}
	if prev != nil {
		out = append(out, *prev)
	}

	ref, err := m.store.LatestSnapshotAtOrBefore(ctx, snap.ProductID, now.Add(-alerts.ChangeWindow), snap.ID)
	if err != nil {
		return nil, err
	}
	if ref != nil && (prev == nil || ref.ID != prev.ID) {
		out = append(out, *ref)
	}
	return out, nil
}

func (m *Monitor) notification(ctx context.Context, product *models.Product, rule models.Alert, snap models.PriceSnapshot, now time.Time, log *zap.Logger) notify.Notification {
	n := notify.Notification{
		Alert:       rule,
		Product:     *product,
		Snapshot:    snap,
		TriggeredAt: now,
		Currency:    models.CurrencyPHP,
	}
	// contagem já incluindo este disparo
	n.Alert.TriggeredCount = rule.TriggeredCount + 1

	if user, err := m.store.GetUser(ctx, rule.UserID); err != nil {
		log.Warn("Erro ao buscar usuário do alerta", zap.Int64("user_id", rule.UserID), zap.Error(err))
	} else {
		n.User = *user
	}
	if store, err := m.store.GetStore(ctx, product.StoreID); err != nil {
		log.Warn("Erro ao buscar loja do produto", zap.Int64("store_id", product.StoreID), zap.Error(err))
	} else {
		n.StoreName = store.Name
		n.Currency = store.Currency()
	}
	return n
}

// currency retorna a moeda da loja do produto, ou PHP se a loja não for
// encontrada
func (m *Monitor) currency(ctx context.Context, product *models.Product, log *zap.Logger) string {
	store, err := m.store.GetStore(ctx, product.StoreID)
	if err != nil {
		log.Warn("Erro ao buscar loja do produto", zap.Int64("store_id", product.StoreID), zap.Error(err))
		return models.CurrencyPHP
	}
	return store.Currency()
}
