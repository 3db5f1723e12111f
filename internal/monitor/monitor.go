// Package monitor agenda e executa os jobs de coleta: fila, workers,
// novas tentativas com backoff exponencial, lotes e avaliação de alertas.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"price-watcher/internal/lock"
	"price-watcher/internal/models"
	"price-watcher/internal/notify"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Store é o contrato do banco usado pelo agendador
type Store interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	DueProducts(ctx context.Context, now time.Time) ([]models.Product, error)
	GetStore(ctx context.Context, id int64) (*models.Store, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	SaveScrape(ctx context.Context, snap *models.PriceSnapshot, imageURL string) error
	RecordScrapeRun(ctx context.Context, run *models.ScrapeRun) error
	LatestSnapshot(ctx context.Context, productID int64) (*models.PriceSnapshot, error)
	PreviousSnapshot(ctx context.Context, snap models.PriceSnapshot) (*models.PriceSnapshot, error)
	LatestSnapshotAtOrBefore(ctx context.Context, productID int64, t time.Time, excludeID int64) (*models.PriceSnapshot, error)
	ActiveAlerts(ctx context.Context, productID int64) ([]models.Alert, error)
	ClaimTrigger(ctx context.Context, alertID, snapshotID int64, at time.Time) (bool, error)
	CompleteTrigger(ctx context.Context, alertID, snapshotID int64, at time.Time, outcome models.TriggerOutcome) error
}

// Extractor extrai os dados brutos de uma página de produto
type Extractor interface {
	Extract(ctx context.Context, url string) (*models.RawExtraction, error)
}

// PacedExtractor é um Extractor que expõe a espera de politeness do
// domínio separada da extração, para que a espera não conte na duração
type PacedExtractor interface {
	Extractor
	Wait(ctx context.Context, url string) error
	ExtractUnpaced(ctx context.Context, url string) (*models.RawExtraction, error)
}

// Notifier entrega um alerta disparado
type Notifier interface {
	Dispatch(ctx context.Context, n notify.Notification) notify.Result
}

// Options configura o agendador
type Options struct {
	Workers       int
	MaxAttempts   int
	BackoffBase   time.Duration
	ResultTimeout time.Duration
	LockTTL       time.Duration
	JobTTL        time.Duration
	Now           func() time.Time
}

// DefaultOptions retorna 4 workers, 3 tentativas e backoff de 60s
func DefaultOptions() Options {
	return Options{
		Workers:       4,
		MaxAttempts:   3,
		BackoffBase:   60 * time.Second,
		ResultTimeout: 60 * time.Second,
		LockTTL:       5 * time.Minute,
		JobTTL:        time.Hour,
		Now:           time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = d.BackoffBase
	}
	if o.ResultTimeout <= 0 {
		o.ResultTimeout = d.ResultTimeout
	}
	if o.LockTTL <= 0 {
		o.LockTTL = d.LockTTL
	}
	if o.JobTTL <= 0 {
		o.JobTTL = d.JobTTL
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Monitor gerencia a fila de coletas e os workers
type Monitor struct {
	store     Store
	extractor Extractor
	notifier  Notifier
	locker    lock.Locker
	metrics   *Metrics
	logger    *zap.Logger
	opts      Options

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*Job
	jobs     map[string]*Job
	batches  map[string]*Batch
	timers   map[string]*time.Timer
	started  bool
	stopping bool

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New cria uma nova instância do monitor. locker nil usa um lock local e
// metrics nil registra as métricas num registro próprio.
func New(store Store, extractor Extractor, notifier Notifier, locker lock.Locker, metrics *Metrics, logger *zap.Logger, opts Options) *Monitor {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	m := &Monitor{
		store:     store,
		extractor: extractor,
		notifier:  notifier,
		locker:    locker,
		metrics:   metrics,
		logger:    logger,
		opts:      opts.withDefaults(),
		jobs:      make(map[string]*Job),
		batches:   make(map[string]*Batch),
		timers:    make(map[string]*time.Timer),
		stopCh:    make(chan struct{}),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Start inicia os workers em background
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started || m.stopping {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	for i := range m.opts.Workers {
		m.wg.Add(1)
		go m.worker(i)
	}
	m.wg.Add(1)
	go m.janitor()

	m.logger.Info("Monitor iniciado",
		zap.Int("workers", m.opts.Workers),
		zap.Int("max_attempts", m.opts.MaxAttempts),
		zap.Duration("backoff_base", m.opts.BackoffBase),
	)
}

// Stop para de aceitar jobs, espera os que estão em execução e finaliza os
// que ainda aguardavam na fila ou em backoff com ErrStopped.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	m.stopping = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	abandoned := m.pending
	m.pending = nil
	for _, job := range m.jobs {
		if job.State() == JobRetryScheduled {
			abandoned = append(abandoned, job)
		}
	}
	close(m.stopCh)
	m.cond.Broadcast()
	m.mu.Unlock()

	now := m.opts.Now()
	for _, job := range abandoned {
		if job.fail(ErrStopped, now) {
			m.metrics.JobsTotal.WithLabelValues("stopped").Inc()
		}
	}
	m.metrics.QueueDepth.Set(0)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Monitor parado")
		return nil
	case <-ctx.Done():
		m.logger.Warn("Tempo esgotado aguardando jobs em execução")
		return ctx.Err()
	}
}

// ScrapeNow enfileira a coleta de um produto e retorna o job sem esperar
func (m *Monitor) ScrapeNow(productID int64) (*Job, error) {
	job := newJob(uuid.NewString(), productID, "", m.opts.Now())
	if err := m.register(job); err != nil {
		return nil, err
	}
	m.logger.Info("Coleta enfileirada", zap.String("job_id", job.ID), zap.Int64("product_id", productID))
	return job, nil
}

// SubmitBatch enfileira um job por produto e retorna o lote sem esperar.
// O resumo é montado em background.
func (m *Monitor) SubmitBatch(productIDs []int64) (*Batch, error) {
	now := m.opts.Now()
	batch := newBatch(uuid.NewString(), append([]int64(nil), productIDs...), now)

	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil, ErrStopped
	}
	for _, id := range productIDs {
		job := newJob(uuid.NewString(), id, batch.ID, now)
		batch.Jobs = append(batch.Jobs, job)
		m.jobs[job.ID] = job
		m.pending = append(m.pending, job)
		m.cond.Signal()
	}
	m.batches[batch.ID] = batch
	depth := len(m.pending)
	m.mu.Unlock()
	m.metrics.QueueDepth.Set(float64(depth))

	go batch.collect(m.opts.ResultTimeout, m.opts.Now)

	m.logger.Info("Lote de coletas enfileirado",
		zap.String("batch_id", batch.ID),
		zap.Int("products", len(productIDs)),
	)
	return batch, nil
}

// ScrapeBatch enfileira o lote e espera o resumo
func (m *Monitor) ScrapeBatch(ctx context.Context, productIDs []int64) (BatchResult, error) {
	batch, err := m.SubmitBatch(productIDs)
	if err != nil {
		return BatchResult{}, err
	}
	return batch.Wait(ctx)
}

// SubmitAllDue enfileira todos os produtos ativos com coleta vencida
func (m *Monitor) SubmitAllDue(ctx context.Context) (*Batch, error) {
	products, err := m.store.DueProducts(ctx, m.opts.Now())
	if err != nil {
		return nil, &PersistenceError{Op: "due_products", Err: err}
	}
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	return m.SubmitBatch(ids)
}

// ScrapeAllDue enfileira os produtos vencidos e espera o resumo
func (m *Monitor) ScrapeAllDue(ctx context.Context) (BatchResult, error) {
	batch, err := m.SubmitAllDue(ctx)
	if err != nil {
		return BatchResult{}, err
	}
	return batch.Wait(ctx)
}

// ScheduleDueScan agenda no cron a varredura periódica dos produtos vencidos
func (m *Monitor) ScheduleDueScan(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		batch, err := m.SubmitAllDue(ctx)
		if err != nil {
			m.logger.Error("Erro ao agendar produtos vencidos", zap.Error(err))
			return
		}
		m.logger.Info("Varredura de produtos vencidos",
			zap.String("batch_id", batch.ID),
			zap.Int("products", len(batch.ProductIDs)),
		)
	})
	if err != nil {
		return 0, fmt.Errorf("expressão cron inválida %q: %w", spec, err)
	}
	return id, nil
}

// Job retorna um job conhecido pelo ID
func (m *Monitor) Job(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	return job, ok
}

// Batch retorna um lote conhecido pelo ID
func (m *Monitor) Batch(id string) (*Batch, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	return b, ok
}

func (m *Monitor) register(job *Job) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return ErrStopped
	}
	m.jobs[job.ID] = job
	m.pending = append(m.pending, job)
	depth := len(m.pending)
	m.cond.Signal()
	m.mu.Unlock()
	m.metrics.QueueDepth.Set(float64(depth))
	return nil
}

// requeue devolve à fila um job em backoff
func (m *Monitor) requeue(job *Job) {
	m.mu.Lock()
	delete(m.timers, job.ID)
	if m.stopping {
		m.mu.Unlock()
		return
	}
	m.pending = append(m.pending, job)
	depth := len(m.pending)
	m.cond.Signal()
	m.mu.Unlock()
	m.metrics.QueueDepth.Set(float64(depth))
}

func (m *Monitor) next() (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.pending) == 0 && !m.stopping {
		m.cond.Wait()
	}
	if m.stopping {
		return nil, false
	}
	job := m.pending[0]
	m.pending[0] = nil
	m.pending = m.pending[1:]
	m.metrics.QueueDepth.Set(float64(len(m.pending)))
	return job, true
}

func (m *Monitor) worker(id int) {
	defer m.wg.Done()
	for {
		job, ok := m.next()
		if !ok {
			return
		}
		m.run(job)
	}
}

// janitor esquece jobs e lotes finalizados há mais de JobTTL
func (m *Monitor) janitor() {
	defer m.wg.Done()
	interval := m.opts.JobTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.forgetFinished(m.opts.Now().Add(-m.opts.JobTTL))
		}
	}
}

func (m *Monitor) forgetFinished(before time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, job := range m.jobs {
		if job.finishedBefore(before) {
			delete(m.jobs, id)
		}
	}
	for id, b := range m.batches {
		if b.finishedBefore(before) {
			delete(m.batches, id)
		}
	}
}

// backoff retorna a espera após a n-ésima tentativa falha: base × 2^(n−1)
func (m *Monitor) backoff(attempt int) time.Duration {
	return m.opts.BackoffBase << (attempt - 1)
}

func (m *Monitor) run(job *Job) {
	attempt := job.begin()
	if attempt == 0 {
		return
	}
	m.metrics.JobsRunning.Inc()
	defer m.metrics.JobsRunning.Dec()

	log := m.logger.With(
		zap.String("job_id", job.ID),
		zap.Int64("product_id", job.ProductID),
		zap.Int("attempt", attempt),
	)

	out, err := m.attempt(job, attempt, log)
	now := m.opts.Now()
	if err == nil {
		m.metrics.AttemptsTotal.WithLabelValues("success").Inc()
		m.metrics.JobsTotal.WithLabelValues("succeeded").Inc()
		job.succeed(out, now)
		log.Info("Coleta concluída",
			zap.Int64("snapshot_id", out.snapshotID),
			zap.String("price", out.price),
			zap.Int("alerts_triggered", out.alertsTriggered),
		)
		return
	}

	if isTerminal(err) {
		m.metrics.AttemptsTotal.WithLabelValues("terminal").Inc()
		m.metrics.JobsTotal.WithLabelValues("failed").Inc()
		job.fail(err, now)
		log.Warn("Coleta falhou sem nova tentativa", zap.Error(err))
		return
	}

	m.metrics.AttemptsTotal.WithLabelValues("retryable").Inc()
	if attempt >= m.opts.MaxAttempts {
		m.metrics.JobsTotal.WithLabelValues("exhausted").Inc()
		job.fail(&RetryExhaustedError{Attempts: attempt, Err: err}, now)
		log.Error("Coleta falhou após esgotar as tentativas", zap.Error(err))
		return
	}

	delay := m.backoff(attempt)
	m.mu.Lock()
	stopping := m.stopping
	if !stopping {
		job.scheduleRetry(err, now.Add(delay))
		m.timers[job.ID] = time.AfterFunc(delay, func() { m.requeue(job) })
	}
	m.mu.Unlock()
	if stopping {
		m.metrics.JobsTotal.WithLabelValues("stopped").Inc()
		job.fail(fmt.Errorf("%w: %v", ErrStopped, err), now)
		return
	}
	log.Warn("Coleta falhou, nova tentativa agendada", zap.Duration("delay", delay), zap.Error(err))
}
