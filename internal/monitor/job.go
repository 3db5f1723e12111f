package monitor

import (
	"context"
	"sync"
	"time"

	"price-watcher/internal/notify"
)

// JobState é o estado de um job de coleta
type JobState string

const (
	JobPending        JobState = "pending"
	JobRunning        JobState = "running"
	JobRetryScheduled JobState = "retry_scheduled"
	JobSucceeded      JobState = "succeeded"
	JobFailed         JobState = "failed"
)

// Finished indica se o estado é final
func (s JobState) Finished() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobResult é a fotografia de um job
type JobResult struct {
	JobID           string          `json:"job_id"`
	ProductID       int64           `json:"product_id"`
	BatchID         string          `json:"batch_id,omitempty"`
	Status          JobState        `json:"status"`
	Attempts        int             `json:"attempts"`
	SnapshotID      int64           `json:"snapshot_id,omitempty"`
	Price           string          `json:"price,omitempty"`
	Currency        string          `json:"currency,omitempty"`
	AlertsTriggered int             `json:"alerts_triggered"`
	Notifications   []notify.Result `json:"notifications,omitempty"`
	Error           string          `json:"error,omitempty"`
	NextAttemptAt   *time.Time      `json:"next_attempt_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
	Err             error           `json:"-"`
}

// Job acompanha a coleta de um produto até o estado final. Não pode ser
// cancelado depois de aceito.
type Job struct {
	ID        string
	ProductID int64
	BatchID   string
	CreatedAt time.Time

	mu     sync.Mutex
	result JobResult
	done   chan struct{}
}

func newJob(id string, productID int64, batchID string, now time.Time) *Job {
	return &Job{
		ID:        id,
		ProductID: productID,
		BatchID:   batchID,
		CreatedAt: now,
		done:      make(chan struct{}),
		result: JobResult{
			JobID:     id,
			ProductID: productID,
			BatchID:   batchID,
			Status:    JobPending,
			CreatedAt: now,
		},
	}
}

// Done é fechado quando o job chega a um estado final
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Result retorna o estado atual do job
func (j *Job) Result() JobResult {
	j.mu.Lock()
	defer j.mu.Unlock()
	r := j.result
	r.Notifications = append([]notify.Result(nil), j.result.Notifications...)
	return r
}

// State retorna o estado atual do job
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result.Status
}

// Wait espera o estado final ou o fim do contexto. O job continua
// executando se o contexto terminar antes.
func (j *Job) Wait(ctx context.Context) (JobResult, error) {
	select {
	case <-j.done:
		return j.Result(), nil
	case <-ctx.Done():
		return j.Result(), ctx.Err()
	}
}

// begin marca o job como em execução e retorna o número da tentativa.
// Retorna 0 se o job já terminou.
func (j *Job) begin() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result.Status.Finished() {
		return 0
	}
	j.result.Status = JobRunning
	j.result.Attempts++
	j.result.NextAttemptAt = nil
	return j.result.Attempts
}

func (j *Job) scheduleRetry(err error, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result.Status = JobRetryScheduled
	j.result.Err = err
	j.result.Error = err.Error()
	j.result.NextAttemptAt = &at
}

func (j *Job) succeed(out attemptOutcome, at time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result.Status.Finished() {
		return
	}
	j.result.Status = JobSucceeded
	j.result.SnapshotID = out.snapshotID
	j.result.Price = out.price
	j.result.Currency = out.currency
	j.result.AlertsTriggered = out.alertsTriggered
	j.result.Notifications = out.notifications
	j.result.Err = nil
	j.result.Error = ""
	j.result.FinishedAt = &at
	close(j.done)
}

// fail finaliza o job com erro. Retorna false se ele já estava finalizado.
func (j *Job) fail(err error, at time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.result.Status.Finished() {
		return false
	}
	j.result.Status = JobFailed
	j.result.Err = err
	j.result.Error = err.Error()
	j.result.NextAttemptAt = nil
	j.result.FinishedAt = &at
	close(j.done)
	return true
}

func (j *Job) finishedBefore(t time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result.FinishedAt != nil && j.result.FinishedAt.Before(t)
}
