package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BatchError identifica o produto de um job que falhou no lote
type BatchError struct {
	ProductID int64  `json:"product_id"`
	Error     string `json:"error"`
}

// BatchResult é o resumo de um lote de coletas
type BatchResult struct {
	BatchID string       `json:"batch_id"`
	Total   int          `json:"total"`
	Success int          `json:"success"`
	Failed  int          `json:"failed"`
	Errors  []BatchError `json:"errors"`
}

// Batch agrupa os jobs disparados juntos. O resumo fica pronto depois que
// cada job termina ou estoura o tempo de espera.
type Batch struct {
	ID         string
	ProductIDs []int64
	Jobs       []*Job
	CreatedAt  time.Time

	mu         sync.Mutex
	result     BatchResult
	finishedAt *time.Time
	done       chan struct{}
}

func newBatch(id string, productIDs []int64, now time.Time) *Batch {
	return &Batch{
		ID:         id,
		ProductIDs: productIDs,
		CreatedAt:  now,
		done:       make(chan struct{}),
		result:     BatchResult{BatchID: id, Total: len(productIDs), Errors: []BatchError{}},
	}
}

// Done é fechado quando o resumo está pronto
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Result retorna o resumo e se ele já está completo
func (b *Batch) Result() (BatchResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := b.result
	r.Errors = append([]BatchError{}, b.result.Errors...)
	return r, b.finishedAt != nil
}

// Wait espera o resumo do lote ou o fim do contexto
func (b *Batch) Wait(ctx context.Context) (BatchResult, error) {
	select {
	case <-b.done:
		r, _ := b.Result()
		return r, nil
	case <-ctx.Done():
		r, _ := b.Result()
		return r, ctx.Err()
	}
}

// collect espera cada job com o timeout por job e monta o resumo. Um job
// que estoura o tempo conta como falha, mas segue executando.
func (b *Batch) collect(timeout time.Duration, now func() time.Time) {
	var success, failed int
	var errs []BatchError

	for _, job := range b.Jobs {
		timer := time.NewTimer(timeout)
		select {
		case <-job.Done():
			timer.Stop()
			r := job.Result()
			if r.Status == JobSucceeded {
				success++
			} else {
				failed++
				errs = append(errs, BatchError{ProductID: job.ProductID, Error: r.Error})
			}
		case <-timer.C:
			failed++
			errs = append(errs, BatchError{
				ProductID: job.ProductID,
				Error:     fmt.Sprintf("tempo esgotado aguardando o job %s (%s)", job.ID, timeout),
			})
		}
	}

	at := now()
	b.mu.Lock()
	b.result.Success = success
	b.result.Failed = failed
	if errs != nil {
		b.result.Errors = errs
	}
	b.finishedAt = &at
	b.mu.Unlock()
	close(b.done)
}

func (b *Batch) finishedBefore(t time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finishedAt != nil && b.finishedAt.Before(t)
}
