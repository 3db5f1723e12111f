package monitor

import (
	"errors"
	"fmt"
)

// ErrProductNotFound indica que o produto do job não existe
var ErrProductNotFound = errors.New("produto não encontrado")

// ErrStopped indica que o monitor não aceita mais jobs
var ErrStopped = errors.New("monitor parado")

// PersistenceError é uma falha ao gravar ou ler o banco durante o job.
// É retentável.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("erro de persistência (%s): %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// RetryExhaustedError é o erro final de um job que esgotou as tentativas
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("tentativas esgotadas após %d tentativa(s): %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}
