// Package lock serializa o trabalho por produto. LocalLocker atende um
// único processo; RedisLocker coordena várias instâncias.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL é a validade padrão de um lock
	DefaultTTL = 2 * time.Minute

	// DefaultRetryDelay é o intervalo entre tentativas de aquisição
	DefaultRetryDelay = 100 * time.Millisecond
)

// ErrNotAcquired indica que o contexto acabou antes da aquisição
var ErrNotAcquired = errors.New("lock não adquirido")

// Locker adquire um lock exclusivo por chave. A função devolvida libera
// o lock e pode ser chamada mais de uma vez.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// LocalLocker é um lock por chave dentro do processo
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker cria um LocalLocker vazio
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

// Acquire bloqueia até obter a chave ou o contexto terminar. O ttl é
// ignorado, pois o lock morre junto com o processo.
func (l *LocalLocker) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, s)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(key, s)
		})
	}, nil
}

func (l *LocalLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// RedisLocker usa SET NX PX com token para coordenar instâncias
type RedisLocker struct {
	client     redis.UniversalClient
	prefix     string
	retryDelay time.Duration
}

// NewRedisLocker cria um locker sobre o cliente informado
func NewRedisLocker(client redis.UniversalClient, prefix string) *RedisLocker {
	if prefix == "" {
		prefix = "price-watcher:lock:"
	}
	return &RedisLocker{client: client, prefix: prefix, retryDelay: DefaultRetryDelay}
}

// Acquire tenta SET NX até conseguir ou o contexto terminar. A liberação
// só apaga a chave se o token ainda for o nosso.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	fullKey := l.prefix + key
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
			}
			return nil, fmt.Errorf("erro ao adquirir lock %s: %w", key, err)
		}
		if ok {
			break
		}

		t := time.NewTimer(l.retryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-t.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// contexto próprio: a liberação não pode depender do ctx do job
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = releaseScript.Run(rctx, l.client, []string{fullKey}, token).Err()
		})
	}, nil
}

// NewRedisClient cria o cliente e valida a conexão com PING
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("erro ao conectar ao redis em %s: %w", addr, err)
	}
	return client, nil
}
