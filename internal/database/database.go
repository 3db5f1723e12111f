// Package database implementa o armazenamento em SQLite usado pelo
// pipeline de coleta. Valores monetários são gravados como TEXT para que o
// decimal volte exatamente igual; horários são sempre UTC.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"price-watcher/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// DB encapsula a conexão com o banco de dados
type DB struct {
	conn   *sqlx.DB
	logger *zap.Logger
}

// New abre o banco em dbPath (":memory:" para testes) e cria o schema
func New(dbPath string, logger *zap.Logger) (*DB, error) {
	conn, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("erro ao abrir banco %s: %w", dbPath, err)
	}
	// SQLite aceita um escritor por vez; uma conexão também mantém o
	// banco ":memory:" vivo entre as consultas
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, logger: logger}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("Banco de dados inicializado com sucesso", zap.String("path", dbPath))
	return db, nil
}

// Close fecha a conexão com o banco de dados
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifica se a conexão responde
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

const schema = `
CREATE TABLE IF NOT EXISTS stores (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	platform TEXT NOT NULL DEFAULT 'other',
	base_url TEXT NOT NULL DEFAULT '',
	country TEXT NOT NULL DEFAULT 'PH'
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	store_id INTEGER NOT NULL REFERENCES stores(id),
	name TEXT NOT NULL,
	url TEXT NOT NULL,
	image_url TEXT NOT NULL DEFAULT '',
	target_price TEXT,
	is_active BOOLEAN NOT NULL DEFAULT 1,
	scrape_frequency INTEGER NOT NULL DEFAULT 60,
	last_scraped DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS price_snapshots (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL REFERENCES products(id),
	price TEXT NOT NULL,
	original_price TEXT,
	discount_percentage INTEGER,
	is_available BOOLEAN NOT NULL DEFAULT 1,
	stock_level TEXT NOT NULL DEFAULT '',
	rating TEXT,
	review_count INTEGER,
	scraped_at DATETIME NOT NULL,
	scrape_duration REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_snapshots_product_time ON price_snapshots(product_id, scraped_at);

CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	product_id INTEGER NOT NULL REFERENCES products(id),
	alert_type TEXT NOT NULL,
	threshold_value TEXT NOT NULL DEFAULT '0',
	is_active BOOLEAN NOT NULL DEFAULT 1,
	email_enabled BOOLEAN NOT NULL DEFAULT 1,
	webhook_url TEXT NOT NULL DEFAULT '',
	telegram_chat_id INTEGER NOT NULL DEFAULT 0,
	triggered_count INTEGER NOT NULL DEFAULT 0,
	last_triggered DATETIME,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_alerts_product ON alerts(product_id);

CREATE TABLE IF NOT EXISTS alert_triggers (
	alert_id INTEGER NOT NULL,
	snapshot_id INTEGER NOT NULL,
	triggered_at DATETIME NOT NULL,
	completed BOOLEAN NOT NULL DEFAULT 0,
	email_sent BOOLEAN NOT NULL DEFAULT 0,
	webhook_sent BOOLEAN NOT NULL DEFAULT 0,
	telegram_sent BOOLEAN NOT NULL DEFAULT 0,
	errors TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (alert_id, snapshot_id)
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL,
	job_id TEXT NOT NULL DEFAULT '',
	attempt INTEGER NOT NULL DEFAULT 1,
	started_at DATETIME NOT NULL,
	duration REAL NOT NULL DEFAULT 0,
	success BOOLEAN NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_started ON scrape_runs(started_at);
`

// init cria as tabelas necessárias
func (db *DB) init() error {
	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("erro ao criar schema: %w", err)
	}
	return nil
}

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %d", models.ErrNotFound, what, id)
	}
	return fmt.Errorf("erro ao buscar %s %d: %w", what, id, err)
}

// encodeErrors serializa os erros de entrega como lista JSON
func encodeErrors(errs []string) (string, error) {
	if errs == nil {
		errs = []string{}
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("erro ao serializar erros do disparo: %w", err)
	}
	return string(b), nil
}

// CreateStore cadastra uma loja
func (db *DB) CreateStore(ctx context.Context, s *models.Store) error {
	if s.Country == "" {
		s.Country = "PH"
	}
	if s.Platform == "" {
		s.Platform = "other"
	}
	res, err := db.conn.NamedExecContext(ctx,
		`INSERT INTO stores (name, platform, base_url, country) VALUES (:name, :platform, :base_url, :country)`, s)
	if err != nil {
		return fmt.Errorf("erro ao criar loja: %w", err)
	}
	s.ID, err = res.LastInsertId()
	return err
}

// GetStore retorna uma loja pelo ID
func (db *DB) GetStore(ctx context.Context, id int64) (*models.Store, error) {
	var s models.Store
	err := db.conn.GetContext(ctx, &s, `SELECT id, name, platform, base_url, country FROM stores WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "loja", id)
	}
	return &s, nil
}

// CreateUser cadastra um usuário
func (db *DB) CreateUser(ctx context.Context, u *models.User) error {
	res, err := db.conn.NamedExecContext(ctx,
		`INSERT INTO users (username, email) VALUES (:username, :email)`, u)
	if err != nil {
		return fmt.Errorf("erro ao criar usuário: %w", err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// GetUser retorna um usuário pelo ID
func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := db.conn.GetContext(ctx, &u, `SELECT id, username, email FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "usuário", id)
	}
	return &u, nil
}

const productColumns = `id, user_id, store_id, name, url, image_url, target_price, is_active,
	scrape_frequency, last_scraped, created_at`

// CreateProduct adiciona um novo produto ao banco de dados
func (db *DB) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.ScrapeFrequencyMinutes <= 0 {
		p.ScrapeFrequencyMinutes = int(models.DefaultScrapeFrequency / time.Minute)
	}
	res, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO products (user_id, store_id, name, url, image_url, target_price, is_active, scrape_frequency, last_scraped)
		VALUES (:user_id, :store_id, :name, :url, :image_url, :target_price, :is_active, :scrape_frequency, :last_scraped)`, p)
	if err != nil {
		return fmt.Errorf("erro ao criar produto: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// GetProduct retorna um produto pelo ID
func (db *DB) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := db.conn.GetContext(ctx, &p, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "produto", id)
	}
	return &p, nil
}

// ActiveProducts retorna todos os produtos ativos
func (db *DB) ActiveProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := db.conn.SelectContext(ctx, &products,
		`SELECT `+productColumns+` FROM products WHERE is_active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("erro ao listar produtos ativos: %w", err)
	}
	return products, nil
}

// DueProducts retorna os produtos ativos cuja frequência de coleta venceu
func (db *DB) DueProducts(ctx context.Context, now time.Time) ([]models.Product, error) {
	active, err := db.ActiveProducts(ctx)
	if err != nil {
		return nil, err
	}
	due := make([]models.Product, 0, len(active))
	for _, p := range active {
		if p.IsDue(now) {
			due = append(due, p)
		}
	}
	return due, nil
}

// ListProducts retorna todos os produtos (ativos e inativos)
func (db *DB) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := db.conn.SelectContext(ctx, &products,
		`SELECT `+productColumns+` FROM products ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("erro ao listar produtos: %w", err)
	}
	return products, nil
}

// DeactivateProduct desativa um produto
func (db *DB) DeactivateProduct(ctx context.Context, id int64) error {
	_, err := db.conn.ExecContext(ctx, "UPDATE products SET is_active = 0 WHERE id = ?", id)
	return err
}

// SaveScrape grava o snapshot e atualiza last_scraped/image_url do produto
// na mesma transação. O ID gerado é preenchido em snap.
func (db *DB) SaveScrape(ctx context.Context, snap *models.PriceSnapshot, imageURL string) error {
	snap.ScrapedAt = snap.ScrapedAt.UTC()

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.NamedExecContext(ctx, `
		INSERT INTO price_snapshots (product_id, price, original_price, discount_percentage, is_available,
			stock_level, rating, review_count, scraped_at, scrape_duration)
		VALUES (:product_id, :price, :original_price, :discount_percentage, :is_available,
			:stock_level, :rating, :review_count, :scraped_at, :scrape_duration)`, snap)
	if err != nil {
		return fmt.Errorf("erro ao gravar snapshot: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE products
		SET last_scraped = ?, image_url = CASE WHEN ? <> '' THEN ? ELSE image_url END
		WHERE id = ?`,
		snap.ScrapedAt, imageURL, imageURL, snap.ProductID)
	if err != nil {
		return fmt.Errorf("erro ao atualizar produto: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: produto %d", models.ErrNotFound, snap.ProductID)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("erro ao confirmar transação: %w", err)
	}
	snap.ID = id
	return nil
}

const snapshotColumns = `id, product_id, price, original_price, discount_percentage, is_available,
	stock_level, rating, review_count, scraped_at, scrape_duration`

func (db *DB) oneSnapshot(ctx context.Context, query string, args ...any) (*models.PriceSnapshot, error) {
	var s models.PriceSnapshot
	err := db.conn.GetContext(ctx, &s, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("erro ao buscar snapshot: %w", err)
	}
	return &s, nil
}

// LatestSnapshot retorna o snapshot mais recente do produto, ou nil
func (db *DB) LatestSnapshot(ctx context.Context, productID int64) (*models.PriceSnapshot, error) {
	return db.oneSnapshot(ctx, `SELECT `+snapshotColumns+` FROM price_snapshots
		WHERE product_id = ? ORDER BY scraped_at DESC, id DESC LIMIT 1`, productID)
}

// PreviousSnapshot retorna o snapshot imediatamente anterior a snap, ou nil
func (db *DB) PreviousSnapshot(ctx context.Context, snap models.PriceSnapshot) (*models.PriceSnapshot, error) {
	at := snap.ScrapedAt.UTC()
	return db.oneSnapshot(ctx, `SELECT `+snapshotColumns+` FROM price_snapshots
		WHERE product_id = ? AND (scraped_at < ? OR (scraped_at = ? AND id < ?))
		ORDER BY scraped_at DESC, id DESC LIMIT 1`, snap.ProductID, at, at, snap.ID)
}

// LatestSnapshotAtOrBefore retorna o snapshot mais recente com
// scraped_at <= t, ignorando excludeID. Retorna nil se não houver.
func (db *DB) LatestSnapshotAtOrBefore(ctx context.Context, productID int64, t time.Time, excludeID int64) (*models.PriceSnapshot, error) {
	return db.oneSnapshot(ctx, `SELECT `+snapshotColumns+` FROM price_snapshots
		WHERE product_id = ? AND scraped_at <= ? AND id <> ?
		ORDER BY scraped_at DESC, id DESC LIMIT 1`, productID, t.UTC(), excludeID)
}

// Snapshots retorna o histórico do produto, do mais novo para o mais antigo
func (db *DB) Snapshots(ctx context.Context, productID int64) ([]models.PriceSnapshot, error) {
	var snaps []models.PriceSnapshot
	err := db.conn.SelectContext(ctx, &snaps, `SELECT `+snapshotColumns+` FROM price_snapshots
		WHERE product_id = ? ORDER BY scraped_at DESC, id DESC`, productID)
	if err != nil {
		return nil, fmt.Errorf("erro ao listar snapshots: %w", err)
	}
	return snaps, nil
}

// SnapshotsBetween retorna os snapshots com from <= scraped_at < to
func (db *DB) SnapshotsBetween(ctx context.Context, from, to time.Time) ([]models.PriceSnapshot, error) {
	var snaps []models.PriceSnapshot
	err := db.conn.SelectContext(ctx, &snaps, `SELECT `+snapshotColumns+` FROM price_snapshots
		WHERE scraped_at >= ? AND scraped_at < ? ORDER BY scraped_at`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("erro ao listar snapshots: %w", err)
	}
	return snaps, nil
}

// PruneSnapshots apaga snapshots anteriores a cutoff, mantendo por produto
// o mais recente deles. Snapshots em ou após cutoff não são tocados.
func (db *DB) PruneSnapshots(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoff = cutoff.UTC()
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM price_snapshots
		WHERE scraped_at < ?
		AND id NOT IN (
			SELECT (
				SELECT s2.id FROM price_snapshots s2
				WHERE s2.product_id = p.product_id AND s2.scraped_at < ?
				ORDER BY s2.scraped_at DESC, s2.id DESC LIMIT 1
			)
			FROM (SELECT DISTINCT product_id FROM price_snapshots WHERE scraped_at < ?) p
		)`, cutoff, cutoff, cutoff)
	if err != nil {
		return 0, fmt.Errorf("erro ao remover snapshots antigos: %w", err)
	}
	return res.RowsAffected()
}

// CreateAlert cadastra um alerta
func (db *DB) CreateAlert(ctx context.Context, a *models.Alert) error {
	if !a.Type.Valid() {
		return fmt.Errorf("tipo de alerta inválido: %q", a.Type)
	}
	res, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO alerts (user_id, product_id, alert_type, threshold_value, is_active, email_enabled,
			webhook_url, telegram_chat_id, triggered_count, last_triggered)
		VALUES (:user_id, :product_id, :alert_type, :threshold_value, :is_active, :email_enabled,
			:webhook_url, :telegram_chat_id, :triggered_count, :last_triggered)`, a)
	if err != nil {
		return fmt.Errorf("erro ao criar alerta: %w", err)
	}
	a.ID, err = res.LastInsertId()
	return err
}

const alertColumns = `id, user_id, product_id, alert_type, threshold_value, is_active, email_enabled,
	webhook_url, telegram_chat_id, triggered_count, last_triggered, created_at`

// GetAlert retorna um alerta pelo ID
func (db *DB) GetAlert(ctx context.Context, id int64) (*models.Alert, error) {
	var a models.Alert
	err := db.conn.GetContext(ctx, &a, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err, "alerta", id)
	}
	return &a, nil
}

// ActiveAlerts retorna os alertas ativos de um produto
func (db *DB) ActiveAlerts(ctx context.Context, productID int64) ([]models.Alert, error) {
	var alerts []models.Alert
	err := db.conn.SelectContext(ctx, &alerts, `SELECT `+alertColumns+` FROM alerts
		WHERE product_id = ? AND is_active = 1 ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("erro ao listar alertas: %w", err)
	}
	return alerts, nil
}

// ClaimTrigger reserva o disparo do par (alerta, snapshot). Só quem recebe
// true pode notificar; chamadas seguintes para o mesmo par recebem false.
func (db *DB) ClaimTrigger(ctx context.Context, alertID, snapshotID int64, at time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO alert_triggers (alert_id, snapshot_id, triggered_at) VALUES (?, ?, ?)`,
		alertID, snapshotID, at.UTC())
	if err != nil {
		return false, fmt.Errorf("erro ao reservar disparo: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CompleteTrigger grava o resultado da entrega e avança o contador e o
// last_triggered do alerta. last_triggered nunca volta no tempo.
func (db *DB) CompleteTrigger(ctx context.Context, alertID, snapshotID int64, at time.Time, outcome models.TriggerOutcome) error {
	at = at.UTC()
	errs, err := encodeErrors(outcome.Errors)
	if err != nil {
		return err
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("erro ao iniciar transação: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE alert_triggers
		SET completed = 1, email_sent = ?, webhook_sent = ?, telegram_sent = ?, errors = ?
		WHERE alert_id = ? AND snapshot_id = ? AND completed = 0`,
		outcome.EmailSent, outcome.WebhookSent, outcome.TelegramSent, errs, alertID, snapshotID)
	if err != nil {
		return fmt.Errorf("erro ao gravar disparo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// já concluído ou nunca reservado
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE alerts
		SET triggered_count = triggered_count + 1,
			last_triggered = CASE
				WHEN last_triggered IS NULL OR last_triggered < ? THEN ?
				ELSE last_triggered
			END
		WHERE id = ?`, at, at, alertID)
	if err != nil {
		return fmt.Errorf("erro ao atualizar alerta: %w", err)
	}
	return tx.Commit()
}

// TriggerCount retorna quantos disparos existem para o par (usado em testes
// e auditoria)
func (db *DB) TriggerCount(ctx context.Context, alertID, snapshotID int64) (int, error) {
	var n int
	err := db.conn.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM alert_triggers WHERE alert_id = ? AND snapshot_id = ?`, alertID, snapshotID)
	return n, err
}

// RecordScrapeRun grava uma tentativa de coleta
func (db *DB) RecordScrapeRun(ctx context.Context, run *models.ScrapeRun) error {
	run.StartedAt = run.StartedAt.UTC()
	res, err := db.conn.NamedExecContext(ctx, `
		INSERT INTO scrape_runs (product_id, job_id, attempt, started_at, duration, success, error)
		VALUES (:product_id, :job_id, :attempt, :started_at, :duration, :success, :error)`, run)
	if err != nil {
		return fmt.Errorf("erro ao gravar execução: %w", err)
	}
	run.ID, err = res.LastInsertId()
	return err
}

// ScrapeRunsBetween retorna as tentativas com from <= started_at < to,
// junto com o nome da loja do produto
func (db *DB) ScrapeRunsBetween(ctx context.Context, from, to time.Time) ([]models.ScrapeRun, error) {
	var runs []models.ScrapeRun
	err := db.conn.SelectContext(ctx, &runs, `
		SELECT r.id, r.product_id, COALESCE(s.name, '') AS store_name, r.job_id, r.attempt,
			r.started_at, r.duration, r.success, r.error
		FROM scrape_runs r
		LEFT JOIN products p ON p.id = r.product_id
		LEFT JOIN stores s ON s.id = p.store_id
		WHERE r.started_at >= ? AND r.started_at < ?
		ORDER BY r.started_at`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("erro ao listar execuções: %w", err)
	}
	return runs, nil
}
