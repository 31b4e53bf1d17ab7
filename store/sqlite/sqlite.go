/*
Package sqlite provides a SQLite-backed ledger.Reader and ledger.Loader.

PURPOSE:
  Holds client books (clients, accounts, facts) and saved indicator
  criteria. Every MetricSpec is compiled into one SQL statement; the
  classification rules run inside SQLite as Go functions registered on
  each connection, so filtering happens where the rows are.

APPEND-ONLY FACTS:
  Facts are inserted, never updated. A batch that references an unknown
  account is rejected as a whole.

KEY TABLES:
  clients:       Client metadata and accounting date
  accounts:      Chart of accounts per client
  facts:         Immutable ledger lines
  kpi_criteria:  Saved indicator configuration

SQL FUNCTIONS (driver.go):
  fm_nominal_eligible(name, category) -> 0/1
  fm_other_income(name, type)         -> 0/1
  fm_role(name, type, role)           -> 0/1

PRECISION:
  Amounts are stored as decimal text. SQL filters, Go sums with
  shopspring/decimal, so no float ever touches a monetary value.

MIGRATION:
  Versioned migrations in migrations/ are embedded and applied with
  golang-migrate on New().

CONCURRENCY:
  One open connection. ":memory:" databases are per-connection in SQLite,
  and the raw pass is read-only, so a single connection serialises
  cleanly behind database/sql.

USAGE:
  store, err := sqlite.New("./data/metrics.db", classify.Default())
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - query.go: MetricSpec to SQL
  - driver.go: classifier functions
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/finance-metrics/kpi"
	"github.com/warp/finance-metrics/ledger"
)

// Store implements ledger.Reader and ledger.Loader using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath, registers the
// classifier's SQL functions and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string, cl Classifier) (*Store, error) {
	db, err := sql.Open(registerDriver(cl), dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if _, err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// NewWithDB wraps an existing handle without migrating it.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// LOADER
// =============================================================================

func (s *Store) SaveClient(ctx context.Context, c ledger.Client) error {
	date := ""
	if !c.AccountingDate.IsZero() {
		date = c.AccountingDate.Format(time.DateOnly)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, accounting_date, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, accounting_date = excluded.accounting_date
	`, int64(c.ID), c.Name, date, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to save client: %w", mapError(err))
	}
	return nil
}

func (s *Store) SaveAccounts(ctx context.Context, client ledger.ClientID, accounts []ledger.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	for _, a := range accounts {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (client_id, id, name, type)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(client_id, id) DO UPDATE SET name = excluded.name, type = excluded.type
		`, int64(client), string(a.ID), a.Name, a.Type)
		if err != nil {
			if isForeignKeyError(err) {
				return fmt.Errorf("%w: %s", ledger.ErrClientNotFound, client)
			}
			return fmt.Errorf("failed to save account %s: %w", a.ID, mapError(err))
		}
	}
	return tx.Commit()
}

// AppendFacts adds facts atomically. Every fact must reference a saved
// account of its client.
func (s *Store) AppendFacts(ctx context.Context, facts []ledger.Fact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapError(err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO facts
		(client_id, account_id, contact_id, category, amount, month_offset,
		 source, source_type, invoice_number, reference, currency)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", mapError(err))
	}
	defer stmt.Close()

	for _, f := range facts {
		_, err := stmt.ExecContext(ctx,
			int64(f.Client),
			string(f.Account),
			string(f.Contact),
			string(f.Category),
			f.Amount.String(),
			f.Offset,
			f.Source,
			f.SourceType,
			f.InvoiceNumber,
			f.Reference,
			f.Currency,
		)
		if err != nil {
			if isForeignKeyError(err) {
				return fmt.Errorf("%w: %s for client %s", ledger.ErrUnknownAccount, f.Account, f.Client)
			}
			return fmt.Errorf("failed to append fact: %w", mapError(err))
		}
	}
	return tx.Commit()
}

// =============================================================================
// CLIENTS
// =============================================================================

func (s *Store) Client(ctx context.Context, id ledger.ClientID) (ledger.Client, error) {
	var (
		c    ledger.Client
		raw  int64
		date string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, accounting_date FROM clients WHERE id = ?`, int64(id),
	).Scan(&raw, &c.Name, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Client{}, fmt.Errorf("%w: %s", ledger.ErrClientNotFound, id)
	}
	if err != nil {
		return ledger.Client{}, fmt.Errorf("failed to load client: %w", mapError(err))
	}

	c.ID = ledger.ClientID(raw)
	if date != "" {
		if c.AccountingDate, err = time.Parse(time.DateOnly, date); err != nil {
			return ledger.Client{}, fmt.Errorf("client %s has a malformed accounting date %q: %w", id, date, err)
		}
	}
	return c, nil
}

// ListClients returns every client ordered by id.
func (s *Store) ListClients(ctx context.Context) ([]ledger.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM clients ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", mapError(err))
	}
	var ids []ledger.ClientID
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, ledger.ClientID(id))
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	clients := make([]ledger.Client, 0, len(ids))
	for _, id := range ids {
		c, err := s.Client(ctx, id)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, nil
}

// DeleteClient removes a client and, by cascade, its books.
func (s *Store) DeleteClient(ctx context.Context, id ledger.ClientID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("failed to delete client: %w", mapError(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrClientNotFound, id)
	}
	return nil
}

// Reset clears all data. Used by demo scenarios.
func (s *Store) Reset(ctx context.Context) error {
	for _, table := range []string{"kpi_criteria", "facts", "accounts", "clients"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, mapError(err))
		}
	}
	return nil
}

// =============================================================================
// KPI CRITERIA
// =============================================================================

// SaveCriteria stores the raw criteria of one indicator. Callers validate
// with RawCriteria.Parse first.
func (s *Store) SaveCriteria(ctx context.Context, client ledger.ClientID, f kpi.Family, raw kpi.RawCriteria) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kpi_criteria
		(client_id, family, period, direction, min_months, threshold, enabled, val_adj, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id, family) DO UPDATE SET
			period = excluded.period,
			direction = excluded.direction,
			min_months = excluded.min_months,
			threshold = excluded.threshold,
			enabled = excluded.enabled,
			val_adj = excluded.val_adj,
			updated_at = excluded.updated_at
	`, int64(client), string(f), raw.Period, raw.Direction, raw.MinMonths, raw.Threshold, raw.Enabled,
		raw.ValuationMultiple, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("%w: %s", ledger.ErrClientNotFound, client)
		}
		return fmt.Errorf("failed to save criteria: %w", mapError(err))
	}
	return nil
}

// LoadCriteria returns every saved indicator configuration of a client.
func (s *Store) LoadCriteria(ctx context.Context, client ledger.ClientID) (map[kpi.Family]kpi.RawCriteria, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT family, period, direction, min_months, threshold, enabled, val_adj
		FROM kpi_criteria WHERE client_id = ?
	`, int64(client))
	if err != nil {
		return nil, fmt.Errorf("failed to load criteria: %w", mapError(err))
	}
	defer rows.Close()

	out := make(map[kpi.Family]kpi.RawCriteria)
	for rows.Next() {
		var (
			family string
			raw    kpi.RawCriteria
		)
		if err := rows.Scan(&family, &raw.Period, &raw.Direction, &raw.MinMonths, &raw.Threshold, &raw.Enabled, &raw.ValuationMultiple); err != nil {
			return nil, err
		}
		out[kpi.Family(family)] = raw
	}
	return out, rows.Err()
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// mapError marks connection-level failures so callers can retry them.
func mapError(err error) error {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %w", ledger.ErrConnectionLost, err)
	}
	return err
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
