package billing

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteDB implements the DB interface on SQLite. Each table keeps the
// record as a JSON document next to the columns it is queried by; rowid
// order is creation order.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) a SQLite database at dsn and ensures the
// tables exist. Pass ":memory:" for an in-memory database.
func NewSQLiteDB(dsn string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// an in-memory database exists per connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting wal mode: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS invoices (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			user_id TEXT NOT NULL,
			source_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_user ON invoices(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_invoices_hash ON invoices(user_id, source_hash)`,

		`CREATE TABLE IF NOT EXISTS measurements (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			user_id TEXT NOT NULL,
			measurement_start DATETIME NOT NULL,
			measurement_end DATETIME NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_measurements_user ON measurements(user_id)`,

		`CREATE TABLE IF NOT EXISTS comparisons (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			user_id TEXT NOT NULL,
			invoice_id TEXT NOT NULL,
			doc TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comparisons_user ON comparisons(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_comparisons_invoice ON comparisons(invoice_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveInvoice saves an invoice to the database
func (s *SQLiteDB) SaveInvoice(invoice *Invoice) error {
	doc, err := json.Marshal(invoice)
	if err != nil {
		return fmt.Errorf("marshaling invoice: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO invoices (id, user_id, source_hash, created_at, doc) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc`,
		invoice.ID, invoice.UserID, invoice.SourceHash, invoice.CreatedAt.Format(time.RFC3339Nano), string(doc),
	)
	if err != nil {
		return fmt.Errorf("inserting invoice: %w", err)
	}
	return nil
}

// GetInvoice retrieves an invoice by ID
func (s *SQLiteDB) GetInvoice(id string) (*Invoice, error) {
	var invoice Invoice
	row := s.db.QueryRow("SELECT doc FROM invoices WHERE id = ?", id)
	if err := scanDoc(row, &invoice); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("invoice %w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &invoice, nil
}

// ListInvoices returns a user's invoices, oldest first
func (s *SQLiteDB) ListInvoices(userID string) ([]*Invoice, error) {
	return queryDocs[Invoice](s.db, "SELECT doc FROM invoices WHERE user_id = ? ORDER BY seq", userID)
}

// FindInvoiceByHash returns the user's invoice with the given source hash
func (s *SQLiteDB) FindInvoiceByHash(userID, hash string) (*Invoice, error) {
	var invoice Invoice
	row := s.db.QueryRow(
		"SELECT doc FROM invoices WHERE user_id = ? AND source_hash = ? ORDER BY seq LIMIT 1",
		userID, hash,
	)
	if err := scanDoc(row, &invoice); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("invoice %w: hash %s", ErrNotFound, hash)
		}
		return nil, err
	}
	return &invoice, nil
}

// SaveMeasurement saves a measurement; its sequence is the table rowid
func (s *SQLiteDB) SaveMeasurement(measurement *Measurement) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO measurements (id, user_id, measurement_start, measurement_end, doc) VALUES (?,?,?,?,'{}')`,
		measurement.ID, measurement.UserID,
		measurement.Start.Format(time.RFC3339), measurement.End.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting measurement: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading measurement sequence: %w", err)
	}
	measurement.Seq = uint64(seq)

	doc, err := json.Marshal(measurement)
	if err != nil {
		return fmt.Errorf("marshaling measurement: %w", err)
	}
	if _, err := tx.Exec("UPDATE measurements SET doc = ? WHERE seq = ?", string(doc), seq); err != nil {
		return fmt.Errorf("storing measurement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetMeasurement retrieves a measurement by ID
func (s *SQLiteDB) GetMeasurement(id string) (*Measurement, error) {
	var measurement Measurement
	row := s.db.QueryRow("SELECT doc FROM measurements WHERE id = ?", id)
	if err := scanDoc(row, &measurement); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("measurement %w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &measurement, nil
}

// ListMeasurements returns a user's measurements in creation order
func (s *SQLiteDB) ListMeasurements(userID string) ([]*Measurement, error) {
	return queryDocs[Measurement](s.db, "SELECT doc FROM measurements WHERE user_id = ? ORDER BY seq", userID)
}

// SaveComparison appends a comparison
func (s *SQLiteDB) SaveComparison(comparison *Comparison) error {
	return insertComparison(s.db, comparison)
}

// ReplaceComparisons drops the invoice's earlier comparisons and saves the
// new one atomically
func (s *SQLiteDB) ReplaceComparisons(comparison *Comparison) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM comparisons WHERE invoice_id = ?", comparison.InvoiceID); err != nil {
		return fmt.Errorf("deleting comparisons: %w", err)
	}
	if err := insertComparison(tx, comparison); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetComparison retrieves a comparison by ID
func (s *SQLiteDB) GetComparison(id string) (*Comparison, error) {
	var comparison Comparison
	row := s.db.QueryRow("SELECT doc FROM comparisons WHERE id = ?", id)
	if err := scanDoc(row, &comparison); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("comparison %w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &comparison, nil
}

// ListComparisons returns a user's comparisons, oldest first
func (s *SQLiteDB) ListComparisons(userID string) ([]*Comparison, error) {
	return queryDocs[Comparison](s.db, "SELECT doc FROM comparisons WHERE user_id = ? ORDER BY seq", userID)
}

// ListInvoiceComparisons returns an invoice's comparisons, oldest first
func (s *SQLiteDB) ListInvoiceComparisons(invoiceID string) ([]*Comparison, error) {
	return queryDocs[Comparison](s.db, "SELECT doc FROM comparisons WHERE invoice_id = ? ORDER BY seq", invoiceID)
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertComparison(db execer, comparison *Comparison) error {
	doc, err := json.Marshal(comparison)
	if err != nil {
		return fmt.Errorf("marshaling comparison: %w", err)
	}
	_, err = db.Exec(
		"INSERT INTO comparisons (id, user_id, invoice_id, doc) VALUES (?,?,?,?)",
		comparison.ID, comparison.UserID, comparison.InvoiceID, string(doc),
	)
	if err != nil {
		return fmt.Errorf("inserting comparison: %w", err)
	}
	return nil
}

func scanDoc(row *sql.Row, v any) error {
	var doc string
	if err := row.Scan(&doc); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(doc), v); err != nil {
		return fmt.Errorf("unmarshaling document: %w", err)
	}
	return nil
}

func queryDocs[T any](db *sql.DB, query string, args ...any) ([]*T, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*T, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var record T
		if err := json.Unmarshal([]byte(doc), &record); err != nil {
			return nil, fmt.Errorf("unmarshaling document: %w", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}
