package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/bidhall/bidhall-api/internal/config"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

// Database represents a database connection
type Database struct {
	db *sqlx.DB
}

// NewDatabase creates a new database connection
func NewDatabase(cfg config.DatabaseConfig) (*Database, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	// Build the connection string
	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, sslMode,
	)

	// Connect to the database
	db, err := sqlx.Connect(cfg.Driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Check the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// GetDB returns the sqlx.DB instance
func (d *Database) GetDB() *sqlx.DB {
	return d.db
}

// Migrate creates the tables, sequences and indexes if they do not exist
func (d *Database) Migrate(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Transaction executes a function within a transaction
func (d *Database) Transaction(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // re-throw panic after rollback
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// consolidatedInvoiceIndex allows one consolidated invoice per bidder and auction
const consolidatedInvoiceIndex = "invoices_consolidated_bidder"

// pgTx implements Tx on top of one sqlx transaction
type pgTx struct {
	tx *sqlx.Tx
}

// translate maps driver errors onto the store sentinels
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		if pqErr.Constraint == consolidatedInvoiceIndex {
			return ErrInvoiceExists
		}
		return fmt.Errorf("%w: %s", ErrConflict, pqErr.Constraint)
	}
	return err
}

// changed reports whether a conditional update touched a row. When it did not,
// it tells a missing row apart from a failed condition.
func (t *pgTx) changed(ctx context.Context, res sql.Result, table, id string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM ` + table + ` WHERE id = $1)`
	if err := t.tx.GetContext(ctx, &exists, query, id); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func statusArgs[S ~string](statuses []S) pq.StringArray {
	arr := make(pq.StringArray, len(statuses))
	for i, s := range statuses {
		arr[i] = string(s)
	}
	return arr
}

// stampIf returns &at when cond holds so COALESCE keeps the column otherwise
func stampIf(cond bool, at time.Time) *time.Time {
	if !cond {
		return nil
	}
	return &at
}
