// Package postgres implements the store.Journal interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/leasebridge/internal/model"
	"github.com/alfredjeanlab/leasebridge/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Journal implements store.Journal backed by a PostgreSQL database.
type Journal struct {
	db *sql.DB
}

// Compile-time check that Journal implements store.Journal.
var _ store.Journal = (*Journal)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*Journal, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Journal{db: db}, nil
}

// NewWithDB wraps an already migrated database handle.
func NewWithDB(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "leasebridge_migrations"})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) CreateEntry(ctx context.Context, e *model.JournalEntry) error {
	return queryCreateEntry(ctx, j.db, e)
}

func (j *Journal) GetEntry(ctx context.Context, id string) (*model.JournalEntry, error) {
	return queryGetEntry(ctx, j.db, id)
}

func (j *Journal) UpdateEntry(ctx context.Context, e *model.JournalEntry) error {
	return queryUpdateEntry(ctx, j.db, e)
}

func (j *Journal) ListEntries(ctx context.Context, filter model.JournalFilter) ([]*model.JournalEntry, error) {
	return queryListEntries(ctx, j.db, filter)
}
