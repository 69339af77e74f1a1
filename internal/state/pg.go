package state

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PGStore keeps one jsonb document per project in Postgres, for deployments
// where several machines share a memory store (still one writer per project
// at a time).
type PGStore struct {
	db *sql.DB
}

// OpenPG connects to Postgres with the pgx driver and applies the embedded
// schema migrations.
func OpenPG(dsn string) (*PGStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(4)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("postgres state store ready")
	return &PGStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

func (s *PGStore) Load(ctx context.Context, project string) (*ProjectMemory, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT doc FROM project_memories WHERE project = $1", project).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return &ProjectMemory{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load project memory: %w", err)
	}
	m, err := decodeDocument(doc)
	if err != nil {
		return nil, fmt.Errorf("decode project memory %s: %w", project, err)
	}
	return m, nil
}

func (s *PGStore) Save(ctx context.Context, project string, m *ProjectMemory) error {
	doc, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode project memory: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO project_memories (id, project, doc, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (project)
		 DO UPDATE SET doc = EXCLUDED.doc, updated_at = EXCLUDED.updated_at`,
		uuid.Must(uuid.NewV7()), project, doc, time.Now())
	if err != nil {
		return fmt.Errorf("save project memory: %w", err)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT project FROM project_memories ORDER BY project")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// Close closes the database handle.
func (s *PGStore) Close() error {
	return s.db.Close()
}
