// Package pgcorpus reads and writes the reference corpus in a PostgreSQL table
// with (code, display) columns.
package pgcorpus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/medtriage/internal/corpus"
)

var tracer = otel.Tracer("github.com/linnemanlabs/medtriage/internal/corpus/pgcorpus")

// DefaultTable is the table read when none is configured.
const DefaultTable = "icd10_symptoms"

// ErrEmptyTable is returned by Load when the table has no rows.
var ErrEmptyTable = errors.New("pgcorpus: table is empty")

// Source reads corpus rows from one table.
type Source struct {
	pool  *pgxpool.Pool
	table string
}

// New returns a Source for table. An empty table name selects DefaultTable.
func New(pool *pgxpool.Pool, table string) *Source {
	if strings.TrimSpace(table) == "" {
		table = DefaultTable
	}
	return &Source{pool: pool, table: table}
}

// Table returns the sanitized table identifier used in queries.
func (s *Source) Table() string {
	return quoteTable(s.table)
}

// quoteTable sanitizes a possibly schema-qualified table name.
func quoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

// Load returns every row ordered by code.
func (s *Source) Load(ctx context.Context) ([]corpus.Entry, error) {
	ctx, span := tracer.Start(ctx, "pgcorpus.Load", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
		attribute.String("db.collection.name", s.table),
	))
	defer span.End()

	query := `SELECT code, coalesce(display, '') FROM ` + s.Table() + ` ORDER BY code`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query corpus: %w", err)
	}
	defer rows.Close()

	var entries []corpus.Entry
	for rows.Next() {
		var e corpus.Entry
		if err := rows.Scan(&e.Code, &e.Description); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan corpus row: %w", err)
		}
		e.Code = strings.TrimSpace(e.Code)
		e.Description = strings.TrimSpace(e.Description)
		if e.Code == "" {
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate corpus rows: %w", err)
	}

	span.SetAttributes(attribute.Int("corpus.entries", len(entries)))
	if len(entries) == 0 {
		span.SetStatus(codes.Error, ErrEmptyTable.Error())
		return nil, ErrEmptyTable
	}
	return entries, nil
}

// Push creates the table if needed and upserts entries in one transaction.
func (s *Source) Push(ctx context.Context, entries []corpus.Entry) error {
	ctx, span := tracer.Start(ctx, "pgcorpus.Push", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
		attribute.String("db.collection.name", s.table),
		attribute.Int("corpus.entries", len(entries)),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	table := s.Table()
	if _, err := tx.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+table+` (
		code    TEXT PRIMARY KEY,
		display TEXT NOT NULL DEFAULT ''
	)`); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("create table: %w", err)
	}

	batch := &pgx.Batch{}
	upsert := `INSERT INTO ` + table + ` (code, display) VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET display = EXCLUDED.display`
	for _, e := range entries {
		batch.Queue(upsert, e.Code, e.Description)
	}
	if batch.Len() == 0 {
		return commit(ctx, span, tx)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert corpus: %w", err)
	}
	return commit(ctx, span, tx)
}

func commit(ctx context.Context, span trace.Span, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
