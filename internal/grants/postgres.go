package grants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"git.cscs.ch/openchami/chamicore-toolgate/internal/scope"
)

const grantsTable = "toolgate.tool_grants"

// PostgresSource stores grants in toolgate.tool_grants.
//
// A NULL allowed_tools column means the subject has no request scope; an
// empty array means the subject may use no tools.
type PostgresSource struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewPostgresSource creates a grant source over db using $n placeholders.
func NewPostgresSource(db *sql.DB) *PostgresSource {
	return &PostgresSource{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Ping checks database connectivity for readiness probes.
func (s *PostgresSource) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Lookup implements Source.
func (s *PostgresSource) Lookup(ctx context.Context, subject string) (scope.Spec, error) {
	sqlStr, args, err := s.lookupQuery(subject).ToSql()
	if err != nil {
		return scope.Spec{}, fmt.Errorf("building grant lookup query: %w", err)
	}

	var (
		unrestricted bool
		tools        pq.StringArray
	)
	err = s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&unrestricted, &tools)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return scope.Unrestricted(), nil
	case err != nil:
		return scope.Spec{}, fmt.Errorf("looking up grant for %q: %w", subject, err)
	}
	if unrestricted {
		return scope.Unrestricted(), nil
	}
	return scope.Restrict(tools...), nil
}

// Put stores the grant for subject. An unrestricted spec stores NULL.
func (s *PostgresSource) Put(ctx context.Context, subject string, spec scope.Spec) error {
	sqlStr, args, err := s.putQuery(subject, spec, time.Now().UTC()).ToSql()
	if err != nil {
		return fmt.Errorf("building grant upsert query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("upserting grant for %q: %w", subject, err)
	}
	return nil
}

// Delete removes the grant for subject. Deleting a missing grant is not an error.
func (s *PostgresSource) Delete(ctx context.Context, subject string) error {
	sqlStr, args, err := s.sb.
		Delete(grantsTable).
		Where(sq.Eq{"subject": strings.TrimSpace(subject)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building grant delete query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("deleting grant for %q: %w", subject, err)
	}
	return nil
}

func (s *PostgresSource) lookupQuery(subject string) sq.SelectBuilder {
	return s.sb.
		Select("allowed_tools IS NULL", "COALESCE(allowed_tools, ARRAY[]::text[])").
		From(grantsTable).
		Where(sq.Eq{"subject": strings.TrimSpace(subject)}).
		Limit(1)
}

func (s *PostgresSource) putQuery(subject string, spec scope.Spec, now time.Time) sq.InsertBuilder {
	var tools any
	if spec.Restricted() {
		tools = pq.StringArray(spec.Names())
	}
	return s.sb.
		Insert(grantsTable).
		Columns("subject", "allowed_tools", "updated_at").
		Values(strings.TrimSpace(subject), tools, now).
		Suffix(`
ON CONFLICT (subject) DO UPDATE SET
  allowed_tools = EXCLUDED.allowed_tools,
  updated_at = EXCLUDED.updated_at`)
}
