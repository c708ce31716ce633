package artists

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	artistsTable = "artists"
	memoryPath   = ":memory:"
)

var (
	// ErrNotFound is returned when an artist does not exist.
	ErrNotFound = errors.New("artist not found")
	// ErrConflict is returned when an artist name is already taken.
	ErrConflict = errors.New("artist already exists")
)

var artistColumns = []string{"id", "name", "genre", "country", "created_at", "updated_at"}

// Artist is one catalogue row.
type Artist struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Genre     string    `json:"genre,omitempty"`
	Country   string    `json:"country,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListOptions filters and paginates List.
type ListOptions struct {
	Limit   int
	Offset  int
	Genre   string
	Country string
}

// Patch holds optional field updates. Nil fields are left unchanged.
type Patch struct {
	Name    *string
	Genre   *string
	Country *string
}

// Store persists artists in SQLite.
type Store struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// Open opens (and creates if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = memoryPath
	}
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening artists database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now: time.Now,
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS artists (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			genre TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_artists_name ON artists(name COLLATE NOCASE);`,
		`CREATE INDEX IF NOT EXISTS idx_artists_genre ON artists(genre);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying artists schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies that the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// List returns a page of artists ordered by id, plus the total match count.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Artist, int, error) {
	where := sq.And{}
	if genre := strings.TrimSpace(opts.Genre); genre != "" {
		where = append(where, sq.Eq{"genre": genre})
	}
	if country := strings.TrimSpace(opts.Country); country != "" {
		where = append(where, sq.Eq{"country": country})
	}

	countSQL, countArgs, err := s.sb.Select("COUNT(*)").From(artistsTable).Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("building count query: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("executing count query: %w", err)
	}
	if total == 0 {
		return []Artist{}, 0, nil
	}

	query := s.sb.Select(artistColumns...).From(artistsTable).Where(where).OrderBy("id ASC")
	if opts.Limit > 0 {
		query = query.Limit(uint64(opts.Limit))
	}
	if opts.Offset > 0 {
		query = query.Offset(uint64(opts.Offset))
	}
	items, err := s.queryArtists(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Search returns artists whose name, genre or country contains query,
// case-insensitively.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]Artist, error) {
	pattern := "%" + escapeLike(strings.ToLower(strings.TrimSpace(query))) + "%"
	builder := s.sb.Select(artistColumns...).From(artistsTable).
		Where(sq.Or{
			sq.Expr(`LOWER(name) LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`LOWER(genre) LIKE ? ESCAPE '\'`, pattern),
			sq.Expr(`LOWER(country) LIKE ? ESCAPE '\'`, pattern),
		}).
		OrderBy("name ASC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return s.queryArtists(ctx, builder)
}

// Get returns one artist by id.
func (s *Store) Get(ctx context.Context, id int64) (Artist, error) {
	items, err := s.queryArtists(ctx, s.sb.Select(artistColumns...).From(artistsTable).Where(sq.Eq{"id": id}).Limit(1))
	if err != nil {
		return Artist{}, err
	}
	if len(items) == 0 {
		return Artist{}, ErrNotFound
	}
	return items[0], nil
}

// Create inserts a new artist and returns the stored row.
func (s *Store) Create(ctx context.Context, a Artist) (Artist, error) {
	now := s.now().UTC()
	sqlStr, args, err := s.sb.Insert(artistsTable).
		Columns("name", "genre", "country", "created_at", "updated_at").
		Values(strings.TrimSpace(a.Name), strings.TrimSpace(a.Genre), strings.TrimSpace(a.Country), formatTime(now), formatTime(now)).
		ToSql()
	if err != nil {
		return Artist{}, fmt.Errorf("building insert query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return Artist{}, ErrConflict
		}
		return Artist{}, fmt.Errorf("inserting artist: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Artist{}, fmt.Errorf("reading inserted artist id: %w", err)
	}
	return s.Get(ctx, id)
}

// Update applies patch to the artist with id and returns the stored row.
func (s *Store) Update(ctx context.Context, id int64, patch Patch) (Artist, error) {
	builder := s.sb.Update(artistsTable).
		Set("updated_at", formatTime(s.now().UTC())).
		Where(sq.Eq{"id": id})
	if patch.Name != nil {
		builder = builder.Set("name", strings.TrimSpace(*patch.Name))
	}
	if patch.Genre != nil {
		builder = builder.Set("genre", strings.TrimSpace(*patch.Genre))
	}
	if patch.Country != nil {
		builder = builder.Set("country", strings.TrimSpace(*patch.Country))
	}

	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return Artist{}, fmt.Errorf("building update query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return Artist{}, ErrConflict
		}
		return Artist{}, fmt.Errorf("updating artist: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Artist{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes the artist with id.
func (s *Store) Delete(ctx context.Context, id int64) error {
	sqlStr, args, err := s.sb.Delete(artistsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("deleting artist: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading deleted rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Seed inserts items when the table is empty. It returns the number inserted.
func (s *Store) Seed(ctx context.Context, items []Artist) (int, error) {
	_, total, err := s.List(ctx, ListOptions{Limit: 1})
	if err != nil {
		return 0, err
	}
	if total > 0 {
		return 0, nil
	}
	for i, item := range items {
		if _, err := s.Create(ctx, item); err != nil {
			return i, fmt.Errorf("seeding artist %q: %w", item.Name, err)
		}
	}
	return len(items), nil
}

func (s *Store) queryArtists(ctx context.Context, builder sq.SelectBuilder) ([]Artist, error) {
	sqlStr, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("querying artists: %w", err)
	}
	defer rows.Close()

	items := make([]Artist, 0)
	for rows.Next() {
		var (
			a                    Artist
			createdAt, updatedAt string
		)
		if err := rows.Scan(&a.ID, &a.Name, &a.Genre, &a.Country, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning artist: %w", err)
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at for artist %d: %w", a.ID, err)
		}
		if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, fmt.Errorf("parsing updated_at for artist %d: %w", a.ID, err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artists: %w", err)
	}
	return items, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE"))
	}
	return false
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
