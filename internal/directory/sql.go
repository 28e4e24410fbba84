package directory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx via database/sql
	_ "modernc.org/sqlite"

	logx "castbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// sqlDirectory pages through directory_members ordered by (position, user_id).
// SQLite and PostgreSQL share the queries; only placeholders differ.
type sqlDirectory struct {
	db       *sql.DB
	log      logx.Logger
	pageSize int

	countQ  string
	pageQ   string
	maxQ    string
	insertQ string
}

func openSQLite(cfg Config, log logx.Logger) (Directory, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")

	d := newSQLDirectory(db, log, cfg.pageSize(), func(int) string { return "?" })
	if err := d.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func openPostgres(cfg Config, log logx.Logger) (Directory, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.timeout())
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return newSQLDirectory(db, log, cfg.pageSize(), func(i int) string { return "$" + strconv.Itoa(i) }), nil
}

// newSQLDirectory builds the queries; ph renders the i-th (1-based) placeholder.
func newSQLDirectory(db *sql.DB, log logx.Logger, pageSize int, ph func(i int) string) *sqlDirectory {
	return &sqlDirectory{
		db:       db,
		log:      log,
		pageSize: pageSize,
		countQ:   "SELECT COUNT(*) FROM directory_members WHERE list_key = " + ph(1),
		pageQ: "SELECT user_id FROM directory_members WHERE list_key = " + ph(1) +
			" ORDER BY position, user_id LIMIT " + ph(2) + " OFFSET " + ph(3),
		maxQ: "SELECT COALESCE(MAX(position), 0) FROM directory_members WHERE list_key = " + ph(1),
		insertQ: "INSERT INTO directory_members(list_key, user_id, position) VALUES(" +
			ph(1) + ", " + ph(2) + ", " + ph(3) + ") ON CONFLICT(list_key, user_id) DO NOTHING",
	}
}

func (d *sqlDirectory) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, string(b))
	return err
}

func (d *sqlDirectory) FetchPage(ctx context.Context, key string, page int) (Page, error) {
	if page < 1 {
		page = 1
	}
	var total int
	if err := d.db.QueryRowContext(ctx, d.countQ, key).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count directory members: %w", err)
	}
	rows, err := d.db.QueryContext(ctx, d.pageQ, key, d.pageSize, (page-1)*d.pageSize)
	if err != nil {
		return Page{}, fmt.Errorf("query directory page: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, d.pageSize)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return Page{}, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}
	return Page{IDs: ids, TotalUsers: total, TotalPages: pages(total, d.pageSize)}, nil
}

// Add inserts members of a list in order. Existing members keep their position.
func (d *sqlDirectory) Add(ctx context.Context, key string, ids ...string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var next int
	if err := tx.QueryRowContext(ctx, d.maxQ, key).Scan(&next); err != nil {
		return err
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		next++
		if _, err := tx.ExecContext(ctx, d.insertQ, key, id, next); err != nil {
			return fmt.Errorf("insert %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (d *sqlDirectory) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}
