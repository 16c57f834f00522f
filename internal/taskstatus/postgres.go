package taskstatus

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// PostgresProvider reads task status from the job registry table.
type PostgresProvider struct {
	db    *sql.DB
	query string
}

func NewPostgresProvider(ctx context.Context, dsn, table string) (*PostgresProvider, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("open task registry db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping task registry db: %w", err)
	}
	p, err := NewPostgresProviderFromDB(db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresProviderFromDB uses an existing handle. table defaults to
// "tasks" and must have id and status columns.
func NewPostgresProviderFromDB(db *sql.DB, table string) (*PostgresProvider, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		table = "tasks"
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid task table name %q", table)
	}
	return &PostgresProvider{
		db:    db,
		query: fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, table),
	}, nil
}

func (p *PostgresProvider) Status(ctx context.Context, taskID string) (Status, bool, error) {
	var raw sql.NullString
	err := p.db.QueryRowContext(ctx, p.query, strings.TrimSpace(taskID)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query task status: %w", err)
	}
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return "", false, nil
	}
	return Normalize(raw.String), true, nil
}

func (p *PostgresProvider) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}
