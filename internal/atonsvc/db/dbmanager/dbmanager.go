// Package dbmanager opens the PostgreSQL pool used by every store and keeps
// the schema in place.
package dbmanager

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schemaSQL string

// Options configures the connection pool. Zero values take defaults.
type Options struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// StatementTimeout bounds every statement on every connection.
	StatementTimeout time.Duration
	ConnectAttempts  uint
}

// Pool is the process wide connection pool.
type Pool struct {
	db     *sql.DB
	opens  uint64
	closed atomic.Bool
}

// Open connects to PostgreSQL through the pgx stdlib driver, retrying the
// initial ping with backoff.
func Open(ctx context.Context, opts Options) (*Pool, error) {
	dsn, err := BuildDSN(opts.DSN, sessionParams(opts))
	if err != nil {
		return nil, fmt.Errorf("invalid database dsn: %w", err)
	}
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to open db")
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB.SetMaxOpenConns(withDefault(opts.MaxOpenConns, 50))
	sqlDB.SetMaxIdleConns(withDefault(opts.MaxIdleConns, 10))
	sqlDB.SetConnMaxLifetime(durationOr(opts.ConnMaxLifetime, 30*time.Minute))
	sqlDB.SetConnMaxIdleTime(durationOr(opts.ConnMaxIdleTime, 5*time.Minute))

	attempts := opts.ConnectAttempts
	if attempts == 0 {
		attempts = 5
	}
	err = retry.Do(func() error {
		return sqlDB.PingContext(ctx)
	},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(1*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Msg("database not reachable, retrying")
		}),
	)
	if err != nil {
		sqlDB.Close()
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: sqlDB}, nil
}

// FromDB wraps an existing handle, used by tests with sqlmock.
func FromDB(db *sql.DB) *Pool {
	return &Pool{db: db}
}

func (p *Pool) DB() *sql.DB {
	atomic.AddUint64(&p.opens, 1)
	return p.db
}

// Stats returns how many times the handle was requested and the number of
// open connections.
func (p *Pool) Stats() (requests uint64, open int) {
	return atomic.LoadUint64(&p.opens), p.db.Stats().OpenConnections
}

// EnsureSchema creates missing tables and indexes. Every statement is
// idempotent.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	for _, stmt := range splitStatements(schemaSQL) {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	log.Ctx(ctx).Info().Msg("database schema ready")
	return nil
}

func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.db.Close()
}

func sessionParams(opts Options) map[string]string {
	timeout := durationOr(opts.StatementTimeout, 5*time.Second)
	ms := fmt.Sprintf("%d", timeout.Milliseconds())
	return map[string]string{
		"statement_timeout":                   ms,
		"lock_timeout":                        ms,
		"idle_in_transaction_session_timeout": ms,
	}
}

// BuildDSN turns a postgres URL or key/value DSN into key/value form and
// appends the session parameters, which pgx forwards as runtime params.
func BuildDSN(dsn string, params map[string]string) (string, error) {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		kv, err := pq.ParseURL(dsn)
		if err != nil {
			return "", err
		}
		dsn = kv
	}
	if dsn == "" {
		return "", fmt.Errorf("empty dsn")
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(dsn)
	for _, k := range keys {
		if strings.Contains(dsn, k+"=") {
			continue
		}
		b.WriteString(" ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(quoteValue(params[k]))
	}
	return b.String(), nil
}

func quoteValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func splitStatements(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func withDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func durationOr(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}
