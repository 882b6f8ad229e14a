package analytics

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrKeyNotFound is returned when revoking an unknown API key.
var ErrKeyNotFound = errors.New("analytics: api key not found")

// Store provides database operations for analytics.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// NewStore opens (or creates) the analytics database at dbPath.
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create analytics dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(time.Hour)
		if _, err := db.Exec(`
			PRAGMA journal_mode=WAL;
			PRAGMA busy_timeout=5000;
			PRAGMA synchronous=NORMAL;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure analytics db: %w", err)
		}
	}

	s := &Store{db: db, log: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Timestamps are stored as unix milliseconds so range filters compare numerically.
func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS visits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			visitor_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			ip_hash TEXT NOT NULL,
			browser TEXT NOT NULL,
			os TEXT NOT NULL,
			device TEXT NOT NULL,
			path TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			document_url TEXT NOT NULL DEFAULT '',
			referrer TEXT NOT NULL DEFAULT '',
			screen_size TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			duration_sec INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS bot_visits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			bot_name TEXT NOT NULL,
			ip_hash TEXT NOT NULL,
			user_agent TEXT NOT NULL,
			path TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			prefix TEXT NOT NULL,
			key_hash TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL,
			revoked INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_visits_timestamp ON visits(timestamp);
		CREATE INDEX IF NOT EXISTS idx_visits_document_url ON visits(document_url);
		CREATE INDEX IF NOT EXISTS idx_visits_visitor_path ON visits(visitor_id, path);
		CREATE INDEX IF NOT EXISTS idx_bot_visits_timestamp ON bot_visits(timestamp);

		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

// currentSchemaVersion is the latest schema version. Increment when adding migrations.
const currentSchemaVersion = 1

// migrate records the schema version; future migrations branch on it.
func (s *Store) migrate() error {
	verStr, err := s.GetSetting("schema_version")
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	version := 0
	if verStr != "" {
		if version, err = strconv.Atoi(verStr); err != nil {
			return fmt.Errorf("parse schema version %q: %w", verStr, err)
		}
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, currentSchemaVersion)
	}
	return s.SetSetting("schema_version", strconv.Itoa(currentSchemaVersion))
}

// GetSetting returns a setting value, or "" if it is not set.
func (s *Store) GetSetting(key string) (string, error) {
	var val string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return val, err
}

// SetSetting upserts a setting value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// SaveVisit stores a new visit.
func (s *Store) SaveVisit(ctx context.Context, v *Visit) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO visits
		(visitor_id, session_id, ip_hash, browser, os, device, path, title, document_url, referrer, screen_size, timestamp, duration_sec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.VisitorID, v.SessionID, v.IPHash, v.Browser, v.OS, v.Device, v.Path, v.Title, v.DocumentURL,
		v.Referrer, v.ScreenSize, v.Timestamp.UnixMilli(), v.DurationSec)
	if err != nil {
		return fmt.Errorf("insert visit: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		v.ID = id
	}
	return nil
}

// UpdateVisitDuration sets the duration of the latest visit for visitor+path.
func (s *Store) UpdateVisitDuration(ctx context.Context, visitorID, path string, durationSec int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE visits SET duration_sec = ?
		WHERE id = (SELECT id FROM visits WHERE visitor_id = ? AND path = ? ORDER BY timestamp DESC, id DESC LIMIT 1)`,
		durationSec, visitorID, path)
	return err
}

// SaveBotVisit stores a crawler request.
func (s *Store) SaveBotVisit(ctx context.Context, bv *BotVisit) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO bot_visits (bot_name, ip_hash, user_agent, path, timestamp)
		VALUES (?, ?, ?, ?, ?)`, bv.BotName, bv.IPHash, bv.UserAgent, bv.Path, bv.Timestamp.UnixMilli())
	return err
}

// CountVisits returns the number of visits in [from, to].
func (s *Store) CountVisits(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM visits WHERE timestamp >= ? AND timestamp <= ?`,
		from.UnixMilli(), to.UnixMilli()).Scan(&n)
	return n, err
}

// CombinedData groups visits by q.Dimensions and aggregates q.Metrics.
// Dimension and metric names must already be validated with IsDimension
// and IsMetric; they select columns from fixed maps, never from input text.
func (s *Store) CombinedData(ctx context.Context, q CombinedQuery) (*CombinedResult, error) {
	if len(q.Dimensions) == 0 || len(q.Metrics) == 0 {
		return nil, fmt.Errorf("combined data: dimensions and metrics are required")
	}

	groupCols := make([]string, len(q.Dimensions))
	selects := make([]string, 0, len(q.Dimensions)+len(q.Metrics))
	for i, d := range q.Dimensions {
		col, ok := dimensionColumns[d]
		if !ok {
			return nil, fmt.Errorf("combined data: unknown dimension %q", d)
		}
		groupCols[i] = col
		selects = append(selects, col)
	}
	sortExpr := ""
	for i, m := range q.Metrics {
		expr, ok := metricExprs[m]
		if !ok {
			return nil, fmt.Errorf("combined data: unknown metric %q", m)
		}
		alias := "m" + strconv.Itoa(i)
		selects = append(selects, expr+" AS "+alias)
		if m == q.SortBy {
			sortExpr = alias
		}
	}
	if sortExpr == "" {
		sortExpr = "m0"
	}
	dir := "DESC"
	if q.Ascending {
		dir = "ASC"
	}

	where := "timestamp >= ? AND timestamp <= ?"
	args := []any{q.From.UnixMilli(), q.To.UnixMilli()}
	if q.NonEmptyURL {
		where += " AND document_url != ''"
	}
	group := strings.Join(groupCols, ", ")

	var total int
	countSQL := "SELECT COUNT(*) FROM (SELECT 1 FROM visits WHERE " + where + " GROUP BY " + group + ")"
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("combined data count: %w", err)
	}

	page, perPage := q.Page, q.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 10
	}
	query := "SELECT " + strings.Join(selects, ", ") +
		" FROM visits WHERE " + where +
		" GROUP BY " + group +
		" ORDER BY " + sortExpr + " " + dir + ", " + group +
		" LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, query, append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return nil, fmt.Errorf("combined data query: %w", err)
	}
	defer rows.Close()

	out := &CombinedResult{Combinations: []map[string]any{}, Total: total}
	for rows.Next() {
		dims := make([]sql.NullString, len(q.Dimensions))
		mets := make([]float64, len(q.Metrics))
		dest := make([]any, 0, len(dims)+len(mets))
		for i := range dims {
			dest = append(dest, &dims[i])
		}
		for i := range mets {
			dest = append(dest, &mets[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("combined data scan: %w", err)
		}
		row := make(map[string]any, len(dest))
		for i, d := range q.Dimensions {
			row[d] = dims[i].String
		}
		for i, m := range q.Metrics {
			row[m] = mets[i]
		}
		out.Combinations = append(out.Combinations, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("combined data rows: %w", err)
	}
	return out, nil
}

// APIKey is a stored analytics API key. The plaintext key is never stored.
type APIKey struct {
	ID        string
	Label     string
	Prefix    string
	CreatedAt time.Time
	Revoked   bool
}

func hashKey(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey mints a new key and returns its plaintext once.
func (s *Store) CreateAPIKey(ctx context.Context, label string) (string, APIKey, error) {
	plain := "tv_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	key := APIKey{
		ID:        uuid.NewString(),
		Label:     strings.TrimSpace(label),
		Prefix:    plain[:9],
		CreatedAt: time.Now().UTC(),
	}
	if key.Label == "" {
		key.Label = "unnamed"
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO api_keys (id, label, prefix, key_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		key.ID, key.Label, key.Prefix, hashKey(plain), key.CreatedAt.UnixMilli())
	if err != nil {
		return "", APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return plain, key, nil
}

// ListAPIKeys returns all keys, newest first.
func (s *Store) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, label, prefix, created_at, revoked FROM api_keys ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var created int64
		var revoked int
		if err := rows.Scan(&k.ID, &k.Label, &k.Prefix, &created, &revoked); err != nil {
			return nil, err
		}
		k.CreatedAt = time.UnixMilli(created).UTC()
		k.Revoked = revoked == 1
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey disables a key by id.
func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// RevokeAPIKeysByLabel disables every active key with the given label and
// returns how many were revoked.
func (s *Store) RevokeAPIKeysByLabel(ctx context.Context, label string) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked = 1 WHERE label = ? AND revoked = 0`, label)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ValidAPIKey reports whether plain is an active key.
func (s *Store) ValidAPIKey(ctx context.Context, plain string) (bool, error) {
	if plain == "" {
		return false, nil
	}
	var revoked int
	err := s.db.QueryRowContext(ctx, `SELECT revoked FROM api_keys WHERE key_hash = ?`, hashKey(plain)).Scan(&revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return revoked == 0, nil
}

// CleanupOldVisits removes visits and bot visits older than the retention period.
func (s *Store) CleanupOldVisits(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).UnixMilli()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM visits WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("cleanup visits: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM bot_visits WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("cleanup bot_visits: %w", err)
	}
	return nil
}

// StartCleanupScheduler runs periodic cleanup of old data. Returns a stop function.
func (s *Store) StartCleanupScheduler(retentionDays int, interval time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := s.CleanupOldVisits(context.Background(), retentionDays); err != nil {
					s.log.Warn("analytics cleanup failed", zap.Error(err))
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}
