package storage

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store wraps a SQLite database holding items, analyses, and source health.
// It is the explicit persistence handle passed to every cycle component.
type Store struct {
	db    *sql.DB
	clock Clock
}

// Open opens (or creates) signex.db in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	return OpenWithClock(dataDir, realClock{})
}

// OpenWithClock is Open with a custom clock for fetched_at and health timestamps.
func OpenWithClock(dataDir string, clock Clock) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "signex.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if clock == nil {
		clock = realClock{}
	}
	s := &Store{db: db, clock: clock}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for tests and diagnostics.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func nullableTime(t *time.Time) sql.NullString {
	if t == nil || t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullableTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Items ---

// SaveItems inserts items in one transaction, skipping any whose
// (source, source_id) already exists. It returns the number of new rows.
// fetched_at is always stamped from the store clock.
func (s *Store) SaveItems(items []Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning item transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO items (source, source_id, title, url, content, metadata, fetched_at, published_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("preparing item insert: %w", err)
	}
	defer stmt.Close()

	fetchedAt := formatTime(s.clock.Now())
	inserted := 0
	for _, it := range items {
		meta := "{}"
		if len(it.Metadata) > 0 {
			b, err := json.Marshal(it.Metadata)
			if err != nil {
				return 0, fmt.Errorf("marshalling metadata for %s/%s: %w", it.Source, it.SourceID, err)
			}
			meta = string(b)
		}

		res, err := stmt.Exec(it.Source, it.SourceID, it.Title, it.URL, it.Content, meta, fetchedAt, nullableTime(it.PublishedAt))
		if err != nil {
			return 0, fmt.Errorf("inserting item %s/%s: %w", it.Source, it.SourceID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing items: %w", err)
	}
	return inserted, nil
}

const itemColumns = `i.id, i.source, i.source_id, i.title, i.url, i.content, i.metadata, i.fetched_at, i.published_at`

// GetItems returns items matching the filter, newest fetch first.
func (s *Store) GetItems(f ItemFilter) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items i WHERE 1=1`
	var args []any

	if f.Source != "" {
		query += " AND i.source = ?"
		args = append(args, f.Source)
	}
	if !f.Since.IsZero() {
		query += " AND i.fetched_at >= ?"
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		query += " AND i.fetched_at <= ?"
		args = append(args, formatTime(f.Until))
	}
	query += " ORDER BY i.fetched_at DESC, i.id DESC"

	return s.queryItems(query, args...)
}

// GetUnanalyzedItems returns items not linked to any analysis of watchName.
// Links made by other watches do not count. An empty source matches all.
func (s *Store) GetUnanalyzedItems(watchName, source string) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items i
		WHERE i.id NOT IN (
			SELECT ai.item_id FROM analysis_items ai
			JOIN analyses a ON ai.analysis_id = a.id
			WHERE a.watch_name = ?
		)`
	args := []any{watchName}

	if source != "" {
		query += " AND i.source = ?"
		args = append(args, source)
	}
	query += " ORDER BY i.fetched_at DESC, i.id DESC"

	return s.queryItems(query, args...)
}

func (s *Store) queryItems(query string, args ...any) ([]Item, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Item
	for rows.Next() {
		var it Item
		var meta, fetchedAt string
		var publishedAt sql.NullString
		if err := rows.Scan(&it.ID, &it.Source, &it.SourceID, &it.Title, &it.URL, &it.Content, &meta, &fetchedAt, &publishedAt); err != nil {
			return nil, err
		}
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &it.Metadata); err != nil {
				return nil, fmt.Errorf("parsing metadata for item %d: %w", it.ID, err)
			}
		}
		if it.FetchedAt, err = time.Parse(time.RFC3339, fetchedAt); err != nil {
			return nil, fmt.Errorf("parsing fetched_at for item %d: %w", it.ID, err)
		}
		if it.PublishedAt, err = parseNullableTime(publishedAt); err != nil {
			return nil, fmt.Errorf("parsing published_at for item %d: %w", it.ID, err)
		}
		results = append(results, it)
	}
	return results, rows.Err()
}

// --- Analyses ---

// SaveAnalysis records an analysis and links it to itemIDs. Duplicate ids
// are linked once. Returns the new analysis id.
func (s *Store) SaveAnalysis(a Analysis, itemIDs []int64) (int64, error) {
	runAt := a.RunAt
	if runAt.IsZero() {
		runAt = s.clock.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning analysis transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO analyses (run_id, watch_name, run_at, item_count, lens, report_path)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.RunID, a.WatchName, formatTime(runAt), a.ItemCount, a.Lens, a.ReportPath,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting analysis: %w", err)
	}
	analysisID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, id := range itemIDs {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO analysis_items (analysis_id, item_id) VALUES (?, ?)`, analysisID, id); err != nil {
			return 0, fmt.Errorf("linking item %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing analysis: %w", err)
	}
	return analysisID, nil
}

// GetAnalysis returns one analysis by id.
func (s *Store) GetAnalysis(id int64) (Analysis, error) {
	var a Analysis
	var runAt string
	err := s.db.QueryRow(`
		SELECT id, run_id, watch_name, run_at, item_count, lens, report_path
		FROM analyses WHERE id = ?`, id,
	).Scan(&a.ID, &a.RunID, &a.WatchName, &runAt, &a.ItemCount, &a.Lens, &a.ReportPath)
	if err == sql.ErrNoRows {
		return Analysis{}, ErrNotFound
	}
	if err != nil {
		return Analysis{}, err
	}
	if a.RunAt, err = time.Parse(time.RFC3339, runAt); err != nil {
		return Analysis{}, fmt.Errorf("parsing run_at: %w", err)
	}
	return a, nil
}

// AnalysisItemIDs returns the item ids linked to an analysis.
func (s *Store) AnalysisItemIDs(analysisID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT item_id FROM analysis_items WHERE analysis_id = ? ORDER BY item_id`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RunStats aggregates analyses by watch and by date.
func (s *Store) RunStats() (RunStats, error) {
	stats := RunStats{
		ByWatch: make(map[string]*WatchStats),
		ByDate:  make(map[string]*DateStats),
	}

	rows, err := s.db.Query(`SELECT watch_name, run_at, item_count, lens FROM analyses ORDER BY run_at DESC, id DESC`)
	if err != nil {
		return RunStats{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var watchName, runAt, lens string
		var itemCount int
		if err := rows.Scan(&watchName, &runAt, &itemCount, &lens); err != nil {
			return RunStats{}, err
		}

		ws, ok := stats.ByWatch[watchName]
		if !ok {
			ws = &WatchStats{LastRun: runAt, Lenses: []string{}}
			stats.ByWatch[watchName] = ws
		}
		ws.Runs++
		ws.TotalItems += itemCount
		if lens != "" && !containsString(ws.Lenses, lens) {
			ws.Lenses = append(ws.Lenses, lens)
		}

		date := runAt
		if i := strings.IndexByte(runAt, 'T'); i >= 0 {
			date = runAt[:i]
		}
		ds, ok := stats.ByDate[date]
		if !ok {
			ds = &DateStats{}
			stats.ByDate[date] = ds
		}
		ds.Runs++
		ds.TotalItems += itemCount

		stats.Totals.Runs++
		stats.Totals.TotalItems += itemCount
	}
	return stats, rows.Err()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// --- Source health ---

// UpdateSourceHealth records one call outcome for source. total_calls always
// grows by one; a success resets consecutive_failures.
func (s *Store) UpdateSourceHealth(source string, success bool) error {
	now := formatTime(s.clock.Now())

	var lastSuccess, lastFailure sql.NullString
	failed := 0
	if success {
		lastSuccess = sql.NullString{String: now, Valid: true}
	} else {
		lastFailure = sql.NullString{String: now, Valid: true}
		failed = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO source_health (source, last_success, last_failure, consecutive_failures, total_calls, total_failures)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(source) DO UPDATE SET
			last_success = COALESCE(excluded.last_success, source_health.last_success),
			last_failure = COALESCE(excluded.last_failure, source_health.last_failure),
			consecutive_failures = CASE WHEN excluded.total_failures = 0 THEN 0 ELSE source_health.consecutive_failures + 1 END,
			total_calls = source_health.total_calls + 1,
			total_failures = source_health.total_failures + excluded.total_failures`,
		source, lastSuccess, lastFailure, failed, failed,
	)
	if err != nil {
		return fmt.Errorf("updating health for %s: %w", source, err)
	}
	return nil
}

// SourceHealth returns every tracked source ordered by name.
func (s *Store) SourceHealth() ([]SourceHealth, error) {
	rows, err := s.db.Query(`
		SELECT source, last_success, last_failure, consecutive_failures, total_calls, total_failures
		FROM source_health ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SourceHealth
	for rows.Next() {
		var h SourceHealth
		var lastSuccess, lastFailure sql.NullString
		if err := rows.Scan(&h.Source, &lastSuccess, &lastFailure, &h.ConsecutiveFailures, &h.TotalCalls, &h.TotalFailures); err != nil {
			return nil, err
		}
		if h.LastSuccess, err = parseNullableTime(lastSuccess); err != nil {
			return nil, fmt.Errorf("parsing last_success for %s: %w", h.Source, err)
		}
		if h.LastFailure, err = parseNullableTime(lastFailure); err != nil {
			return nil, fmt.Errorf("parsing last_failure for %s: %w", h.Source, err)
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// GetSourceHealth returns the row for one source.
func (s *Store) GetSourceHealth(source string) (SourceHealth, error) {
	all, err := s.SourceHealth()
	if err != nil {
		return SourceHealth{}, err
	}
	for _, h := range all {
		if h.Source == source {
			return h, nil
		}
	}
	return SourceHealth{}, ErrNotFound
}
