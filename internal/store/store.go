package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Run is one stored optimization result
type Run struct {
	ID        string                `json:"id"`
	Device    string                `json:"device"`
	Kind      string                `json:"kind"` // heating or peak
	CreatedAt time.Time             `json:"created_at"`
	Start     time.Time             `json:"start"`
	End       time.Time             `json:"end"`
	Params    engine.HeatingParams  `json:"params"`
	Schedule  []engine.ControlPoint `json:"schedule"`
	Summary   engine.Summary        `json:"summary"`
}

// Store handles persistent storage using SQLite
type Store struct {
	db *sql.DB
}

// NewStore creates a new store and initializes the database. The parent
// directory is created when missing; ":memory:" is accepted for tests.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping() error {
	return s.db.Ping()
}

// initialize creates the database schema
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS price_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source TEXT NOT NULL,
		start_ts INTEGER NOT NULL,
		end_ts INTEGER NOT NULL,
		points TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		UNIQUE(source, start_ts, end_ts)
	);

	CREATE TABLE IF NOT EXISTS forecast_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		start_ts INTEGER NOT NULL,
		end_ts INTEGER NOT NULL,
		slots TEXT NOT NULL,
		fetched_at INTEGER NOT NULL,
		UNIQUE(latitude, longitude, start_ts, end_ts)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		device TEXT NOT NULL,
		kind TEXT NOT NULL DEFAULT 'heating',
		created_at INTEGER NOT NULL,
		start_ts INTEGER NOT NULL,
		end_ts INTEGER NOT NULL,
		params TEXT NOT NULL,
		schedule TEXT NOT NULL,
		summary TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_device_created ON runs(device, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// CachePrices stores fetched prices for a source and window
func (s *Store) CachePrices(source string, start, end time.Time, points []engine.PricePoint) error {
	pointsJSON, err := json.Marshal(points)
	if err != nil {
		return fmt.Errorf("encoding prices: %w", err)
	}

	query := `INSERT OR REPLACE INTO price_cache (source, start_ts, end_ts, points, fetched_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, source, start.Unix(), end.Unix(), string(pointsJSON), time.Now().Unix())
	return err
}

// GetCachedPrices retrieves cached prices, ErrNotFound when the window was never cached
func (s *Store) GetCachedPrices(source string, start, end time.Time) ([]engine.PricePoint, error) {
	query := `SELECT points FROM price_cache WHERE source = ? AND start_ts = ? AND end_ts = ?`

	var pointsJSON string
	err := s.db.QueryRow(query, source, start.Unix(), end.Unix()).Scan(&pointsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var points []engine.PricePoint
	if err := json.Unmarshal([]byte(pointsJSON), &points); err != nil {
		return nil, fmt.Errorf("decoding cached prices: %w", err)
	}

	return points, nil
}

// CacheForecast stores fetched weather for a location and window
func (s *Store) CacheForecast(lat, lon float64, start, end time.Time, slots []engine.WeatherSlot) error {
	slotsJSON, err := json.Marshal(slots)
	if err != nil {
		return fmt.Errorf("encoding forecast: %w", err)
	}

	query := `INSERT OR REPLACE INTO forecast_cache (latitude, longitude, start_ts, end_ts, slots, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, lat, lon, start.Unix(), end.Unix(), string(slotsJSON), time.Now().Unix())
	return err
}

// GetCachedForecast retrieves a cached forecast fetched within maxAge.
// Older or missing entries return ErrNotFound.
func (s *Store) GetCachedForecast(lat, lon float64, start, end time.Time, maxAge time.Duration) ([]engine.WeatherSlot, error) {
	query := `SELECT slots FROM forecast_cache
		WHERE latitude = ? AND longitude = ? AND start_ts = ? AND end_ts = ? AND fetched_at >= ?`

	var slotsJSON string
	err := s.db.QueryRow(query, lat, lon, start.Unix(), end.Unix(), time.Now().Add(-maxAge).Unix()).Scan(&slotsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var slots []engine.WeatherSlot
	if err := json.Unmarshal([]byte(slotsJSON), &slots); err != nil {
		return nil, fmt.Errorf("decoding cached forecast: %w", err)
	}

	return slots, nil
}

// SaveRun saves or replaces an optimization run
func (s *Store) SaveRun(r *Run) error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.Kind == "" {
		r.Kind = "heating"
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	paramsJSON, err := json.Marshal(r.Params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}
	scheduleJSON, err := json.Marshal(r.Schedule)
	if err != nil {
		return fmt.Errorf("encoding schedule: %w", err)
	}
	summaryJSON, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}

	query := `INSERT OR REPLACE INTO runs
		(id, device, kind, created_at, start_ts, end_ts, params, schedule, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.Exec(query, r.ID, r.Device, r.Kind, r.CreatedAt.UnixNano(), r.Start.Unix(), r.End.Unix(),
		string(paramsJSON), string(scheduleJSON), string(summaryJSON))
	return err
}

const runColumns = `id, device, kind, created_at, start_ts, end_ts, params, schedule, summary`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var createdAt, start, end int64
	var paramsJSON, scheduleJSON, summaryJSON string

	if err := row.Scan(&r.ID, &r.Device, &r.Kind, &createdAt, &start, &end,
		&paramsJSON, &scheduleJSON, &summaryJSON); err != nil {
		return nil, err
	}

	r.CreatedAt = time.Unix(0, createdAt).UTC()
	r.Start = time.Unix(start, 0).UTC()
	r.End = time.Unix(end, 0).UTC()

	if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
		return nil, fmt.Errorf("decoding params of run %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(scheduleJSON), &r.Schedule); err != nil {
		return nil, fmt.Errorf("decoding schedule of run %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(summaryJSON), &r.Summary); err != nil {
		return nil, fmt.Errorf("decoding summary of run %s: %w", r.ID, err)
	}

	return &r, nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// LatestRun retrieves the most recent run for a device
func (s *Store) LatestRun(device string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE device = ?
		ORDER BY created_at DESC LIMIT 1`, device)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListRuns retrieves runs newest first. An empty device lists all devices.
func (s *Store) ListRuns(device string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	args := []interface{}{}
	if device != "" {
		query += ` WHERE device = ?`
		args = append(args, device)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// DeleteRun deletes a run by ID
func (s *Store) DeleteRun(id string) error {
	res, err := s.db.Exec(`DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
