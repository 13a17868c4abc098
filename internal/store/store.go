// Package store persists completed simulation runs in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
)

// ErrRunNotFound is returned when a run id has no stored row.
var ErrRunNotFound = errors.New("run not found")

// Run is one completed simulation as written to and read from the store.
type Run struct {
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Topology  string      `json:"topology"`
	Mode      string      `json:"mode"`
	Seed      int64       `json:"seed"`
	Config    sim.Config  `json:"config"`
	Summary   sim.Summary `json:"summary"`

	// Series is written by SaveRun and left nil by ListRuns; use
	// LoadSeries to fetch it.
	Series *sim.Metrics `json:"series,omitempty"`
}

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at path, creating parent
// directories as needed. ":memory:" opens a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// SQLite works best with a single writer; it also keeps :memory: on
	// one connection.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		topology TEXT NOT NULL,
		mode TEXT NOT NULL,
		seed INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		ticks INTEGER NOT NULL,
		sim_time REAL NOT NULL,
		injuries INTEGER NOT NULL,
		deaths INTEGER NOT NULL,
		evacuated INTEGER NOT NULL,
		overcrowding_events INTEGER NOT NULL,
		peak_mean_density REAL NOT NULL
	);

	CREATE TABLE IF NOT EXISTS samples (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		tick INTEGER NOT NULL,
		time REAL NOT NULL,
		injuries INTEGER NOT NULL,
		deaths INTEGER NOT NULL,
		overcrowding_events INTEGER NOT NULL,
		mean_density REAL NOT NULL,
		evacuated INTEGER NOT NULL,
		PRIMARY KEY (run_id, tick)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := db.conn.Exec(schema)
	return err
}

type runRow struct {
	ID                 string  `db:"id"`
	CreatedAt          int64   `db:"created_at"`
	Topology           string  `db:"topology"`
	Mode               string  `db:"mode"`
	Seed               int64   `db:"seed"`
	ConfigJSON         string  `db:"config_json"`
	Ticks              int     `db:"ticks"`
	SimTime            float64 `db:"sim_time"`
	Injuries           int     `db:"injuries"`
	Deaths             int     `db:"deaths"`
	Evacuated          int     `db:"evacuated"`
	OvercrowdingEvents int     `db:"overcrowding_events"`
	PeakMeanDensity    float64 `db:"peak_mean_density"`
}

type sampleRow struct {
	Tick               int     `db:"tick"`
	Time               float64 `db:"time"`
	Injuries           int     `db:"injuries"`
	Deaths             int     `db:"deaths"`
	OvercrowdingEvents int     `db:"overcrowding_events"`
	MeanDensity        float64 `db:"mean_density"`
	Evacuated          int     `db:"evacuated"`
}

func (r runRow) run() (Run, error) {
	var cfg sim.Config
	if err := json.Unmarshal([]byte(r.ConfigJSON), &cfg); err != nil {
		return Run{}, fmt.Errorf("decode config of run %s: %w", r.ID, err)
	}
	return Run{
		ID:        r.ID,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		Topology:  r.Topology,
		Mode:      r.Mode,
		Seed:      r.Seed,
		Config:    cfg,
		Summary: sim.Summary{
			Ticks:              r.Ticks,
			Time:               r.SimTime,
			Injuries:           r.Injuries,
			Deaths:             r.Deaths,
			Evacuated:          r.Evacuated,
			OvercrowdingEvents: r.OvercrowdingEvents,
			PeakMeanDensity:    r.PeakMeanDensity,
		},
	}, nil
}

// SaveRun writes a run and its metrics series in one transaction. An
// empty ID is replaced by a fresh UUID, a zero CreatedAt by the current
// time, and a zero Summary by one computed from Series. The stored
// record is returned.
func (db *DB) SaveRun(ctx context.Context, run Run) (Run, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Series == nil {
		run.Series = &sim.Metrics{}
	}
	if run.Summary == (sim.Summary{}) {
		run.Summary = run.Series.Summary()
	}
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return Run{}, fmt.Errorf("encode config: %w", err)
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return Run{}, err
	}
	defer tx.Rollback()

	s := run.Summary
	_, err = tx.NamedExecContext(ctx, `INSERT INTO runs
		(id, created_at, topology, mode, seed, config_json, ticks, sim_time,
		 injuries, deaths, evacuated, overcrowding_events, peak_mean_density)
		VALUES (:id, :created_at, :topology, :mode, :seed, :config_json, :ticks, :sim_time,
		 :injuries, :deaths, :evacuated, :overcrowding_events, :peak_mean_density)`,
		runRow{
			ID:                 run.ID,
			CreatedAt:          run.CreatedAt.UnixMilli(),
			Topology:           run.Topology,
			Mode:               run.Mode,
			Seed:               run.Seed,
			ConfigJSON:         string(cfgJSON),
			Ticks:              s.Ticks,
			SimTime:            s.Time,
			Injuries:           s.Injuries,
			Deaths:             s.Deaths,
			Evacuated:          s.Evacuated,
			OvercrowdingEvents: s.OvercrowdingEvents,
			PeakMeanDensity:    s.PeakMeanDensity,
		})
	if err != nil {
		return Run{}, fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	stmt, err := tx.PreparexContext(ctx, `INSERT INTO samples
		(run_id, tick, time, injuries, deaths, overcrowding_events, mean_density, evacuated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Run{}, err
	}
	defer stmt.Close()

	m := run.Series
	for i := 0; i < m.Len(); i++ {
		if _, err := stmt.ExecContext(ctx, run.ID, i, m.Time[i], m.Injuries[i], m.Deaths[i],
			m.OvercrowdingEvents[i], m.MeanDensity[i], m.Evacuated[i]); err != nil {
			return Run{}, fmt.Errorf("insert sample %d of run %s: %w", i, run.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Run{}, err
	}
	return run, nil
}

// GetRun returns the stored header of one run, without its series.
func (db *DB) GetRun(ctx context.Context, id string) (Run, error) {
	var row runRow
	err := db.conn.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, err
	}
	return row.run()
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []runRow
	if err := db.conn.SelectContext(ctx, &rows,
		`SELECT * FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit); err != nil {
		return nil, err
	}
	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		r, err := row.run()
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// LoadSeries reassembles the metrics series of a stored run.
func (db *DB) LoadSeries(ctx context.Context, id string) (*sim.Metrics, error) {
	if _, err := db.GetRun(ctx, id); err != nil {
		return nil, err
	}
	var rows []sampleRow
	if err := db.conn.SelectContext(ctx, &rows,
		`SELECT tick, time, injuries, deaths, overcrowding_events, mean_density, evacuated
		 FROM samples WHERE run_id = ? ORDER BY tick`, id); err != nil {
		return nil, err
	}
	m := &sim.Metrics{}
	for _, r := range rows {
		m.Time = append(m.Time, r.Time)
		m.Injuries = append(m.Injuries, r.Injuries)
		m.Deaths = append(m.Deaths, r.Deaths)
		m.OvercrowdingEvents = append(m.OvercrowdingEvents, r.OvercrowdingEvents)
		m.MeanDensity = append(m.MeanDensity, r.MeanDensity)
		m.Evacuated = append(m.Evacuated, r.Evacuated)
	}
	return m, nil
}
