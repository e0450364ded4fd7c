// Package store records annotations to a SQLite database, one row per
// annotated detection.
package store

import (
	"context"
	"database/sql"
	"image"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"colortrack/colors"
	"colortrack/pipeline"
)

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		source TEXT,
		started_at DOUBLE
	);
	CREATE TABLE IF NOT EXISTS annotations (
		run_id TEXT NOT NULL,
		frame_seq INTEGER NOT NULL,
		ts DOUBLE NOT NULL,
		class_id INTEGER,
		class_name TEXT,
		confidence DOUBLE,
		x1 INTEGER, y1 INTEGER, x2 INTEGER, y2 INTEGER,
		color_r INTEGER, color_g INTEGER, color_b INTEGER,
		color_name TEXT,
		speed DOUBLE,
		area INTEGER,
		FOREIGN KEY(run_id) REFERENCES runs(run_id)
	);
	CREATE INDEX IF NOT EXISTS idx_annotations_run ON annotations (run_id, frame_seq);
`

const insertAnnotation = `INSERT INTO annotations (
	run_id, frame_seq, ts, class_id, class_name, confidence,
	x1, y1, x2, y2, color_r, color_g, color_b, color_name, speed, area
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// DB is an annotation log scoped to one run.
type DB struct {
	*sql.DB
	logger *zap.SugaredLogger
	runID  string
}

// Record is one stored annotation.
type Record struct {
	RunID      string
	FrameSeq   int64
	Time       time.Time
	ClassID    int
	ClassName  string
	Confidence float64
	Box        image.Rectangle
	Color      colors.ColorSample
	ColorName  string
	Speed      float64
	Area       int
}

// Open opens or creates the database at path and registers a run. An empty
// runID gets a fresh random one.
func Open(logger *zap.SugaredLogger, path, runID, source string) (*DB, error) {
	if runID == "" {
		runID = uuid.NewString()
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	// a single connection keeps the in-memory database shared
	sqlDB.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, errors.Wrapf(err, "applying %q", pragma)
		}
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	if _, err := sqlDB.Exec(
		"INSERT INTO runs (run_id, source, started_at) VALUES (?, ?, ?)",
		runID, source, unixSeconds(time.Now()),
	); err != nil {
		sqlDB.Close()
		return nil, errors.Wrapf(err, "registering run %s", runID)
	}

	logger = logger.Named("store")
	logger.Infow("recording annotations", "path", path, "run_id", runID)
	return &DB{DB: sqlDB, logger: logger, runID: runID}, nil
}

// RunID identifies the rows written by this DB.
func (db *DB) RunID() string {
	return db.runID
}

// Observe writes every annotation of a frame in one transaction.
func (db *DB) Observe(ctx context.Context, seq int64, frame pipeline.AnnotatedFrame) error {
	if len(frame.Annotations) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertAnnotation)
	if err != nil {
		return errors.Wrap(err, "preparing insert")
	}
	defer stmt.Close()

	ts := unixSeconds(frame.Time)
	for _, a := range frame.Annotations {
		d := a.Detection
		if _, err := stmt.ExecContext(ctx,
			db.runID, seq, ts, d.ClassID, d.ClassName, d.Confidence,
			d.Box.Min.X, d.Box.Min.Y, d.Box.Max.X, d.Box.Max.Y,
			a.Color.R, a.Color.G, a.Color.B, a.ColorName, a.Speed, a.Area,
		); err != nil {
			return errors.Wrapf(err, "inserting annotation for frame %d", seq)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrapf(err, "committing frame %d", seq)
	}
	db.logger.Debugw("recorded frame", "frame", seq, "annotations", len(frame.Annotations))
	return nil
}

// CountByClass returns the number of annotations per class for this run.
func (db *DB) CountByClass(ctx context.Context) (map[string]int, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT class_name, COUNT(*) FROM annotations WHERE run_id = ? GROUP BY class_name",
		db.runID)
	if err != nil {
		return nil, errors.Wrap(err, "counting annotations")
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		counts[name] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

// Recent returns up to n annotations of this run, newest frame first and in
// detection order within a frame.
func (db *DB) Recent(ctx context.Context, n int) ([]Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, frame_seq, ts, class_id, class_name, confidence,
			x1, y1, x2, y2, color_r, color_g, color_b, color_name, speed, area
		FROM annotations WHERE run_id = ?
		ORDER BY frame_seq DESC, rowid ASC LIMIT ?`,
		db.runID, n)
	if err != nil {
		return nil, errors.Wrap(err, "querying annotations")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r              Record
			ts             float64
			x1, y1, x2, y2 int
			cr, cg, cb     int
		)
		if err := rows.Scan(&r.RunID, &r.FrameSeq, &ts, &r.ClassID, &r.ClassName, &r.Confidence,
			&x1, &y1, &x2, &y2, &cr, &cg, &cb, &r.ColorName, &r.Speed, &r.Area); err != nil {
			return nil, err
		}
		r.Time = fromUnixSeconds(ts)
		r.Box = image.Rectangle{Min: image.Pt(x1, y1), Max: image.Pt(x2, y2)}
		r.Color = colors.ColorSample{R: uint8(cr), G: uint8(cg), B: uint8(cb)}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Close logs the run summary and closes the database.
func (db *DB) Close() error {
	if counts, err := db.CountByClass(context.Background()); err == nil {
		db.logger.Infow("run summary", "run_id", db.runID, "annotations_by_class", counts)
	}
	return db.DB.Close()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3)
}
