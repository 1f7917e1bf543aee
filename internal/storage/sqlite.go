//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "framesched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
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
	// One writer keeps SQLite out of SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendSample(ctx context.Context, smp Sample) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if smp.At.IsZero() {
		smp.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO samples(at, state, workers, submitted, executed, pending, idle_yields, top_scope, top_mean_ns)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		smp.At.UTC().Format(time.RFC3339Nano), smp.State, smp.Workers, int64(smp.Submitted), int64(smp.Executed),
		smp.Pending, int64(smp.IdleYields), nullStr(smp.TopScope), smp.TopMean.Nanoseconds(),
	)
	return err
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(started_at, ended_at, mode, workers, capacity, tasks, frames, frame_avg_ns, frame_p99_ns, frame_max_ns, files, bytes, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.EndedAt.UTC().Format(time.RFC3339Nano), r.Mode,
		r.Workers, r.Capacity, int64(r.Tasks), r.Frames,
		r.FrameAvg.Nanoseconds(), r.FrameP99.Nanoseconds(), r.FrameMax.Nanoseconds(),
		r.Files, r.Bytes, nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT started_at, ended_at, mode, workers, capacity, tasks, frames, frame_avg_ns, frame_p99_ns, frame_max_ns, files, bytes, COALESCE(err, '')
		 FROM runs ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r                RunRecord
			started, ended   string
			tasks            int64
			avg, p99, maxDur int64
		)
		if err := rows.Scan(&started, &ended, &r.Mode, &r.Workers, &r.Capacity, &tasks, &r.Frames,
			&avg, &p99, &maxDur, &r.Files, &r.Bytes, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.EndedAt, _ = time.Parse(time.RFC3339Nano, ended)
		r.Tasks = uint64(tasks)
		r.FrameAvg = time.Duration(avg)
		r.FrameP99 = time.Duration(p99)
		r.FrameMax = time.Duration(maxDur)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
