// Package recorder persists published plans to SQLite so a drive can be
// inspected and plotted after the fact.
package recorder

import (
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/lateral.plan/internal/config"
	"github.com/banshee-data/lateral.plan/internal/monitoring"
	"github.com/banshee-data/lateral.plan/internal/planner"
	"github.com/banshee-data/lateral.plan/internal/publish"
	"github.com/google/uuid"
	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

// Recorder is a SQLite store of runs, plans and optimizer diagnostics.
type Recorder struct {
	*sql.DB
	path string
}

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=MEMORY",
}

// Open opens or creates the database at path and applies the embedded
// migrations.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	r := &Recorder{DB: db, path: path}
	if err := r.MigrateUp(Migrations()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// Run is a recorded replay or live session.
type Run struct {
	ID        string
	Source    string
	StartedAt time.Time
	Tuning    config.Snapshot
}

// StartRun registers a new run and returns its ID.
func (r *Recorder) StartRun(source string, tuning config.Snapshot) (string, error) {
	id := uuid.NewString()
	b, err := json.Marshal(tuning)
	if err != nil {
		return "", err
	}
	if _, err := r.Exec(`INSERT INTO runs (run_id, source, started_at, tuning_json) VALUES (?, ?, ?, ?)`,
		id, source, time.Now().UnixNano(), string(b)); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// Runs lists runs, newest first.
func (r *Recorder) Runs() ([]Run, error) {
	rows, err := r.Query(`SELECT run_id, source, started_at, tuning_json FROM runs ORDER BY started_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run     Run
			started int64
			tuning  sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.Source, &started, &tuning); err != nil {
			return nil, err
		}
		run.StartedAt = time.Unix(0, started)
		if tuning.Valid {
			if err := json.Unmarshal([]byte(tuning.String), &run.Tuning); err != nil {
				return nil, fmt.Errorf("run %s: failed to decode tuning: %w", run.ID, err)
			}
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordPlan stores one lateralPlan message.
func (r *Recorder) RecordPlan(runID string, tick int64, monoNs int64, valid bool, out planner.Output) error {
	path, err := json.Marshal(out.DPathPoints)
	if err != nil {
		return err
	}
	_, err = r.Exec(
		`INSERT INTO lateral_plans (
			run_id, tick, log_mono_time, valid, angle_steers, rate_steers, angle_offset,
			mpc_solution_valid, desire, lane_change_state, lane_change_direction,
			lane_width, l_prob, r_prob, d_prob, steer_ratio, steer_rate_cost,
			steer_actuator_delay, d_path_points
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, tick, monoNs, valid, out.AngleSteersDeg, out.RateSteersDeg, out.AngleOffsetDeg,
		out.MPCSolutionValid, out.Desire.String(), out.LaneChangeState.String(), out.LaneChangeDirection.String(),
		out.LaneWidth, out.LProb, out.RProb, out.DProb, out.SteerRatio, out.SteerRateCost,
		out.SteerActuatorDelay, string(path),
	)
	if err != nil {
		return fmt.Errorf("failed to insert plan %d: %w", tick, err)
	}
	return nil
}

// RecordLiveMpc stores one liveMpc message.
func (r *Recorder) RecordLiveMpc(runID string, tick int64, monoNs int64, m publish.LiveMpc) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if _, err := r.Exec(
		`INSERT INTO mpc_diagnostics (run_id, tick, log_mono_time, cost, solution_json) VALUES (?, ?, ?, ?, ?)`,
		runID, tick, monoNs, m.Cost, string(b),
	); err != nil {
		return fmt.Errorf("failed to insert mpc diagnostics %d: %w", tick, err)
	}
	return nil
}

// PlanRow is a stored plan.
type PlanRow struct {
	Tick        int64
	LogMonoTime int64
	Valid       bool
	Output      planner.Output
}

// Plans returns the plans of a run in tick order.
func (r *Recorder) Plans(runID string) ([]PlanRow, error) {
	rows, err := r.Query(
		`SELECT tick, log_mono_time, valid, angle_steers, rate_steers, angle_offset,
			mpc_solution_valid, desire, lane_change_state, lane_change_direction,
			lane_width, l_prob, r_prob, d_prob, steer_ratio, steer_rate_cost,
			steer_actuator_delay, d_path_points
		FROM lateral_plans WHERE run_id = ? ORDER BY tick`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []PlanRow
	for rows.Next() {
		var (
			row                      PlanRow
			desire, state, direction string
			path                     string
		)
		o := &row.Output
		if err := rows.Scan(
			&row.Tick, &row.LogMonoTime, &row.Valid, &o.AngleSteersDeg, &o.RateSteersDeg, &o.AngleOffsetDeg,
			&o.MPCSolutionValid, &desire, &state, &direction,
			&o.LaneWidth, &o.LProb, &o.RProb, &o.DProb, &o.SteerRatio, &o.SteerRateCost,
			&o.SteerActuatorDelay, &path,
		); err != nil {
			return nil, err
		}
		if err := o.Desire.UnmarshalText([]byte(desire)); err != nil {
			return nil, err
		}
		if err := o.LaneChangeState.UnmarshalText([]byte(state)); err != nil {
			return nil, err
		}
		if err := o.LaneChangeDirection.UnmarshalText([]byte(direction)); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(path), &o.DPathPoints); err != nil {
			return nil, fmt.Errorf("tick %d: failed to decode path: %w", row.Tick, err)
		}
		plans = append(plans, row)
	}
	return plans, rows.Err()
}

// LiveMpc returns the optimizer diagnostics of a run in tick order.
func (r *Recorder) LiveMpc(runID string) ([]publish.LiveMpc, error) {
	rows, err := r.Query(`SELECT solution_json FROM mpc_diagnostics WHERE run_id = ? ORDER BY tick`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []publish.LiveMpc
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		var m publish.LiveMpc
		if err := json.Unmarshal([]byte(b), &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Consume records messages from ch until it closes or ctx is done. Ticks
// are numbered by lateralPlan message; a liveMpc message belongs to the
// plan published just before it. Write failures are logged and skipped.
func (r *Recorder) Consume(ctx context.Context, runID string, ch <-chan publish.Message) error {
	var tick int64 = -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var err error
			switch msg.Topic {
			case publish.TopicLateralPlan:
				tick++
				if msg.LateralPlan != nil {
					err = r.RecordPlan(runID, tick, msg.LogMonoTime, msg.Valid, *msg.LateralPlan)
				}
			case publish.TopicLiveMpc:
				if msg.LiveMpc != nil && tick >= 0 {
					err = r.RecordLiveMpc(runID, tick, msg.LogMonoTime, *msg.LiveMpc)
				}
			}
			if err != nil {
				monitoring.Opsf("recorder: %v", err)
			}
		}
	}
}

// AttachAdminRoutes mounts a tailsql console and a backup download under
// /debug/.
func (r *Recorder) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(r.path), r.DB, &tailsql.DBOptions{
		Label: "Lateral plan recordings",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the recordings now", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("lateral-backup-%d.db", time.Now().UnixNano()))
		if _, err := r.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				monitoring.Opsf("recorder: failed to remove backup file: %v", err)
			}
		}()

		f, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer f.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
		w.Header().Set("Content-Type", "application/gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, f); err != nil {
			monitoring.Opsf("recorder: backup stream failed: %v", err)
		}
	}))
	return nil
}
