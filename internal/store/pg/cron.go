package pg

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/itellico/joi-gateway/internal/store"
)

// PGCronStore implements store.CronStore. The exclusive claim is a single
// SQL UPDATE ... WHERE running_at IS NULL, per spec.md §9's guidance to
// drive recovery from the running_at column rather than an in-memory lock.
type PGCronStore struct {
	db *sql.DB
}

func NewPGCronStore(db *sql.DB) *PGCronStore { return &PGCronStore{db: db} }

func (s *PGCronStore) Create(ctx context.Context, job *store.CronJob) (*store.CronJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.Must(uuid.NewV7())
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_jobs (id, agent_id, name, enabled, schedule_kind, schedule_at, interval_ms,
		 cron_expr, timezone, session_target, payload_kind, payload_text, model, timeout_seconds,
		 next_run_at, delete_after_run)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		job.ID, job.AgentID, job.Name, job.Enabled, job.ScheduleKind, job.ScheduleAt, nullIfZero(job.IntervalMS),
		nilStr(job.CronExpr), nilStr(job.Timezone), job.SessionTarget, job.PayloadKind, job.PayloadText,
		nilStr(job.Model), nullIfZeroInt(job.TimeoutSeconds), job.NextRunAt, job.DeleteAfterRun)
	if err != nil {
		return nil, &store.StorageError{Op: "cron.create", Err: err}
	}
	return job, nil
}

func (s *PGCronStore) Update(ctx context.Context, job *store.CronJob) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET agent_id=$1, name=$2, enabled=$3, schedule_kind=$4, schedule_at=$5,
		 interval_ms=$6, cron_expr=$7, timezone=$8, session_target=$9, payload_kind=$10, payload_text=$11,
		 model=$12, timeout_seconds=$13, next_run_at=$14, delete_after_run=$15 WHERE id=$16`,
		job.AgentID, job.Name, job.Enabled, job.ScheduleKind, job.ScheduleAt, nullIfZero(job.IntervalMS),
		nilStr(job.CronExpr), nilStr(job.Timezone), job.SessionTarget, job.PayloadKind, job.PayloadText,
		nilStr(job.Model), nullIfZeroInt(job.TimeoutSeconds), job.NextRunAt, job.DeleteAfterRun, job.ID)
	if err != nil {
		return &store.StorageError{Op: "cron.update", Err: err}
	}
	return nil
}

func (s *PGCronStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id=$1`, id)
	if err != nil {
		return &store.StorageError{Op: "cron.delete", Err: err}
	}
	return nil
}

func (s *PGCronStore) Get(ctx context.Context, id uuid.UUID) (*store.CronJob, error) {
	return s.scanOne(ctx, "id = $1", id)
}

func (s *PGCronStore) scanOne(ctx context.Context, where string, arg any) (*store.CronJob, error) {
	row := s.db.QueryRowContext(ctx, cronSelectCols+" FROM cron_jobs WHERE "+where, arg)
	j, err := scanCronJob(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	return j, err
}

const cronSelectCols = `SELECT id, agent_id, name, enabled, schedule_kind, schedule_at, interval_ms,
	cron_expr, timezone, session_target, payload_kind, payload_text, model, timeout_seconds,
	next_run_at, running_at, last_run_at, last_status, last_error, last_duration_ms,
	consecutive_errors, delete_after_run`

func scanCronJob(row *sql.Row) (*store.CronJob, error) {
	j := &store.CronJob{}
	var cronExpr, tz, model, lastStatus, lastError *string
	var intervalMS *int64
	var timeoutSec *int
	if err := row.Scan(&j.ID, &j.AgentID, &j.Name, &j.Enabled, &j.ScheduleKind, &j.ScheduleAt, &intervalMS,
		&cronExpr, &tz, &j.SessionTarget, &j.PayloadKind, &j.PayloadText, &model, &timeoutSec,
		&j.NextRunAt, &j.RunningAt, &j.LastRunAt, &lastStatus, &lastError, &j.LastDurationMS,
		&j.ConsecutiveErrors, &j.DeleteAfterRun); err != nil {
		return nil, err
	}
	if intervalMS != nil {
		j.IntervalMS = *intervalMS
	}
	if timeoutSec != nil {
		j.TimeoutSeconds = *timeoutSec
	}
	j.CronExpr, j.Timezone, j.Model = derefStr(cronExpr), derefStr(tz), derefStr(model)
	j.LastStatus, j.LastError = derefStr(lastStatus), derefStr(lastError)
	return j, nil
}

func (s *PGCronStore) List(ctx context.Context, agentID string) ([]*store.CronJob, error) {
	var rows *sql.Rows
	var err error
	if agentID != "" {
		rows, err = s.db.QueryContext(ctx, cronSelectCols+` FROM cron_jobs WHERE agent_id=$1 ORDER BY name`, agentID)
	} else {
		rows, err = s.db.QueryContext(ctx, cronSelectCols+` FROM cron_jobs ORDER BY name`)
	}
	if err != nil {
		return nil, &store.StorageError{Op: "cron.list", Err: err}
	}
	defer rows.Close()
	return scanCronRows(rows)
}

func (s *PGCronStore) DueBefore(ctx context.Context, at time.Time, limit int) ([]*store.CronJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		cronSelectCols+` FROM cron_jobs WHERE enabled AND running_at IS NULL AND next_run_at IS NOT NULL
		 AND next_run_at <= $1 ORDER BY next_run_at LIMIT $2`, at, limit)
	if err != nil {
		return nil, &store.StorageError{Op: "cron.dueBefore", Err: err}
	}
	defer rows.Close()
	return scanCronRows(rows)
}

func scanCronRows(rows *sql.Rows) ([]*store.CronJob, error) {
	var result []*store.CronJob
	for rows.Next() {
		j := &store.CronJob{}
		var cronExpr, tz, model, lastStatus, lastError *string
		var intervalMS *int64
		var timeoutSec *int
		if err := rows.Scan(&j.ID, &j.AgentID, &j.Name, &j.Enabled, &j.ScheduleKind, &j.ScheduleAt, &intervalMS,
			&cronExpr, &tz, &j.SessionTarget, &j.PayloadKind, &j.PayloadText, &model, &timeoutSec,
			&j.NextRunAt, &j.RunningAt, &j.LastRunAt, &lastStatus, &lastError, &j.LastDurationMS,
			&j.ConsecutiveErrors, &j.DeleteAfterRun); err != nil {
			continue
		}
		if intervalMS != nil {
			j.IntervalMS = *intervalMS
		}
		if timeoutSec != nil {
			j.TimeoutSeconds = *timeoutSec
		}
		j.CronExpr, j.Timezone, j.Model = derefStr(cronExpr), derefStr(tz), derefStr(model)
		j.LastStatus, j.LastError = derefStr(lastStatus), derefStr(lastError)
		result = append(result, j)
	}
	return result, nil
}

func (s *PGCronStore) Claim(ctx context.Context, id uuid.UUID, now time.Time) (*store.CronJob, bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE cron_jobs SET running_at=$1 WHERE id=$2 AND running_at IS NULL`, now, id)
	if err != nil {
		return nil, false, &store.StorageError{Op: "cron.claim", Err: err}
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, false, nil
	}
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return job, true, nil
}

func (s *PGCronStore) Complete(ctx context.Context, id uuid.UUID, status, errText string, duration time.Duration, now time.Time, nextRunAt *time.Time) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	consecutive := job.ConsecutiveErrors
	if status == store.RunStatusError {
		consecutive++
	} else {
		consecutive = 0
	}

	next := nextRunAt
	enabled := job.Enabled
	if job.ScheduleKind == store.ScheduleKindAt {
		if job.DeleteAfterRun {
			_, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id=$1`, id)
			return err
		}
		enabled = false
		next = nil
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET running_at=NULL, last_run_at=$1, last_status=$2, last_error=$3,
		 last_duration_ms=$4, consecutive_errors=$5, next_run_at=$6, enabled=$7 WHERE id=$8`,
		now, status, nilStr(errText), duration.Milliseconds(), consecutive, next, enabled, id)
	if err != nil {
		return &store.StorageError{Op: "cron.complete", Err: err}
	}
	return nil
}

func (s *PGCronStore) ReleaseAbandoned(ctx context.Context, timeout time.Duration, now time.Time) (int, error) {
	cutoff := now.Add(-timeout)
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM cron_jobs WHERE running_at IS NOT NULL AND running_at < $1`, cutoff)
	if err != nil {
		return 0, &store.StorageError{Op: "cron.releaseAbandoned", Err: err}
	}
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if rows.Scan(&id) == nil {
			ids = append(ids, id)
		}
	}
	rows.Close()

	for _, id := range ids {
		_, _ = s.db.ExecContext(ctx,
			`UPDATE cron_jobs SET running_at=NULL, last_status=$1, last_error='abandoned: process crashed mid-run',
			 consecutive_errors = consecutive_errors + 1 WHERE id=$2`, store.RunStatusError, id)
		_ = s.RecordRun(ctx, &store.CronJobRun{JobID: id, Status: store.RunStatusError, Error: "abandoned: process crashed mid-run", RanAt: now})
	}
	return len(ids), nil
}

func (s *PGCronStore) RecordRun(ctx context.Context, run *store.CronJobRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.Must(uuid.NewV7())
	}
	if run.RanAt.IsZero() {
		run.RanAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cron_job_runs (id, job_id, status, error, duration_ms, ran_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		run.ID, run.JobID, run.Status, nilStr(run.Error), run.DurationMS, run.RanAt)
	if err != nil {
		return &store.StorageError{Op: "cron.recordRun", Err: err}
	}
	return nil
}

func (s *PGCronStore) Runs(ctx context.Context, jobID uuid.UUID, limit int) ([]*store.CronJobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, job_id, status, error, duration_ms, ran_at FROM cron_job_runs
		 WHERE job_id=$1 ORDER BY ran_at DESC LIMIT $2`, jobID, limit)
	if err != nil {
		return nil, &store.StorageError{Op: "cron.runs", Err: err}
	}
	defer rows.Close()
	var result []*store.CronJobRun
	for rows.Next() {
		r := &store.CronJobRun{}
		var errText *string
		if rows.Scan(&r.ID, &r.JobID, &r.Status, &errText, &r.DurationMS, &r.RanAt) != nil {
			continue
		}
		r.Error = derefStr(errText)
		result = append(result, r)
	}
	return result, nil
}

func nullIfZero(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullIfZeroInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
