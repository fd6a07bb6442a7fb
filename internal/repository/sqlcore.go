package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/gogo/runplane/internal/domain"
)

// querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// rebind rewrites ? placeholders as $1..$n for Postgres.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// sqlQueries implements Queries on top of a single querier.
type sqlQueries struct {
	d   dialect
	q   querier
	now func() time.Time
}

func (s *sqlQueries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlQueries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *sqlQueries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.d.rebind(query), args...)
}

const threadColumns = `thread_id, owner, status, metadata, current_checkpoint_id, checkpoint_seq, created_at, updated_at`

// CreateThread creates a new thread.
func (s *sqlQueries) CreateThread(ctx context.Context, thread *domain.Thread) error {
	now := s.now()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = thread.CreatedAt
	if thread.Status == "" {
		thread.Status = domain.ThreadStatusIdle
	}
	_, err := s.exec(ctx,
		`INSERT INTO threads (thread_id, owner, status, metadata, checkpoint_seq, created_at, updated_at) VALUES (?, ?, ?, ?, 0, ?, ?)`,
		thread.ThreadID, thread.Owner, thread.Status, nullJSON(thread.Metadata), toMillis(thread.CreatedAt), toMillis(thread.UpdatedAt))
	return classify("create thread", err)
}

// GetThread retrieves a thread by ID.
func (s *sqlQueries) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	row := s.queryRow(ctx, `SELECT `+threadColumns+` FROM threads WHERE thread_id = ?`, threadID)
	thread, err := scanThread(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("thread %s", threadID)
	}
	if err != nil {
		return nil, classify("get thread", err)
	}
	return thread, nil
}

// UpdateThreadMetadata replaces a thread's metadata.
func (s *sqlQueries) UpdateThreadMetadata(ctx context.Context, threadID string, metadata json.RawMessage) error {
	res, err := s.exec(ctx, `UPDATE threads SET metadata = ?, updated_at = ? WHERE thread_id = ?`,
		nullJSON(metadata), toMillis(s.now()), threadID)
	if err != nil {
		return classify("update thread metadata", err)
	}
	return mustAffect(res, "thread %s", threadID)
}

// SetThreadStatus records the informational thread status.
func (s *sqlQueries) SetThreadStatus(ctx context.Context, threadID string, status domain.ThreadStatus) error {
	res, err := s.exec(ctx, `UPDATE threads SET status = ?, updated_at = ? WHERE thread_id = ?`,
		status, toMillis(s.now()), threadID)
	if err != nil {
		return classify("set thread status", err)
	}
	return mustAffect(res, "thread %s", threadID)
}

// DeleteThread removes a thread with its runs, run and stream events, checkpoints and lock.
// Callers outside a transaction must go through Backend.DeleteThread.
func (s *sqlQueries) DeleteThread(ctx context.Context, threadID string) error {
	cascade := []string{
		`DELETE FROM run_events WHERE run_id IN (SELECT run_id FROM runs WHERE thread_id = ?)`,
		`DELETE FROM stream_events WHERE run_id IN (SELECT run_id FROM runs WHERE thread_id = ?)`,
		`DELETE FROM runs WHERE thread_id = ?`,
		`DELETE FROM checkpoints WHERE thread_id = ?`,
		`DELETE FROM thread_locks WHERE thread_id = ?`,
	}
	for _, stmt := range cascade {
		if _, err := s.exec(ctx, stmt, threadID); err != nil {
			return classify("delete thread", err)
		}
	}
	res, err := s.exec(ctx, `DELETE FROM threads WHERE thread_id = ?`, threadID)
	if err != nil {
		return classify("delete thread", err)
	}
	return mustAffect(res, "thread %s", threadID)
}

const runColumns = `run_id, thread_id, assistant_id, owner, status, input, config, metadata, interrupt, resume, output, error, checkpoint_id, last_checkpoint_id, last_event_seq, created_at, started_at, ended_at, updated_at`

// CreateRun creates a new run.
func (s *sqlQueries) CreateRun(ctx context.Context, run *domain.Run) error {
	now := s.now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = run.CreatedAt
	if run.Status == "" {
		run.Status = domain.RunStatusPending
	}
	_, err := s.exec(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.ThreadID, run.AssistantID, run.Owner, run.Status,
		nullJSON(run.Input), nullJSON(run.Config), nullJSON(run.Metadata),
		nullJSON(run.Interrupt), nullJSON(run.Resume), nullJSON(run.Output), nullJSON(run.Error),
		nullString(run.CheckpointID), nullString(run.LastCheckpointID), run.LastEventSeq,
		toMillis(run.CreatedAt), nullMillis(run.StartedAt), nullMillis(run.EndedAt), toMillis(run.UpdatedAt))
	return classify("create run", err)
}

// GetRun retrieves a run by ID.
func (s *sqlQueries) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.queryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("run %s", runID)
	}
	if err != nil {
		return nil, classify("get run", err)
	}
	return run, nil
}

// UpdateRun writes the mutable fields of a run, optionally guarded by its current status.
func (s *sqlQueries) UpdateRun(ctx context.Context, run *domain.Run, expected ...domain.RunStatus) error {
	run.UpdatedAt = s.now()
	query := `UPDATE runs SET status = ?, interrupt = ?, resume = ?, output = ?, error = ?,
		last_checkpoint_id = ?, last_event_seq = ?, started_at = ?, ended_at = ?, updated_at = ?
		WHERE run_id = ?`
	args := []any{
		run.Status, nullJSON(run.Interrupt), nullJSON(run.Resume), nullJSON(run.Output), nullJSON(run.Error),
		nullString(run.LastCheckpointID), run.LastEventSeq, nullMillis(run.StartedAt), nullMillis(run.EndedAt),
		toMillis(run.UpdatedAt), run.RunID,
	}
	if len(expected) > 0 {
		query += ` AND status IN (` + placeholders(len(expected)) + `)`
		for _, st := range expected {
			args = append(args, st)
		}
	}
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return classify("update run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("update run", err)
	}
	if n > 0 {
		return nil
	}
	var current domain.RunStatus
	err = s.queryRow(ctx, `SELECT status FROM runs WHERE run_id = ?`, run.RunID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("run %s", run.RunID)
	}
	if err != nil {
		return classify("update run", err)
	}
	return fmt.Errorf("run %s is %s, expected one of %v: %w", run.RunID, current, expected, domain.ErrInvalidState)
}

// ListRuns lists a thread's runs, newest first.
func (s *sqlQueries) ListRuns(ctx context.Context, threadID string, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE thread_id = ? ORDER BY created_at DESC, run_id DESC LIMIT ?`,
		threadID, limit)
	if err != nil {
		return nil, classify("list runs", err)
	}
	return collectRuns(rows)
}

func (s *sqlQueries) listRunsByStatus(ctx context.Context, statuses ...domain.RunStatus) ([]domain.Run, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	rows, err := s.query(ctx,
		`SELECT `+runColumns+` FROM runs WHERE status IN (`+placeholders(len(statuses))+`) ORDER BY created_at ASC`,
		args...)
	if err != nil {
		return nil, classify("list runs by status", err)
	}
	return collectRuns(rows)
}

const checkpointColumns = `checkpoint_id, thread_id, parent_id, seq, run_id, state, writes, metadata, created_at`

// PutCheckpoint stores a checkpoint under the thread's next sequence number.
// Callers outside a transaction must go through Backend.PutCheckpoint.
func (s *sqlQueries) PutCheckpoint(ctx context.Context, cp *domain.Checkpoint, opts PutOptions) (*domain.Checkpoint, error) {
	now := s.now()
	var seq int64
	err := s.queryRow(ctx,
		`UPDATE threads SET checkpoint_seq = checkpoint_seq + 1, updated_at = ? WHERE thread_id = ? RETURNING checkpoint_seq`,
		toMillis(now), cp.ThreadID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("thread %s", cp.ThreadID)
	}
	if err != nil {
		return nil, classify("put checkpoint", err)
	}

	if cp.ParentID != "" {
		var one int
		err := s.queryRow(ctx, `SELECT 1 FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`,
			cp.ThreadID, cp.ParentID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("put checkpoint: parent %s is not a checkpoint of thread %s: %w",
				cp.ParentID, cp.ThreadID, domain.ErrConstraint)
		}
		if err != nil {
			return nil, classify("put checkpoint", err)
		}
	}

	if cp.CheckpointID == "" {
		cp.CheckpointID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if len(cp.State) == 0 {
		cp.State = json.RawMessage(`{}`)
	}
	cp.Seq = seq
	meta, err := json.Marshal(cp.Metadata)
	if err != nil {
		return nil, fmt.Errorf("put checkpoint: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO checkpoints (`+checkpointColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cp.CheckpointID, cp.ThreadID, nullString(cp.ParentID), cp.Seq, nullString(cp.RunID),
		string(cp.State), nullJSON(cp.Writes), string(meta), toMillis(cp.CreatedAt))
	if err != nil {
		return nil, classify("put checkpoint", err)
	}

	if !opts.Branch {
		if _, err := s.exec(ctx, `UPDATE threads SET current_checkpoint_id = ? WHERE thread_id = ?`,
			cp.CheckpointID, cp.ThreadID); err != nil {
			return nil, classify("put checkpoint", err)
		}
	}
	return cp, nil
}

// GetLatestCheckpoint resolves the thread's current pointer.
func (s *sqlQueries) GetLatestCheckpoint(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	row := s.queryRow(ctx,
		`SELECT c.checkpoint_id, c.thread_id, c.parent_id, c.seq, c.run_id, c.state, c.writes, c.metadata, c.created_at
		FROM checkpoints c JOIN threads t ON t.current_checkpoint_id = c.checkpoint_id
		WHERE t.thread_id = ?`, threadID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("thread %s has no checkpoint", threadID)
	}
	if err != nil {
		return nil, classify("get latest checkpoint", err)
	}
	return cp, nil
}

// GetCheckpoint retrieves one checkpoint of a thread.
func (s *sqlQueries) GetCheckpoint(ctx context.Context, threadID, checkpointID string) (*domain.Checkpoint, error) {
	row := s.queryRow(ctx,
		`SELECT `+checkpointColumns+` FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?`,
		threadID, checkpointID)
	cp, err := scanCheckpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("checkpoint %s in thread %s", checkpointID, threadID)
	}
	if err != nil {
		return nil, classify("get checkpoint", err)
	}
	return cp, nil
}

// ListCheckpoints returns one page of checkpoints ordered by seq descending.
func (s *sqlQueries) ListCheckpoints(ctx context.Context, threadID string, filter ListCheckpointsFilter) ([]domain.Checkpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM checkpoints WHERE thread_id = ?`
	args := []any{threadID}
	if filter.BeforeSeq > 0 {
		query += ` AND seq < ?`
		args = append(args, filter.BeforeSeq)
	}
	query += ` ORDER BY seq DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, classify("list checkpoints", err)
	}
	defer rows.Close()

	var out []domain.Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, classify("list checkpoints", err)
		}
		out = append(out, *cp)
	}
	return out, classify("list checkpoints", rows.Err())
}

// SetCurrentCheckpoint moves the thread's current pointer to an existing checkpoint.
func (s *sqlQueries) SetCurrentCheckpoint(ctx context.Context, threadID, checkpointID string) error {
	res, err := s.exec(ctx,
		`UPDATE threads SET current_checkpoint_id = ?, updated_at = ? WHERE thread_id = ?
		AND EXISTS (SELECT 1 FROM checkpoints WHERE thread_id = ? AND checkpoint_id = ?)`,
		checkpointID, toMillis(s.now()), threadID, threadID, checkpointID)
	if err != nil {
		return classify("set current checkpoint", err)
	}
	return mustAffect(res, "checkpoint %s in thread %s", checkpointID, threadID)
}

// AppendRunEvent records a lifecycle event under the run's next event sequence.
// Callers outside a transaction must go through Backend.AppendRunEvent.
func (s *sqlQueries) AppendRunEvent(ctx context.Context, ev *domain.RunEvent) error {
	var seq int64
	if err := s.queryRow(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM run_events WHERE run_id = ?`, ev.RunID).Scan(&seq); err != nil {
		return classify("append run event", err)
	}
	if ev.ID == "" {
		ev.ID = "evt_" + uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = s.now()
	}
	ev.Seq = seq
	_, err := s.exec(ctx,
		`INSERT INTO run_events (id, run_id, seq, event, data, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.RunID, ev.Seq, ev.Event, nullJSON(ev.Data), toMillis(ev.CreatedAt))
	return classify("append run event", err)
}

// ListRunEvents lists a run's lifecycle events after a sequence number.
func (s *sqlQueries) ListRunEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.RunEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.query(ctx,
		`SELECT id, run_id, seq, event, data, created_at FROM run_events WHERE run_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		runID, afterSeq, limit)
	if err != nil {
		return nil, classify("list run events", err)
	}
	defer rows.Close()

	var events []domain.RunEvent
	for rows.Next() {
		var ev domain.RunEvent
		var data sql.NullString
		var created int64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Seq, &ev.Event, &data, &created); err != nil {
			return nil, classify("list run events", err)
		}
		if data.Valid {
			ev.Data = json.RawMessage(data.String)
		}
		ev.CreatedAt = fromMillis(created)
		events = append(events, ev)
	}
	return events, classify("list run events", rows.Err())
}

// AppendStreamEvents stores streamed events under the seqs they already carry.
// A seq stored twice for the same run is a constraint violation.
func (s *sqlQueries) AppendStreamEvents(ctx context.Context, events []domain.StreamEvent) error {
	for _, ev := range events {
		_, err := s.exec(ctx,
			`INSERT INTO stream_events (run_id, seq, event, data, ts) VALUES (?, ?, ?, ?, ?)`,
			ev.RunID, ev.Seq, ev.Event, nullJSON(ev.Data), ev.Ts)
		if err != nil {
			return classify("append stream event", err)
		}
	}
	return nil
}

// ListStreamEvents lists a run's streamed events after a seq, oldest first.
func (s *sqlQueries) ListStreamEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.StreamEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.query(ctx,
		`SELECT run_id, seq, event, data, ts FROM stream_events WHERE run_id = ? AND seq > ? ORDER BY seq ASC LIMIT ?`,
		runID, afterSeq, limit)
	if err != nil {
		return nil, classify("list stream events", err)
	}
	defer rows.Close()

	var events []domain.StreamEvent
	for rows.Next() {
		var ev domain.StreamEvent
		var data sql.NullString
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Event, &data, &ev.Ts); err != nil {
			return nil, classify("list stream events", err)
		}
		ev.Data = rawJSON(data)
		events = append(events, ev)
	}
	return events, classify("list stream events", rows.Err())
}

func (s *sqlQueries) listThreads(ctx context.Context, owner string, limit, offset int) ([]domain.Thread, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + threadColumns + ` FROM threads`
	var args []any
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at DESC, thread_id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, classify("list threads", err)
	}
	defer rows.Close()

	var threads []domain.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, classify("list threads", err)
		}
		threads = append(threads, *t)
	}
	return threads, classify("list threads", rows.Err())
}

func (s *sqlQueries) deleteRunEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, stmt := range []string{
		`DELETE FROM run_events WHERE created_at < ?`,
		`DELETE FROM stream_events WHERE ts < ?`,
	} {
		res, err := s.exec(ctx, stmt, toMillis(cutoff))
		if err != nil {
			return 0, classify("delete run events", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, classify("delete run events", err)
		}
		total += n
	}
	return total, nil
}

func (s *sqlQueries) acquireLock(ctx context.Context, key, owner string, ttl time.Duration) error {
	now := s.now()
	res, err := s.exec(ctx,
		`INSERT INTO thread_locks (thread_id, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE thread_locks.expires_at <= ? OR thread_locks.owner = excluded.owner`,
		key, owner, toMillis(now.Add(ttl)), toMillis(now))
	if err != nil {
		return classify("acquire lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("acquire lock", err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s: %w", key, ErrLockHeld)
	}
	return nil
}

func (s *sqlQueries) renewLock(ctx context.Context, key, owner string, ttl time.Duration) error {
	res, err := s.exec(ctx, `UPDATE thread_locks SET expires_at = ? WHERE thread_id = ? AND owner = ?`,
		toMillis(s.now().Add(ttl)), key, owner)
	if err != nil {
		return classify("renew lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("renew lock", err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s: %w", key, ErrLockLost)
	}
	return nil
}

func (s *sqlQueries) releaseLock(ctx context.Context, key, owner string) error {
	_, err := s.exec(ctx, `DELETE FROM thread_locks WHERE thread_id = ? AND owner = ?`, key, owner)
	return classify("release lock", err)
}

func (s *sqlQueries) lockHolder(ctx context.Context, key string) (string, bool, error) {
	var owner string
	var expires int64
	err := s.queryRow(ctx, `SELECT owner, expires_at FROM thread_locks WHERE thread_id = ?`, key).Scan(&owner, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("lock holder", err)
	}
	if expires <= toMillis(s.now()) {
		return "", false, nil
	}
	return owner, true, nil
}

func scanThread(row rowScanner) (*domain.Thread, error) {
	var t domain.Thread
	var metadata, current sql.NullString
	var created, updated int64
	if err := row.Scan(&t.ThreadID, &t.Owner, &t.Status, &metadata, &current, &t.CheckpointSeq, &created, &updated); err != nil {
		return nil, err
	}
	if metadata.Valid {
		t.Metadata = json.RawMessage(metadata.String)
	}
	t.CurrentCheckpointID = current.String
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return &t, nil
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var r domain.Run
	var input, config, metadata, interrupt, resume, output, errData, baseCP, lastCP sql.NullString
	var created, updated int64
	var started, ended sql.NullInt64
	if err := row.Scan(&r.RunID, &r.ThreadID, &r.AssistantID, &r.Owner, &r.Status,
		&input, &config, &metadata, &interrupt, &resume, &output, &errData,
		&baseCP, &lastCP, &r.LastEventSeq, &created, &started, &ended, &updated); err != nil {
		return nil, err
	}
	r.Input = rawJSON(input)
	r.Config = rawJSON(config)
	r.Metadata = rawJSON(metadata)
	r.Interrupt = rawJSON(interrupt)
	r.Resume = rawJSON(resume)
	r.Output = rawJSON(output)
	r.Error = rawJSON(errData)
	r.CheckpointID = baseCP.String
	r.LastCheckpointID = lastCP.String
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	r.StartedAt = fromNullMillis(started)
	r.EndedAt = fromNullMillis(ended)
	return &r, nil
}

func collectRuns(rows *sql.Rows) ([]domain.Run, error) {
	defer rows.Close()
	var runs []domain.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, classify("scan run", err)
		}
		runs = append(runs, *r)
	}
	return runs, classify("scan run", rows.Err())
}

func scanCheckpoint(row rowScanner) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	var parent, runID, writes, metadata sql.NullString
	var state string
	var created int64
	if err := row.Scan(&cp.CheckpointID, &cp.ThreadID, &parent, &cp.Seq, &runID, &state, &writes, &metadata, &created); err != nil {
		return nil, err
	}
	cp.ParentID = parent.String
	cp.RunID = runID.String
	cp.State = json.RawMessage(state)
	cp.Writes = rawJSON(writes)
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("decode checkpoint metadata: %w", err)
		}
	}
	cp.CreatedAt = fromMillis(created)
	return &cp, nil
}

func mustAffect(res sql.Result, format string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify("rows affected", err)
	}
	if n == 0 {
		return notFound(format, args...)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	return sql.NullString{String: string(raw), Valid: len(raw) > 0}
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
