package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/overseer-labs/warden/pkg/contracts"
	"github.com/overseer-labs/warden/pkg/maturity"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on SQLite via database/sql.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an opened database and runs migrations.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteStore opens (or creates) a SQLite database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	return NewSQLiteStore(db)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT,
		category TEXT,
		maturity TEXT NOT NULL,
		confidence REAL NOT NULL,
		disabled INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TEXT,
		updated_at TEXT
	);
	CREATE TABLE IF NOT EXISTS approval_actions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		requester_id TEXT,
		action_type TEXT NOT NULL,
		params JSON,
		reason TEXT,
		status TEXT NOT NULL,
		resolved_by TEXT,
		comment TEXT,
		expires_at TEXT,
		created_at TEXT,
		resolved_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_approval_agent ON approval_actions(agent_id);
	CREATE TABLE IF NOT EXISTS training_proposals (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		capability_gaps JSON,
		estimated_hours REAL,
		status TEXT NOT NULL,
		override_hours REAL,
		hours_per_day_limit REAL,
		start_date TEXT,
		end_date TEXT,
		approved_by TEXT,
		created_at TEXT
	);
	CREATE TABLE IF NOT EXISTS training_sessions (
		id TEXT PRIMARY KEY,
		proposal_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		supervisor_id TEXT,
		status TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		performance_score REAL,
		total_tasks INTEGER NOT NULL DEFAULT 0,
		tasks_completed INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_session_agent ON training_sessions(agent_id);
	CREATE TABLE IF NOT EXISTS audit_entries (
		entry_id TEXT PRIMARY KEY,
		seq INTEGER,
		agent_id TEXT,
		action TEXT,
		resource TEXT,
		outcome TEXT,
		timestamp TEXT,
		details JSON,
		metadata JSON,
		previous_hash TEXT NOT NULL DEFAULT '',
		entry_hash TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_audit_agent ON audit_entries(agent_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) CreateAgent(ctx context.Context, agent *contracts.Agent) error {
	query := `INSERT INTO agents (id, name, category, maturity, confidence, disabled, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		agent.ID, agent.Name, agent.Category,
		string(agent.Standing.Level()), agent.Standing.Score(),
		boolToInt(agent.Disabled), agent.Version,
		formatTime(agent.CreatedAt), formatTime(agent.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*contracts.Agent, error) {
	query := `SELECT id, name, category, confidence, disabled, version, created_at, updated_at FROM agents WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var (
		agent      contracts.Agent
		confidence float64
		disabled   int
		createdAt  sql.NullString
		updatedAt  sql.NullString
		name       sql.NullString
		category   sql.NullString
	)
	err := row.Scan(&agent.ID, &name, &category, &confidence, &disabled, &agent.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	agent.Name = name.String
	agent.Category = category.String
	// The maturity column is denormalized for operators querying the table
	// directly; the Standing is always rebuilt from the score.
	agent.Standing = maturity.NewStanding(confidence)
	agent.Disabled = disabled != 0
	agent.CreatedAt = parseTime(createdAt.String)
	agent.UpdatedAt = parseTime(updatedAt.String)
	return &agent, nil
}

func (s *SQLiteStore) UpdateAgentStanding(ctx context.Context, id string, standing maturity.Standing, expectedVersion int64) error {
	query := `UPDATE agents SET maturity = ?, confidence = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`
	res, err := s.db.ExecContext(ctx, query,
		string(standing.Level()), standing.Score(), formatTime(time.Now().UTC()), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update agent standing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Distinguish a missing agent from a concurrent writer.
		if _, err := s.GetAgent(ctx, id); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	return nil
}

func (s *SQLiteStore) DisableAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE agents SET disabled = 1, version = version + 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to disable agent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateApproval(ctx context.Context, a *contracts.ApprovalAction) error {
	paramsJSON, _ := json.Marshal(a.Params)
	query := `INSERT INTO approval_actions (id, agent_id, requester_id, action_type, params, reason, status, resolved_by, comment, expires_at, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.AgentID, a.RequesterID, a.ActionType, string(paramsJSON), a.Reason,
		string(a.Status), a.ResolvedBy, a.Comment,
		formatTime(a.ExpiresAt), formatTime(a.CreatedAt), formatTimePtr(a.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert approval: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetApproval(ctx context.Context, id string) (*contracts.ApprovalAction, error) {
	query := `SELECT id, agent_id, requester_id, action_type, params, reason, status, resolved_by, comment, expires_at, created_at, resolved_at
		FROM approval_actions WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var (
		a           contracts.ApprovalAction
		requesterID sql.NullString
		paramsJSON  sql.NullString
		reason      sql.NullString
		status      string
		resolvedBy  sql.NullString
		comment     sql.NullString
		expiresAt   sql.NullString
		createdAt   sql.NullString
		resolvedAt  sql.NullString
	)
	err := row.Scan(&a.ID, &a.AgentID, &requesterID, &a.ActionType, &paramsJSON, &reason, &status, &resolvedBy, &comment, &expiresAt, &createdAt, &resolvedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrApprovalNotFound
		}
		return nil, err
	}
	a.RequesterID = requesterID.String
	a.Reason = reason.String
	a.Status = contracts.ApprovalStatus(status)
	a.ResolvedBy = resolvedBy.String
	a.Comment = comment.String
	a.ExpiresAt = parseTime(expiresAt.String)
	a.CreatedAt = parseTime(createdAt.String)
	if resolvedAt.Valid && resolvedAt.String != "" {
		t := parseTime(resolvedAt.String)
		a.ResolvedAt = &t
	}
	if paramsJSON.Valid && paramsJSON.String != "" {
		_ = json.Unmarshal([]byte(paramsJSON.String), &a.Params)
	}
	return &a, nil
}

func (s *SQLiteStore) ResolveApproval(ctx context.Context, id string, status contracts.ApprovalStatus, resolvedBy, comment string, at time.Time) (bool, error) {
	query := `UPDATE approval_actions SET status = ?, resolved_by = ?, comment = ?, resolved_at = ?
		WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, query,
		string(status), resolvedBy, comment, formatTime(at), id, string(contracts.ApprovalPending))
	if err != nil {
		return false, fmt.Errorf("failed to resolve approval: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetApproval(ctx, id); err != nil {
			return false, err
		}
		return false, nil // already terminal
	}
	return true, nil
}

func (s *SQLiteStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	query := `UPDATE approval_actions SET status = ?, resolved_at = ?
		WHERE status = ? AND expires_at < ?`
	res, err := s.db.ExecContext(ctx, query,
		string(contracts.ApprovalExpired), formatTime(now),
		string(contracts.ApprovalPending), formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale approvals: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStore) CreateProposal(ctx context.Context, p *contracts.TrainingProposal) error {
	gapsJSON, _ := json.Marshal(p.CapabilityGaps)
	query := `INSERT INTO training_proposals (id, agent_id, capability_gaps, estimated_hours, status, override_hours, hours_per_day_limit, start_date, end_date, approved_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.AgentID, string(gapsJSON), p.EstimatedHours, string(p.Status),
		p.OverrideHours, p.HoursPerDayLimit,
		formatTime(p.TrainingStartDate), formatTime(p.TrainingEndDate),
		p.ApprovedBy, formatTime(p.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert proposal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetProposal(ctx context.Context, id string) (*contracts.TrainingProposal, error) {
	query := `SELECT id, agent_id, capability_gaps, estimated_hours, status, override_hours, hours_per_day_limit, start_date, end_date, approved_by, created_at
		FROM training_proposals WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)

	var (
		p          contracts.TrainingProposal
		gapsJSON   sql.NullString
		status     string
		startDate  sql.NullString
		endDate    sql.NullString
		approvedBy sql.NullString
		createdAt  sql.NullString
	)
	err := row.Scan(&p.ID, &p.AgentID, &gapsJSON, &p.EstimatedHours, &status, &p.OverrideHours, &p.HoursPerDayLimit, &startDate, &endDate, &approvedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, err
	}
	p.Status = contracts.ProposalStatus(status)
	p.TrainingStartDate = parseTime(startDate.String)
	p.TrainingEndDate = parseTime(endDate.String)
	p.ApprovedBy = approvedBy.String
	p.CreatedAt = parseTime(createdAt.String)
	if gapsJSON.Valid && gapsJSON.String != "" {
		_ = json.Unmarshal([]byte(gapsJSON.String), &p.CapabilityGaps)
	}
	return &p, nil
}

func (s *SQLiteStore) ApproveProposal(ctx context.Context, p *contracts.TrainingProposal) error {
	query := `UPDATE training_proposals SET status = ?, estimated_hours = ?, override_hours = ?, hours_per_day_limit = ?, start_date = ?, end_date = ?, approved_by = ?
		WHERE id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, query,
		string(p.Status), p.EstimatedHours, p.OverrideHours, p.HoursPerDayLimit,
		formatTime(p.TrainingStartDate), formatTime(p.TrainingEndDate), p.ApprovedBy,
		p.ID, string(contracts.ProposalDraft))
	if err != nil {
		return fmt.Errorf("failed to approve proposal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetProposal(ctx, p.ID); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *contracts.TrainingSession) error {
	query := `INSERT INTO training_sessions (id, proposal_id, agent_id, supervisor_id, status, started_at, completed_at, performance_score, total_tasks, tasks_completed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		sess.ID, sess.ProposalID, sess.AgentID, sess.SupervisorID, string(sess.Status),
		formatTime(sess.StartedAt), formatTime(sess.CompletedAt),
		sess.PerformanceScore, sess.TotalTasks, sess.TasksCompleted,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*contracts.TrainingSession, error) {
	query := `SELECT id, proposal_id, agent_id, supervisor_id, status, started_at, completed_at, performance_score, total_tasks, tasks_completed
		FROM training_sessions WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, id)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) CompleteSession(ctx context.Context, sess *contracts.TrainingSession) error {
	query := `UPDATE training_sessions SET status = ?, completed_at = ?, performance_score = ?, total_tasks = ?, tasks_completed = ?
		WHERE id = ? AND status NOT IN (?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		string(sess.Status), formatTime(sess.CompletedAt),
		sess.PerformanceScore, sess.TotalTasks, sess.TasksCompleted,
		sess.ID, string(contracts.SessionCompleted), string(contracts.SessionAborted))
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := s.GetSession(ctx, sess.ID); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

func (s *SQLiteStore) ListSessionsByAgent(ctx context.Context, agentID string, limit int) ([]*contracts.TrainingSession, error) {
	query := `SELECT id, proposal_id, agent_id, supervisor_id, status, started_at, completed_at, performance_score, total_tasks, tasks_completed
		FROM training_sessions WHERE agent_id = ? ORDER BY started_at DESC LIMIT ?`
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*contracts.TrainingSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (s *SQLiteStore) ListCompletedByCategory(ctx context.Context, category, excludeAgentID string) ([]HistoricalSession, error) {
	query := `SELECT ts.agent_id, ts.started_at, ts.completed_at, ts.performance_score, tp.capability_gaps
		FROM training_sessions ts
		JOIN agents a ON a.id = ts.agent_id
		LEFT JOIN training_proposals tp ON tp.id = ts.proposal_id
		WHERE ts.status = ? AND a.category = ? AND ts.agent_id != ?`
	rows, err := s.db.QueryContext(ctx, query, string(contracts.SessionCompleted), category, excludeAgentID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []HistoricalSession
	for rows.Next() {
		var (
			agentID   string
			startedAt sql.NullString
			doneAt    sql.NullString
			score     sql.NullFloat64
			gapsJSON  sql.NullString
		)
		if err := rows.Scan(&agentID, &startedAt, &doneAt, &score, &gapsJSON); err != nil {
			return nil, err
		}
		var gaps []string
		if gapsJSON.Valid && gapsJSON.String != "" {
			_ = json.Unmarshal([]byte(gapsJSON.String), &gaps)
		}
		out = append(out, HistoricalSession{
			AgentID:          agentID,
			Category:         category,
			GapCount:         len(gaps),
			DurationHours:    parseTime(doneAt.String).Sub(parseTime(startedAt.String)).Hours(),
			PerformanceScore: score.Float64,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, e *contracts.AuditEntry) error {
	metaJSON, _ := json.Marshal(e.Metadata)
	query := `INSERT INTO audit_entries (entry_id, seq, agent_id, action, resource, outcome, timestamp, details, metadata, previous_hash, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, query,
		e.EntryID, e.Sequence, e.AgentID, e.Action, e.Resource, e.Outcome,
		formatTime(e.Timestamp), string(e.Details), string(metaJSON),
		e.PreviousHash, e.EntryHash,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListAudit(ctx context.Context, agentID string, limit int) ([]*contracts.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT entry_id, seq, agent_id, action, resource, outcome, timestamp, details, metadata, previous_hash, entry_hash
		FROM audit_entries WHERE (? = '' OR agent_id = ?) ORDER BY seq DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, agentID, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []*contracts.AuditEntry
	for rows.Next() {
		var (
			e         contracts.AuditEntry
			timestamp sql.NullString
			details   sql.NullString
			metaJSON  sql.NullString
		)
		if err := rows.Scan(&e.EntryID, &e.Sequence, &e.AgentID, &e.Action, &e.Resource, &e.Outcome, &timestamp, &details, &metaJSON, &e.PreviousHash, &e.EntryHash); err != nil {
			return nil, err
		}
		e.Timestamp = parseTime(timestamp.String)
		if details.Valid {
			e.Details = json.RawMessage(details.String)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &e.Metadata)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*contracts.TrainingSession, error) {
	var (
		sess         contracts.TrainingSession
		supervisorID sql.NullString
		status       string
		startedAt    sql.NullString
		completedAt  sql.NullString
		score        sql.NullFloat64
	)
	if err := row.Scan(&sess.ID, &sess.ProposalID, &sess.AgentID, &supervisorID, &status, &startedAt, &completedAt, &score, &sess.TotalTasks, &sess.TasksCompleted); err != nil {
		return nil, err
	}
	sess.SupervisorID = supervisorID.String
	sess.Status = contracts.SessionStatus(status)
	sess.StartedAt = parseTime(startedAt.String)
	sess.CompletedAt = parseTime(completedAt.String)
	sess.PerformanceScore = score.Float64
	return &sess, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
