package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/brightpath-solar/lead-funnel/internal/model"
)

// SQLiteStore implements Store on SQLite. Collected data and history are
// stored as JSON columns; merge updates run read-modify-write inside an
// immediate transaction, and conditional updates guard on status in the
// UPDATE's WHERE clause so a lost race affects zero rows.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens (and migrates) a SQLite-backed store at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping database")
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, errors.Wrap(err, "initialize schema")
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		resume_token TEXT UNIQUE,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		phase INTEGER NOT NULL,
		highest_phase INTEGER NOT NULL,
		collected_json TEXT NOT NULL,
		history_json TEXT NOT NULL,
		crm_lead_id TEXT NOT NULL DEFAULT '',
		recovery_notified_at INTEGER,
		created_at INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status_activity ON sessions(status, last_activity_at);

	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL DEFAULT '',
		last_name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		street TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL DEFAULT '',
		zip TEXT NOT NULL DEFAULT '',
		panel_model TEXT NOT NULL DEFAULT '',
		panel_count INTEGER NOT NULL DEFAULT 0,
		capacity_kw REAL NOT NULL DEFAULT 0,
		net_price REAL NOT NULL DEFAULT 0,
		source TEXT NOT NULL,
		crm_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS follow_ups (
		id TEXT PRIMARY KEY,
		lead_id TEXT NOT NULL,
		scheduled_at INTEGER NOT NULL,
		channel TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		result_message_id TEXT NOT NULL DEFAULT '',
		result_error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_follow_ups_due ON follow_ups(status, scheduled_at);
	`
	_, err := s.db.Exec(query)
	return err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.Session) error {
	collected, err := json.Marshal(sess.CollectedData)
	if err != nil {
		return errors.Wrap(err, "marshal collected data")
	}
	history, err := json.Marshal(sess.ConversationHistory)
	if err != nil {
		return errors.Wrap(err, "marshal history")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, resume_token, kind, status, phase, highest_phase,
			collected_json, history_json, crm_lead_id, recovery_notified_at,
			created_at, last_activity_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.ResumeToken, sess.Kind, sess.Status, sess.Phase, sess.HighestPhaseReached,
		string(collected), string(history), sess.CRMLeadID, nullableUnix(sess.RecoveryNotifiedAt),
		sess.CreatedAt.Unix(), sess.LastActivityAt.Unix(), sess.UpdatedAt.Unix(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return errors.Wrap(model.ErrConflict, "session already exists")
	}
	return errors.Wrap(err, "insert session")
}

const sessionColumns = `id, resume_token, kind, status, phase, highest_phase,
	collected_json, history_json, crm_lead_id, recovery_notified_at,
	created_at, last_activity_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.Session, error) {
	var (
		sess               model.Session
		collected, history string
		recoveryAt         sql.NullInt64
		createdAt          int64
		lastActivityAt     int64
		updatedAt          int64
	)
	err := row.Scan(&sess.ID, &sess.ResumeToken, &sess.Kind, &sess.Status, &sess.Phase,
		&sess.HighestPhaseReached, &collected, &history, &sess.CRMLeadID, &recoveryAt,
		&createdAt, &lastActivityAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan session")
	}
	if err := json.Unmarshal([]byte(collected), &sess.CollectedData); err != nil {
		return nil, errors.Wrap(err, "unmarshal collected data")
	}
	if err := json.Unmarshal([]byte(history), &sess.ConversationHistory); err != nil {
		return nil, errors.Wrap(err, "unmarshal history")
	}
	if recoveryAt.Valid {
		t := time.Unix(recoveryAt.Int64, 0)
		sess.RecoveryNotifiedAt = &t
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.LastActivityAt = time.Unix(lastActivityAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}

// GetSessionByID returns the session with the given id.
func (s *SQLiteStore) GetSessionByID(ctx context.Context, id string) (*model.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// GetSessionByResumeToken returns the session owning the given token. The
// unique index makes this an exact lookup; tokens carry enough entropy
// that index probing does not leak anything useful.
func (s *SQLiteStore) GetSessionByResumeToken(ctx context.Context, token string) (*model.Session, error) {
	if token == "" {
		return nil, model.ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE resume_token = ?`, token)
	return scanSession(row)
}

// UpdateSession applies a merge update inside a transaction.
func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, update *UpdateSession) (*model.Session, error) {
	var out *model.Session
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
		if err != nil {
			return err
		}
		applySessionUpdate(sess, update, s.now())
		if _, err := s.writeSession(ctx, tx, sess, nil); err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}

// ConditionalUpdateSession applies update only while the stored status is
// one of expect; the status guard is part of the UPDATE statement.
func (s *SQLiteStore) ConditionalUpdateSession(ctx context.Context, id string, expect []model.SessionStatus, update *UpdateSession) (bool, error) {
	applied := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		sess, err := scanSession(tx.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
		if err != nil {
			return err
		}
		matched := false
		for _, st := range expect {
			if sess.Status == st {
				matched = true
				break
			}
		}
		if !matched {
			return nil
		}
		prior := sess.Status
		applySessionUpdate(sess, update, s.now())
		n, err := s.writeSession(ctx, tx, sess, &prior)
		if err != nil {
			return err
		}
		applied = n == 1
		return nil
	})
	return applied, err
}

// writeSession persists sess. When guardStatus is non-nil the UPDATE only
// applies while the row's status still equals it, and the affected row
// count is returned.
func (s *SQLiteStore) writeSession(ctx context.Context, tx *sql.Tx, sess *model.Session, guardStatus *model.SessionStatus) (int64, error) {
	collected, err := json.Marshal(sess.CollectedData)
	if err != nil {
		return 0, errors.Wrap(err, "marshal collected data")
	}
	history, err := json.Marshal(sess.ConversationHistory)
	if err != nil {
		return 0, errors.Wrap(err, "marshal history")
	}
	query := `
		UPDATE sessions SET status = ?, phase = ?, highest_phase = ?,
			collected_json = ?, history_json = ?, crm_lead_id = ?,
			recovery_notified_at = ?, last_activity_at = ?, updated_at = ?
		WHERE id = ?`
	args := []any{
		sess.Status, sess.Phase, sess.HighestPhaseReached,
		string(collected), string(history), sess.CRMLeadID,
		nullableUnix(sess.RecoveryNotifiedAt), sess.LastActivityAt.Unix(), sess.UpdatedAt.Unix(),
		sess.ID,
	}
	if guardStatus != nil {
		query += ` AND status = ?`
		args = append(args, *guardStatus)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "update session")
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

// ListSessions returns sessions matching find, oldest activity first.
func (s *SQLiteStore) ListSessions(ctx context.Context, find *FindSessions) ([]*model.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var (
		where []string
		args  []any
	)
	if find != nil {
		if len(find.Statuses) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(find.Statuses)), ",")
			where = append(where, `status IN (`+placeholders+`)`)
			for _, st := range find.Statuses {
				args = append(args, st)
			}
		}
		if find.Kind != nil {
			where = append(where, `kind = ?`)
			args = append(args, *find.Kind)
		}
		if find.LastActivityBefore != nil {
			where = append(where, `last_activity_at <= ?`)
			args = append(args, find.LastActivityBefore.Unix())
		}
		if find.LastActivityAfter != nil {
			where = append(where, `last_activity_at >= ?`)
			args = append(args, find.LastActivityAfter.Unix())
		}
		if find.RecoveryNotified != nil {
			if *find.RecoveryNotified {
				where = append(where, `recovery_notified_at IS NOT NULL`)
			} else {
				where = append(where, `recovery_notified_at IS NULL`)
			}
		}
		if find.HasCRMLeadID != nil {
			if *find.HasCRMLeadID {
				where = append(where, `crm_lead_id != ''`)
			} else {
				where = append(where, `crm_lead_id = ''`)
			}
		}
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY last_activity_at ASC`
	if find != nil && find.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, find.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, errors.Wrap(rows.Err(), "iterate sessions")
}

// CreateLead inserts a lead row; the unique index on email turns a
// duplicate into ErrConflict.
func (s *SQLiteStore) CreateLead(ctx context.Context, lead *model.Lead) error {
	lead.Email = model.NormalizeEmail(lead.Email)
	if lead.Email == "" {
		return model.NewValidationError("email", "required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, email, first_name, last_name, phone, street, city, state, zip,
			panel_model, panel_count, capacity_kw, net_price, source, crm_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.Email, lead.FirstName, lead.LastName, lead.Phone,
		lead.Street, lead.City, lead.State, lead.Zip,
		lead.PanelModel, lead.PanelCount, lead.CapacityKW, lead.NetPrice,
		lead.Source, lead.CRMID, lead.CreatedAt.Unix(), lead.UpdatedAt.Unix(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return errors.Wrap(model.ErrConflict, "lead email already exists")
	}
	return errors.Wrap(err, "insert lead")
}

const leadColumns = `id, email, first_name, last_name, phone, street, city, state, zip,
	panel_model, panel_count, capacity_kw, net_price, source, crm_id, created_at, updated_at`

func scanLead(row rowScanner) (*model.Lead, error) {
	var (
		lead                 model.Lead
		createdAt, updatedAt int64
	)
	err := row.Scan(&lead.ID, &lead.Email, &lead.FirstName, &lead.LastName, &lead.Phone,
		&lead.Street, &lead.City, &lead.State, &lead.Zip,
		&lead.PanelModel, &lead.PanelCount, &lead.CapacityKW, &lead.NetPrice,
		&lead.Source, &lead.CRMID, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan lead")
	}
	lead.CreatedAt = time.Unix(createdAt, 0)
	lead.UpdatedAt = time.Unix(updatedAt, 0)
	return &lead, nil
}

// GetLeadByID returns the lead with the given id.
func (s *SQLiteStore) GetLeadByID(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	return scanLead(row)
}

// GetLeadByEmail returns the lead with the given normalized email.
func (s *SQLiteStore) GetLeadByEmail(ctx context.Context, email string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE email = ?`, model.NormalizeEmail(email))
	return scanLead(row)
}

// UpdateLead replaces the stored lead row.
func (s *SQLiteStore) UpdateLead(ctx context.Context, lead *model.Lead) error {
	lead.Email = model.NormalizeEmail(lead.Email)
	lead.UpdatedAt = s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE leads SET email = ?, first_name = ?, last_name = ?, phone = ?,
			street = ?, city = ?, state = ?, zip = ?,
			panel_model = ?, panel_count = ?, capacity_kw = ?, net_price = ?,
			source = ?, crm_id = ?, updated_at = ?
		WHERE id = ?`,
		lead.Email, lead.FirstName, lead.LastName, lead.Phone,
		lead.Street, lead.City, lead.State, lead.Zip,
		lead.PanelModel, lead.PanelCount, lead.CapacityKW, lead.NetPrice,
		lead.Source, lead.CRMID, lead.UpdatedAt.Unix(), lead.ID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return errors.Wrap(model.ErrConflict, "lead email already exists")
		}
		return errors.Wrap(err, "update lead")
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return model.ErrNotFound
	}
	return err
}

// CreateFollowUp inserts a follow-up task row.
func (s *SQLiteStore) CreateFollowUp(ctx context.Context, task *model.FollowUpTask) error {
	meta, err := json.Marshal(task.Metadata)
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO follow_ups (id, lead_id, scheduled_at, channel, type, status,
			metadata_json, result_message_id, result_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.LeadID, task.ScheduledAt.Unix(), task.Channel, task.Type, task.Status,
		string(meta), task.ResultMessageID, task.ResultError,
		task.CreatedAt.Unix(), task.UpdatedAt.Unix(),
	)
	return errors.Wrap(err, "insert follow-up")
}

// ListDueFollowUps returns pending tasks scheduled at or before now.
func (s *SQLiteStore) ListDueFollowUps(ctx context.Context, now time.Time, limit int) ([]*model.FollowUpTask, error) {
	query := `
		SELECT id, lead_id, scheduled_at, channel, type, status,
			metadata_json, result_message_id, result_error, created_at, updated_at
		FROM follow_ups WHERE status = ? AND scheduled_at <= ?
		ORDER BY scheduled_at ASC`
	args := []any{model.FollowUpPending, now.Unix()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list follow-ups")
	}
	defer rows.Close()

	var out []*model.FollowUpTask
	for rows.Next() {
		var (
			task                          model.FollowUpTask
			scheduled, createdAt, updated int64
			meta                          string
		)
		if err := rows.Scan(&task.ID, &task.LeadID, &scheduled, &task.Channel, &task.Type,
			&task.Status, &meta, &task.ResultMessageID, &task.ResultError, &createdAt, &updated); err != nil {
			return nil, errors.Wrap(err, "scan follow-up")
		}
		if err := json.Unmarshal([]byte(meta), &task.Metadata); err != nil {
			return nil, errors.Wrap(err, "unmarshal metadata")
		}
		task.ScheduledAt = time.Unix(scheduled, 0)
		task.CreatedAt = time.Unix(createdAt, 0)
		task.UpdatedAt = time.Unix(updated, 0)
		out = append(out, &task)
	}
	return out, errors.Wrap(rows.Err(), "iterate follow-ups")
}

// ConditionalUpdateFollowUp claims a task with the status guard in the
// UPDATE's WHERE clause.
func (s *SQLiteStore) ConditionalUpdateFollowUp(ctx context.Context, id string, expect model.FollowUpStatus, update *UpdateFollowUp) (bool, error) {
	set := []string{`updated_at = ?`}
	args := []any{s.now().Unix()}
	if update.Status != nil {
		set = append(set, `status = ?`)
		args = append(args, *update.Status)
	}
	if update.ResultMessageID != nil {
		set = append(set, `result_message_id = ?`)
		args = append(args, *update.ResultMessageID)
	}
	if update.ResultError != nil {
		set = append(set, `result_error = ?`)
		args = append(args, *update.ResultError)
	}
	args = append(args, id, expect)
	res, err := s.db.ExecContext(ctx,
		`UPDATE follow_ups SET `+strings.Join(set, ", ")+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return false, errors.Wrap(err, "update follow-up")
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
