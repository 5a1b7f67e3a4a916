package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/chatrelay/internal/core"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	roleCaller    = "caller"
	roleRecipient = "recipient"
	roleLeft      = "left"
)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS calls (
		id          TEXT PRIMARY KEY,
		room_id     TEXT NOT NULL,
		caller      TEXT NOT NULL,
		caller_name TEXT NOT NULL DEFAULT '',
		kind        TEXT NOT NULL,
		is_group    INTEGER NOT NULL DEFAULT 0,
		status      TEXT NOT NULL,
		end_reason  TEXT NOT NULL DEFAULT '',
		started_at  INTEGER NOT NULL,
		answered_at INTEGER,
		ended_at    INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS call_parties (
		call_id  TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
		user_id  TEXT NOT NULL,
		role     TEXT NOT NULL,
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (call_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_call_parties_user ON call_parties(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_calls_started ON calls(started_at DESC)`,
}

// SQLite is a CallLog backed by a single sqlite file.
type SQLite struct {
	db   *sql.DB
	path string
}

func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; the journal is the only caller of Save
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database: %w", err)
		}
	}
	s := &SQLite{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Info().Str("module", "store.sqlite").Str("path", path).Msg("call log opened")
	return s, nil
}

func (s *SQLite) migrate() error {
	return s.Transaction(context.Background(), func(tx *sql.Tx) error {
		for i, stmt := range migrations {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("migration %d: %w", i, err)
			}
		}
		return nil
	})
}

// Transaction runs fn in a transaction, rolling back if fn fails.
func (s *SQLite) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLite) Save(ctx context.Context, call domain.Call) error {
	return s.Transaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO calls
			(id, room_id, caller, caller_name, kind, is_group, status, end_reason, started_at, answered_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status=excluded.status,
				end_reason=excluded.end_reason,
				answered_at=excluded.answered_at,
				ended_at=excluded.ended_at`,
			string(call.ID), call.RoomID, string(call.Caller), call.CallerName, string(call.Kind),
			call.Group, string(call.Status), call.EndReason,
			call.StartedAt.UnixNano(), nullTime(call.AnsweredAt), nullTime(call.EndedAt))
		if err != nil {
			return fmt.Errorf("upsert call %s: %w", call.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE call_parties SET role = ? WHERE call_id = ? AND role = ?`,
			roleLeft, string(call.ID), roleRecipient); err != nil {
			return fmt.Errorf("mark parties: %w", err)
		}
		upsert := `INSERT INTO call_parties (call_id, user_id, role, position) VALUES (?, ?, ?, ?)
			ON CONFLICT(call_id, user_id) DO UPDATE SET role=excluded.role, position=excluded.position`
		if _, err := tx.ExecContext(ctx, upsert, string(call.ID), string(call.Caller), roleCaller, 0); err != nil {
			return fmt.Errorf("upsert caller: %w", err)
		}
		for i, r := range call.Recipients {
			if _, err := tx.ExecContext(ctx, upsert, string(call.ID), string(r), roleRecipient, i+1); err != nil {
				return fmt.Errorf("upsert recipient: %w", err)
			}
		}
		return nil
	})
}

const selectCall = `SELECT c.id, c.room_id, c.caller, c.caller_name, c.kind, c.is_group, c.status,
	c.end_reason, c.started_at, c.answered_at, c.ended_at FROM calls c`

func (s *SQLite) Get(ctx context.Context, id domain.CallID) (domain.Call, error) {
	row := s.db.QueryRowContext(ctx, selectCall+` WHERE c.id = ?`, string(id))
	call, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Call{}, core.ErrRecordNotFound
	}
	if err != nil {
		return domain.Call{}, fmt.Errorf("get call %s: %w", id, err)
	}
	if err := s.loadRecipients(ctx, []*domain.Call{&call}); err != nil {
		return domain.Call{}, err
	}
	return call, nil
}

func (s *SQLite) History(ctx context.Context, user domain.UserID, limit int) ([]domain.Call, error) {
	q := selectCall + ` JOIN call_parties p ON p.call_id = c.id
		WHERE p.user_id = ? ORDER BY c.started_at DESC, c.id ASC`
	args := []any{string(user)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ptrs := make([]*domain.Call, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := s.loadRecipients(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLite) loadRecipients(ctx context.Context, calls []*domain.Call) error {
	if len(calls) == 0 {
		return nil
	}
	byID := make(map[domain.CallID]*domain.Call, len(calls))
	args := make([]any, 0, len(calls)+1)
	args = append(args, roleRecipient)
	for _, c := range calls {
		byID[c.ID] = c
		args = append(args, string(c.ID))
	}
	q := `SELECT call_id, user_id FROM call_parties WHERE role = ? AND call_id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(calls)), ",") + `) ORDER BY call_id, position`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query parties: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var callID, userID string
		if err := rows.Scan(&callID, &userID); err != nil {
			return fmt.Errorf("scan party: %w", err)
		}
		if c, ok := byID[domain.CallID(callID)]; ok {
			c.Recipients = append(c.Recipients, domain.UserID(userID))
		}
	}
	return rows.Err()
}

func (s *SQLite) Path() string { return s.path }

func (s *SQLite) Close() error { return s.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(sc scanner) (domain.Call, error) {
	var (
		c               domain.Call
		id, caller      string
		kind, status    string
		started         int64
		answered, ended sql.NullInt64
	)
	if err := sc.Scan(&id, &c.RoomID, &caller, &c.CallerName, &kind, &c.Group, &status,
		&c.EndReason, &started, &answered, &ended); err != nil {
		return domain.Call{}, err
	}
	c.ID = domain.CallID(id)
	c.Caller = domain.UserID(caller)
	c.Kind = domain.CallKind(kind)
	c.Status = domain.CallStatus(status)
	c.StartedAt = time.Unix(0, started).UTC()
	c.AnsweredAt = fromNull(answered)
	c.EndedAt = fromNull(ended)
	return c, nil
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNull(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(0, n.Int64).UTC()
}
