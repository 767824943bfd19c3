package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// Fixed-width UTC timestamps keep lexical and chronological order equal.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteSink is a local append-only journal for deployments without the
// Postgres history tables.
type SQLiteSink struct {
	db *sql.DB
}

var _ Sink = (*SQLiteSink)(nil)

func OpenSQLite(ctx context.Context, path string) (*SQLiteSink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteSink{db: db}, nil
}

func (s *SQLiteSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteSink) AppendDispatch(ctx context.Context, rec *model.DispatchHistoryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dispatch_history(id, owner_id, dispatch_type, target_type, total_recipients, success_count,
		   failed_count, message_content, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.OwnerID, string(rec.DispatchType), string(rec.TargetType), rec.TotalRecipients,
		rec.SuccessCount, rec.FailedCount, rec.MessageContent, rec.CreatedAt.UTC().Format(tsLayout),
	)
	return err
}

func (s *SQLiteSink) AppendClientNotification(ctx context.Context, log *model.ClientNotificationLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_notification_logs(id, owner_id, client_id, scheduled_send_id, kind, status, message,
		   error, created_at)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		log.ID, log.OwnerID, log.ClientID, log.ScheduledSendID, string(log.Kind), string(log.Status),
		log.Message, log.Error, log.CreatedAt.UTC().Format(tsLayout),
	)
	return err
}

func (s *SQLiteSink) ListDispatch(ctx context.Context, ownerID string, offset, limit int) ([]*model.DispatchHistoryRecord, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dispatch_history WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, dispatch_type, target_type, total_recipients, success_count, failed_count,
		   message_content, created_at
		 FROM dispatch_history
		 WHERE owner_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ? OFFSET ?`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	records := []*model.DispatchHistoryRecord{}
	for rows.Next() {
		var rec model.DispatchHistoryRecord
		var dt, tt, created string
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &dt, &tt, &rec.TotalRecipients, &rec.SuccessCount,
			&rec.FailedCount, &rec.MessageContent, &created); err != nil {
			return nil, 0, err
		}
		rec.DispatchType = model.DispatchType(dt)
		rec.TargetType = model.TargetType(tt)
		if rec.CreatedAt, err = time.Parse(tsLayout, created); err != nil {
			return nil, 0, err
		}
		records = append(records, &rec)
	}
	return records, total, rows.Err()
}
