package events

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	xerrors "AgentStudio/internal/errors"
)

// MySQLSink 将事件追加写入 upload_events 审计表。
// 该表只用于审计，不会被用来恢复上传任务。
type MySQLSink struct {
	db *sql.DB
}

// NewMySQLSink 连接 MySQL 并确保审计表存在。
func NewMySQLSink(ctx context.Context, dsn string) (*MySQLSink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	sink := NewMySQLSinkFromDB(db)
	if err := sink.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

// NewMySQLSinkFromDB 包装已有连接，不会建表。
func NewMySQLSinkFromDB(db *sql.DB) *MySQLSink {
	return &MySQLSink{db: db}
}

func (s *MySQLSink) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS upload_events (
        id BIGINT AUTO_INCREMENT PRIMARY KEY,
        event_type VARCHAR(32) NOT NULL,
        task_id VARCHAR(64) NOT NULL,
        file_name VARCHAR(255) NOT NULL,
        size_bytes BIGINT NOT NULL DEFAULT 0,
        status VARCHAR(32) NOT NULL,
        progress INT NOT NULL DEFAULT 0,
        remote_key VARCHAR(512) DEFAULT '',
        attachment_id VARCHAR(128) DEFAULT '',
        error_code VARCHAR(64) DEFAULT '',
        error_message TEXT,
        occurred_at BIGINT NOT NULL,
        INDEX idx_upload_events_task (task_id),
        INDEX idx_upload_events_occurred (occurred_at)
)`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 upload_events 表失败")
	}
	return nil
}

const insertEventStmt = `INSERT INTO upload_events
        (event_type, task_id, file_name, size_bytes, status, progress, remote_key, attachment_id, error_code, error_message, occurred_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Publish 实现 Sink 接口。
func (s *MySQLSink) Publish(ctx context.Context, event Event) error {
	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	_, err := s.db.ExecContext(ctx, insertEventStmt,
		string(event.Type),
		event.TaskID,
		event.FileName,
		event.SizeBytes,
		event.Status,
		event.Progress,
		event.RemoteKey,
		event.AttachmentID,
		event.ErrorCode,
		event.Error,
		occurred.UnixMilli(),
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入上传审计事件失败")
	}
	return nil
}

// Close 关闭数据库连接。
func (s *MySQLSink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Sink = (*MySQLSink)(nil)
