package shared

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	// SourceID identifies the business event. Left nil it is derived from
	// action, entity and entity id so a replayed event maps to the same id.
	SourceID uuid.UUID
	Meta     map[string]any
	At       time.Time
}

// AuditSourceID derives the deterministic event id of an audit record.
func AuditSourceID(action, entity, entityID string) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%s:%s", entity, entityID, action)))
}

// Execer is satisfied by pgxpool.Pool and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db Execer
}

// NewAuditLogger returns a new AuditLogger over a pool or transaction.
func NewAuditLogger(db Execer) *AuditLogger {
	return &AuditLogger{db: db}
}

// Record persists the log entry. Replays of the same event are ignored.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.SourceID == uuid.Nil {
		log.SourceID = AuditSourceID(log.Action, log.Entity, log.EntityID)
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.db.Exec(ctx, `
		INSERT INTO audit_logs (source_id, actor_id, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, COALESCE($7, NOW()))
		ON CONFLICT (source_id) DO NOTHING`,
		log.SourceID, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
