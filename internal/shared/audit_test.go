package shared

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type captureExec struct {
	args []any
}

func (c *captureExec) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	c.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestAuditRecordDerivesSourceID(t *testing.T) {
	db := &captureExec{}
	logger := NewAuditLogger(db)

	err := logger.Record(context.Background(), AuditLog{
		ActorID:  5,
		Action:   "sale:fulfill",
		Entity:   "sales",
		EntityID: "42",
		Meta:     map[string]any{"lines": 2},
	})
	require.NoError(t, err)

	source := db.args[0].(uuid.UUID)
	require.Equal(t, AuditSourceID("sale:fulfill", "sales", "42"), source)
	require.Equal(t, uuid.Version(5), source.Version())
	require.NotEqual(t, AuditSourceID("sale:reverse", "sales", "42"), source)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(db.args[5].([]byte), &meta))
	require.EqualValues(t, 2, meta["lines"])
}

func TestAuditRecordRequiresIdentity(t *testing.T) {
	require.Error(t, NewAuditLogger(&captureExec{}).Record(context.Background(), AuditLog{Action: "x"}))

	var nilLogger *AuditLogger
	require.EqualError(t, nilLogger.Record(context.Background(), AuditLog{}), "audit logger not initialised")
}
