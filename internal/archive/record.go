package archive

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/realtime-client/internal/events"
)

// Record is one archived event row.
type Record struct {
	ID         uuid.UUID
	InstanceID string
	Event      string
	Payload    json.RawMessage
	ReceivedAt time.Time
}

func newRecord(instanceID string, ev events.Event) Record {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return Record{
		ID:         uuid.New(),
		InstanceID: instanceID,
		Event:      ev.Name.String(),
		Payload:    payload,
		ReceivedAt: ev.ReceivedAt,
	}
}

// Schema creates the archive table.
const Schema = `
CREATE TABLE IF NOT EXISTS realtime_events (
	id          UUID PRIMARY KEY,
	instance_id TEXT NOT NULL,
	event       TEXT NOT NULL,
	payload     JSONB NOT NULL,
	received_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS realtime_events_event_received_idx
	ON realtime_events (event, received_at);
`

const insertSQL = `
	INSERT INTO realtime_events (id, instance_id, event, payload, received_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO NOTHING
`
