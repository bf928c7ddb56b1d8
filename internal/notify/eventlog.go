package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"
)

// EventLog appends events to the event_log table keyed by attempt id.
type EventLog struct {
	db     *sql.DB
	siteID string
}

func NewEventLog(db *sql.DB, siteID string) *EventLog {
	if siteID == "" {
		siteID = "local"
	}
	return &EventLog{db: db, siteID: siteID}
}

func (r *EventLog) Append(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		r.siteID, string(e.Kind), e.AttemptID, string(data), at.Unix())
	return err
}

func (r *EventLog) Notify(ctx context.Context, e Event) {
	if err := r.Append(ctx, e); err != nil {
		log.Printf("[notify] event log append %s/%s: %v", e.Kind, e.AttemptID, err)
	}
}

// Recorded is one stored event_log row.
type Recorded struct {
	Seq       int64
	Kind      Kind
	Key       string
	Data      string
	CreatedAt int64
}

// List returns the events for one attempt in append order.
func (r *EventLog) List(ctx context.Context, attemptID string) ([]Recorded, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, typ, key, data, created_at FROM event_log WHERE key=$1 ORDER BY seq`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Recorded
	for rows.Next() {
		var (
			rec Recorded
			typ string
		)
		if err := rows.Scan(&rec.Seq, &typ, &rec.Key, &rec.Data, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Kind = Kind(typ)
		out = append(out, rec)
	}
	return out, rows.Err()
}
