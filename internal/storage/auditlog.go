package storage

import "time"

// Event names recorded to the audit log. These mirror the orchestrator's
// lifecycle transitions but are written fire-and-forget: a failure to
// record an event never blocks or fails the operation it describes.
const (
	EventStarted   = "started"
	EventCompleted = "completed"
	EventErrored   = "errored"
	EventCanceled  = "canceled"
	EventDelivered = "delivered"
)

// AuditEvent is one recorded lifecycle transition.
type AuditEvent struct {
	ID        int64     `json:"id"`
	TaskID    string    `json:"taskId"`
	UserID    string    `json:"userId"`
	Event     string    `json:"event"`
	URL       string    `json:"url"`
	Provider  string    `json:"provider"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"createdAt"`
}

// AuditLog appends and queries lifecycle events.
type AuditLog struct {
	db *DB
}

// NewAuditLog creates a new audit log backed by db.
func NewAuditLog(db *DB) *AuditLog {
	return &AuditLog{db: db}
}

// Record appends one event. Errors are returned for the caller to log, not
// to treat as a reason to fail the download itself.
func (a *AuditLog) Record(taskID, userID, event, url, provider, detail string) error {
	_, err := a.db.conn.Exec(
		`INSERT INTO audit_events (task_id, user_id, event, url, provider, detail) VALUES (?, ?, ?, ?, ?, ?)`,
		taskID, userID, event, url, provider, detail,
	)
	return err
}

// ForTask returns every recorded event for a task, oldest first.
func (a *AuditLog) ForTask(taskID string) ([]AuditEvent, error) {
	rows, err := a.db.conn.Query(
		`SELECT id, task_id, user_id, event, COALESCE(url,''), COALESCE(provider,''), COALESCE(detail,''), created_at
		 FROM audit_events WHERE task_id = ? ORDER BY id ASC`, taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ForUser returns the most recent events recorded for a user, newest first.
func (a *AuditLog) ForUser(userID string, limit int) ([]AuditEvent, error) {
	rows, err := a.db.conn.Query(
		`SELECT id, task_id, user_id, event, COALESCE(url,''), COALESCE(provider,''), COALESCE(detail,''), created_at
		 FROM audit_events WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]AuditEvent, error) {
	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.TaskID, &e.UserID, &e.Event, &e.URL, &e.Provider, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
