package storage

import "testing"

// setupTestDB creates an isolated SQLite database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestNew_CreatesDatabaseAndMigrates(t *testing.T) {
	db := setupTestDB(t)

	var count int
	if err := db.conn.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&count); err != nil {
		t.Fatalf("audit_events table should exist: %v", err)
	}
}

func TestAuditLog_RecordAndForTask(t *testing.T) {
	db := setupTestDB(t)
	log := NewAuditLog(db)

	if err := log.Record("task-1", "user-1", EventStarted, "https://youtube.com/watch?v=x", "youtube", ""); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := log.Record("task-1", "user-1", EventCompleted, "https://youtube.com/watch?v=x", "youtube", "720p"); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	events, err := log.ForTask("task-1")
	if err != nil {
		t.Fatalf("ForTask failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Event != EventStarted || events[1].Event != EventCompleted {
		t.Fatalf("expected events in insertion order, got %+v", events)
	}
}

func TestAuditLog_ForUser_NewestFirstAndLimited(t *testing.T) {
	db := setupTestDB(t)
	log := NewAuditLog(db)

	for i := 0; i < 3; i++ {
		if err := log.Record("task-x", "user-9", EventStarted, "", "", ""); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	events, err := log.ForUser("user-9", 2)
	if err != nil {
		t.Fatalf("ForUser failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected limit of 2 events, got %d", len(events))
	}
	if events[0].ID < events[1].ID {
		t.Fatalf("expected newest-first ordering, got %+v", events)
	}
}

func TestAuditLog_ForTask_EmptyWhenUnknown(t *testing.T) {
	db := setupTestDB(t)
	log := NewAuditLog(db)

	events, err := log.ForTask("does-not-exist")
	if err != nil {
		t.Fatalf("ForTask failed: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no events, got %d", len(events))
	}
}
