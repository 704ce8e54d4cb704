package db

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/onnwee/voicecord/record"
)

// testDB opens the database from TEST_PG_DSN, skipping when unset so the
// suite needs no Postgres locally.
func testDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	if err := Migrate(context.Background(), database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return database
}

func TestInsertAndCount(t *testing.T) {
	database := testDB(t)
	ctx := context.Background()
	store := NewStore(database)

	before, err := store.RecordingCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	err = store.InsertRecording(ctx, record.HistoryRow{
		UserKey:     "test-user",
		Username:    "Tester",
		Duration:    12.5,
		GuildName:   "Test Guild",
		ChannelName: "general",
		DeliveredAt: time.Now(),
		Ordinal:     before + 1,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	after, err := store.RecordingCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if after != before+1 {
		t.Fatalf("count = %d, want %d", after, before+1)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	database := testDB(t)
	for i := 0; i < 2; i++ {
		if err := Migrate(context.Background(), database); err != nil {
			t.Fatalf("migrate pass %d: %v", i, err)
		}
	}
}

func TestInsertFillsDeliveredAt(t *testing.T) {
	database := testDB(t)
	store := NewStore(database)
	err := store.InsertRecording(context.Background(), record.HistoryRow{
		UserKey:  "test-user-2",
		Username: "Tester",
		Duration: 1.0,
	})
	if err != nil {
		t.Fatalf("insert with zero DeliveredAt: %v", err)
	}
	var delivered time.Time
	err = database.QueryRowContext(context.Background(),
		`SELECT delivered_at FROM recordings WHERE user_key = 'test-user-2' ORDER BY id DESC LIMIT 1`).Scan(&delivered)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if delivered.IsZero() {
		t.Fatal("delivered_at not defaulted")
	}
}
