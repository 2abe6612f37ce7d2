package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/eleven-am/stt-gateway/internal/history"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestPruneHistory(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	store := ProvideHistoryStore(db)
	if err := RunMigrations(store); err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	for id, started := range map[string]time.Time{
		"old":   now.Add(-48 * time.Hour),
		"fresh": now.Add(-time.Hour),
	} {
		if err := store.Create(ctx, &history.Record{
			ID:        id,
			Provider:  "deepgram",
			Kind:      "streaming",
			State:     "closed",
			StartedAt: started,
			EndedAt:   started.Add(time.Minute),
		}); err != nil {
			t.Fatalf("Create(%s): %v", id, err)
		}
	}

	pruneHistory(ctx, store, 24*time.Hour, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := store.GetByID(ctx, "old"); err == nil {
		t.Error("expected old record to be pruned")
	}
	if _, err := store.GetByID(ctx, "fresh"); err != nil {
		t.Errorf("fresh record should survive: %v", err)
	}
}

func TestProvideHistoryStore_NilDatabase(t *testing.T) {
	if store := ProvideHistoryStore(nil); store != nil {
		t.Fatal("expected nil store without a database")
	}
	if err := RunMigrations(nil); err != nil {
		t.Fatalf("RunMigrations(nil) = %v", err)
	}
}
