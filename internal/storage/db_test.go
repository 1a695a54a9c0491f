package storage

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mangadexzip/internal/config"
)

func setupTestDB(t *testing.T) *Storage {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	if err := db.AutoMigrate(&BackendOverlay{}, &DailyStat{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return &Storage{DB: db}
}

func TestBackendOverlayCRUD(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	b := config.Backend{URL: "http://worker-1:8080", Priority: 1}
	if err := s.UpsertBackend("worker-1", b); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	backends, err := s.ListBackends()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got, ok := backends["worker-1"]
	if !ok {
		t.Fatalf("expected worker-1 in overlay, got %v", backends)
	}
	if got.URL != b.URL || got.Priority != b.Priority {
		t.Errorf("got %+v, want %+v", got, b)
	}

	b.Priority = 5
	if err := s.UpsertBackend("worker-1", b); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	backends, _ = s.ListBackends()
	if backends["worker-1"].Priority != 5 {
		t.Errorf("expected updated priority 5, got %d", backends["worker-1"].Priority)
	}

	if err := s.DeleteBackend("worker-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	backends, _ = s.ListBackends()
	if _, ok := backends["worker-1"]; ok {
		t.Errorf("expected worker-1 removed after delete")
	}
}

func TestDailyStats(t *testing.T) {
	s := setupTestDB(t)
	defer s.Close()

	if err := s.IncrementDailyBytes(100); err != nil {
		t.Fatalf("increment bytes: %v", err)
	}
	if err := s.IncrementDailyBytes(100); err != nil {
		t.Fatalf("increment bytes again: %v", err)
	}

	total, err := s.GetTotalLifetime()
	if err != nil {
		t.Fatalf("get total: %v", err)
	}
	if total != 200 {
		t.Errorf("expected 200 bytes, got %d", total)
	}

	if err := s.IncrementDailyFiles(); err != nil {
		t.Fatalf("increment files: %v", err)
	}
	if err := s.IncrementDailyFiles(); err != nil {
		t.Fatalf("increment files again: %v", err)
	}

	files, err := s.GetTotalFiles()
	if err != nil {
		t.Fatalf("get files: %v", err)
	}
	if files != 2 {
		t.Errorf("expected 2 files, got %d", files)
	}

	history, err := s.GetDailyHistory(7)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 7 {
		t.Fatalf("expected 7 days of history, got %d", len(history))
	}

	today := time.Now().Format("2006-01-02")
	found := false
	for _, stat := range history {
		if stat.Date == today {
			found = true
			if stat.Bytes != 200 {
				t.Errorf("expected 200 bytes for today, got %d", stat.Bytes)
			}
			if stat.Files != 2 {
				t.Errorf("expected 2 files for today, got %d", stat.Files)
			}
		}
	}
	if !found {
		t.Errorf("today's stats not found in history")
	}
}
