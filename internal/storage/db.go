package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"mangadexzip/internal/config"
)

// Storage is the gorm/sqlite-backed persistence layer for admin config
// overlays and daily download stats. Task/queue state itself is in-memory
// and never touches this store.
type Storage struct {
	DB *gorm.DB
}

// Open connects to the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*Storage, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.AutoMigrate(&BackendOverlay{}, &DailyStat{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Storage{DB: db}, nil
}

func (s *Storage) Close() error {
	db, err := s.DB.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// UpsertBackend persists a runtime add/edit of a frontend backend.
func (s *Storage) UpsertBackend(id string, b config.Backend) error {
	payload, err := json.Marshal(b)
	if err != nil {
		return err
	}
	overlay := BackendOverlay{ID: id, ConfigJSON: string(payload)}
	return s.DB.Save(&overlay).Error
}

// DeleteBackend removes a runtime backend overlay.
func (s *Storage) DeleteBackend(id string) error {
	return s.DB.Delete(&BackendOverlay{}, "id = ?", id).Error
}

// ListBackends returns every persisted overlay, keyed by backend id.
func (s *Storage) ListBackends() (map[string]config.Backend, error) {
	var rows []BackendOverlay
	if err := s.DB.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]config.Backend, len(rows))
	for _, row := range rows {
		var b config.Backend
		if err := json.Unmarshal([]byte(row.ConfigJSON), &b); err != nil {
			return nil, fmt.Errorf("decoding overlay %s: %w", row.ID, err)
		}
		out[row.ID] = b
	}
	return out, nil
}

// IncrementDailyBytes adds n bytes to today's counter, upserting the row.
func (s *Storage) IncrementDailyBytes(n int64) error {
	return s.bumpToday(func(d *DailyStat) { d.Bytes += n })
}

// IncrementDailyFiles bumps today's completed-file counter by one.
func (s *Storage) IncrementDailyFiles() error {
	return s.bumpToday(func(d *DailyStat) { d.Files++ })
}

func (s *Storage) bumpToday(mutate func(*DailyStat)) error {
	today := time.Now().Format("2006-01-02")
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var d DailyStat
		err := tx.First(&d, "date = ?", today).Error
		if err == gorm.ErrRecordNotFound {
			d = DailyStat{Date: today}
		} else if err != nil {
			return err
		}
		mutate(&d)
		return tx.Save(&d).Error
	})
}

// GetTotalLifetime sums bytes across every recorded day.
func (s *Storage) GetTotalLifetime() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("COALESCE(SUM(bytes), 0)").Scan(&total).Error
	return total, err
}

// GetTotalFiles sums completed files across every recorded day.
func (s *Storage) GetTotalFiles() (int64, error) {
	var total int64
	err := s.DB.Model(&DailyStat{}).Select("COALESCE(SUM(files), 0)").Scan(&total).Error
	return total, err
}

// GetDailyHistory returns stats for each of the last `days` calendar days.
func (s *Storage) GetDailyHistory(days int) ([]DailyStat, error) {
	now := time.Now()
	out := make([]DailyStat, 0, days)
	for i := 0; i < days; i++ {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		var d DailyStat
		err := s.DB.First(&d, "date = ?", date).Error
		if err == gorm.ErrRecordNotFound {
			d = DailyStat{Date: date}
		} else if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
