package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"droneaid/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds multiple detections in a single transaction.
func (r *DetectionRepository) InsertBatch(records []model.DetectionRecord) error {
	if len(records) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (event_id, class_name, confidence, x, y, width, height, source, lat, lon, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(rec.EventID, rec.ClassName, rec.Confidence, rec.X, rec.Y, rec.Width, rec.Height,
			rec.Source, rec.Lat, rec.Lon, rec.DetectedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// Recent returns the newest detections first.
func (r *DetectionRepository) Recent(limit int) ([]model.DetectionRecord, error) {
	if limit < 0 {
		limit = 0
	}

	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, event_id, class_name, confidence, x, y, width, height, source, lat, lon, detected_at
		FROM detections ORDER BY detected_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	records := make([]model.DetectionRecord, 0, limit)
	for rows.Next() {
		var (
			rec      model.DetectionRecord
			lat, lon sql.NullFloat64
			ms       int64
		)
		if err := rows.Scan(&rec.ID, &rec.EventID, &rec.ClassName, &rec.Confidence, &rec.X, &rec.Y,
			&rec.Width, &rec.Height, &rec.Source, &lat, &lon, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		if lat.Valid && lon.Valid {
			rec.Lat, rec.Lon = &lat.Float64, &lon.Float64
		}
		rec.DetectedAt = time.UnixMilli(ms)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// ClassCounts returns how many detections each class has.
func (r *DetectionRepository) ClassCounts() (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT class_name, COUNT(*) FROM detections GROUP BY class_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query class counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("failed to scan class count: %w", err)
		}
		counts[name] = n
	}

	return counts, rows.Err()
}

// Count returns the number of logged detections.
func (r *DetectionRepository) Count() (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var n int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM detections`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count detections: %w", err)
	}
	return n, nil
}

// Stats summarizes the log with the latest limit entries.
func (r *DetectionRepository) Stats(limit int) (*model.DetectionStats, error) {
	total, err := r.Count()
	if err != nil {
		return nil, err
	}
	counts, err := r.ClassCounts()
	if err != nil {
		return nil, err
	}
	recent, err := r.Recent(limit)
	if err != nil {
		return nil, err
	}
	return &model.DetectionStats{Total: total, ClassCounts: counts, Recent: recent}, nil
}

// DeleteAll wipes the log.
func (r *DetectionRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections`); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	return nil
}
