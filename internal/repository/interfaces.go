package repository

import "droneaid/internal/model"

// DetectionRepository is the session detection log. It lives only as long
// as the process.
type DetectionRepository interface {
	// Create operations
	InsertBatch(records []model.DetectionRecord) error

	// Read operations
	Recent(limit int) ([]model.DetectionRecord, error)
	ClassCounts() (map[string]int, error)
	Count() (int, error)
	Stats(limit int) (*model.DetectionStats, error)

	// Delete operations
	DeleteAll() error
}
