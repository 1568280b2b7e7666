package db

import "database/sql"

// Journal records relay events. A nil *Journal or one without a database
// discards everything, so callers never need to check whether journaling
// is enabled.
type Journal struct {
	DB *sql.DB
}

// Log writes an event and returns its id, or 0 when disabled.
func (j *Journal) Log(parentID *int64, eventType string, payload map[string]any) (int64, error) {
	if j == nil || j.DB == nil {
		return 0, nil
	}
	if parentID != nil && *parentID == 0 {
		parentID = nil
	}
	return LogEvent(j.DB, parentID, eventType, payload)
}

// Offset returns the stored polling offset, or 0 when disabled.
func (j *Journal) Offset() (int64, error) {
	if j == nil || j.DB == nil {
		return 0, nil
	}
	return LoadOffset(j.DB)
}

// SetOffset persists the polling offset; a no-op when disabled.
func (j *Journal) SetOffset(offset int64) error {
	if j == nil || j.DB == nil {
		return nil
	}
	return SaveOffset(j.DB, offset)
}
