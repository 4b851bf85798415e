// Package datastore persists uploaded sheets, their grading results, and the
// per-stage processing log in a GORM-backed SQLite database.
package datastore

import "time"

// Sheet lifecycle states. A sheet moves uploaded -> processing -> completed
// or error; there is no retry transition, a failed sheet stays failed until
// re-uploaded.
const (
	StatusUploaded   = "uploaded"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// Sheet is one uploaded answer sheet image and its grading state.
type Sheet struct {
	ID           string `gorm:"primaryKey"` // upload UUID
	OriginalName string
	ImagePath    string // stored copy of the upload
	Template     string `gorm:"index"`
	KeyVersion   string // requested or OCR-detected exam version
	Status       string `gorm:"index"`
	Error        string `gorm:"type:text"` // failure reason when status is error
	RunID        string `gorm:"index"`     // last pipeline run
	CreatedAt    time.Time
	UpdatedAt    time.Time

	Result *SheetResult `gorm:"foreignKey:SheetID;constraint:OnDelete:CASCADE"`
}

// SheetResult is the terminal grading outcome of one sheet. Detail carries
// the full per-question result document as JSON; the scalar columns exist so
// exports and dashboards never have to parse it.
type SheetResult struct {
	ID           uint   `gorm:"primaryKey"`
	SheetID      string `gorm:"uniqueIndex;not null"`
	RunID        string
	KeyVersion   string
	Total        int
	MaxTotal     int
	Percent      float64
	Answered     int
	Blank        int
	Unresolved   int
	FlaggedCount int
	Detail       string `gorm:"type:text"`
	CreatedAt    time.Time
}

// ProcessingLog is one audit event of a pipeline run, flattened for queries.
type ProcessingLog struct {
	ID        uint   `gorm:"primaryKey"`
	SheetID   string `gorm:"index"`
	RunID     string `gorm:"index"`
	Seq       int
	Stage     string
	Message   string
	Detail    string `gorm:"type:text"` // event fields as JSON
	CreatedAt time.Time
}
