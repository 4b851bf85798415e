package datastore

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound reports a lookup that matched no row.
var ErrNotFound = errors.New("datastore: not found")

// Interface abstracts the underlying database so handlers and workers do not
// depend on GORM directly.
type Interface interface {
	Open() error
	Close() error

	SaveSheet(sheet *Sheet) error
	GetSheet(id string) (Sheet, error)
	ListSheets(limit, offset int) ([]Sheet, error)
	ClaimSheet(id string) (bool, error)
	DeleteSheet(id string) error
	ReleaseProcessing() (int64, error)
	SheetIDsByStatus(status string) ([]string, error)

	SaveResult(sheetID string, result *SheetResult, logs []ProcessingLog) error
	MarkFailed(sheetID, runID, reason string, logs []ProcessingLog) error
	GetResult(sheetID string) (SheetResult, error)
	GetLogs(sheetID string) ([]ProcessingLog, error)

	CountByStatus() (map[string]int64, error)
	ResultAggregates() (Aggregates, error)
	EachCompletedResult(fn func(Sheet, SheetResult) error) error
}

// DataStore implements Interface over a GORM database handle.
type DataStore struct {
	DB *gorm.DB
}

// SaveSheet inserts or updates one sheet row.
func (ds *DataStore) SaveSheet(sheet *Sheet) error {
	if err := ds.DB.Save(sheet).Error; err != nil {
		return fmt.Errorf("saving sheet %s: %w", sheet.ID, err)
	}
	return nil
}

// GetSheet retrieves a sheet by its upload ID.
func (ds *DataStore) GetSheet(id string) (Sheet, error) {
	var sheet Sheet
	err := ds.DB.First(&sheet, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Sheet{}, fmt.Errorf("sheet %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Sheet{}, fmt.Errorf("getting sheet %s: %w", id, err)
	}
	return sheet, nil
}

// ListSheets returns sheets newest first.
func (ds *DataStore) ListSheets(limit, offset int) ([]Sheet, error) {
	var sheets []Sheet
	err := ds.DB.Order("created_at DESC").Limit(limit).Offset(offset).Find(&sheets).Error
	if err != nil {
		return nil, fmt.Errorf("listing sheets: %w", err)
	}
	return sheets, nil
}

// ClaimSheet flips one uploaded sheet to processing. It reports false when
// the sheet is missing or already claimed, so a requeued ID grades only once.
func (ds *DataStore) ClaimSheet(id string) (bool, error) {
	res := ds.DB.Model(&Sheet{}).
		Where("id = ? AND status = ?", id, StatusUploaded).
		Update("status", StatusProcessing)
	if res.Error != nil {
		return false, fmt.Errorf("claiming sheet %s: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteSheet removes a sheet row, used to roll back an upload that could not
// be queued. The stored image file is the caller's to clean up.
func (ds *DataStore) DeleteSheet(id string) error {
	if err := ds.DB.Delete(&Sheet{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("deleting sheet %s: %w", id, err)
	}
	return nil
}

// ReleaseProcessing flips sheets stuck in processing back to uploaded. A crash
// between claim and persist leaves such orphans; releasing them on startup
// lets the queue pick them up again.
func (ds *DataStore) ReleaseProcessing() (int64, error) {
	res := ds.DB.Model(&Sheet{}).
		Where("status = ?", StatusProcessing).
		Update("status", StatusUploaded)
	if res.Error != nil {
		return 0, fmt.Errorf("releasing processing sheets: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// SheetIDsByStatus returns the IDs of sheets in one lifecycle state, oldest
// first.
func (ds *DataStore) SheetIDsByStatus(status string) ([]string, error) {
	var ids []string
	err := ds.DB.Model(&Sheet{}).
		Where("status = ?", status).
		Order("created_at").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("listing %s sheets: %w", status, err)
	}
	return ids, nil
}

// SaveResult stores the grading outcome, its processing log, and the
// completed status in one transaction.
func (ds *DataStore) SaveResult(sheetID string, result *SheetResult, logs []ProcessingLog) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(result).Error; err != nil {
			return fmt.Errorf("saving result for sheet %s: %w", sheetID, err)
		}
		for i := range logs {
			if err := tx.Create(&logs[i]).Error; err != nil {
				return fmt.Errorf("saving processing log for sheet %s: %w", sheetID, err)
			}
		}
		err := tx.Model(&Sheet{}).Where("id = ?", sheetID).Updates(map[string]any{
			"status": StatusCompleted,
			"run_id": result.RunID,
			"error":  "",
		}).Error
		if err != nil {
			return fmt.Errorf("completing sheet %s: %w", sheetID, err)
		}
		return nil
	})
}

// MarkFailed records a failed run and its log in one transaction.
func (ds *DataStore) MarkFailed(sheetID, runID, reason string, logs []ProcessingLog) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		for i := range logs {
			if err := tx.Create(&logs[i]).Error; err != nil {
				return fmt.Errorf("saving processing log for sheet %s: %w", sheetID, err)
			}
		}
		err := tx.Model(&Sheet{}).Where("id = ?", sheetID).Updates(map[string]any{
			"status": StatusError,
			"run_id": runID,
			"error":  reason,
		}).Error
		if err != nil {
			return fmt.Errorf("failing sheet %s: %w", sheetID, err)
		}
		return nil
	})
}

// GetResult retrieves the grading result of a completed sheet.
func (ds *DataStore) GetResult(sheetID string) (SheetResult, error) {
	var result SheetResult
	err := ds.DB.First(&result, "sheet_id = ?", sheetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SheetResult{}, fmt.Errorf("result for sheet %s: %w", sheetID, ErrNotFound)
	}
	if err != nil {
		return SheetResult{}, fmt.Errorf("getting result for sheet %s: %w", sheetID, err)
	}
	return result, nil
}

// GetLogs returns a sheet's processing events in run order.
func (ds *DataStore) GetLogs(sheetID string) ([]ProcessingLog, error) {
	var logs []ProcessingLog
	err := ds.DB.Where("sheet_id = ?", sheetID).Order("run_id, seq").Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("getting logs for sheet %s: %w", sheetID, err)
	}
	return logs, nil
}

// CountByStatus tallies sheets per lifecycle state.
func (ds *DataStore) CountByStatus() (map[string]int64, error) {
	var rows []struct {
		Status string
		Count  int64
	}
	err := ds.DB.Model(&Sheet{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting sheets: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// Aggregates summarizes all completed grading results.
type Aggregates struct {
	Graded        int64
	MeanPercent   float64
	MinPercent    float64
	MaxPercent    float64
	FlaggedSheets int64 // sheets with at least one flagged question
}

// ResultAggregates computes dashboard aggregates in the database.
func (ds *DataStore) ResultAggregates() (Aggregates, error) {
	var agg Aggregates
	err := ds.DB.Model(&SheetResult{}).
		Select("count(*) as graded, coalesce(avg(percent), 0) as mean_percent, coalesce(min(percent), 0) as min_percent, coalesce(max(percent), 0) as max_percent").
		Scan(&agg).Error
	if err != nil {
		return Aggregates{}, fmt.Errorf("aggregating results: %w", err)
	}
	err = ds.DB.Model(&SheetResult{}).
		Where("flagged_count > 0").
		Count(&agg.FlaggedSheets).Error
	if err != nil {
		return Aggregates{}, fmt.Errorf("counting flagged sheets: %w", err)
	}
	return agg, nil
}

// EachCompletedResult streams completed sheets with their results, oldest
// first, without loading the whole table. Used by the CSV export.
func (ds *DataStore) EachCompletedResult(fn func(Sheet, SheetResult) error) error {
	var results []SheetResult
	batch := ds.DB.Order("created_at").FindInBatches(&results, 100, func(tx *gorm.DB, _ int) error {
		for i := range results {
			var sheet Sheet
			if err := ds.DB.First(&sheet, "id = ?", results[i].SheetID).Error; err != nil {
				return fmt.Errorf("sheet %s for result: %w", results[i].SheetID, err)
			}
			if err := fn(sheet, results[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if batch.Error != nil {
		return fmt.Errorf("walking results: %w", batch.Error)
	}
	return nil
}
