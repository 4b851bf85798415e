package api

import (
	"encoding/csv"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"omr-grader/internal/datastore"
	"omr-grader/internal/score"
	"omr-grader/pkg/logger"
)

// SubjectAverage is the mean score of one subject across graded sheets.
type SubjectAverage struct {
	Subject     string  `json:"subject"`
	Sheets      int     `json:"sheets"`
	MeanPercent float64 `json:"mean_percent"`
}

// DashboardStats summarizes the service for the operator dashboard.
type DashboardStats struct {
	SheetsByStatus  map[string]int64 `json:"sheets_by_status"`
	Graded          int64            `json:"graded"`
	MeanPercent     float64          `json:"mean_percent"`
	MinPercent      float64          `json:"min_percent"`
	MaxPercent      float64          `json:"max_percent"`
	FlaggedSheets   int64            `json:"flagged_sheets"`
	QueueDepth      int              `json:"queue_depth"`
	SubjectAverages []SubjectAverage `json:"subject_averages"`
}

// DashboardStats handles GET /api/v1/dashboard/stats.
func (c *Controller) DashboardStats(ctx echo.Context) error {
	counts, err := c.store.CountByStatus()
	if err != nil {
		return c.HandleError(ctx, err, "counting sheets failed", http.StatusInternalServerError)
	}
	agg, err := c.store.ResultAggregates()
	if err != nil {
		return c.HandleError(ctx, err, "aggregating results failed", http.StatusInternalServerError)
	}
	subjects, err := c.subjectAverages()
	if err != nil {
		return c.HandleError(ctx, err, "aggregating subjects failed", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, DashboardStats{
		SheetsByStatus:  counts,
		Graded:          agg.Graded,
		MeanPercent:     agg.MeanPercent,
		MinPercent:      agg.MinPercent,
		MaxPercent:      agg.MaxPercent,
		FlaggedSheets:   agg.FlaggedSheets,
		QueueDepth:      c.queue.Len(),
		SubjectAverages: subjects,
	})
}

// subjectAverages walks every stored result detail and averages the subject
// percentages. Rows whose detail no longer parses are skipped, not fatal.
func (c *Controller) subjectAverages() ([]SubjectAverage, error) {
	type acc struct {
		sum    float64
		sheets int
	}
	byName := make(map[string]*acc)

	err := c.store.EachCompletedResult(func(_ datastore.Sheet, res datastore.SheetResult) error {
		var detail score.Result
		if err := json.Unmarshal([]byte(res.Detail), &detail); err != nil {
			return nil
		}
		for _, s := range detail.Subjects {
			a := byName[s.Name]
			if a == nil {
				a = &acc{}
				byName[s.Name] = a
			}
			a.sum += s.Percent
			a.sheets++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]SubjectAverage, 0, len(byName))
	for name, a := range byName {
		out = append(out, SubjectAverage{
			Subject:     name,
			Sheets:      a.sheets,
			MeanPercent: a.sum / float64(a.sheets),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out, nil
}

// ExportResultsCSV streams one summary row per completed sheet.
func (c *Controller) ExportResultsCSV(ctx echo.Context) error {
	ctx.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="results.csv"`)
	ctx.Response().WriteHeader(http.StatusOK)

	w := csv.NewWriter(ctx.Response())
	header := []string{
		"sheet_id", "original_name", "template", "key_version", "run_id",
		"graded_at", "total", "max_total", "percent",
		"answered", "blank", "unresolved", "flagged",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	err := c.store.EachCompletedResult(func(s datastore.Sheet, res datastore.SheetResult) error {
		return w.Write([]string{
			s.ID,
			s.OriginalName,
			s.Template,
			res.KeyVersion,
			res.RunID,
			res.CreatedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(res.Total),
			strconv.Itoa(res.MaxTotal),
			strconv.FormatFloat(res.Percent, 'f', 2, 64),
			strconv.Itoa(res.Answered),
			strconv.Itoa(res.Blank),
			strconv.Itoa(res.Unresolved),
			strconv.Itoa(res.FlaggedCount),
		})
	})
	if err != nil {
		// The status line is already on the wire; all that is left is to
		// cut the stream short and log why.
		c.log.Error(ctx.Request().Context(), "csv export aborted", logger.Err(err))
		return nil
	}

	w.Flush()
	return w.Error()
}
