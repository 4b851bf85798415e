package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"omr-grader/internal/datastore"
	"omr-grader/internal/sheet"
	"omr-grader/internal/template"
	"omr-grader/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// SheetResponse is the JSON shape of one sheet row.
type SheetResponse struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	Template     string    `json:"template"`
	KeyVersion   string    `json:"key_version,omitempty"`
	Status       string    `json:"status"`
	RunID        string    `json:"run_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func sheetResponse(s *datastore.Sheet) SheetResponse {
	return SheetResponse{
		ID:           s.ID,
		OriginalName: s.OriginalName,
		Template:     s.Template,
		KeyVersion:   s.KeyVersion,
		Status:       s.Status,
		RunID:        s.RunID,
		Error:        s.Error,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
	}
}

// AuditEvent is one processing-log row in the audit response.
type AuditEvent struct {
	RunID   string          `json:"run_id"`
	Seq     int             `json:"seq"`
	Stage   string          `json:"stage"`
	Message string          `json:"message"`
	Detail  json.RawMessage `json:"detail,omitempty"`
}

// UploadSheet accepts a multipart scan upload, stores the image and sheet row,
// and queues the sheet for grading. Grading is asynchronous; the response is
// the sheet in its uploaded state.
func (c *Controller) UploadSheet(ctx echo.Context) error {
	header, err := ctx.FormFile("file")
	if err != nil {
		return c.HandleError(ctx, err, "multipart field \"file\" is required", http.StatusBadRequest)
	}
	if err := sheet.ValidateUpload(header.Filename, header.Size); err != nil {
		return c.HandleError(ctx, err, "upload rejected", http.StatusBadRequest)
	}

	tmplName := ctx.FormValue("template")
	if tmplName == "" {
		tmplName = c.defaultTemplate
	}
	if template.Get(tmplName) == nil {
		return c.HandleError(ctx, nil, fmt.Sprintf("unknown template %q", tmplName), http.StatusBadRequest)
	}
	keyVersion := ctx.FormValue("key_version")
	if keyVersion != "" && c.keys.Get(keyVersion) == nil {
		return c.HandleError(ctx, nil, fmt.Sprintf("unknown key version %q", keyVersion), http.StatusBadRequest)
	}

	src, err := header.Open()
	if err != nil {
		return c.HandleError(ctx, err, "reading upload failed", http.StatusBadRequest)
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, sheet.MaxUploadBytes+1))
	if err != nil {
		return c.HandleError(ctx, err, "reading upload failed", http.StatusBadRequest)
	}
	if _, err := sheet.Decode(data); err != nil {
		return c.HandleError(ctx, err, "image decode failed", http.StatusBadRequest)
	}

	id := uuid.NewString()
	path := filepath.Join(c.dataDir, id+strings.ToLower(filepath.Ext(header.Filename)))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return c.HandleError(ctx, err, "storing upload failed", http.StatusInternalServerError)
	}

	row := &datastore.Sheet{
		ID:           id,
		OriginalName: header.Filename,
		ImagePath:    path,
		Template:     tmplName,
		KeyVersion:   keyVersion,
		Status:       datastore.StatusUploaded,
	}
	if err := c.store.SaveSheet(row); err != nil {
		_ = os.Remove(path)
		return c.HandleError(ctx, err, "saving sheet failed", http.StatusInternalServerError)
	}

	if !c.queue.Enqueue(id) {
		_ = c.store.DeleteSheet(id)
		_ = os.Remove(path)
		return c.HandleError(ctx, nil, "processing queue is full, retry later", http.StatusServiceUnavailable)
	}

	c.log.Info(ctx.Request().Context(), "sheet queued",
		logger.String("sheet", id),
		logger.String("template", tmplName),
		logger.String("name", header.Filename))
	return ctx.JSON(http.StatusAccepted, sheetResponse(row))
}

// ListSheets returns sheet rows newest first with limit/offset paging.
func (c *Controller) ListSheets(ctx echo.Context) error {
	limit := queryInt(ctx, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(ctx, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	rows, err := c.store.ListSheets(limit, offset)
	if err != nil {
		return c.HandleError(ctx, err, "listing sheets failed", http.StatusInternalServerError)
	}
	sheets := make([]SheetResponse, 0, len(rows))
	for i := range rows {
		sheets = append(sheets, sheetResponse(&rows[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"sheets": sheets,
		"count":  len(sheets),
		"limit":  limit,
		"offset": offset,
	})
}

// GetSheet returns one sheet row.
func (c *Controller) GetSheet(ctx echo.Context) error {
	row, err := c.store.GetSheet(ctx.Param("id"))
	if errors.Is(err, datastore.ErrNotFound) {
		return c.HandleError(ctx, err, "unknown sheet", http.StatusNotFound)
	}
	if err != nil {
		return c.HandleError(ctx, err, "getting sheet failed", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, sheetResponse(&row))
}

// GetResult serves the full grading result of a completed sheet. The stored
// detail is the grading engine's own JSON, passed through untouched.
func (c *Controller) GetResult(ctx echo.Context) error {
	id := ctx.Param("id")
	res, err := c.store.GetResult(id)
	if errors.Is(err, datastore.ErrNotFound) {
		row, gerr := c.store.GetSheet(id)
		if errors.Is(gerr, datastore.ErrNotFound) {
			return c.HandleError(ctx, gerr, "unknown sheet", http.StatusNotFound)
		}
		if gerr != nil {
			return c.HandleError(ctx, gerr, "getting sheet failed", http.StatusInternalServerError)
		}
		return c.HandleError(ctx, nil,
			fmt.Sprintf("sheet is %s, no result available", row.Status), http.StatusNotFound)
	}
	if err != nil {
		return c.HandleError(ctx, err, "getting result failed", http.StatusInternalServerError)
	}
	return ctx.JSONBlob(http.StatusOK, []byte(res.Detail))
}

// GetAudit returns the per-stage processing log of a sheet, covering failed
// runs as well as completed ones.
func (c *Controller) GetAudit(ctx echo.Context) error {
	id := ctx.Param("id")
	if _, err := c.store.GetSheet(id); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return c.HandleError(ctx, err, "unknown sheet", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "getting sheet failed", http.StatusInternalServerError)
	}

	logs, err := c.store.GetLogs(id)
	if err != nil {
		return c.HandleError(ctx, err, "getting audit log failed", http.StatusInternalServerError)
	}
	events := make([]AuditEvent, 0, len(logs))
	for i := range logs {
		ev := AuditEvent{
			RunID:   logs[i].RunID,
			Seq:     logs[i].Seq,
			Stage:   logs[i].Stage,
			Message: logs[i].Message,
		}
		if logs[i].Detail != "" {
			ev.Detail = json.RawMessage(logs[i].Detail)
		}
		events = append(events, ev)
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"sheet_id": id,
		"events":   events,
	})
}

// GetOverlay serves the annotated review PNG of a graded sheet.
func (c *Controller) GetOverlay(ctx echo.Context) error {
	id := ctx.Param("id")
	if _, err := c.store.GetSheet(id); err != nil {
		if errors.Is(err, datastore.ErrNotFound) {
			return c.HandleError(ctx, err, "unknown sheet", http.StatusNotFound)
		}
		return c.HandleError(ctx, err, "getting sheet failed", http.StatusInternalServerError)
	}

	path := filepath.Join(c.overlayDir, id+".png")
	if _, err := os.Stat(path); err != nil {
		return c.HandleError(ctx, nil, "no overlay for this sheet", http.StatusNotFound)
	}
	return ctx.File(path)
}

func queryInt(ctx echo.Context, name string, fallback int) int {
	raw := ctx.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
