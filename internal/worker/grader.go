package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"

	"omr-grader/internal/align"
	"omr-grader/internal/datastore"
	"omr-grader/internal/overlay"
	"omr-grader/internal/pipeline"
	"omr-grader/internal/resolve"
	"omr-grader/internal/score"
	"omr-grader/internal/sheet"
	"omr-grader/internal/template"
	"omr-grader/internal/versionmark"
	"omr-grader/pkg/logger"
)

// GraderConfig wires a Grader.
type GraderConfig struct {
	Store  datastore.Interface
	Engine *pipeline.Engine
	Keys   *template.KeyStore

	// VersionReader, when set, reads the printed exam version from sheets
	// whose template declares a version box and whose upload named no version.
	VersionReader  *versionmark.Reader
	RegisterParams align.Params

	// OverlayDir, when set, receives one annotated review PNG per graded
	// sheet, named by sheet ID.
	OverlayDir string

	Log logger.Logger
}

// Grader claims queued sheets, runs the pipeline, and persists results,
// processing logs, and review overlays. It implements Processor.
type Grader struct {
	store  datastore.Interface
	engine *pipeline.Engine
	keys   *template.KeyStore

	reader    *versionmark.Reader
	ocrMu     sync.Mutex // the tesseract client is not reentrant
	regParams align.Params

	overlayDir string
	log        logger.Logger
}

// NewGrader validates the wiring and prepares the overlay directory.
func NewGrader(cfg GraderConfig) (*Grader, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("grader requires a datastore")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("grader requires a pipeline engine")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("grader requires an answer key store")
	}
	if cfg.Log == nil {
		cfg.Log = logger.Get().Named("grader")
	}
	if cfg.RegisterParams == (align.Params{}) {
		cfg.RegisterParams = align.DefaultParams()
	}
	if cfg.OverlayDir != "" {
		if err := os.MkdirAll(cfg.OverlayDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating overlay directory: %w", err)
		}
	}
	return &Grader{
		store:      cfg.Store,
		engine:     cfg.Engine,
		keys:       cfg.Keys,
		reader:     cfg.VersionReader,
		regParams:  cfg.RegisterParams,
		overlayDir: cfg.OverlayDir,
		log:        cfg.Log,
	}, nil
}

// Process grades one queued sheet. Domain failures (unknown template, missing
// key, a failed pipeline run) are persisted on the sheet row and do not
// return an error; only infrastructure failures do.
func (g *Grader) Process(ctx context.Context, sheetID string) error {
	claimed, err := g.store.ClaimSheet(sheetID)
	if err != nil {
		return err
	}
	if !claimed {
		g.log.Debug(ctx, "sheet already claimed or gone", logger.String("sheet", sheetID))
		return nil
	}

	row, err := g.store.GetSheet(sheetID)
	if err != nil {
		return err
	}

	tmpl := template.Get(row.Template)
	if tmpl == nil {
		return g.reject(ctx, sheetID, fmt.Sprintf("unknown template %q", row.Template))
	}

	src, err := sheet.Load(row.ImagePath)
	if err != nil {
		return g.reject(ctx, sheetID, fmt.Sprintf("loading image: %v", err))
	}

	if row.KeyVersion == "" {
		if version := g.detectVersion(ctx, src.Image, tmpl); version != "" {
			row.KeyVersion = version
			if err := g.store.SaveSheet(&row); err != nil {
				return err
			}
		}
	}

	key := g.keys.Get(row.KeyVersion)
	if key == nil {
		return g.reject(ctx, sheetID, fmt.Sprintf("no answer key for version %q", row.KeyVersion))
	}
	if err := key.Validate(tmpl); err != nil {
		return g.reject(ctx, sheetID, fmt.Sprintf("answer key: %v", err))
	}

	result, err := g.engine.ProcessSheet(ctx, sheetID, src.Image, tmpl, key)
	if err != nil {
		runID, logs := g.runEvidence(sheetID)
		return g.store.MarkFailed(sheetID, runID, err.Error(), logs)
	}

	g.writeOverlay(ctx, sheetID, src.Image, tmpl, result)

	resultRow, err := resultRow(result)
	if err != nil {
		return err
	}
	_, logs := g.runEvidence(sheetID)
	return g.store.SaveResult(sheetID, resultRow, logs)
}

// reject fails a sheet before the pipeline ever ran, so there is no run
// evidence to attach.
func (g *Grader) reject(ctx context.Context, sheetID, reason string) error {
	g.log.Warn(ctx, "sheet rejected", logger.String("sheet", sheetID), logger.String("reason", reason))
	return g.store.MarkFailed(sheetID, "", reason, nil)
}

// detectVersion reads the printed version code from the registered sheet.
// Detection is best effort: any failure leaves the version empty and the key
// lookup decides the sheet's fate.
func (g *Grader) detectVersion(ctx context.Context, img image.Image, tmpl *template.SheetTemplate) string {
	if g.reader == nil || tmpl.VersionBox == nil {
		return ""
	}

	gray := sheet.GrayMatFromImage(img)
	defer gray.Close()

	reg, err := align.Register(gray, tmpl, g.regParams)
	if err != nil {
		g.log.Warn(ctx, "version detection registration failed", logger.Err(err))
		return ""
	}
	defer reg.Normalized.Close()

	g.ocrMu.Lock()
	code, err := g.reader.Read(reg.Normalized, tmpl)
	g.ocrMu.Unlock()
	if err != nil {
		g.log.Warn(ctx, "version detection failed", logger.Err(err))
		return ""
	}
	if code != "" {
		g.log.Info(ctx, "detected exam version", logger.String("version", code))
	}
	return code
}

// writeOverlay renders the review image. Overlay problems are logged and
// swallowed: the grade already stands on its own.
func (g *Grader) writeOverlay(ctx context.Context, sheetID string, img image.Image, tmpl *template.SheetTemplate, result *score.Result) {
	if g.overlayDir == "" {
		return
	}

	rendered, err := g.engine.RenderOverlay(img, tmpl, result)
	if err != nil {
		g.log.Warn(ctx, "overlay render failed", logger.String("sheet", sheetID), logger.Err(err))
		return
	}
	data, err := overlay.EncodePNG(rendered)
	if err != nil {
		g.log.Warn(ctx, "overlay encode failed", logger.String("sheet", sheetID), logger.Err(err))
		return
	}
	path := filepath.Join(g.overlayDir, sheetID+".png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		g.log.Warn(ctx, "overlay write failed", logger.String("sheet", sheetID), logger.Err(err))
	}
}

// runEvidence pulls the latest audit record for a sheet and flattens it into
// processing log rows.
func (g *Grader) runEvidence(sheetID string) (runID string, logs []datastore.ProcessingLog) {
	records := g.engine.AuditsForSheet(sheetID)
	if len(records) == 0 {
		return "", nil
	}
	rec := records[len(records)-1]

	logs = make([]datastore.ProcessingLog, 0, len(rec.Events))
	for _, e := range rec.Events {
		detail := ""
		if len(e.Fields) > 0 {
			if b, err := json.Marshal(e.Fields); err == nil {
				detail = string(b)
			}
		}
		logs = append(logs, datastore.ProcessingLog{
			SheetID: sheetID,
			RunID:   rec.RunID,
			Seq:     e.Seq,
			Stage:   e.Stage,
			Message: e.Message,
			Detail:  detail,
		})
	}
	return rec.RunID, logs
}

// resultRow flattens a grade into its datastore row.
func resultRow(result *score.Result) (*datastore.SheetResult, error) {
	detail, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}

	var answered, blank, unresolved int
	for _, q := range result.Questions {
		switch q.State {
		case resolve.MarkAnswered:
			answered++
		case resolve.MarkBlank:
			blank++
		case resolve.MarkUnresolved:
			unresolved++
		}
	}

	return &datastore.SheetResult{
		SheetID:      result.SheetID,
		RunID:        result.RunID,
		KeyVersion:   result.KeyVersion,
		Total:        result.Total,
		MaxTotal:     result.MaxTotal,
		Percent:      result.Percent,
		Answered:     answered,
		Blank:        blank,
		Unresolved:   unresolved,
		FlaggedCount: len(result.Flagged),
		Detail:       string(detail),
	}, nil
}
