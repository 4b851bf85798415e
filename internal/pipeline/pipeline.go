// Package pipeline runs scanned sheets through the full grading sequence:
// registration onto the canonical frame, bubble signal extraction, mark
// resolution, and scoring against an answer key. Every run leaves an audit
// record; a failed stage fails the whole sheet with no partial grade.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"

	"omr-grader/internal/align"
	"omr-grader/internal/audit"
	"omr-grader/internal/bubble"
	"omr-grader/internal/overlay"
	"omr-grader/internal/resolve"
	"omr-grader/internal/score"
	"omr-grader/internal/sheet"
	"omr-grader/internal/template"
	"omr-grader/pkg/logger"
	"omr-grader/pkg/metrics"
)

// Config bundles the stage parameters of one engine.
type Config struct {
	RegisterParams align.Params
	ExtractParams  bubble.ExtractParams
	Thresholds     resolve.Thresholds
	AuditCapacity  int // retained audit records, oldest evicted first
}

// DefaultConfig returns the stage defaults used by the service.
func DefaultConfig() Config {
	return Config{
		RegisterParams: align.DefaultParams(),
		ExtractParams:  bubble.DefaultExtractParams(),
		Thresholds:     resolve.DefaultThresholds(),
		AuditCapacity:  256,
	}
}

// Engine wires the pipeline stages together. It is safe for concurrent use;
// each Process call works on its own images and audit record.
type Engine struct {
	cfg        Config
	classifier resolve.Classifier
	resolver   *resolve.Resolver
	audits     *audit.Store
	log        logger.Logger
}

// NewEngine builds an engine. classifier may be nil, in which case ambiguous
// questions stay unresolved.
func NewEngine(cfg Config, classifier resolve.Classifier, log logger.Logger) (*Engine, error) {
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("resolver thresholds: %w", err)
	}
	if cfg.AuditCapacity < 1 {
		cfg.AuditCapacity = DefaultConfig().AuditCapacity
	}
	if log == nil {
		log = logger.Get()
	}
	return &Engine{
		cfg:        cfg,
		classifier: classifier,
		resolver:   resolve.NewResolver(cfg.Thresholds, classifier),
		audits:     audit.NewStore(cfg.AuditCapacity),
		log:        log,
	}, nil
}

// Process grades one decoded sheet image against a template and answer key.
// On success the result carries a fresh run ID; on any stage failure no
// partial result is returned and the sealed audit record holds the error.
func (e *Engine) Process(ctx context.Context, img image.Image, tmpl *template.SheetTemplate, key *template.AnswerKey) (*score.Result, error) {
	return e.ProcessSheet(ctx, "", img, tmpl, key)
}

// ProcessSheet is Process with a caller-supplied sheet identifier attached
// to the result and the audit record.
func (e *Engine) ProcessSheet(ctx context.Context, sheetID string, img image.Image, tmpl *template.SheetTemplate, key *template.AnswerKey) (*score.Result, error) {
	if img == nil {
		return nil, errors.New("no image to process")
	}
	if tmpl == nil {
		return nil, errors.New("no sheet template")
	}
	if key == nil {
		return nil, errors.New("no answer key")
	}

	runID := uuid.NewString()
	rec := audit.NewRecord(runID, sheetID, tmpl.Name(), key.Version())
	e.audits.Put(rec)
	started := time.Now()

	result, err := e.run(ctx, rec, img, tmpl, key)
	rec.Seal(err)

	if err != nil {
		metrics.RecordSheetProcessed(metrics.StatusFailed)
		e.log.Error(ctx, "sheet processing failed",
			logger.String("run", runID),
			logger.String("sheet", sheetID),
			logger.String("template", tmpl.Name()),
			logger.Err(err))
		return nil, err
	}

	result.RunID = runID
	result.SheetID = sheetID
	metrics.RecordSheetProcessed(metrics.StatusCompleted)
	metrics.RecordGradePercent(result.Percent)
	e.log.Info(ctx, "sheet graded",
		logger.String("run", runID),
		logger.String("sheet", sheetID),
		logger.String("template", tmpl.Name()),
		logger.Int("total", result.Total),
		logger.Float64("percent", result.Percent),
		logger.Int("flagged", len(result.Flagged)),
		logger.Duration("took", time.Since(started)))
	return result, nil
}

// run executes the stages against an open audit record. The caller seals it.
func (e *Engine) run(ctx context.Context, rec *audit.Record, img image.Image, tmpl *template.SheetTemplate, key *template.AnswerKey) (*score.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gray := sheet.GrayMatFromImage(img)
	defer gray.Close()

	stageStart := time.Now()
	reg, err := align.Register(gray, tmpl, e.cfg.RegisterParams)
	if err != nil {
		metrics.RecordRegistrationFailure()
		_ = rec.Append(audit.StageRegister, "registration failed", map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("registration: %w", err)
	}
	defer reg.Normalized.Close()
	metrics.RecordStageLatency(audit.StageRegister, msSince(stageStart))
	_ = rec.Append(audit.StageRegister, "sheet registered", map[string]any{
		"method":          reg.Method.String(),
		"residual_px":     reg.Residual,
		"markers_found":   len(reg.Fiducials),
		"markers_missing": reg.Missing,
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageStart = time.Now()
	rois, err := bubble.MapGrid(tmpl)
	if err != nil {
		_ = rec.Append(audit.StageMapGrid, "grid mapping failed", map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("grid mapping: %w", err)
	}
	metrics.RecordStageLatency(audit.StageMapGrid, msSince(stageStart))
	_ = rec.Append(audit.StageMapGrid, "grid mapped", map[string]any{
		"regions": len(rois),
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageStart = time.Now()
	signals, err := bubble.Extract(reg.Normalized, tmpl, rois, e.cfg.ExtractParams)
	if err != nil {
		_ = rec.Append(audit.StageExtract, "extraction failed", map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("extraction: %w", err)
	}
	metrics.RecordStageLatency(audit.StageExtract, msSince(stageStart))
	_ = rec.Append(audit.StageExtract, "signals extracted", map[string]any{
		"questions": len(signals),
	})

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageStart = time.Now()
	patch := func(question, option int) []uint8 {
		return bubble.Patch(reg.Normalized, rois[question*tmpl.Options+option])
	}
	marks := e.resolver.ResolveSheet(signals, patch)
	metrics.RecordStageLatency(audit.StageResolve, msSince(stageStart))
	e.recordResolution(rec, marks)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stageStart = time.Now()
	result, err := score.Grade(tmpl, key, marks)
	if err != nil {
		_ = rec.Append(audit.StageScore, "grading failed", map[string]any{
			"error": err.Error(),
		})
		return nil, fmt.Errorf("grading: %w", err)
	}
	metrics.RecordStageLatency(audit.StageScore, msSince(stageStart))
	_ = rec.Append(audit.StageScore, "sheet graded", map[string]any{
		"total":     result.Total,
		"max_total": result.MaxTotal,
		"percent":   result.Percent,
		"flagged":   len(result.Flagged),
	})
	return result, nil
}

// recordResolution writes the resolve stage event and counts mark states.
func (e *Engine) recordResolution(rec *audit.Record, marks []resolve.Mark) {
	var answered, blank, unresolved int
	var flagged []int
	for _, m := range marks {
		switch m.State {
		case resolve.MarkAnswered:
			answered++
		case resolve.MarkBlank:
			blank++
		case resolve.MarkUnresolved:
			unresolved++
			flagged = append(flagged, m.Question)
		}
		if m.Method == resolve.MethodClassifier {
			metrics.RecordClassifierDecision(true)
		} else if m.State == resolve.MarkUnresolved && e.classifier != nil {
			metrics.RecordClassifierDecision(false)
		}
	}
	metrics.RecordQuestions("answered", answered)
	metrics.RecordQuestions("blank", blank)
	metrics.RecordQuestions("unresolved", unresolved)

	fields := map[string]any{
		"answered":   answered,
		"blank":      blank,
		"unresolved": unresolved,
	}
	if len(flagged) > 0 {
		fields["flagged_questions"] = flagged
	}
	_ = rec.Append(audit.StageResolve, "marks resolved", fields)
}

// RenderOverlay re-registers the raw sheet image and draws the graded
// outcomes over it for manual review.
func (e *Engine) RenderOverlay(img image.Image, tmpl *template.SheetTemplate, result *score.Result) (*image.RGBA, error) {
	if img == nil || tmpl == nil || result == nil {
		return nil, errors.New("overlay needs the raw image, template, and result")
	}

	gray := sheet.GrayMatFromImage(img)
	defer gray.Close()

	reg, err := align.Register(gray, tmpl, e.cfg.RegisterParams)
	if err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}
	defer reg.Normalized.Close()

	base := sheet.GrayImageFromMat(reg.Normalized)
	return overlay.Render(base, tmpl, result, overlay.DefaultParams()), nil
}

// GetAuditRecord returns the retained audit record for a run ID.
func (e *Engine) GetAuditRecord(runID string) (*audit.Record, bool) {
	return e.audits.Get(runID)
}

// AuditsForSheet returns the retained audit records for a sheet, oldest
// first. Failed runs are only discoverable this way.
func (e *Engine) AuditsForSheet(sheetID string) []*audit.Record {
	return e.audits.FindBySheet(sheetID)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}
