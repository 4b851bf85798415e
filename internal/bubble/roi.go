package bubble

import (
	"fmt"
	"math"

	"omr-grader/internal/template"
	"omr-grader/pkg/geometry"
)

// ROIPad is the margin in pixels added around the bubble radius when forming
// each region, so slightly misregistered marks still land inside.
const ROIPad = 2

// MapGrid projects the template grid into one region per (question, option)
// pair, in question-major order. Every region must lie inside the canonical
// frame and regions must not overlap; violations are fatal for the sheet.
func MapGrid(tmpl *template.SheetTemplate) ([]ROI, error) {
	if err := tmpl.Validate(); err != nil {
		return nil, &TemplateGeometryError{Template: tmpl.Name(), Reason: err.Error()}
	}

	half := int(math.Ceil(tmpl.Grid.BubbleRadius)) + ROIPad
	rois := make([]ROI, 0, tmpl.Questions*tmpl.Options)

	for q := 0; q < tmpl.Questions; q++ {
		for o := 0; o < tmpl.Options; o++ {
			center := tmpl.BubbleCenter(q, o)
			rect := geometry.RectInt{
				X:      int(math.Round(center.X)) - half,
				Y:      int(math.Round(center.Y)) - half,
				Width:  2 * half,
				Height: 2 * half,
			}
			if !rect.Inside(tmpl.CanonicalWidth, tmpl.CanonicalHeight) {
				return nil, &BoundsError{
					Template: tmpl.Name(),
					Question: q,
					Option:   o,
					ROI:      rect,
					Width:    tmpl.CanonicalWidth,
					Height:   tmpl.CanonicalHeight,
				}
			}
			rois = append(rois, ROI{Question: q, Option: o, Center: center, Rect: rect})
		}
	}

	for i := range rois {
		for j := i + 1; j < len(rois); j++ {
			if rois[i].Rect.Intersects(rois[j].Rect) {
				return nil, &TemplateGeometryError{
					Template: tmpl.Name(),
					Reason: fmt.Sprintf("regions overlap: question %d option %d and question %d option %d",
						rois[i].Question, rois[i].Option, rois[j].Question, rois[j].Option),
				}
			}
		}
	}

	return rois, nil
}
