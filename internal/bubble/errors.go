package bubble

import (
	"fmt"

	"omr-grader/pkg/geometry"
)

// TemplateGeometryError reports a template whose grid produces malformed
// regions, such as overlapping bubble boxes. It is fatal for the sheet.
type TemplateGeometryError struct {
	Template string
	Reason   string
}

func (e *TemplateGeometryError) Error() string {
	return fmt.Sprintf("template %q geometry: %s", e.Template, e.Reason)
}

// BoundsError reports a bubble region extending outside the canonical frame.
// It is fatal for the sheet.
type BoundsError struct {
	Template string
	Question int
	Option   int
	ROI      geometry.RectInt
	Width    int
	Height   int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("template %q question %d option %d: region (%d,%d %dx%d) outside %dx%d frame",
		e.Template, e.Question, e.Option, e.ROI.X, e.ROI.Y, e.ROI.Width, e.ROI.Height, e.Width, e.Height)
}
