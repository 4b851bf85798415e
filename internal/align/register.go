// Package align registers scanned answer sheets onto the canonical template
// frame. It locates the template's fiducial markers in the raw image, fits a
// perspective or affine transform against their expected positions, and
// resamples the sheet so downstream grid math can use template coordinates
// directly.
package align

import (
	"fmt"

	"omr-grader/internal/template"
	"omr-grader/pkg/geometry"

	"gocv.io/x/gocv"
)

// Method identifies the transform model used for registration.
type Method int

const (
	MethodPerspective Method = iota
	MethodAffine
)

func (m Method) String() string {
	switch m {
	case MethodPerspective:
		return "perspective"
	case MethodAffine:
		return "affine"
	default:
		return "unknown"
	}
}

// Params controls fiducial detection and fit acceptance.
type Params struct {
	MinFiducials        int     // markers required to attempt a fit
	ResidualTolerancePx float64 // max mean reprojection error in canonical pixels
	SearchRadiusFrac    float64 // marker search window as a fraction of the larger image dimension
	DarkRatio           float64 // marker threshold relative to local mean intensity
	MarkerAreaMinFrac   float64 // blob area bounds relative to expected marker area
	MarkerAreaMaxFrac   float64
	MarkerAspectMin     float64 // bounding rect aspect bounds for a square marker
	MarkerAspectMax     float64
	MarkerFillMin       float64 // min contour area over bounding rect area
	MarkerScoreMin      float64 // min combined fill and size score
}

// DefaultParams returns detection parameters tuned for 150-300 DPI scans of
// the built-in templates.
func DefaultParams() Params {
	return Params{
		MinFiducials:        3,
		ResidualTolerancePx: 3.0,
		SearchRadiusFrac:    0.08,
		DarkRatio:           0.6,
		MarkerAreaMinFrac:   0.2,
		MarkerAreaMaxFrac:   3.0,
		MarkerAspectMin:     0.5,
		MarkerAspectMax:     2.0,
		MarkerFillMin:       0.65,
		MarkerScoreMin:      0.3,
	}
}

// Result is a registered sheet. Normalized is the resampled canonical-frame
// image; the caller owns it and must Close it.
type Result struct {
	Normalized gocv.Mat
	Transform  geometry.PerspectiveTransform // raw to canonical mapping
	Method     Method
	Residual   float64 // mean reprojection error over detected markers
	Fiducials  []Fiducial
	Missing    []string
}

// Register maps a raw grayscale sheet image onto the template's canonical
// frame. Four or more detected markers give a perspective fit, three give an
// affine fit, fewer fail with a RegistrationError.
func Register(gray gocv.Mat, tmpl *template.SheetTemplate, params Params) (*Result, error) {
	if gray.Empty() {
		return nil, &RegistrationError{Reason: "empty image"}
	}

	found, missing := DetectFiducials(gray, tmpl, params)
	if len(found) < params.MinFiducials {
		return nil, &RegistrationError{
			Found:    len(found),
			Required: params.MinFiducials,
			Missing:  missing,
			Reason: fmt.Sprintf("found %d of %d fiducial markers, need at least %d",
				len(found), len(tmpl.Fiducials), params.MinFiducials),
		}
	}

	srcPoints := make([]geometry.Point2D, len(found))
	dstPoints := make([]geometry.Point2D, len(found))
	for i, f := range found {
		srcPoints[i] = f.Detected
		dstPoints[i] = f.Expected
	}

	var transform geometry.PerspectiveTransform
	var method Method
	if len(found) >= 4 {
		var err error
		transform, err = ComputeHomography(srcPoints, dstPoints)
		if err != nil {
			return nil, &RegistrationError{
				Found:    len(found),
				Required: params.MinFiducials,
				Missing:  missing,
				Reason:   fmt.Sprintf("perspective fit: %v", err),
			}
		}
		method = MethodPerspective
	} else {
		affine, err := ComputeAffineLeastSquares(srcPoints, dstPoints)
		if err != nil {
			return nil, &RegistrationError{
				Found:    len(found),
				Required: params.MinFiducials,
				Missing:  missing,
				Reason:   fmt.Sprintf("affine fit: %v", err),
			}
		}
		transform = affine.ToPerspective()
		method = MethodAffine
	}

	residual := MeanResidual(transform, srcPoints, dstPoints)
	if residual > params.ResidualTolerancePx {
		return nil, &RegistrationError{
			Found:    len(found),
			Required: params.MinFiducials,
			Missing:  missing,
			Residual: residual,
			Reason:   fmt.Sprintf("marker fit residual %.2fpx exceeds tolerance %.2fpx", residual, params.ResidualTolerancePx),
		}
	}

	normalized := WarpPerspective(gray, transform, tmpl.CanonicalWidth, tmpl.CanonicalHeight)
	return &Result{
		Normalized: normalized,
		Transform:  transform,
		Method:     method,
		Residual:   residual,
		Fiducials:  found,
		Missing:    missing,
	}, nil
}
