// Package bubble maps a sheet template onto bubble regions of interest and
// measures the ink signal inside each one. It operates entirely in the
// canonical frame produced by registration, so grid math needs no per-sheet
// scaling.
package bubble

import "omr-grader/pkg/geometry"

// ROI is one bubble region of interest in the canonical frame.
type ROI struct {
	Question int              `json:"question"`
	Option   int              `json:"option"`
	Center   geometry.Point2D `json:"center"`
	Rect     geometry.RectInt `json:"rect"`
}

// Signal is the measured ink evidence for one bubble.
type Signal struct {
	Question int `json:"question"`
	Option   int `json:"option"`

	// FillScore is the inked fraction of the bubble interior after adaptive
	// thresholding, in [0, 1]. The printed rim is excluded so a clean blank
	// bubble scores near zero.
	FillScore float64 `json:"fill_score"`

	// MeanIntensity is the mean gray level of the bubble interior, 0-255.
	MeanIntensity float64 `json:"mean_intensity"`

	// RingContrast is the normalized intensity difference between the
	// surrounding paper annulus and the bubble interior, in [-1, 1].
	// Near zero for blank bubbles, strongly positive for filled ones.
	RingContrast float64 `json:"ring_contrast"`
}

// ScoreVector returns the fill scores of one question's options in option
// order, the form consumed by mark resolution.
func ScoreVector(signals []Signal) []float64 {
	scores := make([]float64, len(signals))
	for i, s := range signals {
		scores[i] = s.FillScore
	}
	return scores
}
