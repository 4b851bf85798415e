package align

import (
	"image"

	"omr-grader/internal/template"
	"omr-grader/pkg/geometry"

	"gocv.io/x/gocv"
)

// Fiducial is one detected registration marker.
type Fiducial struct {
	Name     string
	Expected geometry.Point2D // canonical-frame position from the template
	Detected geometry.Point2D // raw-image position
	Score    float64
}

// DetectFiducials locates the template's registration markers in a grayscale
// raw image. Each marker is searched for in a window around its expected
// position scaled from canonical to raw coordinates. Markers that cannot be
// found are returned by name in missing.
func DetectFiducials(gray gocv.Mat, tmpl *template.SheetTemplate, params Params) (found []Fiducial, missing []string) {
	rawW, rawH := gray.Cols(), gray.Rows()
	scaleX := float64(rawW) / float64(tmpl.CanonicalWidth)
	scaleY := float64(rawH) / float64(tmpl.CanonicalHeight)

	maxDim := rawW
	if rawH > maxDim {
		maxDim = rawH
	}
	searchRadius := int(params.SearchRadiusFrac * float64(maxDim))

	for _, spec := range tmpl.Fiducials {
		expected := spec.Center()
		rawGuess := geometry.Point2D{X: expected.X * scaleX, Y: expected.Y * scaleY}
		markerSize := spec.Size * (scaleX + scaleY) / 2

		minRadius := int(markerSize * 2)
		radius := searchRadius
		if radius < minRadius {
			radius = minRadius
		}

		detected, score, ok := findMarkerInRegion(gray, rawGuess, radius, markerSize, params)
		if !ok {
			missing = append(missing, spec.Name)
			continue
		}
		found = append(found, Fiducial{
			Name:     spec.Name,
			Expected: expected,
			Detected: detected,
			Score:    score,
		})
	}
	return found, missing
}

// findMarkerInRegion searches a window of the image for a solid dark square
// of roughly the given size and returns its center.
func findMarkerInRegion(gray gocv.Mat, center geometry.Point2D, radius int, markerSize float64, params Params) (geometry.Point2D, float64, bool) {
	x0 := clampInt(int(center.X)-radius, 0, gray.Cols()-1)
	y0 := clampInt(int(center.Y)-radius, 0, gray.Rows()-1)
	x1 := clampInt(int(center.X)+radius, 1, gray.Cols())
	y1 := clampInt(int(center.Y)+radius, 1, gray.Rows())
	if x1-x0 < 3 || y1-y0 < 3 {
		return geometry.Point2D{}, 0, false
	}

	region := gray.Region(image.Rect(x0, y0, x1, y1))
	defer region.Close()

	// Threshold relative to the local mean. The window is mostly paper, so
	// the marker sits well below the mean intensity.
	mean := region.Mean()
	threshold := float32(params.DarkRatio * mean.Val1)

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(region, &binary, threshold, 255, gocv.ThresholdBinaryInv)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	expectedArea := markerSize * markerSize
	bestScore := 0.0
	var bestCenter geometry.Point2D

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < params.MarkerAreaMinFrac*expectedArea || area > params.MarkerAreaMaxFrac*expectedArea {
			continue
		}

		rect := gocv.BoundingRect(contour)
		if rect.Dx() == 0 || rect.Dy() == 0 {
			continue
		}
		aspect := float64(rect.Dx()) / float64(rect.Dy())
		if aspect < params.MarkerAspectMin || aspect > params.MarkerAspectMax {
			continue
		}

		// A registration marker is a filled square, so the contour should
		// cover most of its bounding rect.
		fill := area / float64(rect.Dx()*rect.Dy())
		if fill < params.MarkerFillMin {
			continue
		}

		// Prefer blobs whose area matches the expected marker size.
		areaFit := area / expectedArea
		if areaFit > 1 {
			areaFit = 1 / areaFit
		}
		score := fill * areaFit
		if score > bestScore {
			bestScore = score
			bestCenter = geometry.Point2D{
				X: float64(x0+rect.Min.X) + float64(rect.Dx())/2,
				Y: float64(y0+rect.Min.Y) + float64(rect.Dy())/2,
			}
		}
	}

	if bestScore < params.MarkerScoreMin {
		return geometry.Point2D{}, 0, false
	}
	return bestCenter, bestScore, true
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
