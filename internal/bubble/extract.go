package bubble

import (
	"fmt"
	"image"

	"omr-grader/internal/template"

	"gocv.io/x/gocv"
)

// Extract measures the ink signal of every region in a registered sheet
// image. The image must be grayscale in the template's canonical frame.
// Results are indexed [question][option].
func Extract(normalized gocv.Mat, tmpl *template.SheetTemplate, rois []ROI, params ExtractParams) ([][]Signal, error) {
	if normalized.Empty() {
		return nil, fmt.Errorf("empty image")
	}
	if normalized.Cols() != tmpl.CanonicalWidth || normalized.Rows() != tmpl.CanonicalHeight {
		return nil, fmt.Errorf("image is %dx%d, template canonical frame is %dx%d",
			normalized.Cols(), normalized.Rows(), tmpl.CanonicalWidth, tmpl.CanonicalHeight)
	}

	// Light blur to reduce scanner noise before thresholding
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(normalized, &blurred, image.Point{params.BlurKernel, params.BlurKernel}, 0, 0, gocv.BorderDefault)

	// Adaptive threshold against the local mean makes the ink mask robust to
	// uneven illumination across the sheet. Inverted so ink is white.
	inkMask := gocv.NewMat()
	defer inkMask.Close()
	gocv.AdaptiveThreshold(blurred, &inkMask, 255, gocv.AdaptiveThresholdGaussian,
		gocv.ThresholdBinaryInv, params.BlockSize, params.C)

	signals := make([][]Signal, tmpl.Questions)
	for q := range signals {
		signals[q] = make([]Signal, tmpl.Options)
	}

	discRadius := tmpl.Grid.BubbleRadius - params.RimWidth
	if discRadius < 1 {
		discRadius = 1
	}

	for _, roi := range rois {
		sig := measure(inkMask, blurred, roi, discRadius, tmpl.Grid.BubbleRadius, params)
		signals[roi.Question][roi.Option] = sig
	}

	return signals, nil
}

// measure samples the ink mask and gray image around one bubble center.
func measure(inkMask, gray gocv.Mat, roi ROI, discRadius, bubbleRadius float64, params ExtractParams) Signal {
	rows, cols := gray.Rows(), gray.Cols()
	cx, cy := int(roi.Center.X+0.5), int(roi.Center.Y+0.5)

	// Inked fraction and mean intensity over the bubble interior
	r := int(discRadius + 0.5)
	if r < 1 {
		r = 1
	}
	var inked, discCount int
	var discSum float64
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy > r*r {
				continue
			}
			px, py := cx+dx, cy+dy
			if px < 0 || px >= cols || py < 0 || py >= rows {
				continue
			}
			if inkMask.GetUCharAt(py, px) > 0 {
				inked++
			}
			discSum += float64(gray.GetUCharAt(py, px))
			discCount++
		}
	}

	// Paper annulus just outside the printed rim
	innerR := int(bubbleRadius + params.AnnulusInner + 0.5)
	outerR := int(bubbleRadius + params.AnnulusOuter + 0.5)
	var ringSum float64
	var ringCount int
	for dy := -outerR; dy <= outerR; dy++ {
		for dx := -outerR; dx <= outerR; dx++ {
			d2 := dx*dx + dy*dy
			if d2 < innerR*innerR || d2 > outerR*outerR {
				continue
			}
			px, py := cx+dx, cy+dy
			if px < 0 || px >= cols || py < 0 || py >= rows {
				continue
			}
			ringSum += float64(gray.GetUCharAt(py, px))
			ringCount++
		}
	}

	sig := Signal{Question: roi.Question, Option: roi.Option}
	if discCount > 0 {
		sig.FillScore = float64(inked) / float64(discCount)
		sig.MeanIntensity = discSum / float64(discCount)
	}
	if ringCount > 0 && discCount > 0 {
		sig.RingContrast = (ringSum/float64(ringCount) - sig.MeanIntensity) / 255.0
	}
	return sig
}

// Patch copies the gray pixels of one region in row-major order, for
// classifiers that want raw appearance in addition to fill scores.
func Patch(normalized gocv.Mat, roi ROI) []uint8 {
	rows, cols := normalized.Rows(), normalized.Cols()
	patch := make([]uint8, 0, roi.Rect.Width*roi.Rect.Height)
	for y := roi.Rect.Y; y < roi.Rect.Y+roi.Rect.Height; y++ {
		for x := roi.Rect.X; x < roi.Rect.X+roi.Rect.Width; x++ {
			if x < 0 || x >= cols || y < 0 || y >= rows {
				patch = append(patch, 255)
				continue
			}
			patch = append(patch, normalized.GetUCharAt(y, x))
		}
	}
	return patch
}
