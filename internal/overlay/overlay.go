// Package overlay renders review images for graded sheets: the registered
// sheet with every question's outcome drawn over its bubble row. Green marks
// a correct answer, red a wrong one, blue the accepted option of a blank
// row, and orange rings an unresolved row for manual review.
package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"omr-grader/internal/resolve"
	"omr-grader/internal/score"
	"omr-grader/internal/template"
	"omr-grader/pkg/colorutil"
	"omr-grader/pkg/geometry"
)

// Params controls annotation drawing.
type Params struct {
	RingGap     float64 // gap between the printed bubble edge and the outcome ring
	RingWidth   float64 // outcome ring thickness
	FillOpacity float64 // translucent fill opacity over the selected bubble
}

// DefaultParams returns the drawing defaults.
func DefaultParams() Params {
	return Params{
		RingGap:     1.5,
		RingWidth:   2.0,
		FillOpacity: 0.35,
	}
}

// Render draws the graded outcomes over a registered canonical-frame sheet
// image. The base image is not modified.
func Render(base *image.Gray, tmpl *template.SheetTemplate, result *score.Result, params Params) *image.RGBA {
	out := image.NewRGBA(base.Bounds())
	draw.Draw(out, out.Bounds(), base, base.Bounds().Min, draw.Src)

	radius := tmpl.Grid.BubbleRadius
	for _, q := range result.Questions {
		switch {
		case q.State == resolve.MarkUnresolved:
			for o := 0; o < tmpl.Options; o++ {
				drawRing(out, tmpl.BubbleCenter(q.Question, o), radius, params, colorutil.Orange)
			}

		case q.State == resolve.MarkBlank:
			for _, accepted := range q.Accepted {
				drawRing(out, tmpl.BubbleCenter(q.Question, accepted), radius, params, colorutil.Blue)
			}

		case q.Correct:
			center := tmpl.BubbleCenter(q.Question, q.Selected)
			drawRing(out, center, radius, params, colorutil.Green)
			fillBubble(out, center, radius, params, colorutil.Green)

		default: // answered, wrong
			center := tmpl.BubbleCenter(q.Question, q.Selected)
			drawRing(out, center, radius, params, colorutil.Red)
			fillBubble(out, center, radius, params, colorutil.Red)
			for _, accepted := range q.Accepted {
				drawRing(out, tmpl.BubbleCenter(q.Question, accepted), radius, params, colorutil.Green)
			}
		}
	}
	return out
}

// EncodePNG serializes an overlay for storage or an HTTP response.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// drawRing paints an annulus just outside the printed bubble outline.
func drawRing(img *image.RGBA, center geometry.Point2D, radius float64, params Params, c color.RGBA) {
	inner := radius + params.RingGap
	outer := inner + params.RingWidth
	reach := int(outer) + 1
	for dy := -reach; dy <= reach; dy++ {
		for dx := -reach; dx <= reach; dx++ {
			d := math.Sqrt(float64(dx*dx + dy*dy))
			if d >= inner && d <= outer {
				setIfInside(img, int(center.X)+dx, int(center.Y)+dy, c)
			}
		}
	}
}

// fillBubble blends a translucent tint over the bubble interior so the
// pencil mark stays visible underneath.
func fillBubble(img *image.RGBA, center geometry.Point2D, radius float64, params Params, c color.RGBA) {
	reach := int(radius) + 1
	for dy := -reach; dy <= reach; dy++ {
		for dx := -reach; dx <= reach; dx++ {
			if math.Sqrt(float64(dx*dx+dy*dy)) > radius-1 {
				continue
			}
			x, y := int(center.X)+dx, int(center.Y)+dy
			if !(image.Point{X: x, Y: y}.In(img.Bounds())) {
				continue
			}
			img.SetRGBA(x, y, colorutil.Blend(img.RGBAAt(x, y), c, params.FillOpacity))
		}
	}
}

func setIfInside(img *image.RGBA, x, y int, c color.RGBA) {
	if (image.Point{X: x, Y: y}.In(img.Bounds())) {
		img.SetRGBA(x, y, c)
	}
}
