// Package sheetgen renders synthetic filled answer sheets. The service uses
// it for demos and load tests; the command line tools use it to produce
// pipeline verification fixtures with known ground truth.
package sheetgen

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand"

	"omr-grader/internal/align"
	"omr-grader/internal/sheet"
	"omr-grader/internal/template"
	"omr-grader/pkg/geometry"

	xdraw "golang.org/x/image/draw"
)

// Options controls the canonical-frame rendering.
type Options struct {
	Marks      map[int]int // question -> filled option
	ExtraMarks map[int]int // second marks for ambiguity fixtures
	Background uint8       // paper brightness
	RingLevel  uint8       // printed bubble outline
	InkLevel   uint8       // pencil mark darkness
	MarkerInk  uint8       // fiducial marker darkness
}

// DefaultOptions returns rendering levels resembling a 200 DPI grayscale
// scan of a laser-printed sheet.
func DefaultOptions() Options {
	return Options{
		Background: 235,
		RingLevel:  120,
		InkLevel:   40,
		MarkerInk:  20,
	}
}

// Render draws a filled sheet on the template's canonical frame.
func Render(tmpl *template.SheetTemplate, opts Options) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, tmpl.CanonicalWidth, tmpl.CanonicalHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: opts.Background}}, image.Point{}, draw.Src)

	for _, f := range tmpl.Fiducials {
		half := int(f.Size / 2)
		cx, cy := int(f.X), int(f.Y)
		for dy := -half; dy <= half; dy++ {
			for dx := -half; dx <= half; dx++ {
				img.SetGray(cx+dx, cy+dy, color.Gray{Y: opts.MarkerInk})
			}
		}
	}

	for q := 0; q < tmpl.Questions; q++ {
		for o := 0; o < tmpl.Options; o++ {
			center := tmpl.BubbleCenter(q, o)
			ring(img, center, tmpl.Grid.BubbleRadius, opts.RingLevel)
			if chosen, ok := opts.Marks[q]; ok && chosen == o {
				disc(img, center, tmpl.Grid.BubbleRadius-1, opts.InkLevel)
			}
			if extra, ok := opts.ExtraMarks[q]; ok && extra == o {
				disc(img, center, tmpl.Grid.BubbleRadius-1, opts.InkLevel)
			}
		}
	}
	return img
}

// Distortion simulates scanner placement: uniform scale, rotation about the
// sheet center, translation, and sensor noise. The area the warped sheet
// does not cover stays black, like an open scanner lid.
type Distortion struct {
	Scale     float64 // 1.0 keeps the canonical size; 0 means 1.0
	RotateDeg float64
	OffsetX   float64 // output-pixel translation
	OffsetY   float64
	Noise     float64 // gaussian sigma in gray levels
	Seed      int64
	Width     int // output size; 0 fits the scaled sheet
	Height    int
}

// Distort resamples a rendered sheet through the distortion's affine map.
func Distort(img *image.Gray, d Distortion) *image.Gray {
	scale := d.Scale
	if scale == 0 {
		scale = 1.0
	}

	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()
	outW := d.Width
	if outW == 0 {
		outW = int(math.Round(scale * float64(srcW)))
	}
	outH := d.Height
	if outH == 0 {
		outH = int(math.Round(scale * float64(srcH)))
	}

	theta := d.RotateDeg * math.Pi / 180
	a := scale * math.Cos(theta)
	b := -scale * math.Sin(theta)
	c := scale * math.Sin(theta)
	e := scale * math.Cos(theta)
	srcCx, srcCy := float64(srcW)/2, float64(srcH)/2
	dstCx := float64(outW)/2 + d.OffsetX
	dstCy := float64(outH)/2 + d.OffsetY

	transform := geometry.AffineTransform{
		A: a, B: b, TX: dstCx - a*srcCx - b*srcCy,
		C: c, D: e, TY: dstCy - c*srcCx - e*srcCy,
	}

	mat := sheet.GrayMatFromImage(img)
	defer mat.Close()
	warped := align.WarpAffine(mat, transform, outW, outH)
	defer warped.Close()

	out := sheet.GrayImageFromMat(warped)
	if d.Noise > 0 {
		addNoise(out, d.Noise, d.Seed)
	}
	return out
}

// Thumbnail downscales a sheet or overlay to fit maxDim on its longer side.
func Thumbnail(img image.Image, maxDim int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	scale := float64(maxDim) / float64(w)
	if h > w {
		scale = float64(maxDim) / float64(h)
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, xdraw.Over, nil)
	return dst
}

// RandomMarks produces a deterministic pseudo-random filled sheet: most
// questions get one mark, blankRate are left empty, doubleRate get a second
// competing mark. The returned ground truth feeds verification runs.
func RandomMarks(tmpl *template.SheetTemplate, seed int64, blankRate, doubleRate float64) (marks, extras map[int]int) {
	rng := rand.New(rand.NewSource(seed))
	marks = make(map[int]int)
	extras = make(map[int]int)

	for q := 0; q < tmpl.Questions; q++ {
		roll := rng.Float64()
		if roll < blankRate {
			continue
		}
		option := rng.Intn(tmpl.Options)
		marks[q] = option
		if roll < blankRate+doubleRate {
			extras[q] = (option + 1 + rng.Intn(tmpl.Options-1)) % tmpl.Options
		}
	}
	return marks, extras
}

func ring(img *image.Gray, c geometry.Point2D, radius float64, v uint8) {
	r := int(radius + 2)
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			d := math.Sqrt(float64(dx*dx + dy*dy))
			if math.Abs(d-radius) <= 0.6 {
				img.SetGray(int(c.X)+dx, int(c.Y)+dy, color.Gray{Y: v})
			}
		}
	}
}

func disc(img *image.Gray, c geometry.Point2D, radius float64, v uint8) {
	r := int(radius + 1)
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if math.Sqrt(float64(dx*dx+dy*dy)) <= radius {
				img.SetGray(int(c.X)+dx, int(c.Y)+dy, color.Gray{Y: v})
			}
		}
	}
}

func addNoise(img *image.Gray, sigma float64, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			v := float64(img.GrayAt(x, y).Y) + rng.NormFloat64()*sigma
			if v < 0 {
				v = 0
			}
			if v > 255 {
				v = 255
			}
			img.SetGray(x, y, color.Gray{Y: uint8(v + 0.5)})
		}
	}
}
