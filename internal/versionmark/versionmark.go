// Package versionmark reads the printed exam version code from a registered
// sheet, so multi-version exams can pick the matching answer key without
// operator input.
package versionmark

import (
	"fmt"
	"image"
	"strings"

	"omr-grader/internal/template"
	"omr-grader/pkg/geometry"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

// VersionChars is the recognition character set. Version codes are short
// uppercase tokens like "A", "B2", or "SET-C"; lowercase is excluded to
// avoid 0/O and 1/l confusion.
const VersionChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ-"

// Reader recognizes version codes using Tesseract.
type Reader struct {
	client *gosseract.Client
}

// NewReader creates a reader. Callers must Close it.
func NewReader() (*Reader, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// Version codes are not dictionary words; keep Tesseract from
	// "correcting" them.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")

	return &Reader{client: client}, nil
}

// Close releases OCR resources.
func (r *Reader) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Read recognizes the version code printed in the template's version box on
// a registered canonical-frame sheet.
func (r *Reader) Read(normalized gocv.Mat, tmpl *template.SheetTemplate) (string, error) {
	if tmpl.VersionBox == nil {
		return "", fmt.Errorf("template %q has no version box", tmpl.Name())
	}
	return r.ReadRegion(normalized, *tmpl.VersionBox)
}

// ReadRegion recognizes a version code within the given region.
func (r *Reader) ReadRegion(img gocv.Mat, box geometry.RectInt) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("empty image")
	}

	clamped, err := clampRegion(box, img.Cols(), img.Rows())
	if err != nil {
		return "", err
	}

	region := img.Region(image.Rect(clamped.X, clamped.Y,
		clamped.X+clamped.Width, clamped.Y+clamped.Height))
	defer region.Close()

	processed := preprocess(region)
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return "", fmt.Errorf("failed to encode region: %w", err)
	}
	defer buf.Close()

	// The box holds one printed line.
	if err := r.client.SetPageSegMode(gosseract.PSM_SINGLE_LINE); err != nil {
		return "", fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := r.client.SetWhitelist(VersionChars); err != nil {
		return "", fmt.Errorf("failed to set whitelist: %w", err)
	}
	if err := r.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := r.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return NormalizeCode(text), nil
}

// NormalizeCode reduces raw OCR output to the bare version token: uppercase,
// single-spaced, with "SET"/"VERSION"/"FORM" labels stripped.
func NormalizeCode(text string) string {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(text)))
	var kept []string
	for _, f := range fields {
		f = strings.Trim(f, "-")
		switch f {
		case "", "SET", "VERSION", "FORM":
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

func clampRegion(box geometry.RectInt, imgW, imgH int) (geometry.RectInt, error) {
	x, y := box.X, box.Y
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	w := box.Width
	h := box.Height
	if x+w > imgW {
		w = imgW - x
	}
	if y+h > imgH {
		h = imgH - y
	}
	if w <= 0 || h <= 0 {
		return geometry.RectInt{}, fmt.Errorf("version box %dx%d at (%d,%d) is outside the %dx%d image",
			box.Width, box.Height, box.X, box.Y, imgW, imgH)
	}
	return geometry.RectInt{X: x, Y: y, Width: w, Height: h}, nil
}

// preprocess prepares the printed box for recognition: upscale small crops,
// equalize contrast, and binarize to dark text on a light background.
func preprocess(region gocv.Mat) gocv.Mat {
	h, w := region.Rows(), region.Cols()

	var scaled gocv.Mat
	if minDim := minInt(h, w); minDim < 100 {
		scale := 100.0 / float64(minDim)
		scaled = gocv.NewMat()
		gocv.Resize(region, &scaled, image.Point{}, scale, scale, gocv.InterpolationCubic)
	} else {
		scaled = region.Clone()
	}

	clahe := gocv.NewCLAHEWithParams(2.0, image.Point{X: 8, Y: 8})
	defer clahe.Close()

	enhanced := gocv.NewMat()
	clahe.Apply(scaled, &enhanced)
	scaled.Close()

	binary := gocv.NewMat()
	gocv.Threshold(enhanced, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	enhanced.Close()

	// Tesseract wants dark text on light background; invert when the crop
	// came out mostly dark.
	whiteCount := gocv.CountNonZero(binary)
	if float64(whiteCount) < 0.5*float64(binary.Rows()*binary.Cols()) {
		gocv.BitwiseNot(binary, &binary)
	}
	return binary
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
