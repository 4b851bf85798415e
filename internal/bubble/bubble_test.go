package bubble_test

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"math"
	"testing"

	"omr-grader/internal/bubble"
	"omr-grader/internal/sheet"
	"omr-grader/internal/template"
	"omr-grader/pkg/geometry"

	. "github.com/smartystreets/goconvey/convey"
)

func drawRing(img *image.Gray, c geometry.Point2D, radius float64, v uint8) {
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

func drawDisc(img *image.Gray, c geometry.Point2D, radius float64, v uint8) {
	r := int(radius + 1)
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if math.Sqrt(float64(dx*dx+dy*dy)) <= radius {
				img.SetGray(int(c.X)+dx, int(c.Y)+dy, color.Gray{Y: v})
			}
		}
	}
}

// drawMarkedSheet renders a canonical-frame sheet with printed bubble
// outlines and a pencil mark on the chosen option of each question in marks.
func drawMarkedSheet(tmpl *template.SheetTemplate, marks map[int]int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, tmpl.CanonicalWidth, tmpl.CanonicalHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: 235}}, image.Point{}, draw.Src)

	for q := 0; q < tmpl.Questions; q++ {
		for o := 0; o < tmpl.Options; o++ {
			center := tmpl.BubbleCenter(q, o)
			drawRing(img, center, tmpl.Grid.BubbleRadius, 120)
			if chosen, ok := marks[q]; ok && chosen == o {
				drawDisc(img, center, tmpl.Grid.BubbleRadius-1, 40)
			}
		}
	}
	return img
}

func TestMapGrid(t *testing.T) {
	Convey("Given the standard 100-question template", t, func() {
		tmpl := template.Standard100Template()

		Convey("When the grid is mapped", func() {
			rois, err := bubble.MapGrid(tmpl)

			Convey("Then there is exactly one region per question and option", func() {
				So(err, ShouldBeNil)
				So(len(rois), ShouldEqual, tmpl.Questions*tmpl.Options)

				So(rois[0].Question, ShouldEqual, 0)
				So(rois[0].Option, ShouldEqual, 0)
				So(rois[1].Option, ShouldEqual, 1)
				So(rois[tmpl.Options].Question, ShouldEqual, 1)

				for _, roi := range rois {
					So(roi.Rect.Inside(tmpl.CanonicalWidth, tmpl.CanonicalHeight), ShouldBeTrue)
				}
			})
		})
	})

	Convey("Given a template whose grid runs off the frame edge", t, func() {
		tmpl := template.Standard100Template()
		tmpl.Grid.OriginX = 5

		Convey("When the grid is mapped", func() {
			rois, err := bubble.MapGrid(tmpl)

			Convey("Then mapping fails with a bounds error", func() {
				So(rois, ShouldBeNil)

				var boundsErr *bubble.BoundsError
				So(errors.As(err, &boundsErr), ShouldBeTrue)
				So(boundsErr.Question, ShouldEqual, 0)
				So(boundsErr.Option, ShouldEqual, 0)
			})
		})
	})

	Convey("Given a template whose option columns sit too close together", t, func() {
		tmpl := template.Standard100Template()
		tmpl.Grid.OptionSpacingX = 17

		Convey("When the grid is mapped", func() {
			rois, err := bubble.MapGrid(tmpl)

			Convey("Then mapping fails with a geometry error", func() {
				So(rois, ShouldBeNil)

				var geomErr *bubble.TemplateGeometryError
				So(errors.As(err, &geomErr), ShouldBeTrue)
			})
		})
	})
}

func TestExtract(t *testing.T) {
	tmpl := template.Practice20Template()

	marks := make(map[int]int)
	for q := 0; q < tmpl.Questions; q++ {
		marks[q] = q % tmpl.Options
	}

	Convey("Given a cleanly marked sheet in the canonical frame", t, func() {
		img := drawMarkedSheet(tmpl, marks)
		gray := sheet.GrayMatFromImage(img)
		defer gray.Close()

		rois, err := bubble.MapGrid(tmpl)
		So(err, ShouldBeNil)

		Convey("When signals are extracted", func() {
			signals, err := bubble.Extract(gray, tmpl, rois, bubble.DefaultExtractParams())

			Convey("Then marked bubbles score high and blank bubbles score low", func() {
				So(err, ShouldBeNil)
				So(len(signals), ShouldEqual, tmpl.Questions)

				for q := 0; q < tmpl.Questions; q++ {
					So(len(signals[q]), ShouldEqual, tmpl.Options)
					for o := 0; o < tmpl.Options; o++ {
						sig := signals[q][o]
						So(sig.Question, ShouldEqual, q)
						So(sig.Option, ShouldEqual, o)
						if o == marks[q] {
							So(sig.FillScore, ShouldBeGreaterThan, 0.6)
							So(sig.MeanIntensity, ShouldBeLessThan, 120)
							So(sig.RingContrast, ShouldBeGreaterThan, 0.3)
						} else {
							So(sig.FillScore, ShouldBeLessThan, 0.2)
							So(sig.MeanIntensity, ShouldBeGreaterThan, 200)
							So(sig.RingContrast, ShouldBeLessThan, 0.15)
						}
					}
				}
			})

			Convey("Then extraction is deterministic", func() {
				So(err, ShouldBeNil)
				again, err2 := bubble.Extract(gray, tmpl, rois, bubble.DefaultExtractParams())
				So(err2, ShouldBeNil)
				So(again, ShouldResemble, signals)
			})
		})
	})

	Convey("Given a sheet with a light hesitation dot in one bubble", t, func() {
		img := drawMarkedSheet(tmpl, map[int]int{0: 1})
		drawDisc(img, tmpl.BubbleCenter(7, 3), 1, 40)
		gray := sheet.GrayMatFromImage(img)
		defer gray.Close()

		rois, err := bubble.MapGrid(tmpl)
		So(err, ShouldBeNil)

		Convey("When signals are extracted", func() {
			signals, err := bubble.Extract(gray, tmpl, rois, bubble.DefaultExtractParams())

			Convey("Then the dot stays below a real mark's score", func() {
				So(err, ShouldBeNil)
				So(signals[7][3].FillScore, ShouldBeLessThan, 0.2)
				So(signals[0][1].FillScore, ShouldBeGreaterThan, 0.6)
			})
		})
	})

	Convey("Given an image that does not match the canonical frame", t, func() {
		img := drawMarkedSheet(tmpl, nil)
		gray := sheet.GrayMatFromImage(img)
		defer gray.Close()

		wrong := template.Standard100Template()
		rois, err := bubble.MapGrid(wrong)
		So(err, ShouldBeNil)

		Convey("When extraction is attempted", func() {
			_, err := bubble.Extract(gray, wrong, rois, bubble.DefaultExtractParams())

			Convey("Then it is rejected", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestScoreVector(t *testing.T) {
	Convey("Given one question's signals", t, func() {
		signals := []bubble.Signal{
			{Question: 3, Option: 0, FillScore: 0.05},
			{Question: 3, Option: 1, FillScore: 0.92},
			{Question: 3, Option: 2, FillScore: 0.11},
			{Question: 3, Option: 3, FillScore: 0.02},
		}

		Convey("When the score vector is taken", func() {
			scores := bubble.ScoreVector(signals)

			Convey("Then scores appear in option order", func() {
				So(scores, ShouldResemble, []float64{0.05, 0.92, 0.11, 0.02})
			})
		})
	})
}
