package overlay_test

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"omr-grader/internal/overlay"
	"omr-grader/internal/resolve"
	"omr-grader/internal/score"
	"omr-grader/internal/template"

	. "github.com/smartystreets/goconvey/convey"
)

func flatSheet(tmpl *template.SheetTemplate) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, tmpl.CanonicalWidth, tmpl.CanonicalHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: 235}}, image.Point{}, draw.Src)
	return img
}

// ringAt samples a pixel on the outcome ring of the given bubble.
func ringAt(img *image.RGBA, tmpl *template.SheetTemplate, question, option int) color.RGBA {
	center := tmpl.BubbleCenter(question, option)
	offset := int(tmpl.Grid.BubbleRadius) + 3
	return img.RGBAAt(int(center.X)+offset, int(center.Y))
}

func TestRender(t *testing.T) {
	tmpl := template.Practice20Template()

	result := &score.Result{
		Template: tmpl.Name(),
		Questions: []score.QuestionResult{
			{Question: 0, State: resolve.MarkAnswered, Selected: 0, Accepted: []int{0}, Correct: true},
			{Question: 1, State: resolve.MarkAnswered, Selected: 2, Accepted: []int{1}, Correct: false},
			{Question: 2, State: resolve.MarkBlank, Selected: -1, Accepted: []int{3}},
			{Question: 3, State: resolve.MarkUnresolved, Selected: -1, Accepted: []int{0}},
		},
	}

	Convey("Given a graded result over a flat sheet", t, func() {
		base := flatSheet(tmpl)
		out := overlay.Render(base, tmpl, result, overlay.DefaultParams())

		Convey("Then the canvas matches the canonical frame", func() {
			So(out.Bounds().Dx(), ShouldEqual, tmpl.CanonicalWidth)
			So(out.Bounds().Dy(), ShouldEqual, tmpl.CanonicalHeight)
		})

		Convey("Then a correct answer rings green", func() {
			c := ringAt(out, tmpl, 0, 0)
			So(c.G, ShouldBeGreaterThan, 150)
			So(c.R, ShouldBeLessThan, 100)
			So(c.B, ShouldBeLessThan, 100)
		})

		Convey("Then the selected bubble of a correct answer is tinted, not painted over", func() {
			center := tmpl.BubbleCenter(0, 0)
			c := out.RGBAAt(int(center.X), int(center.Y))
			So(c.G, ShouldBeGreaterThan, c.R)
			// translucent blend keeps most of the light background
			So(c.R, ShouldBeGreaterThan, 120)
		})

		Convey("Then a wrong answer rings red and points at the accepted option", func() {
			selected := ringAt(out, tmpl, 1, 2)
			So(selected.R, ShouldBeGreaterThan, 150)
			So(selected.G, ShouldBeLessThan, 100)

			accepted := ringAt(out, tmpl, 1, 1)
			So(accepted.G, ShouldBeGreaterThan, 150)
			So(accepted.R, ShouldBeLessThan, 100)
		})

		Convey("Then a blank row rings the accepted option blue", func() {
			c := ringAt(out, tmpl, 2, 3)
			So(c.B, ShouldBeGreaterThan, 150)
			So(c.G, ShouldBeLessThan, 150)

			untouched := ringAt(out, tmpl, 2, 0)
			So(untouched, ShouldResemble, color.RGBA{R: 235, G: 235, B: 235, A: 255})
		})

		Convey("Then an unresolved row rings every option orange", func() {
			for o := 0; o < tmpl.Options; o++ {
				c := ringAt(out, tmpl, 3, o)
				So(c.R, ShouldBeGreaterThan, 200)
				So(c.G, ShouldBeBetween, 100, 200)
				So(c.B, ShouldBeLessThan, 60)
			}
		})

		Convey("Then pixels away from any annotation keep the sheet value", func() {
			c := out.RGBAAt(10, 10)
			So(c, ShouldResemble, color.RGBA{R: 235, G: 235, B: 235, A: 255})
		})

		Convey("Then the base image itself is untouched", func() {
			So(base.GrayAt(int(tmpl.BubbleCenter(0, 0).X), int(tmpl.BubbleCenter(0, 0).Y)).Y,
				ShouldEqual, 235)
		})
	})

	Convey("Given a rendered overlay", t, func() {
		out := overlay.Render(flatSheet(tmpl), tmpl, result, overlay.DefaultParams())

		Convey("When encoded as PNG", func() {
			data, err := overlay.EncodePNG(out)

			Convey("Then it decodes back to the same frame", func() {
				So(err, ShouldBeNil)
				So(len(data), ShouldBeGreaterThan, 0)

				decoded, err := png.Decode(bytes.NewReader(data))
				So(err, ShouldBeNil)
				So(decoded.Bounds(), ShouldResemble, out.Bounds())
			})
		})
	})
}
