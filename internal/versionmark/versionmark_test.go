package versionmark

import (
	"testing"

	"omr-grader/internal/template"
	"omr-grader/pkg/geometry"

	"gocv.io/x/gocv"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNormalizeCode(t *testing.T) {
	Convey("Given raw OCR output", t, func() {
		cases := map[string]string{
			"SET A":       "A",
			" set  b2 ":   "B2",
			"VERSION C":   "C",
			"FORM D-1":    "D-1",
			"A":           "A",
			"-A-":         "A",
			"SET":         "",
			"":            "",
			"B  EXTRA":    "B EXTRA",
			"set version": "",
		}

		Convey("Then labels and noise are stripped to the bare token", func() {
			for raw, want := range cases {
				So(NormalizeCode(raw), ShouldEqual, want)
			}
		})
	})
}

func TestReadValidation(t *testing.T) {
	Convey("Given a reader", t, func() {
		r := &Reader{}

		Convey("When the template has no version box", func() {
			tmpl := template.Practice20Template()
			mat := gocv.NewMatWithSize(800, 600, gocv.MatTypeCV8UC1)
			defer mat.Close()

			_, err := r.Read(mat, tmpl)

			Convey("Then reading fails before touching OCR", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "no version box")
			})
		})

		Convey("When the image is empty", func() {
			empty := gocv.NewMat()
			defer empty.Close()

			_, err := r.ReadRegion(empty, geometry.RectInt{X: 0, Y: 0, Width: 10, Height: 10})

			Convey("Then reading fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestClampRegion(t *testing.T) {
	Convey("Given version box bounds", t, func() {
		Convey("When the box fits the image", func() {
			got, err := clampRegion(geometry.RectInt{X: 600, Y: 70, Width: 150, Height: 50}, 800, 1200)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, geometry.RectInt{X: 600, Y: 70, Width: 150, Height: 50})
		})

		Convey("When the box overhangs the edge", func() {
			got, err := clampRegion(geometry.RectInt{X: 700, Y: 70, Width: 150, Height: 50}, 800, 1200)
			So(err, ShouldBeNil)
			So(got.Width, ShouldEqual, 100)
		})

		Convey("When the box lies entirely outside", func() {
			_, err := clampRegion(geometry.RectInt{X: 900, Y: 70, Width: 150, Height: 50}, 800, 1200)
			So(err, ShouldNotBeNil)
		})
	})
}
