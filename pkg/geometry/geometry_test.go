package geometry_test

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"omr-grader/pkg/geometry"
)

func TestPointAndRect(t *testing.T) {
	Convey("Given basic points and rectangles", t, func() {
		Convey("When measuring distance", func() {
			a := geometry.NewPoint2D(0, 0)
			b := geometry.NewPoint2D(3, 4)

			Convey("Then the Euclidean distance is returned", func() {
				So(a.Distance(b), ShouldAlmostEqual, 5.0, 1e-9)
			})
		})

		Convey("When testing containment and intersection", func() {
			r := geometry.NewRect(10, 10, 20, 20)

			Convey("Then interior points are contained", func() {
				So(r.Contains(geometry.NewPoint2D(15, 15)), ShouldBeTrue)
				So(r.Contains(geometry.NewPoint2D(31, 15)), ShouldBeFalse)
			})

			Convey("Then touching rectangles do not intersect", func() {
				So(r.Intersects(geometry.NewRect(30, 10, 5, 5)), ShouldBeFalse)
				So(r.Intersects(geometry.NewRect(29, 10, 5, 5)), ShouldBeTrue)
			})
		})

		Convey("When converting a float rect to an integer rect", func() {
			r := geometry.NewRect(10.3, 10.6, 4.2, 4.2)
			ri := r.ToInt()

			Convey("Then the integer rect covers the float rect", func() {
				So(ri.X, ShouldEqual, 10)
				So(ri.Y, ShouldEqual, 10)
				So(ri.X+ri.Width, ShouldBeGreaterThanOrEqualTo, 15)
				So(ri.Y+ri.Height, ShouldBeGreaterThanOrEqualTo, 15)
			})
		})

		Convey("When checking frame bounds", func() {
			So(geometry.RectInt{X: 0, Y: 0, Width: 10, Height: 10}.Inside(10, 10), ShouldBeTrue)
			So(geometry.RectInt{X: 5, Y: 5, Width: 6, Height: 5}.Inside(10, 10), ShouldBeFalse)
			So(geometry.RectInt{X: -1, Y: 0, Width: 5, Height: 5}.Inside(10, 10), ShouldBeFalse)
		})
	})
}

func TestAffineTransform(t *testing.T) {
	Convey("Given an affine transform", t, func() {
		Convey("When composing rotation and translation", func() {
			tr := geometry.Translation(10, 5).Compose(geometry.Rotation(math.Pi / 2))
			p := tr.Apply(geometry.NewPoint2D(1, 0))

			Convey("Then points map through both operations", func() {
				So(p.X, ShouldAlmostEqual, 10.0, 1e-9)
				So(p.Y, ShouldAlmostEqual, 6.0, 1e-9)
			})
		})

		Convey("When inverting a transform", func() {
			tr := geometry.Translation(3, -2).Compose(geometry.Scale(2, 2))
			inv, ok := tr.Inverse()

			Convey("Then applying both yields the original point", func() {
				So(ok, ShouldBeTrue)
				p := geometry.NewPoint2D(7, 11)
				back := inv.Apply(tr.Apply(p))
				So(back.X, ShouldAlmostEqual, p.X, 1e-9)
				So(back.Y, ShouldAlmostEqual, p.Y, 1e-9)
			})
		})

		Convey("When inverting a degenerate transform", func() {
			_, ok := geometry.AffineTransform{}.Inverse()

			Convey("Then no inverse exists", func() {
				So(ok, ShouldBeFalse)
			})
		})
	})
}

func TestPerspectiveTransform(t *testing.T) {
	Convey("Given a perspective transform", t, func() {
		Convey("When lifted from an affine transform", func() {
			af := geometry.Translation(4, 9).Compose(geometry.Rotation(0.3))
			pt := af.ToPerspective()
			p := geometry.NewPoint2D(12, -7)

			Convey("Then both apply identically", func() {
				pa := af.Apply(p)
				pp := pt.Apply(p)
				So(pp.X, ShouldAlmostEqual, pa.X, 1e-9)
				So(pp.Y, ShouldAlmostEqual, pa.Y, 1e-9)
			})
		})

		Convey("When applying the identity", func() {
			id := geometry.IdentityPerspective()
			p := geometry.NewPoint2D(5, 6)

			Convey("Then points are unchanged", func() {
				So(id.Apply(p), ShouldResemble, p)
			})
		})

		Convey("When inverting a projective transform", func() {
			pt := geometry.PerspectiveTransform{M: [3][3]float64{
				{1.1, 0.02, 3},
				{-0.03, 0.97, -5},
				{1e-4, 2e-4, 1},
			}}
			inv, ok := pt.Inverse()

			Convey("Then round-tripping recovers the point", func() {
				So(ok, ShouldBeTrue)
				p := geometry.NewPoint2D(400, 600)
				back := inv.Apply(pt.Apply(p))
				So(back.X, ShouldAlmostEqual, p.X, 1e-6)
				So(back.Y, ShouldAlmostEqual, p.Y, 1e-6)
			})
		})
	})
}

func TestQuad(t *testing.T) {
	Convey("Given four detected corner points in arbitrary order", t, func() {
		pts := [4]geometry.Point2D{
			{X: 790, Y: 1190},
			{X: 10, Y: 12},
			{X: 788, Y: 9},
			{X: 12, Y: 1188},
		}

		Convey("When ordered", func() {
			q := geometry.OrderQuad(pts)

			Convey("Then corners come out TL, TR, BR, BL", func() {
				So(q[0], ShouldResemble, geometry.Point2D{X: 10, Y: 12})
				So(q[1], ShouldResemble, geometry.Point2D{X: 788, Y: 9})
				So(q[2], ShouldResemble, geometry.Point2D{X: 790, Y: 1190})
				So(q[3], ShouldResemble, geometry.Point2D{X: 12, Y: 1188})
			})

			Convey("Then the quad is convex with a plausible area", func() {
				So(q.IsConvex(), ShouldBeTrue)
				So(q.Area(), ShouldBeGreaterThan, 700*1100)
			})
		})

		Convey("When corners are crossed", func() {
			crossed := geometry.Quad{
				{X: 0, Y: 0},
				{X: 100, Y: 100},
				{X: 100, Y: 0},
				{X: 0, Y: 100},
			}

			Convey("Then the quad is not convex", func() {
				So(crossed.IsConvex(), ShouldBeFalse)
			})
		})
	})
}
