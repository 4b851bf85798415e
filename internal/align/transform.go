package align

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"omr-grader/pkg/geometry"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// ComputeHomography computes the perspective transform mapping srcPoints onto
// dstPoints. Four point pairs give an exact solve; more give a least-squares
// fit. The last matrix entry is fixed at 1.
func ComputeHomography(srcPoints, dstPoints []geometry.Point2D) (geometry.PerspectiveTransform, error) {
	if len(srcPoints) != len(dstPoints) {
		return geometry.PerspectiveTransform{}, fmt.Errorf("point count mismatch: %d vs %d", len(srcPoints), len(dstPoints))
	}
	n := len(srcPoints)
	if n < 4 {
		return geometry.PerspectiveTransform{}, fmt.Errorf("need at least 4 points, got %d", n)
	}

	// Each pair yields two rows of the system A*h = B with unknowns
	// h11..h32 (h33 = 1):
	//   x' = h11*x + h12*y + h13 - h31*x*x' - h32*y*x'
	//   y' = h21*x + h22*y + h23 - h31*x*y' - h32*y*y'
	A := mat.NewDense(n*2, 8, nil)
	B := mat.NewVecDense(n*2, nil)

	for i := 0; i < n; i++ {
		x, y := srcPoints[i].X, srcPoints[i].Y
		xp, yp := dstPoints[i].X, dstPoints[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		A.Set(i*2, 6, -x*xp)
		A.Set(i*2, 7, -y*xp)
		B.SetVec(i*2, xp)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		A.Set(i*2+1, 6, -x*yp)
		A.Set(i*2+1, 7, -y*yp)
		B.SetVec(i*2+1, yp)
	}

	// Solve using QR decomposition
	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.PerspectiveTransform{}, fmt.Errorf("homography solve: %w", err)
	}

	return geometry.PerspectiveTransform{M: [3][3]float64{
		{params.AtVec(0), params.AtVec(1), params.AtVec(2)},
		{params.AtVec(3), params.AtVec(4), params.AtVec(5)},
		{params.AtVec(6), params.AtVec(7), 1},
	}}, nil
}

// ComputeAffineLeastSquares computes an affine transform from three or more
// point pairs using least squares.
func ComputeAffineLeastSquares(srcPoints, dstPoints []geometry.Point2D) (geometry.AffineTransform, error) {
	if len(srcPoints) != len(dstPoints) {
		return geometry.AffineTransform{}, fmt.Errorf("point count mismatch: %d vs %d", len(srcPoints), len(dstPoints))
	}
	n := len(srcPoints)
	if n < 3 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 3 points, got %d", n)
	}

	// Build the (possibly overdetermined) system for
	// [x', y'] = [a, b, tx; c, d, ty] * [x, y, 1]
	A := mat.NewDense(n*2, 6, nil)
	B := mat.NewVecDense(n*2, nil)

	for i := 0; i < n; i++ {
		x, y := srcPoints[i].X, srcPoints[i].Y
		xp, yp := dstPoints[i].X, dstPoints[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, xp)

		A.Set(i*2+1, 3, x)
		A.Set(i*2+1, 4, y)
		A.Set(i*2+1, 5, 1)
		B.SetVec(i*2+1, yp)
	}

	// Solve using QR decomposition
	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, fmt.Errorf("affine solve: %w", err)
	}

	return geometry.AffineTransform{
		A:  params.AtVec(0),
		B:  params.AtVec(1),
		TX: params.AtVec(2),
		C:  params.AtVec(3),
		D:  params.AtVec(4),
		TY: params.AtVec(5),
	}, nil
}

// WarpPerspective resamples an image through a perspective transform into a
// width x height canonical frame. The caller owns the returned Mat.
func WarpPerspective(src gocv.Mat, transform geometry.PerspectiveTransform, width, height int) gocv.Mat {
	transformMat := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			transformMat.SetDoubleAt(r, c, transform.M[r][c])
		}
	}
	defer transformMat.Close()

	dst := gocv.NewMat()
	gocv.WarpPerspective(src, &dst, transformMat, image.Point{width, height})
	return dst
}

// WarpAffine resamples an image through an affine transform into a
// width x height canonical frame. The caller owns the returned Mat.
func WarpAffine(src gocv.Mat, transform geometry.AffineTransform, width, height int) gocv.Mat {
	transformMat := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	transformMat.SetDoubleAt(0, 0, transform.A)
	transformMat.SetDoubleAt(0, 1, transform.B)
	transformMat.SetDoubleAt(0, 2, transform.TX)
	transformMat.SetDoubleAt(1, 0, transform.C)
	transformMat.SetDoubleAt(1, 1, transform.D)
	transformMat.SetDoubleAt(1, 2, transform.TY)
	defer transformMat.Close()

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, transformMat, image.Point{width, height},
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{R: 0, G: 0, B: 0, A: 0})
	return dst
}

// MeanResidual calculates the mean reprojection error of a transform over a
// set of point correspondences.
func MeanResidual(transform geometry.PerspectiveTransform, srcPoints, dstPoints []geometry.Point2D) float64 {
	if len(srcPoints) != len(dstPoints) || len(srcPoints) == 0 {
		return math.Inf(1)
	}

	var total float64
	for i := range srcPoints {
		projected := transform.Apply(srcPoints[i])
		total += projected.Distance(dstPoints[i])
	}
	return total / float64(len(srcPoints))
}
