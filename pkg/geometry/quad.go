package geometry

// Quad holds the four corners of a quadrilateral in top-left, top-right,
// bottom-right, bottom-left order.
type Quad [4]Point2D

// OrderQuad sorts four arbitrary corner points into TL, TR, BR, BL order.
// The top-left corner minimizes x+y, the bottom-right maximizes it; the
// top-right maximizes x-y and the bottom-left minimizes it.
func OrderQuad(points [4]Point2D) Quad {
	var q Quad
	q[0] = points[0]
	q[1] = points[0]
	q[2] = points[0]
	q[3] = points[0]
	for _, p := range points {
		if p.X+p.Y < q[0].X+q[0].Y {
			q[0] = p
		}
		if p.X-p.Y > q[1].X-q[1].Y {
			q[1] = p
		}
		if p.X+p.Y > q[2].X+q[2].Y {
			q[2] = p
		}
		if p.X-p.Y < q[3].X-q[3].Y {
			q[3] = p
		}
	}
	return q
}

// Area returns the area of the quadrilateral via the shoelace formula.
func (q Quad) Area() float64 {
	var sum float64
	for i := 0; i < 4; i++ {
		j := (i + 1) % 4
		sum += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	if sum < 0 {
		sum = -sum
	}
	return sum / 2
}

// IsConvex returns true if the quad corners form a convex quadrilateral.
// A non-convex ordering means at least one corner was misdetected.
func (q Quad) IsConvex() bool {
	var sign int
	for i := 0; i < 4; i++ {
		cross := crossProduct(q[i], q[(i+1)%4], q[(i+2)%4])
		if cross != 0 {
			current := 1
			if cross < 0 {
				current = -1
			}
			if sign == 0 {
				sign = current
			} else if current != sign {
				return false
			}
		}
	}
	return sign != 0
}

// crossProduct computes the cross product of vectors OA and OB.
func crossProduct(o, a, b Point2D) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}
