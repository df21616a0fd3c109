package trap

import "math"

// Vec3 is a position in camera-plane pixels. Z is the axial displacement
// from the focal plane.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

// Rect is an axis-aligned selection rectangle in the camera plane.
// Bounds are inclusive.
type Rect struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// NewRect returns the rectangle spanned by two opposite corners in any
// order, as produced by a rubber-band drag.
func NewRect(x0, y0, x1, y1 float64) Rect {
	return Rect{
		MinX: math.Min(x0, x1),
		MinY: math.Min(y0, y1),
		MaxX: math.Max(x0, x1),
		MaxY: math.Max(y0, y1),
	}
}

// Contains reports whether (x, y) lies inside r.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

// ParsePosition interprets a coordinate list from an interaction event.
// Two components move the point in-plane and keep the current depth;
// three components replace all of it.
func ParsePosition(current Vec3, coords []float64) (Vec3, error) {
	switch len(coords) {
	case 2:
		return Vec3{X: coords[0], Y: coords[1], Z: current.Z}, nil
	case 3:
		return Vec3{X: coords[0], Y: coords[1], Z: coords[2]}, nil
	default:
		return current, &CoordinateError{Components: len(coords)}
	}
}
