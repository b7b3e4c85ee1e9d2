// Package images - Image geometry and orientation helpers shared by the detection pipeline.
package images

import "github.com/chewxy/math32"

// Rect is an axis-aligned box in corner form, expressed in model input coordinates.
type Rect struct {
	X1, Y1, X2, Y2 float32
}

// FromCenter converts a center-form box (center-x, center-y, width, height) into corner form.
//
// Arguments:
//   - cx: The horizontal center of the box.
//   - cy: The vertical center of the box.
//   - w: The width of the box.
//   - h: The height of the box.
//
// Returns:
//   - Rect: The box as (x1, y1, x2, y2).
func FromCenter(cx, cy, w, h float32) Rect {
	return Rect{
		X1: cx - w/2,
		Y1: cy - h/2,
		X2: cx + w/2,
		Y2: cy + h/2,
	}
}

// Area returns the area of the box, zero for degenerate boxes.
func (r Rect) Area() float32 {
	w := r.X2 - r.X1
	h := r.Y2 - r.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// CalculateIoU returns the Intersection over Union of two boxes.
//
// IoU = area(intersection) / area(union), in [0, 1]. Boxes that only touch, or that
// do not overlap at all, score 0. Two degenerate boxes (zero union) also score 0 so
// the caller never sees NaN.
//
// Arguments:
//   - r: The first box.
//   - o: The second box.
//
// Returns:
//   - float32: The IoU score.
//
// Example:
//
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Rect{X1: 5, Y1: 5, X2: 15, Y2: 15}
//	iou := CalculateIoU(a, b) // 25 / 175 ≈ 0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	interArea := interW * interH

	union := r.Area() + o.Area() - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}
