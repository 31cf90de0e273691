package engine

import (
	"fmt"
	"math"
)

// Camera is the render-surface state the renderer reports: world-space
// center, zoom ratio (data units per screen pixel, higher = zoomed out)
// and the screen size in pixels.
type Camera struct {
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	Ratio   float64 `json:"ratio"`
	ScreenW int     `json:"screen_w"`
	ScreenH int     `json:"screen_h"`
}

// BoundingBox is an axis-aligned box in data space.
type BoundingBox struct {
	MinX float64 `json:"min_x" yaml:"min_x"`
	MaxX float64 `json:"max_x" yaml:"max_x"`
	MinY float64 `json:"min_y" yaml:"min_y"`
	MaxY float64 `json:"max_y" yaml:"max_y"`
}

// Validate rejects boxes that cannot describe a region: non-finite
// coordinates, inverted or zero-area extents.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.MinX, b.MaxX, b.MinY, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidBounds)
		}
	}
	if b.MinX >= b.MaxX || b.MinY >= b.MaxY {
		return fmt.Errorf("%w: min must be strictly below max", ErrInvalidBounds)
	}
	return nil
}

func (b BoundingBox) Width() float64  { return b.MaxX - b.MinX }
func (b BoundingBox) Height() float64 { return b.MaxY - b.MinY }
func (b BoundingBox) Area() float64   { return b.Width() * b.Height() }

// Intersection returns the overlapping area of the two boxes, zero when
// they are disjoint.
func (b BoundingBox) Intersection(o BoundingBox) float64 {
	w := math.Min(b.MaxX, o.MaxX) - math.Max(b.MinX, o.MinX)
	h := math.Min(b.MaxY, o.MaxY) - math.Max(b.MinY, o.MinY)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// ComputeBounds derives the visible data-space box from the camera. Pure;
// never mutates engine state.
func ComputeBounds(cam Camera) (BoundingBox, error) {
	if cam.Ratio <= 0 || math.IsNaN(cam.Ratio) || math.IsInf(cam.Ratio, 0) {
		return BoundingBox{}, fmt.Errorf("%w: ratio %v", ErrInvalidBounds, cam.Ratio)
	}
	if cam.ScreenW <= 0 || cam.ScreenH <= 0 {
		return BoundingBox{}, fmt.Errorf("%w: screen %dx%d", ErrInvalidBounds, cam.ScreenW, cam.ScreenH)
	}
	halfW := float64(cam.ScreenW) * cam.Ratio / 2
	halfH := float64(cam.ScreenH) * cam.Ratio / 2
	box := BoundingBox{
		MinX: cam.CenterX - halfW,
		MaxX: cam.CenterX + halfW,
		MinY: cam.CenterY - halfH,
		MaxY: cam.CenterY + halfH,
	}
	return box, box.Validate()
}

// Significant reports whether the camera moved enough to warrant a new
// fetch cycle: relative zoom change above ratioThresh, or center
// displacement above centerThresh of the current viewport width. Changes
// below both thresholds are jitter and must not trigger loads.
func Significant(prev, cur Camera, ratioThresh, centerThresh float64) bool {
	if prev.Ratio > 0 {
		if math.Abs(cur.Ratio-prev.Ratio)/prev.Ratio > ratioThresh {
			return true
		}
	}
	width := float64(cur.ScreenW) * cur.Ratio
	if width <= 0 {
		return true
	}
	d := math.Hypot(cur.CenterX-prev.CenterX, cur.CenterY-prev.CenterY)
	return d/width > centerThresh
}
