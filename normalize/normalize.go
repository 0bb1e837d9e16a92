// Package normalize converts detector bounding boxes into a single unit-space form.
//
// A box may arrive with pixel corners (x1, y1, x2, y2), unit fields (x, y, w, h) or a mix
// of both. Unless the box carries an explicit Space tag, an x value below 2 is taken to mean
// the box is already unit space. A pixel box whose x1 is 0 or 1 is therefore ambiguous;
// backends that know their coordinate space should tag it.
package normalize

import (
	"math"

	"go.uber.org/zap"

	iface "CropDetServer/interface"
	"CropDetServer/logger"
)

// UnitThreshold is the x value below which an untagged box is treated as unit space.
const UnitThreshold = 2.0

const defaultClass = "Unknown"

// Normalize returns b in unit space relative to a width x height frame, with x, y, w and h
// rounded to 4 decimals and Percent = round(w*h*100, 2). Boxes that are already unit space
// pass through untouched. If the arithmetic cannot be carried out the original box is
// returned and a warning is logged.
func Normalize(b iface.Box, width, height int) iface.Box {
	if isUnit(b) {
		return b
	}
	if width <= 0 || height <= 0 {
		logger.Log().Warn("bbox normalization failed",
			zap.String("reason", "non-positive frame size"),
			zap.Int("width", width), zap.Int("height", height))
		return b
	}

	fw, fh := float64(width), float64(height)
	x1 := pick(b.X1, math.Trunc(value(b.X)*fw))
	y1 := pick(b.Y1, math.Trunc(value(b.Y)*fh))
	x2 := pick(b.X2, x1+math.Trunc(value(b.W)*fw))
	y2 := pick(b.Y2, y1+math.Trunc(value(b.H)*fh))

	x1, x2 = clamp(x1, 0, fw), clamp(x2, 0, fw)
	y1, y2 = clamp(y1, 0, fh), clamp(y2, 0, fh)
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}

	x, y := Round(x1/fw, 4), Round(y1/fh, 4)
	w, h := Round((x2-x1)/fw, 4), Round((y2-y1)/fh, 4)
	for _, v := range []float64{x, y, w, h} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			logger.Log().Warn("bbox normalization failed", zap.String("reason", "non-finite result"))
			return b
		}
	}

	class := b.Class
	if class == "" {
		class = defaultClass
	}
	return iface.Box{
		Class:   class,
		Conf:    b.Conf,
		Space:   iface.SpaceUnit,
		X:       iface.Float(x),
		Y:       iface.Float(y),
		W:       iface.Float(w),
		H:       iface.Float(h),
		Percent: iface.Float(Round(w*h*100, 2)),
	}
}

// ToPixel maps a unit-space box back onto a width x height frame.
func ToPixel(b iface.Box, width, height int) (x1, y1, x2, y2 int) {
	fw, fh := float64(width), float64(height)
	x1 = int(math.Round(value(b.X) * fw))
	y1 = int(math.Round(value(b.Y) * fh))
	x2 = int(math.Round((value(b.X) + value(b.W)) * fw))
	y2 = int(math.Round((value(b.Y) + value(b.H)) * fh))
	return x1, y1, x2, y2
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow10(decimals)
	return math.Round(v*p) / p
}

func isUnit(b iface.Box) bool {
	switch b.Space {
	case iface.SpaceUnit:
		return true
	case iface.SpacePixel:
		return false
	}
	return b.X != nil && *b.X < UnitThreshold
}

func pick(p *float64, fallback float64) float64 {
	if p != nil {
		return *p
	}
	return fallback
}

func value(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
