package agent

import "fmt"

// Geometry is the scale + pad needed to fit a source into the target canvas
type Geometry struct {
	ScaledW int `json:"scaled_w"`
	ScaledH int `json:"scaled_h"`
	PadX    int `json:"pad_x"`
	PadY    int `json:"pad_y"`
	TargetW int `json:"target_w"`
	TargetH int `json:"target_h"`
	SourceW int `json:"source_w"`
	SourceH int `json:"source_h"`
}

// PlanGeometry preserves the source aspect ratio inside targetW x targetH.
// Non-positive source dimensions are treated as the target itself.
//
// The wider axis (relative to the target) is fixed to the target dimension
// and the other is derived, floored, then rounded down to an even value since
// yuv420p cannot encode odd dimensions.
func PlanGeometry(srcW, srcH, targetW, targetH int) Geometry {
	g := Geometry{TargetW: targetW, TargetH: targetH}
	if srcW <= 0 || srcH <= 0 {
		srcW, srcH = targetW, targetH
	}
	g.SourceW, g.SourceH = srcW, srcH

	// Cross-multiplied aspect comparison: srcW/srcH vs targetW/targetH
	lhs := int64(srcW) * int64(targetH)
	rhs := int64(srcH) * int64(targetW)

	switch {
	case lhs == rhs:
		g.ScaledW, g.ScaledH = targetW, targetH
	case lhs > rhs:
		// Source relatively wider: letterbox
		g.ScaledW = targetW
		g.ScaledH = evenFloor(int64(targetW) * int64(srcH) / int64(srcW))
	default:
		// Source relatively taller: pillarbox
		g.ScaledH = targetH
		g.ScaledW = evenFloor(int64(targetH) * int64(srcW) / int64(srcH))
	}

	g.PadX = (targetW - g.ScaledW) / 2
	g.PadY = (targetH - g.ScaledH) / 2
	return g
}

func evenFloor(v int64) int {
	v &^= 1
	if v < 2 {
		v = 2
	}
	return int(v)
}

// IsNoop reports whether the source already is the target canvas
func (g Geometry) IsNoop() bool {
	return g.SourceW == g.TargetW && g.SourceH == g.TargetH
}

// NeedsPad reports whether letterbox/pillarbox bars are added
func (g Geometry) NeedsPad() bool {
	return g.ScaledW != g.TargetW || g.ScaledH != g.TargetH
}

// Filter renders the video filter chain: nothing for a no-op geometry, a
// plain scale when only the size differs, scale+pad otherwise.
func (g Geometry) Filter() string {
	switch {
	case g.IsNoop():
		return ""
	case !g.NeedsPad():
		return fmt.Sprintf("scale=%d:%d", g.TargetW, g.TargetH)
	default:
		return fmt.Sprintf("scale=%d:%d,pad=%d:%d:%d:%d:color=black",
			g.ScaledW, g.ScaledH, g.TargetW, g.TargetH, g.PadX, g.PadY)
	}
}
