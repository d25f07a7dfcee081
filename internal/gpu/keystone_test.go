package gpu

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/e7canasta/kmsplay/internal/config"
)

// applyMat3 evaluates the projective map m at unit-square point (x, y),
// mirroring the vertex shader's `p = uKeystone * vec3(aPos, 1.0); p.xy/p.z`.
func applyMat3(m Mat3, x, y float64) (float64, float64) {
	px := m[0]*x + m[1]*y + m[2]
	py := m[3]*x + m[4]*y + m[5]
	pz := m[6]*x + m[7]*y + m[8]
	return px / pz, py / pz
}

// TestIdentityCornersMapUnitQuadToThemselves is spec.md §8's "keystone
// identity corners produce a draw pixel-identical to the non-keystoned
// path" law: with identity corners, the four unit-square vertices must
// map exactly onto config.IdentityKeystone()'s four corners.
func TestIdentityCornersMapUnitQuadToThemselves(t *testing.T) {
	k := NewKeystone(config.IdentityKeystone())
	m := k.Matrix()
	unitCorners := [4][2]float64{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	want := config.IdentityKeystone()

	for i, uc := range unitCorners {
		gotX, gotY := applyMat3(m, uc[0], uc[1])
		require.InDeltaf(t, want[i].X, gotX, 1e-9, "corner %d X", i)
		require.InDeltaf(t, want[i].Y, gotY, 1e-9, "corner %d Y", i)
	}
}

func TestNudgeCornerRecomputesMatrix(t *testing.T) {
	k := NewKeystone(config.IdentityKeystone())
	before := k.Matrix()
	k.NudgeCorner(0, 0.1, 0.1)
	after := k.Matrix()
	require.NotEqual(t, before, after, "expected matrix to change after nudging a corner")
}

func TestNudgeCornerClampsToUnitRange(t *testing.T) {
	k := NewKeystone(config.IdentityKeystone())
	k.NudgeCorner(0, -5, -5)
	c := k.Corner(0)
	require.GreaterOrEqual(t, c.X, -1.0)
	require.LessOrEqual(t, c.X, 1.0)
	require.GreaterOrEqual(t, c.Y, -1.0)
	require.LessOrEqual(t, c.Y, 1.0)
}

func TestNudgeCornerAvoidsDegenerateOverlap(t *testing.T) {
	k := NewKeystone(config.IdentityKeystone())
	// Corner 0 starts at (-1,-1); corner 3 (top-left) starts at (-1,1).
	// Repeatedly nudge corner 0 upward toward corner 3's position and
	// confirm declutter keeps them from landing on top of each other.
	for i := 0; i < 120; i++ {
		k.NudgeCorner(0, 0, 0.02)
	}
	c0 := k.Corner(0)
	c3 := k.Corner(3)
	separated := abs(c0.X-c3.X) >= cornerEpsilon || abs(c0.Y-c3.Y) >= cornerEpsilon
	require.Truef(t, separated, "expected corners to stay separated, got c0=%+v c3=%+v", c0, c3)
}

func TestResetRestoresIdentity(t *testing.T) {
	k := NewKeystone(config.IdentityKeystone())
	k.NudgeCorner(1, 0.2, -0.1)
	k.Reset()
	want := config.IdentityKeystone()
	for i := 0; i < 4; i++ {
		require.Equalf(t, want[i], k.Corner(i), "corner %d", i)
	}
}
