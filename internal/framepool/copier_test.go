package framepool

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// naiveCopy is the reference implementation spec.md §8's stride-copy law
// is checked against: a byte-by-byte copy of the first width bytes of
// each of height rows.
func naiveCopy(dst []byte, dstStride int, src []byte, srcStride, width, height int) {
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			dst[row*dstStride+col] = src[row*srcStride+col]
		}
	}
}

func TestCopyPlaneMatchesNaiveCopy(t *testing.T) {
	cases := []struct {
		srcStride, dstStride, width, height int
	}{
		{width: 16, height: 4, srcStride: 16, dstStride: 16},
		{width: 16, height: 4, srcStride: 24, dstStride: 16},
		{width: 16, height: 4, srcStride: 16, dstStride: 32},
		{width: 33, height: 9, srcStride: 40, dstStride: 48},
		{width: 1, height: 1, srcStride: 1, dstStride: 1},
	}

	rng := rand.New(rand.NewSource(1))

	for _, c := range cases {
		src := make([]byte, c.srcStride*c.height)
		rng.Read(src)

		gotBuf := make([]byte, c.dstStride*c.height)
		wantBuf := make([]byte, c.dstStride*c.height)

		CopyPlane(gotBuf, c.dstStride, src, c.srcStride, c.width, c.height)
		naiveCopy(wantBuf, c.dstStride, src, c.srcStride, c.width, c.height)

		require.Equalf(t, wantBuf, gotBuf, "case %+v: CopyPlane result differs from naive copy", c)
	}
}

func TestCopyPlaneNeverReadsPastWidth(t *testing.T) {
	// Source rows are padded with a sentinel beyond width; verify the
	// destination never picks it up.
	const width, height, srcStride, dstStride = 4, 2, 8, 4
	src := make([]byte, srcStride*height)
	for i := range src {
		src[i] = 0xFF // sentinel: if this leaks into dst, the test fails
	}
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			src[row*srcStride+col] = byte(row*10 + col)
		}
	}
	dst := make([]byte, dstStride*height)
	CopyPlane(dst, dstStride, src, srcStride, width, height)

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			want := byte(row*10 + col)
			require.Equalf(t, want, dst[row*dstStride+col], "row %d col %d", row, col)
		}
	}
}
