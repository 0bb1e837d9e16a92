package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	iface "CropDetServer/interface"
)

func TestNormalize_Pixel(t *testing.T) {
	in := iface.Box{Class: "Yellow Rust", Conf: 87.5, X1: iface.Float(64), Y1: iface.Float(48), X2: iface.Float(320), Y2: iface.Float(240)}
	out := Normalize(in, 640, 480)

	require.NotNil(t, out.X)
	assert.Equal(t, "Yellow Rust", out.Class)
	assert.Equal(t, 87.5, out.Conf)
	assert.Equal(t, iface.SpaceUnit, out.Space)
	assert.Equal(t, 0.1, *out.X)
	assert.Equal(t, 0.1, *out.Y)
	assert.Equal(t, 0.4, *out.W)
	assert.Equal(t, 0.4, *out.H)
	assert.Equal(t, 16.0, *out.Percent)
	assert.Nil(t, out.X1)
}

func TestNormalize_Bounds(t *testing.T) {
	boxes := []iface.Box{
		iface.PixelBox(0, 0, 1920, 1080),
		iface.PixelBox(3, 7, 11, 13),
		iface.PixelBox(1000, 500, 1919, 1079),
		iface.PixelBox(-20, -5, 2500, 1200),
		iface.PixelBox(400, 300, 100, 50),
	}
	for _, b := range boxes {
		out := Normalize(b, 1920, 1080)
		for _, v := range []*float64{out.X, out.Y, out.W, out.H} {
			require.NotNil(t, v)
			assert.GreaterOrEqual(t, *v, 0.0)
			assert.LessOrEqual(t, *v, 1.0)
		}
		assert.Equal(t, Round(*out.W**out.H*100, 2), *out.Percent)
	}
}

func TestNormalize_UnitPassThrough(t *testing.T) {
	in := iface.Box{Class: "Mildew", Conf: 55, X: iface.Float(0.25), Y: iface.Float(0.3), W: iface.Float(0.2), H: iface.Float(0.1)}
	out := Normalize(in, 800, 600)
	assert.Equal(t, in, out)
}

func TestNormalize_Idempotent(t *testing.T) {
	cases := []iface.Box{
		iface.PixelBox(12, 40, 300, 280),
		{Class: "Smut", X: iface.Float(0.5), Y: iface.Float(0.5), W: iface.Float(0.1), H: iface.Float(0.1)},
		{Class: "Blast", X1: iface.Float(100), Y1: iface.Float(90), W: iface.Float(0.25), H: iface.Float(0.25)},
	}
	for _, b := range cases {
		once := Normalize(b, 640, 640)
		assert.Equal(t, once, Normalize(once, 640, 640))
	}
}

func TestNormalize_PartialWidthFields(t *testing.T) {
	// x2/y2 derived from x1 + w*width when only width-style fields exist
	in := iface.Box{Class: "Blast", X1: iface.Float(100), Y1: iface.Float(50), W: iface.Float(0.25), H: iface.Float(0.5)}
	out := Normalize(in, 400, 200)
	assert.Equal(t, 0.25, *out.X)
	assert.Equal(t, 0.25, *out.Y)
	assert.Equal(t, 0.25, *out.W)
	assert.Equal(t, 0.5, *out.H)
	assert.Equal(t, 12.5, *out.Percent)
}

func TestNormalize_AmbiguousOrigin(t *testing.T) {
	// x1 == 1 without a tag is indistinguishable from unit space.
	untagged := iface.Box{X: iface.Float(1), Y: iface.Float(1), W: iface.Float(200), H: iface.Float(100)}
	assert.Equal(t, untagged, Normalize(untagged, 640, 480))

	tagged := untagged
	tagged.Space = iface.SpacePixel
	tagged.X1, tagged.Y1 = iface.Float(1), iface.Float(1)
	tagged.X2, tagged.Y2 = iface.Float(201), iface.Float(101)
	out := Normalize(tagged, 640, 480)
	assert.Equal(t, iface.SpaceUnit, out.Space)
	assert.Equal(t, Round(200.0/640, 4), *out.W)
}

func TestNormalize_ZeroFrame(t *testing.T) {
	in := iface.PixelBox(10, 10, 50, 50)
	assert.Equal(t, in, Normalize(in, 0, 480))
	assert.Equal(t, in, Normalize(in, 640, -1))
}

func TestToPixel(t *testing.T) {
	out := Normalize(iface.PixelBox(64, 48, 320, 240), 640, 480)
	x1, y1, x2, y2 := ToPixel(out, 640, 480)
	assert.Equal(t, []int{64, 48, 320, 240}, []int{x1, y1, x2, y2})
}
