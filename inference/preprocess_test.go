package inference

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrepareInputFloat(t *testing.T) {
	img := imaging.New(416, 416, color.NRGBA{R: 200, G: 100, B: 0, A: 255})
	px := NewPixels(416, false)

	require.NoError(t, PrepareInput(img, px))
	require.Len(t, px.Float, 416*416*3)
	assert.Nil(t, px.Bytes)

	for _, i := range []int{0, 3 * 1000, len(px.Float) - 3} {
		assert.InDelta(t, (200.0-128)/128, px.Float[i], 1e-6, "red at %d", i)
		assert.InDelta(t, (100.0-128)/128, px.Float[i+1], 1e-6, "green at %d", i+1)
		assert.InDelta(t, -1.0, px.Float[i+2], 1e-6, "blue at %d", i+2)
	}
}

func TestPrepareInputQuantized(t *testing.T) {
	img := imaging.New(416, 416, color.NRGBA{R: 223, G: 146, B: 136, A: 255})
	px := NewPixels(416, true)

	require.NoError(t, PrepareInput(img, px))
	assert.Nil(t, px.Float)
	assert.Equal(t, []uint8{223, 146, 136}, px.Bytes[:3])
	assert.Equal(t, []uint8{223, 146, 136}, px.Bytes[len(px.Bytes)-3:])
}

func TestPrepareInputResizes(t *testing.T) {
	img := imaging.New(640, 480, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	px := NewPixels(32, false)

	require.NoError(t, PrepareInput(img, px))
	for i, v := range px.Float {
		if !assert.InDelta(t, 0, v, 2.0/128, "value %d", i) {
			break
		}
	}
}

func TestPrepareInputOffsetBounds(t *testing.T) {
	base := imaging.New(64, 64, color.NRGBA{A: 255})
	sub := base.SubImage(image.Rect(32, 32, 48, 48))
	px := NewPixels(16, true)

	require.NoError(t, PrepareInput(sub, px))
	assert.Equal(t, uint8(0), px.Bytes[0])
}

func TestPrepareInputErrors(t *testing.T) {
	img := imaging.New(8, 8, color.White)

	assert.Error(t, PrepareInput(nil, NewPixels(8, false)))
	assert.Error(t, PrepareInput(img, &Pixels{Size: 8}))
	assert.Error(t, PrepareInput(img, &Pixels{Size: 0}))
}
