package preview

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txmconvert/pkg/volume"
)

func TestImageMapsEightBitRange(t *testing.T) {
	p := volume.NewPlane(2, 1, []float64{0, 255})
	img := NewRenderer(p, volume.PixelUint8).Image()

	gray, ok := img.(*image.Gray16)
	require.True(t, ok)
	assert.Equal(t, color.Gray16{Y: 0}, gray.Gray16At(0, 0))
	assert.Equal(t, color.Gray16{Y: 65535}, gray.Gray16At(1, 0))
}

func TestImageStretchesRawPlane(t *testing.T) {
	p := volume.NewPlane(3, 1, []float64{-50, 0, 50})
	img := NewRenderer(p, volume.PixelInt16).Image()

	gray := img.(*image.Gray16)
	assert.Equal(t, uint16(0), gray.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(65535), gray.Gray16At(2, 0).Y)
	mid := gray.Gray16At(1, 0).Y
	assert.InDelta(t, 32767, int(mid), 1)
}

func TestImageFlatPlane(t *testing.T) {
	p := volume.NewPlane(2, 1, []float64{9, 9})
	img := NewRenderer(p, volume.PixelFloat32).Image()

	gray := img.(*image.Gray16)
	assert.Equal(t, uint16(0), gray.Gray16At(0, 0).Y)
	assert.Equal(t, uint16(0), gray.Gray16At(1, 0).Y)
}

func TestSaveWritesJPEG(t *testing.T) {
	p := volume.NewPlane(4, 4, make([]float64, 16))
	path := filepath.Join(t.TempDir(), "mid.jpg")
	require.NoError(t, NewRenderer(p, volume.PixelUint8).Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 2)
	assert.Equal(t, []byte{0xFF, 0xD8}, data[:2], "JPEG SOI marker")
}
