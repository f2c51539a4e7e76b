package gpu

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordBackend captures texture rect writes into a CPU-side pixel mirror so
// tests can assert both the call pattern and the resulting texel bytes.
type recordBackend struct {
	width  uint32
	bpp    uint32
	mirror []byte
	rects  []recordedRect
}

type recordedRect struct {
	x, y, w, h uint32
}

func newRecordBackend(width, bpp uint32) *recordBackend {
	return &recordBackend{
		width:  width,
		bpp:    bpp,
		mirror: make([]byte, width*width*bpp),
	}
}

type recordTexture struct{}

func (recordTexture) Release() {}

func (r *recordBackend) CreateVertexBuffer(string, []byte) (Buffer, error) { return nil, nil }
func (r *recordBackend) CreateIndexBuffer(string, []byte) (Buffer, error)  { return nil, nil }
func (r *recordBackend) WriteBuffer(Buffer, uint64, []byte) error          { return nil }
func (r *recordBackend) Release()                                          {}

func (r *recordBackend) CreateDataTexture(string, uint32, uint32, wgpu.TextureFormat) (Texture, error) {
	return recordTexture{}, nil
}

func (r *recordBackend) WriteTextureRect(_ Texture, x, y, w, h, bytesPerPixel uint32, data []byte) error {
	r.rects = append(r.rects, recordedRect{x, y, w, h})
	for row := uint32(0); row < h; row++ {
		dst := ((y+row)*r.width + x) * bytesPerPixel
		src := row * w * bytesPerPixel
		copy(r.mirror[dst:dst+w*bytesPerPixel], data[src:src+w*bytesPerPixel])
	}
	return nil
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i%251 + 1)
	}
	return data
}

func TestUpdateSingleRowAligned(t *testing.T) {
	b := newRecordBackend(8, 4)
	layout := TextureLayout{Width: 8, PixelsPerItem: 1, BytesPerPixel: 4}

	data := pattern(5 * 4)
	writes, err := UpdateTextureRange(b, recordTexture{}, layout, 0, 5, data)
	require.NoError(t, err)
	assert.Equal(t, 1, writes)
	assert.Equal(t, []recordedRect{{0, 0, 5, 1}}, b.rects)
	assert.Equal(t, data, b.mirror[:len(data)])
}

func TestUpdateSingleRowMisalignedStart(t *testing.T) {
	b := newRecordBackend(8, 4)
	layout := TextureLayout{Width: 8, PixelsPerItem: 1, BytesPerPixel: 4}

	// Pixels 3..6 in row 0: one partial top row, nothing else.
	writes, err := UpdateTextureRange(b, recordTexture{}, layout, 3, 4, pattern(4*4))
	require.NoError(t, err)
	assert.Equal(t, 1, writes)
	assert.Equal(t, []recordedRect{{3, 0, 4, 1}}, b.rects)
}

func TestUpdateAlignedMultiRow(t *testing.T) {
	b := newRecordBackend(4, 4)
	layout := TextureLayout{Width: 4, PixelsPerItem: 1, BytesPerPixel: 4}

	// Pixels 0..9: two whole rows plus a partial bottom row.
	data := pattern(10 * 4)
	writes, err := UpdateTextureRange(b, recordTexture{}, layout, 0, 10, data)
	require.NoError(t, err)
	assert.Equal(t, 2, writes)
	assert.Equal(t, []recordedRect{{0, 0, 4, 2}, {0, 2, 2, 1}}, b.rects)
	assert.Equal(t, data, b.mirror[:len(data)])
}

func TestUpdateBothEndsMisaligned(t *testing.T) {
	b := newRecordBackend(4, 4)
	layout := TextureLayout{Width: 4, PixelsPerItem: 1, BytesPerPixel: 4}

	// Pixels 2..12: partial top row, two whole middle rows, partial bottom row.
	data := pattern(11 * 4)
	writes, err := UpdateTextureRange(b, recordTexture{}, layout, 2, 11, data)
	require.NoError(t, err)
	assert.Equal(t, 3, writes)
	assert.Equal(t, []recordedRect{{2, 0, 2, 1}, {0, 1, 4, 2}, {0, 3, 1, 1}}, b.rects)

	// Readback: the mirror holds the exact bytes at the pixel offsets.
	assert.Equal(t, data, b.mirror[2*4:13*4])
}

func TestUpdateMultiPixelItems(t *testing.T) {
	b := newRecordBackend(8, 16)
	// A 16-float matrix attribute occupies 4 RGBA32F pixels per item.
	layout := TextureLayout{Width: 8, PixelsPerItem: 4, BytesPerPixel: 16}

	// Item 1 starts at pixel 4 (mid-row); three items span 12 pixels.
	data := pattern(3 * 4 * 16)
	writes, err := UpdateTextureRange(b, recordTexture{}, layout, 1, 3, data)
	require.NoError(t, err)
	assert.Equal(t, 2, writes)
	assert.Equal(t, []recordedRect{{4, 0, 4, 1}, {0, 1, 8, 1}}, b.rects)
	assert.Equal(t, data, b.mirror[4*16:16*16])
}

func TestUpdateZeroItems(t *testing.T) {
	b := newRecordBackend(4, 4)
	layout := TextureLayout{Width: 4, PixelsPerItem: 1, BytesPerPixel: 4}

	writes, err := UpdateTextureRange(b, recordTexture{}, layout, 2, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, writes)
	assert.Empty(t, b.rects)
}

func TestUpdateValidation(t *testing.T) {
	b := newRecordBackend(4, 4)
	layout := TextureLayout{Width: 4, PixelsPerItem: 1, BytesPerPixel: 4}

	_, err := UpdateTextureRange(b, recordTexture{}, layout, 14, 4, pattern(4*4))
	assert.Error(t, err, "range past the texture end")

	_, err = UpdateTextureRange(b, recordTexture{}, layout, 0, 2, pattern(4))
	assert.Error(t, err, "data length mismatch")

	_, err = UpdateTextureRange(b, recordTexture{}, layout, -1, 2, pattern(8))
	assert.Error(t, err)
}

