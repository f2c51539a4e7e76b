package gpu

import (
	"fmt"
)

// TextureLayout describes how flat item storage maps onto a square data
// texture: item i starts at pixel (i*PixelsPerItem mod Width,
// i*PixelsPerItem div Width) and occupies PixelsPerItem consecutive pixels.
type TextureLayout struct {
	// Width is the texture edge length in pixels (textures are square).
	Width uint32

	// PixelsPerItem is the number of consecutive pixels one item occupies.
	PixelsPerItem uint32

	// BytesPerPixel is the byte stride of one pixel.
	BytesPerPixel uint32
}

// UpdateTextureRange uploads a linear item range into a data texture using at
// most three rectangular sub-image copies: a partial top row from the start
// column to the right edge (only when the range does not start at column 0),
// a block of whole middle rows, and a partial bottom row for the remainder.
// Unrelated texels are never touched and the upload call count is bounded by
// 3 regardless of range length.
//
// Parameters:
//   - b: the backend issuing the copies
//   - tex: the target texture
//   - layout: the texture's item layout
//   - itemOffset: first item of the range
//   - itemCount: number of items to upload
//   - data: packed bytes for the range, itemCount*PixelsPerItem*BytesPerPixel long
//
// Returns:
//   - int: the number of sub-image copies issued (0 to 3)
//   - error: an error if the range is malformed or a copy fails
func UpdateTextureRange(b Backend, tex Texture, layout TextureLayout, itemOffset, itemCount int, data []byte) (int, error) {
	if itemOffset < 0 || itemCount < 0 {
		return 0, fmt.Errorf("gpu: negative texture update range (%d, %d)", itemOffset, itemCount)
	}
	if itemCount == 0 {
		return 0, nil
	}

	w := layout.Width
	firstPixel := uint32(itemOffset) * layout.PixelsPerItem
	pixelCount := uint32(itemCount) * layout.PixelsPerItem

	if firstPixel+pixelCount > w*w {
		return 0, fmt.Errorf("gpu: texture update of %d pixels at %d overflows %dx%d texture", pixelCount, firstPixel, w, w)
	}
	if want := int(pixelCount * layout.BytesPerPixel); len(data) != want {
		return 0, fmt.Errorf("gpu: texture update data is %d bytes, want %d", len(data), want)
	}

	col := firstPixel % w
	row := firstPixel / w
	remaining := pixelCount
	cursor := uint32(0)
	writes := 0

	// Partial top row: from the start column to the right edge, or to the end
	// of the range if it fits in one row.
	if col != 0 {
		n := w - col
		if n > remaining {
			n = remaining
		}
		end := cursor + n*layout.BytesPerPixel
		if err := b.WriteTextureRect(tex, col, row, n, 1, layout.BytesPerPixel, data[cursor:end]); err != nil {
			return writes, err
		}
		writes++
		cursor = end
		remaining -= n
		row++
	}

	// Whole middle rows in one block.
	if rows := remaining / w; rows > 0 {
		end := cursor + rows*w*layout.BytesPerPixel
		if err := b.WriteTextureRect(tex, 0, row, w, rows, layout.BytesPerPixel, data[cursor:end]); err != nil {
			return writes, err
		}
		writes++
		cursor = end
		remaining -= rows * w
		row += rows
	}

	// Partial bottom row.
	if remaining > 0 {
		if err := b.WriteTextureRect(tex, 0, row, remaining, 1, layout.BytesPerPixel, data[cursor:]); err != nil {
			return writes, err
		}
		writes++
	}

	return writes, nil
}
