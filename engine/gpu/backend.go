// Package gpu is the capability layer between the batch allocators and the
// GPU. The Backend interface covers exactly what the allocators need: buffer
// creation over staged bytes, data texture creation, and sub-range uploads.
// The only production implementation is WebGPU-backed; tests substitute a
// recording fake.
package gpu

import (
	"fmt"

	"github.com/cogentcore/webgpu/wgpu"

	"github.com/Carmen-Shannon/oxy-batch/common"
)

// Buffer is an opaque handle to a GPU buffer created by a Backend.
type Buffer interface {
	// Release frees the underlying GPU buffer.
	Release()
}

// Texture is an opaque handle to a GPU 2D texture created by a Backend.
type Texture interface {
	// Release frees the underlying GPU texture.
	Release()
}

// Backend defines the GPU operations the batch allocators consume. All calls
// are synchronous submissions into the device's command stream; none await
// GPU completion.
type Backend interface {
	// CreateVertexBuffer creates a vertex buffer and uploads the staged bytes.
	//
	// Parameters:
	//   - label: debug label for the buffer
	//   - data: the staged vertex bytes
	//
	// Returns:
	//   - Buffer: the created buffer handle
	//   - error: an error if creation fails
	CreateVertexBuffer(label string, data []byte) (Buffer, error)

	// CreateIndexBuffer creates an index buffer and uploads the staged bytes.
	//
	// Parameters:
	//   - label: debug label for the buffer
	//   - data: the staged index bytes
	//
	// Returns:
	//   - Buffer: the created buffer handle
	//   - error: an error if creation fails
	CreateIndexBuffer(label string, data []byte) (Buffer, error)

	// WriteBuffer writes bytes into an existing buffer at a byte offset.
	//
	// Parameters:
	//   - buf: the target buffer handle
	//   - offset: destination byte offset
	//   - data: the bytes to write
	//
	// Returns:
	//   - error: an error if the write fails
	WriteBuffer(buf Buffer, offset uint64, data []byte) error

	// CreateDataTexture creates a 2D texture used as random-access attribute
	// storage (sampled by shaders, written via WriteTextureRect).
	//
	// Parameters:
	//   - label: debug label for the texture
	//   - width, height: texture dimensions in pixels
	//   - format: the texture format
	//
	// Returns:
	//   - Texture: the created texture handle
	//   - error: an error if creation fails
	CreateDataTexture(label string, width, height uint32, format wgpu.TextureFormat) (Texture, error)

	// WriteTextureRect copies a tightly packed rectangular block of pixels
	// into a texture at a pixel offset.
	//
	// Parameters:
	//   - tex: the target texture handle
	//   - x, y: destination origin in pixels
	//   - width, height: block dimensions in pixels
	//   - bytesPerPixel: pixel stride of data
	//   - data: the packed pixel bytes, width*height*bytesPerPixel long
	//
	// Returns:
	//   - error: an error if the copy fails
	WriteTextureRect(tex Texture, x, y, width, height, bytesPerPixel uint32, data []byte) error

	// Release frees any resources held by the backend itself. Buffers and
	// textures it created are released individually by their owners.
	Release()
}

// FormatForAttribute maps an attribute's element type to the 4-channel GPU
// texture format backing its instance texture. Attribute items always occupy
// whole RGBA pixels; items wider than 4 components span consecutive pixels.
//
// Parameters:
//   - spec: the attribute declaration
//
// Returns:
//   - wgpu.TextureFormat: the backing texture format
//   - error: common.ErrUnsupportedElementType if no format exists
func FormatForAttribute(spec common.AttributeSpec) (wgpu.TextureFormat, error) {
	switch spec.ElementType {
	case common.ElementFloat32:
		return wgpu.TextureFormatRGBA32Float, nil
	case common.ElementFloat16:
		return wgpu.TextureFormatRGBA16Float, nil
	case common.ElementUint32:
		return wgpu.TextureFormatRGBA32Uint, nil
	case common.ElementInt32:
		return wgpu.TextureFormatRGBA32Sint, nil
	case common.ElementUint16:
		return wgpu.TextureFormatRGBA16Uint, nil
	case common.ElementUint8:
		return wgpu.TextureFormatRGBA8Uint, nil
	default:
		return 0, fmt.Errorf("gpu: attribute %q element type %s: %w", spec.Name, spec.ElementType, common.ErrUnsupportedElementType)
	}
}
