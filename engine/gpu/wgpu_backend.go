package gpu

import (
	"errors"

	"github.com/cogentcore/webgpu/wgpu"
)

// wgpuBackend is the WebGPU implementation of the Backend interface.
type wgpuBackend struct {
	device *wgpu.Device
	queue  *wgpu.Queue
}

var _ Backend = &wgpuBackend{}

// NewWGPUBackend creates a Backend over an initialized WebGPU device and its
// queue. The backend does not own the device; callers release it separately.
//
// Parameters:
//   - device: the WebGPU device
//   - queue: the device's submission queue
//
// Returns:
//   - Backend: the WebGPU-backed implementation
func NewWGPUBackend(device *wgpu.Device, queue *wgpu.Queue) Backend {
	return &wgpuBackend{
		device: device,
		queue:  queue,
	}
}

// wgpuBuffer wraps a wgpu.Buffer as an opaque Buffer handle.
type wgpuBuffer struct {
	buf *wgpu.Buffer
}

func (b *wgpuBuffer) Release() {
	if b.buf != nil {
		b.buf.Release()
		b.buf = nil
	}
}

// wgpuTexture wraps a wgpu.Texture as an opaque Texture handle.
type wgpuTexture struct {
	tex *wgpu.Texture
}

func (t *wgpuTexture) Release() {
	if t.tex != nil {
		t.tex.Release()
		t.tex = nil
	}
}

func (b *wgpuBackend) CreateVertexBuffer(label string, data []byte) (Buffer, error) {
	return b.createBuffer(label, data, wgpu.BufferUsageVertex|wgpu.BufferUsageCopyDst)
}

func (b *wgpuBackend) CreateIndexBuffer(label string, data []byte) (Buffer, error) {
	return b.createBuffer(label, data, wgpu.BufferUsageIndex|wgpu.BufferUsageCopyDst)
}

func (b *wgpuBackend) createBuffer(label string, data []byte, usage wgpu.BufferUsage) (Buffer, error) {
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label:            label,
		Size:             uint64(len(data)),
		Usage:            usage,
		MappedAtCreation: false,
	})
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		b.queue.WriteBuffer(buf, 0, data)
	}
	return &wgpuBuffer{buf: buf}, nil
}

func (b *wgpuBackend) WriteBuffer(buf Buffer, offset uint64, data []byte) error {
	wb, ok := buf.(*wgpuBuffer)
	if !ok || wb.buf == nil {
		return errors.New("gpu: buffer is not a live wgpu buffer")
	}
	b.queue.WriteBuffer(wb.buf, offset, data)
	return nil
}

func (b *wgpuBackend) CreateDataTexture(label string, width, height uint32, format wgpu.TextureFormat) (Texture, error) {
	tex, err := b.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:     label,
		Usage:     wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension: wgpu.TextureDimension2D,
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return nil, err
	}
	return &wgpuTexture{tex: tex}, nil
}

func (b *wgpuBackend) WriteTextureRect(tex Texture, x, y, width, height, bytesPerPixel uint32, data []byte) error {
	wt, ok := tex.(*wgpuTexture)
	if !ok || wt.tex == nil {
		return errors.New("gpu: texture is not a live wgpu texture")
	}

	b.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  wt.tex,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{X: x, Y: y, Z: 0},
			Aspect:   wgpu.TextureAspectAll,
		},
		data,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  width * bytesPerPixel,
			RowsPerImage: height,
		},
		&wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

func (b *wgpuBackend) Release() {
	// The device and queue are borrowed, nothing to release here.
}
