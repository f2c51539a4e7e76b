package gpu

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-batch/common"
)

func TestFormatForAttribute(t *testing.T) {
	cases := []struct {
		elem   common.ElementType
		format wgpu.TextureFormat
	}{
		{common.ElementFloat32, wgpu.TextureFormatRGBA32Float},
		{common.ElementFloat16, wgpu.TextureFormatRGBA16Float},
		{common.ElementUint32, wgpu.TextureFormatRGBA32Uint},
		{common.ElementInt32, wgpu.TextureFormatRGBA32Sint},
		{common.ElementUint16, wgpu.TextureFormatRGBA16Uint},
		{common.ElementUint8, wgpu.TextureFormatRGBA8Uint},
	}
	for _, c := range cases {
		format, err := FormatForAttribute(common.AttributeSpec{Name: "attr", ElementType: c.elem, ItemsPerElement: 4})
		require.NoError(t, err, c.elem)
		assert.Equal(t, c.format, format)
	}
}

func TestFormatForAttributeUnsupported(t *testing.T) {
	_, err := FormatForAttribute(common.AttributeSpec{Name: "attr", ElementType: common.ElementType(99)})
	require.ErrorIs(t, err, common.ErrUnsupportedElementType)
}
