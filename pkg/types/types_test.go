package types

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyForms(t *testing.T) {
	t.Parallel()

	key := NewCacheKey("document-open", 24, 24, StateDisabled)
	assert.Equal(t, "document-open@24x24s1", key.String())
	assert.Equal(t, "document-open@24x24_1", key.TextureKey())
	assert.Equal(t, int64(24*24*4), key.ByteCost())
}

func TestNewCacheKeyNormalizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		w, h      int
		state     IconState
		wantW     int
		wantH     int
		wantState IconState
	}{
		{"zero size", 0, 0, StateNormal, 32, 32, StateNormal},
		{"negative width", -5, 16, StateHover, 32, 32, StateHover},
		{"invalid state", 16, 16, IconState(9), 16, 16, StateNormal},
		{"valid", 48, 24, StatePressed, 48, 24, StatePressed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := NewCacheKey("x", tt.w, tt.h, tt.state)
			assert.Equal(t, tt.wantW, key.Width())
			assert.Equal(t, tt.wantH, key.Height())
			assert.Equal(t, tt.wantState, key.State())
		})
	}
}

func TestCacheKeyFormsDoNotCollide(t *testing.T) {
	t.Parallel()

	keys := []CacheKey{
		NewCacheKey("a", 1, 11, StateNormal),
		NewCacheKey("a", 11, 1, StateNormal),
		NewCacheKey("a@1x1s0", 2, 2, StateNormal),
		NewCacheKey("a@1x1", 2, 2, StateNormal),
		NewCacheKey("a", 2, 2, StateHover),
	}

	seen := make(map[string]bool)
	seenTex := make(map[string]bool)
	for _, k := range keys {
		assert.False(t, seen[k.String()], "duplicate %s", k.String())
		assert.False(t, seenTex[k.TextureKey()], "duplicate %s", k.TextureKey())
		seen[k.String()] = true
		seenTex[k.TextureKey()] = true
	}
}

func TestParseCacheKey(t *testing.T) {
	t.Parallel()

	key := NewCacheKey("mail@home", 16, 20, StateHover)
	parsed, err := ParseCacheKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)

	for _, bad := range []string{"", "noat", "@16x16s0", "a@16x16", "a@16s0", "a@0x16s0", "a@16x16s7"} {
		_, err := ParseCacheKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestIconStateRenderMode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ModeNormal, StateNormal.RenderMode())
	assert.Equal(t, ModeDisabled, StateDisabled.RenderMode())
	assert.Equal(t, ModeActive, StatePressed.RenderMode())
	assert.Equal(t, ModeActive, StateHover.RenderMode())
}

func TestImageHelpers(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(5, 5, 9, 8))
	src.Set(5, 5, color.RGBA{R: 255, A: 255})

	n := ToNRGBA(src)
	require.NotNil(t, n)
	assert.Equal(t, image.Rect(0, 0, 4, 3), n.Bounds())
	assert.True(t, EqualPixels(src, n))
	assert.Equal(t, int64(4*3*4), ImageByteCost(n))

	c := CloneNRGBA(n)
	c.Pix[0] = 1
	assert.NotEqual(t, c.Pix[0], n.Pix[0])

	assert.True(t, IsEmpty(nil))
	var typedNil *image.NRGBA
	assert.True(t, IsEmpty(typedNil))
	assert.Nil(t, ToNRGBA(image.NewNRGBA(image.Rectangle{})))
}

func TestSourcePath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/a.png", Source{Kind: SourceRaster, Raster: &RasterEntry{Path: "/a.png"}}.Path())
	assert.Equal(t, "/a.svg", Source{Kind: SourceVector, Vector: &VectorEntry{Path: "/a.svg"}}.Path())
	assert.Equal(t, "", Source{Kind: SourceVector}.Path())
}
