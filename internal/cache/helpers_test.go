package cache

import (
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/go-git/go-billy/v5"

	"github.com/objectfs/iconcache/pkg/types"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

func key(name string, size int) types.CacheKey {
	return types.NewCacheKey(name, size, size, types.StateNormal)
}

// fakeRenderer hands out textures without keeping them alive.
type fakeRenderer struct {
	mu      sync.Mutex
	nextID  uint64
	uploads int
	fail    error
}

func (r *fakeRenderer) Upload(_ ContextID, img *image.NRGBA) (*Texture, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return nil, r.fail
	}
	r.nextID++
	r.uploads++
	return NewTexture(r.nextID, img.Bounds().Size(), fmt.Sprintf("tex-%d", r.nextID)), nil
}

func (r *fakeRenderer) Uploads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.uploads
}

// failingFS rejects every file creation.
type failingFS struct {
	billy.Filesystem
}

func (f failingFS) Create(name string) (billy.File, error) {
	return nil, fmt.Errorf("create %s: read-only filesystem", name)
}
