// Package resolver is a directory-backed icon resolver. It looks names up
// in a list of search roots, each laid out as
//
//	<root>/<name>.<ext>
//	<root>/<W>x<H>/<name>.<ext>
//	<root>/scalable/<name>.svg
//
// and renders the best-fitting bitmap at the requested size. Full icon
// theme parsing is out of scope; any types.Resolver can replace this one.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/objectfs/iconcache/pkg/types"
	"github.com/objectfs/iconcache/pkg/utils"
)

// RasterExtensions are tried in order for bitmap icons.
var RasterExtensions = []string{".png", ".webp", ".bmp", ".jpg", ".jpeg", ".gif"}

// VectorExtension marks scalable icons.
const VectorExtension = ".svg"

const scalableDir = "scalable"

// Rasterizer renders vector data. Without one, vector-only icons do not
// render.
type Rasterizer func(data []byte, size image.Point) (image.Image, error)

// Options configures a Resolver.
type Options struct {
	Rasterizer Rasterizer
	Logger     logrus.FieldLogger
}

// Resolver implements types.Resolver over one or more search roots.
// Earlier roots take precedence.
type Resolver struct {
	roots      []billy.Filesystem
	rasterize  Rasterizer
	logger     logrus.FieldLogger
	mu         sync.RWMutex
	sizedDirs  map[int][]sizedDir
	sizedReady map[int]bool
}

type sizedDir struct {
	name string
	size int
}

// New returns a resolver over the given filesystems.
func New(roots []billy.Filesystem, opts Options) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Resolver{
		roots:      roots,
		rasterize:  opts.Rasterizer,
		logger:     logger.WithField("component", "resolver"),
		sizedDirs:  make(map[int][]sizedDir),
		sizedReady: make(map[int]bool),
	}
}

// NewFromDirs returns a resolver over local directories. Directories
// that do not exist are skipped.
func NewFromDirs(dirs []string, opts Options) *Resolver {
	roots := make([]billy.Filesystem, 0, len(dirs))
	for _, dir := range dirs {
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			continue
		}
		roots = append(roots, osfs.New(dir))
	}
	return New(roots, opts)
}

// Resolve implements types.Resolver.
func (r *Resolver) Resolve(ctx context.Context, name string) (types.RawImage, bool) {
	if ctx != nil && ctx.Err() != nil {
		return nil, false
	}
	sources := r.Lookup(name)
	if len(sources) == 0 {
		return nil, false
	}
	return &rawImage{resolver: r, name: name, sources: sources}, true
}

// Lookup returns every asset found for name: bitmaps ordered by nominal
// size (unsized last), then at most one vector.
func (r *Resolver) Lookup(name string) []types.Source {
	if err := utils.ValidateIconName(name); err != nil {
		r.logger.WithError(err).WithField("icon", name).Debug("Rejected icon name")
		return nil
	}

	var (
		rasters []types.Source
		vector  *types.Source
	)
	for i, fs := range r.roots {
		for _, dir := range r.dirs(i) {
			for _, ext := range RasterExtensions {
				p := path.Join(dir.name, name+ext)
				if exists(fs, p) {
					rasters = append(rasters, types.Source{
						Kind:   types.SourceRaster,
						Raster: &types.RasterEntry{Path: p, NominalSize: dir.size},
					})
					break
				}
			}
		}
		if vector == nil {
			for _, dir := range []string{scalableDir, "."} {
				p := path.Join(dir, name+VectorExtension)
				if !exists(fs, p) {
					continue
				}
				data, err := util.ReadFile(fs, p)
				if err != nil {
					continue
				}
				vector = &types.Source{
					Kind:   types.SourceVector,
					Vector: &types.VectorEntry{Path: p, Data: data},
				}
				break
			}
		}
		if len(rasters) > 0 {
			break
		}
	}

	sort.SliceStable(rasters, func(a, b int) bool {
		sa, sb := rasters[a].Raster.NominalSize, rasters[b].Raster.NominalSize
		if sa == 0 || sb == 0 {
			return sb == 0 && sa != 0
		}
		return sa < sb
	})
	if vector != nil {
		rasters = append(rasters, *vector)
	}
	return rasters
}

// dirs lists the search directories of root i: sized subdirectories in
// ascending order, then the root itself. The listing is read once.
func (r *Resolver) dirs(i int) []sizedDir {
	r.mu.RLock()
	if r.sizedReady[i] {
		d := r.sizedDirs[i]
		r.mu.RUnlock()
		return d
	}
	r.mu.RUnlock()

	var dirs []sizedDir
	if infos, err := r.roots[i].ReadDir("."); err == nil {
		for _, info := range infos {
			if !info.IsDir() {
				continue
			}
			if size, ok := parseSizeDir(info.Name()); ok {
				dirs = append(dirs, sizedDir{name: info.Name(), size: size})
			}
		}
	}
	sort.Slice(dirs, func(a, b int) bool { return dirs[a].size < dirs[b].size })
	dirs = append(dirs, sizedDir{name: "."})

	r.mu.Lock()
	r.sizedDirs[i] = dirs
	r.sizedReady[i] = true
	r.mu.Unlock()
	return dirs
}

// Rescan forgets cached directory listings.
func (r *Resolver) Rescan() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizedDirs = make(map[int][]sizedDir)
	r.sizedReady = make(map[int]bool)
}

func parseSizeDir(name string) (int, bool) {
	w, h, ok := strings.Cut(name, "x")
	if !ok {
		return 0, false
	}
	wi, err := strconv.Atoi(w)
	if err != nil || wi <= 0 {
		return 0, false
	}
	hi, err := strconv.Atoi(h)
	if err != nil || hi != wi {
		return 0, false
	}
	return wi, true
}

func exists(fs billy.Filesystem, p string) bool {
	info, err := fs.Stat(p)
	return err == nil && !info.IsDir()
}

func (r *Resolver) decode(src types.Source) (image.Image, error) {
	fs, err := r.fsFor(src)
	if err != nil {
		return nil, err
	}
	data, err := util.ReadFile(fs, src.Path())
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src.Path(), err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", src.Path(), err)
	}
	return img, nil
}

// fsFor finds the first root holding src. Lookup stops at the first root
// with bitmaps, so this matches the root the source came from.
func (r *Resolver) fsFor(src types.Source) (billy.Filesystem, error) {
	for _, fs := range r.roots {
		if exists(fs, src.Path()) {
			return fs, nil
		}
	}
	return nil, fmt.Errorf("%s no longer exists", src.Path())
}

// rawImage picks a source per requested size and renders it.
type rawImage struct {
	resolver *Resolver
	name     string
	sources  []types.Source
}

// Render implements types.RawImage.
func (ri *rawImage) Render(size image.Point, mode types.RenderMode) image.Image {
	if size.X <= 0 || size.Y <= 0 {
		size = image.Pt(types.DefaultIconWidth, types.DefaultIconHeight)
	}
	logger := ri.resolver.logger.WithField("icon", ri.name)

	for _, src := range choose(ri.sources, size) {
		var (
			img image.Image
			err error
		)
		switch src.Kind {
		case types.SourceRaster:
			img, err = ri.resolver.decode(src)
		case types.SourceVector:
			if ri.resolver.rasterize == nil {
				continue
			}
			img, err = ri.resolver.rasterize(src.Vector.Data, size)
		}
		if err != nil {
			logger.WithError(err).Debug("Icon source failed to render")
			continue
		}
		if types.IsEmpty(img) {
			continue
		}
		return ApplyMode(Fit(img, size), mode)
	}
	return nil
}

// choose orders sources for size: the smallest bitmap at least as large
// as the request, then a vector, then the remaining bitmaps largest
// first.
func choose(sources []types.Source, size image.Point) []types.Source {
	want := max(size.X, size.Y)
	var (
		fit, smaller, unsized, vector []types.Source
	)
	for _, s := range sources {
		switch {
		case s.Kind == types.SourceVector:
			vector = append(vector, s)
		case s.Raster.NominalSize == 0:
			unsized = append(unsized, s)
		case s.Raster.NominalSize >= want:
			fit = append(fit, s)
		default:
			smaller = append(smaller, s)
		}
	}
	for i, j := 0, len(smaller)-1; i < j; i, j = i+1, j-1 {
		smaller[i], smaller[j] = smaller[j], smaller[i]
	}
	out := make([]types.Source, 0, len(sources))
	out = append(out, fit...)
	out = append(out, vector...)
	out = append(out, unsized...)
	return append(out, smaller...)
}
