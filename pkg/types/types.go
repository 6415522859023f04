package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// IconState is the interaction state an icon is rendered for.
type IconState int

const (
	StateNormal IconState = iota
	StateDisabled
	StatePressed
	StateHover
)

// String returns the string representation of the state
func (s IconState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateDisabled:
		return "disabled"
	case StatePressed:
		return "pressed"
	case StateHover:
		return "hover"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the four defined states.
func (s IconState) Valid() bool {
	return s >= StateNormal && s <= StateHover
}

// RenderMode returns the resolver mode used to render s.
func (s IconState) RenderMode() RenderMode {
	switch s {
	case StateDisabled:
		return ModeDisabled
	case StatePressed, StateHover:
		return ModeActive
	default:
		return ModeNormal
	}
}

// Default icon dimensions used when a request carries no usable size.
const (
	DefaultIconWidth  = 32
	DefaultIconHeight = 32
)

// CacheKey is the canonical identity of one icon rendering.
type CacheKey struct {
	name   string
	width  int
	height int
	state  IconState
}

// NewCacheKey builds a key. Non-positive dimensions fall back to the
// default size and invalid states to StateNormal.
func NewCacheKey(name string, width, height int, state IconState) CacheKey {
	if width <= 0 || height <= 0 {
		width, height = DefaultIconWidth, DefaultIconHeight
	}
	if !state.Valid() {
		state = StateNormal
	}
	return CacheKey{name: name, width: width, height: height, state: state}
}

// Name returns the icon name.
func (k CacheKey) Name() string { return k.name }

// Width returns the requested width in pixels.
func (k CacheKey) Width() int { return k.width }

// Height returns the requested height in pixels.
func (k CacheKey) Height() int { return k.height }

// State returns the interaction state.
func (k CacheKey) State() IconState { return k.state }

// IsZero reports whether k is the zero key.
func (k CacheKey) IsZero() bool { return k == CacheKey{} }

// String returns the memory/disk form "<name>@<w>x<h>s<state>".
func (k CacheKey) String() string {
	return fmt.Sprintf("%s@%dx%ds%d", k.name, k.width, k.height, int(k.state))
}

// TextureKey returns the GPU tier form "<name>@<w>x<h>_<state>".
func (k CacheKey) TextureKey() string {
	return fmt.Sprintf("%s@%dx%d_%d", k.name, k.width, k.height, int(k.state))
}

// ByteCost estimates the RGBA8 footprint of the rendering.
func (k CacheKey) ByteCost() int64 {
	return int64(k.width) * int64(k.height) * 4
}

// ParseCacheKey parses the form produced by String. The suffix is parsed
// from the last '@', so names may themselves contain '@'.
func ParseCacheKey(s string) (CacheKey, error) {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 {
		return CacheKey{}, fmt.Errorf("invalid cache key %q: missing name", s)
	}
	name, rest := s[:at], s[at+1:]

	sPos := strings.LastIndexByte(rest, 's')
	if sPos < 0 {
		return CacheKey{}, fmt.Errorf("invalid cache key %q: missing state", s)
	}
	state, err := strconv.Atoi(rest[sPos+1:])
	if err != nil || !IconState(state).Valid() {
		return CacheKey{}, fmt.Errorf("invalid cache key %q: bad state", s)
	}

	w, h, ok := strings.Cut(rest[:sPos], "x")
	if !ok {
		return CacheKey{}, fmt.Errorf("invalid cache key %q: bad size", s)
	}
	width, werr := strconv.Atoi(w)
	height, herr := strconv.Atoi(h)
	if werr != nil || herr != nil || width <= 0 || height <= 0 {
		return CacheKey{}, fmt.Errorf("invalid cache key %q: bad size", s)
	}

	return CacheKey{name: name, width: width, height: height, state: IconState(state)}, nil
}

// CacheStats represents cache performance statistics for one tier
type CacheStats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Entries     int     `json:"entries"`
	Size        int64   `json:"size"`
	Capacity    int64   `json:"capacity"`
	HitRate     float64 `json:"hit_rate"`
	Utilization float64 `json:"utilization"`
}

// UsageEntry records how often and how recently an icon was requested.
type UsageEntry struct {
	Key           string    `json:"key"`
	IconName      string    `json:"iconName"`
	Size          int       `json:"size"`
	State         IconState `json:"state"`
	AccessCount   int64     `json:"accessCount"`
	FirstAccessed time.Time `json:"firstAccessed"`
	LastAccessed  time.Time `json:"lastAccessed"`
}

// SourceKind tags the variant held by a Source.
type SourceKind int

const (
	SourceRaster SourceKind = iota
	SourceVector
)

// String returns the string representation of the source kind
func (k SourceKind) String() string {
	switch k {
	case SourceRaster:
		return "raster"
	case SourceVector:
		return "vector"
	default:
		return "unknown"
	}
}

// RasterEntry is a fixed-size bitmap asset.
type RasterEntry struct {
	Path string
	// NominalSize is the size the bitmap was drawn for, 0 when unknown.
	NominalSize int
}

// VectorEntry is a scalable asset that needs a rasterizer.
type VectorEntry struct {
	Path string
	Data []byte
}

// Source is a resolved icon asset.
type Source struct {
	Kind   SourceKind
	Raster *RasterEntry
	Vector *VectorEntry
}

// Path returns the file path of whichever variant is set.
func (s Source) Path() string {
	switch s.Kind {
	case SourceRaster:
		if s.Raster != nil {
			return s.Raster.Path
		}
	case SourceVector:
		if s.Vector != nil {
			return s.Vector.Path
		}
	}
	return ""
}
