package types

import (
	"context"
	"image"
)

// RenderMode selects how a raw icon is rendered for a state.
type RenderMode int

const (
	ModeNormal RenderMode = iota
	ModeDisabled
	// ModeActive is used for both pressed and hover states.
	ModeActive
)

// String returns the string representation of the render mode
func (m RenderMode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeDisabled:
		return "disabled"
	case ModeActive:
		return "active"
	default:
		return "unknown"
	}
}

// Resolver looks an icon name up in the icon theme.
type Resolver interface {
	// Resolve returns false when the name is unknown.
	Resolve(ctx context.Context, name string) (RawImage, bool)
}

// RawImage is a resolved but not yet rendered icon.
type RawImage interface {
	// Render negotiates the size and applies the mode. A nil or empty
	// image signals failure.
	Render(size image.Point, mode RenderMode) image.Image
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, name string) (RawImage, bool)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, name string) (RawImage, bool) {
	return f(ctx, name)
}

// RawImageFunc adapts a function to the RawImage interface.
type RawImageFunc func(size image.Point, mode RenderMode) image.Image

// Render calls f.
func (f RawImageFunc) Render(size image.Point, mode RenderMode) image.Image {
	return f(size, mode)
}
