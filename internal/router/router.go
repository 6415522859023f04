// Package router turns opaque image request identifiers into cache keys.
//
// Identifiers have the form
//
//	name[?fallback=<name>&state=<0..3>]
//
// and arrive together with the size the UI asked for. Parsing is
// tolerant: fragments without '=' are skipped, unknown parameters are
// ignored, a "size" parameter is ignored in favour of the requested size,
// and an out-of-range or non-numeric state leaves the state Normal.
// Percent escapes are decoded; '+' is literal, as in "text-x-c++src".
package router

import (
	"image"
	"net/url"
	"strconv"
	"strings"

	"github.com/objectfs/iconcache/pkg/types"
)

// Request is a parsed image request.
type Request struct {
	// ID is the identifier as received.
	ID string
	// Key is the normalized cache key.
	Key types.CacheKey
	// Fallback is the caller-supplied fallback icon name, if any.
	Fallback string
}

// Parse parses id. A zero or negative requested size becomes 32x32.
func Parse(id string, requested image.Point) Request {
	name, params, hasParams := strings.Cut(id, "?")
	state := types.StateNormal
	var fallback string

	if hasParams {
		for _, param := range strings.Split(params, "&") {
			k, v, ok := strings.Cut(param, "=")
			if !ok {
				continue
			}
			v = unescape(v)
			switch unescape(k) {
			case "fallback":
				fallback = v
			case "state":
				if n, err := strconv.Atoi(v); err == nil && types.IconState(n).Valid() {
					state = types.IconState(n)
				}
			}
		}
	}

	return Request{
		ID:       id,
		Key:      types.NewCacheKey(unescape(name), requested.X, requested.Y, state),
		Fallback: fallback,
	}
}

// Format builds an identifier that Parse maps back to name, fallback and
// state.
func Format(name, fallback string, state types.IconState) string {
	var b strings.Builder
	b.WriteString(url.PathEscape(name))

	sep := byte('?')
	if fallback != "" {
		b.WriteByte(sep)
		b.WriteString("fallback=")
		b.WriteString(escapeValue(fallback))
		sep = '&'
	}
	if state != types.StateNormal && state.Valid() {
		b.WriteByte(sep)
		b.WriteString("state=")
		b.WriteString(strconv.Itoa(int(state)))
	}
	return b.String()
}

// escapeValue escapes a parameter value so that unescape restores it.
// Spaces become %20 since '+' is kept literally.
func escapeValue(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func unescape(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		return u
	}
	return s
}
