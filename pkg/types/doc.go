/*
Package types provides the core data model and collaborator contracts for iconcache.

The package is the foundation shared by every cache tier and by the load pipeline:

	┌─────────────────────────────────────────────┐
	│              UI layer                       │
	│   (request id + size, texture requests)     │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            iconcache.Provider               │
	│   router → loader → preload → metrics       │
	└─────────────────────────────────────────────┘
	          │              │              │
	┌─────────┴───┐  ┌───────┴─────┐  ┌─────┴───────┐
	│ GPU (T1)    │  │ Memory (T2) │  │ Disk (T3)   │
	│ weak refs   │  │ NRGBA copies│  │ PNG + index │
	└─────────────┘  └─────────────┘  └─────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│       Resolver (icon theme lookup)          │
	└─────────────────────────────────────────────┘

# Cache keys

A CacheKey identifies one rendering of an icon: name, pixel size and
interaction state. It has two canonical string forms, one for the memory and
disk tiers and one for the GPU tier:

	key := types.NewCacheKey("document-open", 24, 24, types.StateDisabled)
	key.String()     // "document-open@24x24s1"
	key.TextureKey() // "document-open@24x24_1"

# Collaborators

Resolver and RawImage describe the external icon theme lookup. Resolution
failure is signalled by a false return or an empty rendered image, never by a
panic or error value.

# Sources

Source is a tagged union over raster and vector assets. Exactly one of Raster
or Vector is set, selected by Kind.
*/
package types
