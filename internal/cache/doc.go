/*
Package cache implements the three icon cache tiers.

Each tier is independent and owns exactly one mutex. No tier calls
another tier, the resolver or the renderer while holding its lock.

	┌─────────────────────────────────────────────┐
	│              UI / rendering layer           │
	└─────────────────────────────────────────────┘
	                      │ Materialize (render thread)
	┌─────────────────────────────────────────────┐
	│  Tier 1: GpuCache                           │
	│   • per rendering context                   │
	│   • weak.Pointer[Texture], never owning     │
	│   • LRU per context, 64MB default           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│  Tier 2: MemoryCache                        │
	│   • decoded NRGBA images, copies out        │
	│   • LRU by byte cost, 128MB default         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│  Tier 3: DiskCache                          │
	│   • PNG files named by SHA-256 of the key   │
	│   • cache-index.json sidecar                │
	│   • LRU by file size, 512MB default         │
	└─────────────────────────────────────────────┘

# Budgets

After any insert completes, the sum of entry costs in a tier is at most
its budget. An item that is larger than the whole budget is not retained.
Eviction removes the least recently accessed entry first; ties on access
time are broken by insertion/access sequence so the order is
deterministic.

# GPU texture lifetime

Textures belong to the rendering subsystem. The GPU tier holds only weak
pointers and treats an entry as stale once the texture has been
collected or reports itself released. Clearing the tier never releases a
texture.

# Failure handling

The memory tier cannot fail. The disk tier treats corrupt files as
misses and purges them from the index; an unreadable index starts the
tier empty; a storage write failure disables the tier for the rest of
the session.
*/
package cache
