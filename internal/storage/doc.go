/*
Package storage provides the filesystem root shared by the persistent
cache tiers.

The disk tier keeps its PNG files and cache-index.json below an
"icon-cache" directory and the usage tracker keeps icon-usage.json next to
it:

	<cache root>/
	├── icon-cache/
	│   ├── cache-index.json
	│   └── <sha256>.png
	└── icon-usage.json

Roots are backed by go-billy filesystems: osfs in production, memfs in
tests. Writes go through WriteFileAtomic, which writes a temporary file
and renames it into place so a crash never leaves a truncated index.
*/
package storage
