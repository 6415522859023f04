package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateIconName checks that an icon name can be used as a file name
// component. Theme lookups join names onto search directories, so a name
// must not contain separators or traversal sequences.
func ValidateIconName(name string) error {
	if name == "" {
		return fmt.Errorf("icon name cannot be empty")
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("icon name contains a path separator: %q", name)
	}
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return fmt.Errorf("icon name contains directory traversal: %q", name)
	}
	return nil
}

// SecureJoin safely joins path elements and ensures the result stays within the base directory.
//
//	safePath, err := SecureJoin("/usr/share/icons", "hicolor", filename)
//	if err != nil {
//		return fmt.Errorf("invalid path combination: %w", err)
//	}
func SecureJoin(base string, elements ...string) (string, error) {
	if base == "" {
		return "", fmt.Errorf("base path cannot be empty")
	}

	cleanBase := filepath.Clean(base)
	fullPath := filepath.Join(append([]string{cleanBase}, elements...)...)

	if !strings.HasPrefix(fullPath, cleanBase+string(filepath.Separator)) &&
		fullPath != cleanBase {
		return "", fmt.Errorf("path escapes base directory")
	}

	return fullPath, nil
}

// CacheRoot returns the user-specific cache directory for iconcache,
// honouring XDG_CACHE_HOME and falling back to ~/.cache.
func CacheRoot() string {
	if dir, err := os.UserCacheDir(); err == nil && dir != "" {
		return filepath.Join(dir, "iconcache")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".cache", "iconcache")
	}
	return filepath.Join(os.TempDir(), "iconcache")
}
