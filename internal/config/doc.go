/*
Package config holds the daemon configuration.

Values come from three layers, later layers overriding earlier ones:

	NewDefault()            compiled-in defaults
	LoadFromFile(path)      YAML file
	LoadFromEnv()           ICONCACHE_* environment variables

Validate checks the merged result and reports the first problem as a
CONFIG_VALIDATION error naming the offending field.

# File format

	logging:
	  level: INFO            # DEBUG, INFO, WARN, ERROR
	  format: text           # text or json
	  file: ""               # stderr when empty
	  max_size: 10MB
	  max_backups: 3
	cache:
	  directory: ~/.cache/iconcache
	  memory_size: 128MB
	  gpu_size: 64MB
	  disk_size: 512MB
	  disk_enabled: true
	loader:
	  workers: 0             # 0 picks a size from the CPU count
	  coalesce: false
	  default_icon: application-x-executable
	usage:
	  enabled: true
	preload:
	  auto_enabled: true
	  count: 30              # 1..100
	  startup_delay: 500ms
	metrics:
	  enabled: true
	  namespace: iconcache
	api:
	  enabled: true
	  address: 127.0.0.1:8089
	themes:
	  directories: [/usr/share/icons/hicolor, /usr/share/pixmaps]

Sizes accept the suffixes understood by utils.ParseBytes (B, KB, MB, GB,
TB and their KiB forms).

# Environment

	ICONCACHE_LOG_LEVEL ICONCACHE_LOG_FORMAT ICONCACHE_LOG_FILE
	ICONCACHE_CACHE_DIR ICONCACHE_MEMORY_CACHE_SIZE ICONCACHE_GPU_CACHE_SIZE
	ICONCACHE_DISK_CACHE_SIZE ICONCACHE_DISK_CACHE_ENABLED
	ICONCACHE_WORKERS ICONCACHE_COALESCE ICONCACHE_USAGE_TRACKING
	ICONCACHE_AUTO_PRELOAD ICONCACHE_PRELOAD_COUNT ICONCACHE_PRELOAD_DELAY
	ICONCACHE_METRICS_ENABLED ICONCACHE_API_ADDRESS ICONCACHE_ICON_DIRS
*/
package config
