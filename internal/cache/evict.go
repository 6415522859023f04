package cache

import "sort"

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// entryOrder sorts candidates oldest first: by access time, then sequence.
type entryOrder struct {
	lastAccessed int64
	seq          uint64
}

func (a entryOrder) before(b entryOrder) bool {
	if a.lastAccessed != b.lastAccessed {
		return a.lastAccessed < b.lastAccessed
	}
	return a.seq < b.seq
}

func sortOldestFirst[T any](items []T, order func(T) entryOrder) {
	sort.SliceStable(items, func(i, j int) bool {
		return order(items[i]).before(order(items[j]))
	})
}
