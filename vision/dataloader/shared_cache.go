package dataloader

import (
	"sync"
)

// SharedCacheManager hands out named caches so that loaders reading the same
// directory through the same transform reuse each other's work
type SharedCacheManager struct {
	mu     sync.Mutex
	caches map[string]*CacheManager
}

// NewSharedCacheManager creates an empty set of named caches
func NewSharedCacheManager() *SharedCacheManager {
	return &SharedCacheManager{caches: make(map[string]*CacheManager)}
}

// GetOrCreateCache gets or creates the cache with the given name.
// maxSize only applies when the cache is created.
func (scm *SharedCacheManager) GetOrCreateCache(name string, maxSize int) *CacheManager {
	scm.mu.Lock()
	defer scm.mu.Unlock()

	if cache, exists := scm.caches[name]; exists {
		return cache
	}

	cache := NewCacheManager(maxSize)
	scm.caches[name] = cache
	return cache
}

// Len returns the number of named caches
func (scm *SharedCacheManager) Len() int {
	scm.mu.Lock()
	defer scm.mu.Unlock()
	return len(scm.caches)
}
