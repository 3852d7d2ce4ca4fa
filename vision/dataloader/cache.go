package dataloader

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/bachhisto/histonet/vision/preprocessing"
)

// CacheManager is an LRU cache of preprocessed images keyed by file path.
// Cached images are shared between callers and must be treated as read-only.
type CacheManager struct {
	mu          sync.Mutex
	cache       map[string]*preprocessing.ProcessedImage
	lru         *list.List
	lruMap      map[string]*list.Element
	maxSize     int
	currentSize int

	// Statistics
	hits   int64
	misses int64
}

// NewCacheManager creates a cache holding at most maxSize images
func NewCacheManager(maxSize int) *CacheManager {
	return &CacheManager{
		cache:   make(map[string]*preprocessing.ProcessedImage),
		lru:     list.New(),
		lruMap:  make(map[string]*list.Element),
		maxSize: maxSize,
	}
}

// Get retrieves an item from the cache
func (cm *CacheManager) Get(key string) (*preprocessing.ProcessedImage, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if img, exists := cm.cache[key]; exists {
		cm.lru.MoveToFront(cm.lruMap[key])
		cm.hits++
		return img, true
	}

	cm.misses++
	return nil, false
}

// Put adds an item to the cache, evicting the least recently used entries
func (cm *CacheManager) Put(key string, img *preprocessing.ProcessedImage) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if elem, exists := cm.lruMap[key]; exists {
		cm.lru.MoveToFront(elem)
		cm.cache[key] = img
		return
	}

	elem := cm.lru.PushFront(key)
	cm.lruMap[key] = elem
	cm.cache[key] = img
	cm.currentSize++

	for cm.currentSize > cm.maxSize && cm.lru.Len() > 0 {
		cm.removeElement(cm.lru.Back())
	}
}

// removeElement removes an element from the cache
func (cm *CacheManager) removeElement(elem *list.Element) {
	key := elem.Value.(string)
	cm.lru.Remove(elem)
	delete(cm.lruMap, key)
	delete(cm.cache, key)
	cm.currentSize--
}

// Stats returns cache statistics
func (cm *CacheManager) Stats() CacheStats {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	return CacheStats{
		Size:    cm.currentSize,
		MaxSize: cm.maxSize,
		Hits:    cm.hits,
		Misses:  cm.misses,
		HitRate: cm.calculateHitRate(),
	}
}

// calculateHitRate calculates the hit rate percentage
func (cm *CacheManager) calculateHitRate() float64 {
	total := cm.hits + cm.misses
	if total == 0 {
		return 0
	}
	return float64(cm.hits) / float64(total) * 100
}

// Clear empties the cache. Statistics stay cumulative.
func (cm *CacheManager) Clear() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.cache = make(map[string]*preprocessing.ProcessedImage)
	cm.lru = list.New()
	cm.lruMap = make(map[string]*list.Element)
	cm.currentSize = 0
}

// ResetStats resets the statistics
func (cm *CacheManager) ResetStats() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.hits = 0
	cm.misses = 0
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size    int
	MaxSize int
	Hits    int64
	Misses  int64
	HitRate float64
}

// String returns a string representation of cache stats
func (cs CacheStats) String() string {
	return fmt.Sprintf("Cache: %d/%d items, Hits: %d, Misses: %d, Hit Rate: %.1f%%",
		cs.Size, cs.MaxSize, cs.Hits, cs.Misses, cs.HitRate)
}
