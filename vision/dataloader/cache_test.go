package dataloader

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/bachhisto/histonet/vision/preprocessing"
)

// img builds a single-value processed image for cache tests
func img(v float32) *preprocessing.ProcessedImage {
	return &preprocessing.ProcessedImage{Data: []float32{v}, Channels: 1, Height: 1, Width: 1}
}

func TestCacheManagerBasicOperations(t *testing.T) {
	cm := NewCacheManager(5)

	if data, exists := cm.Get("nonexistent"); exists || data != nil {
		t.Error("Get should return false and nil for nonexistent key")
	}
	if stats := cm.Stats(); stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}

	cm.Put("test_key", img(3))
	if stats := cm.Stats(); stats.Size != 1 {
		t.Errorf("Expected cache size 1, got %d", stats.Size)
	}

	got, exists := cm.Get("test_key")
	if !exists || got.Data[0] != 3 {
		t.Errorf("Get(test_key) = %+v, %v", got, exists)
	}
	if stats := cm.Stats(); stats.Hits != 1 {
		t.Errorf("Expected 1 hit, got %d", stats.Hits)
	}
}

func TestCacheManagerLRUEviction(t *testing.T) {
	tests := []struct {
		name    string
		touch   string
		evicted string
	}{
		{"no access evicts oldest", "", "key1"},
		{"access protects key1", "key1", "key2"},
		{"access protects key2", "key2", "key1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm := NewCacheManager(3)
			cm.Put("key1", img(1))
			cm.Put("key2", img(2))
			cm.Put("key3", img(3))
			if tt.touch != "" {
				cm.Get(tt.touch)
			}
			cm.Put("key4", img(4))

			if size := cm.Stats().Size; size != 3 {
				t.Errorf("Expected cache size 3 after eviction, got %d", size)
			}
			for _, key := range []string{"key1", "key2", "key3", "key4"} {
				_, exists := cm.Get(key)
				if key == tt.evicted && exists {
					t.Errorf("%s should have been evicted", key)
				}
				if key != tt.evicted && !exists {
					t.Errorf("%s should still exist", key)
				}
			}
		})
	}
}

func TestCacheManagerPutExisting(t *testing.T) {
	cm := NewCacheManager(3)
	cm.Put("key1", img(1))
	cm.Put("key1", img(2))

	if size := cm.Stats().Size; size != 1 {
		t.Errorf("Expected cache size to remain 1, got %d", size)
	}
	if got, _ := cm.Get("key1"); got.Data[0] != 2 {
		t.Errorf("Expected replaced value 2, got %v", got.Data[0])
	}
}

func TestCacheManagerStats(t *testing.T) {
	cm := NewCacheManager(5)

	stats := cm.Stats()
	if stats.Size != 0 || stats.MaxSize != 5 || stats.Hits != 0 || stats.Misses != 0 || stats.HitRate != 0 {
		t.Errorf("Initial stats incorrect: %+v", stats)
	}

	cm.Put("key1", img(1))
	cm.Put("key2", img(2))
	cm.Get("key1")
	cm.Get("key2")
	cm.Get("key3")
	cm.Get("nonexist")

	stats = cm.Stats()
	if stats.Size != 2 || stats.Hits != 2 || stats.Misses != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.HitRate != 50.0 {
		t.Errorf("Expected hit rate 50, got %f", stats.HitRate)
	}
}

func TestCacheManagerClearAndResetStats(t *testing.T) {
	cm := NewCacheManager(5)
	cm.Put("key1", img(1))
	cm.Put("key2", img(2))
	cm.Get("key1")

	cm.Clear()
	stats := cm.Stats()
	if stats.Size != 0 {
		t.Errorf("Expected size 0 after clear, got %d", stats.Size)
	}
	if stats.Hits == 0 {
		t.Error("Expected stats to be preserved after clear")
	}
	if _, exists := cm.Get("key1"); exists {
		t.Error("key1 should not exist after clear")
	}

	cm.Put("key3", img(3))
	cm.ResetStats()
	stats = cm.Stats()
	if stats.Hits != 0 || stats.Misses != 0 || stats.HitRate != 0 {
		t.Errorf("Expected zero stats after reset, got %+v", stats)
	}
	if stats.Size != 1 {
		t.Errorf("Expected cache size to remain 1, got %d", stats.Size)
	}
}

func TestCacheManagerConcurrency(t *testing.T) {
	cm := NewCacheManager(100)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("key_%d_%d", id, j)
				cm.Put(key, img(float32(id*1000+j)))
				if got, exists := cm.Get(key); exists && got.Data[0] != float32(id*1000+j) {
					t.Errorf("Data corruption detected for key %s", key)
				}
				cm.Stats()
			}
		}(i)
	}
	wg.Wait()

	stats := cm.Stats()
	if stats.Size == 0 || stats.Size > 100 {
		t.Errorf("unexpected final size %d", stats.Size)
	}
}

func TestCacheStatsString(t *testing.T) {
	stats := CacheStats{Size: 10, MaxSize: 100, Hits: 75, Misses: 25, HitRate: 75.0}
	str := stats.String()
	for _, substr := range []string{"10/100", "Hits: 75", "Misses: 25", "75.0%"} {
		if !strings.Contains(str, substr) {
			t.Errorf("Expected stats string to contain '%s', got: %s", substr, str)
		}
	}
}

func BenchmarkCacheManagerMixed(b *testing.B) {
	cm := NewCacheManager(1000)
	data := img(1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key_%d", i%2000)
		if _, ok := cm.Get(key); !ok {
			cm.Put(key, data)
		}
	}
}
