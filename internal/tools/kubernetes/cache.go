/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package kubernetes

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// responseCache is an LRU cache of GET responses keyed by cluster and URL.
type responseCache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*list.Element
	order    *list.List
	now      func() time.Time
}

type cacheEntry struct {
	key       string
	content   string
	createdAt time.Time
}

// newResponseCache creates a cache. A nil cache is returned, and all
// operations become no-ops, when capacity or ttl is not positive.
func newResponseCache(capacity int, ttl time.Duration) *responseCache {
	if capacity <= 0 || ttl <= 0 {
		return nil
	}
	return &responseCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

func cacheKey(cluster, rawURL string) string {
	return cluster + "|" + rawURL
}

func (c *responseCache) get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return "", false
	}
	entry := elem.Value.(*cacheEntry)
	if c.now().Sub(entry.createdAt) > c.ttl {
		c.order.Remove(elem)
		delete(c.items, key)
		return "", false
	}
	c.order.MoveToFront(elem)
	return entry.content, true
}

func (c *responseCache) put(key, content string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.content = content
		entry.createdAt = c.now()
		return
	}

	if c.order.Len() >= c.capacity {
		if oldest := c.order.Back(); oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
	c.items[key] = c.order.PushFront(&cacheEntry{key: key, content: content, createdAt: c.now()})
}

// invalidateCluster drops every entry for cluster.
func (c *responseCache) invalidateCluster(cluster string) {
	if c == nil {
		return
	}
	prefix := cluster + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.items {
		if strings.HasPrefix(key, prefix) {
			c.order.Remove(elem)
			delete(c.items, key)
		}
	}
}

func (c *responseCache) size() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
