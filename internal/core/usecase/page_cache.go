package usecase

import (
	"container/list"
	"crypto/sha256"
	"sync"
)

type pageKey [sha256.Size]byte

func pageKeyOf(prompt string, image []byte) pageKey {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write(image)
	var key pageKey
	copy(key[:], h.Sum(nil))
	return key
}

type pageEntry struct {
	key        pageKey
	text       string
	confidence float64
}

type pageLRU struct {
	order *list.List
	index map[pageKey]*list.Element
}

// PageCache remembers what a model read from a page image so the same page
// is not sent to the same model twice. Entries are keyed by the image bytes
// and the prompt; each model keeps at most limit entries and evicts the least
// recently used. A nil *PageCache stores nothing.
type PageCache struct {
	limit int

	mu     sync.Mutex
	models map[string]*pageLRU
}

// NewPageCache returns nil when limit is not positive.
func NewPageCache(limit int) *PageCache {
	if limit <= 0 {
		return nil
	}
	return &PageCache{limit: limit, models: make(map[string]*pageLRU)}
}

func (c *PageCache) Get(model string, key pageKey) (string, float64, bool) {
	if c == nil {
		return "", 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lru, ok := c.models[model]
	if !ok {
		return "", 0, false
	}
	el, ok := lru.index[key]
	if !ok {
		return "", 0, false
	}
	lru.order.MoveToFront(el)
	entry := el.Value.(*pageEntry)
	return entry.text, entry.confidence, true
}

func (c *PageCache) Put(model string, key pageKey, text string, confidence float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	lru, ok := c.models[model]
	if !ok {
		lru = &pageLRU{order: list.New(), index: make(map[pageKey]*list.Element)}
		c.models[model] = lru
	}
	if el, ok := lru.index[key]; ok {
		entry := el.Value.(*pageEntry)
		entry.text, entry.confidence = text, confidence
		lru.order.MoveToFront(el)
		return
	}
	lru.index[key] = lru.order.PushFront(&pageEntry{key: key, text: text, confidence: confidence})
	for lru.order.Len() > c.limit {
		oldest := lru.order.Back()
		lru.order.Remove(oldest)
		delete(lru.index, oldest.Value.(*pageEntry).key)
	}
}

// Len reports the number of pages cached for model.
func (c *PageCache) Len(model string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if lru, ok := c.models[model]; ok {
		return lru.order.Len()
	}
	return 0
}
