package feedback

import (
	"sync"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

// writeCache keeps the most recent records written by this ingest
type writeCache struct {
	mu    sync.Mutex
	size  int
	items map[string]*model.FeedbackMessage
	order []string
}

func newWriteCache(size int) *writeCache {
	return &writeCache{size: size, items: make(map[string]*model.FeedbackMessage)}
}

func (c *writeCache) put(msg *model.FeedbackMessage) {
	if c.size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[msg.ID]; !ok {
		c.order = append(c.order, msg.ID)
		if len(c.order) > c.size {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.items, oldest)
		}
	}
	c.items[msg.ID] = msg.Clone()
}

func (c *writeCache) get(id string) (*model.FeedbackMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, ok := c.items[id]
	if !ok {
		return nil, false
	}
	return msg.Clone(), true
}

func (c *writeCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
