package projection

// streamCache remembers up to size stream names, evicting the oldest.
type streamCache struct {
	ring []string
	next int
	set  map[string]struct{}
}

func newStreamCache(size int) *streamCache {
	return &streamCache{ring: make([]string, size), set: make(map[string]struct{}, size)}
}

func (c *streamCache) Contains(stream string) bool {
	_, ok := c.set[stream]
	return ok
}

func (c *streamCache) Add(stream string) {
	if c.Contains(stream) || len(c.ring) == 0 {
		return
	}
	if old := c.ring[c.next]; old != "" {
		delete(c.set, old)
	}
	c.ring[c.next] = stream
	c.set[stream] = struct{}{}
	c.next = (c.next + 1) % len(c.ring)
}

func (c *streamCache) Remove(stream string) {
	if !c.Contains(stream) {
		return
	}
	delete(c.set, stream)
	for i, s := range c.ring {
		if s == stream {
			c.ring[i] = ""
		}
	}
}
