package notes

import "github.com/malbeclabs/notes/client/pkg/program"

// cache holds notes keyed by identity, in display order.
type cache struct {
	order []program.Key
	byKey map[program.Key]program.Note
}

func newCache() *cache {
	return &cache{byKey: make(map[program.Key]program.Note)}
}

// replace resets the cache to notes. Later duplicates of a key are dropped.
func (c *cache) replace(notes []program.Note) {
	c.order = make([]program.Key, 0, len(notes))
	c.byKey = make(map[program.Key]program.Note, len(notes))
	for _, n := range notes {
		k := n.Key()
		if _, ok := c.byKey[k]; ok {
			continue
		}
		c.order = append(c.order, k)
		c.byKey[k] = n
	}
}

func (c *cache) clear() {
	c.replace(nil)
}

// prepend inserts n at the front, replacing any entry with the same key.
func (c *cache) prepend(n program.Note) {
	k := n.Key()
	if _, ok := c.byKey[k]; ok {
		c.remove(k)
	}
	c.order = append([]program.Key{k}, c.order...)
	c.byKey[k] = n
}

func (c *cache) get(k program.Key) (program.Note, bool) {
	n, ok := c.byKey[k]
	return n, ok
}

func (c *cache) setValue(k program.Key, value string) bool {
	n, ok := c.byKey[k]
	if !ok {
		return false
	}
	n.Value = value
	c.byKey[k] = n
	return true
}

func (c *cache) remove(k program.Key) bool {
	if _, ok := c.byKey[k]; !ok {
		return false
	}
	delete(c.byKey, k)
	for i, key := range c.order {
		if key == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

func (c *cache) list() []program.Note {
	out := make([]program.Note, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.byKey[k])
	}
	return out
}

func (c *cache) len() int {
	return len(c.order)
}
