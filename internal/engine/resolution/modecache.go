package resolution

// ModeAwareCache maps (name, mode) pairs to values for one containing file.
// Keys are unique per pair; insertion order is irrelevant.
type ModeAwareCache[T any] struct {
	m map[ModeKey]T
}

func NewModeAwareCache[T any]() *ModeAwareCache[T] {
	return &ModeAwareCache[T]{m: make(map[ModeKey]T)}
}

func (c *ModeAwareCache[T]) Get(name string, mode Mode) (T, bool) {
	v, ok := c.m[ModeKey{Name: name, Mode: mode}]
	return v, ok
}

func (c *ModeAwareCache[T]) Set(key ModeKey, v T) {
	c.m[key] = v
}

func (c *ModeAwareCache[T]) Delete(key ModeKey) {
	delete(c.m, key)
}

func (c *ModeAwareCache[T]) Len() int {
	return len(c.m)
}

// Range calls fn for every entry until fn returns false.
func (c *ModeAwareCache[T]) Range(fn func(key ModeKey, v T) bool) {
	for k, v := range c.m {
		if !fn(k, v) {
			return
		}
	}
}
