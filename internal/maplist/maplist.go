package maplist

import (
	"math/rand"
	"slices"
)

// MapList keeps several values per key, e.g. all known addresses of one DC.
type MapList[K comparable, V any] struct {
	Data map[K][]V
}

func New[K comparable, V any]() *MapList[K, V] {
	return &MapList[K, V]{
		Data: map[K][]V{},
	}
}

func (m *MapList[K, V]) Add(key K, value V) {
	m.Data[key] = append(m.Data[key], value)
}

// Replace drops every value stored for key and stores values instead.
func (m *MapList[K, V]) Replace(key K, values ...V) {
	if len(values) == 0 {
		delete(m.Data, key)
		return
	}
	m.Data[key] = slices.Clone(values)
}

func (m *MapList[K, V]) Get(key K) []V {
	return slices.Clone(m.Data[key])
}

func (m *MapList[K, V]) GetRandom(key K) (v V, ok bool) {
	vl := m.Data[key]
	if len(vl) == 0 {
		return v, false
	}
	return vl[rand.Intn(len(vl))], true
}

func (m *MapList[K, V]) Keys() []K {
	keys := make([]K, 0, len(m.Data))
	for k := range m.Data {
		keys = append(keys, k)
	}
	return keys
}

func (m *MapList[K, V]) Clone() *MapList[K, V] {
	c := New[K, V]()
	for k, v := range m.Data {
		c.Data[k] = slices.Clone(v)
	}
	return c
}
