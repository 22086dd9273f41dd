package service

import "sync"

// syncMap is a typed wrapper over sync.Map.
type syncMap[K comparable, V any] struct {
	m sync.Map
}

func (s *syncMap[K, V]) Load(key K) (V, bool) {
	v, ok := s.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

func (s *syncMap[K, V]) Store(key K, value V) { s.m.Store(key, value) }

func (s *syncMap[K, V]) Delete(key K) { s.m.Delete(key) }

func (s *syncMap[K, V]) Range(fn func(K, V) bool) {
	s.m.Range(func(k, v any) bool { return fn(k.(K), v.(V)) })
}
