// Package store implements a simple key-value store.
package store

import (
	"errors"
	"sync"
)

var (
	ErrKeyExists      = errors.New("store: key already exists")
	ErrKeyDoesntExist = errors.New("store: key does not exist")
)

type Store[T any] interface {
	Set(key string, value T) error
	Get(key string) (T, error)
	Delete(key string) error
	Update(key string, newValue T) error
	Keys() []string
}

// MemStore keeps values in memory. Keys are returned in insertion order.
type MemStore[T any] struct {
	lock  sync.RWMutex
	order []string
	store map[string]T
}

func NewMemStore[T any]() *MemStore[T] {
	return &MemStore[T]{
		store: make(map[string]T),
	}
}

// Set is used to set a value to a key.
func (m *MemStore[T]) Set(key string, value T) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; ok {
		return ErrKeyExists
	}
	m.store[key] = value
	m.order = append(m.order, key)
	return nil
}

// Get is used to get a value from a key.
func (m *MemStore[T]) Get(key string) (T, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	v, ok := m.store[key]
	if !ok {
		var zero T
		return zero, ErrKeyDoesntExist
	}
	return v, nil
}

// Delete removes the specified key and value.
func (m *MemStore[T]) Delete(key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; !ok {
		return ErrKeyDoesntExist
	}
	delete(m.store, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Update can be used to change the value for a given key.
func (m *MemStore[T]) Update(key string, value T) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; !ok {
		return ErrKeyDoesntExist
	}
	m.store[key] = value
	return nil
}

// Upsert sets the value whether or not the key exists.
func (m *MemStore[T]) Upsert(key string, value T) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.store[key]; !ok {
		m.order = append(m.order, key)
	}
	m.store[key] = value
}

// Keys returns a copy of the keys in insertion order.
func (m *MemStore[T]) Keys() []string {
	m.lock.RLock()
	defer m.lock.RUnlock()

	keys := make([]string, len(m.order))
	copy(keys, m.order)
	return keys
}
