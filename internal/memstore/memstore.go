// Package memstore is an in-memory she.KeyStore used by the emulator CLI
// and by she-server's "memory" store backend. It has no persistence and no
// external dependency.
package memstore

import (
	"context"
	"sync"

	"github.com/barnettlynn/she-hsm/pkg/she"
)

type key struct {
	clientID uint32
	slot     she.SlotNumber
}

type object struct {
	key  [she.KeySize]byte
	meta she.ObjectMetadata
}

// Store is a sync.Mutex-guarded map[key]object, keyed by (clientID, slot).
type Store struct {
	mu      sync.Mutex
	objects map[key]object
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[key]object)}
}

func (s *Store) ReadKey(_ context.Context, clientID uint32, slot she.SlotNumber) ([she.KeySize]byte, she.ObjectMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key{clientID, slot}]
	if !ok {
		return [she.KeySize]byte{}, she.ObjectMetadata{}, she.ErrNotFound
	}
	return obj.key, obj.meta, nil
}

func (s *Store) AddObject(_ context.Context, clientID uint32, slot she.SlotNumber, k [she.KeySize]byte, meta she.ObjectMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key{clientID, slot}] = object{key: k, meta: meta}
	return nil
}

func (s *Store) CacheRAMKey(_ context.Context, clientID uint32, k [she.KeySize]byte, meta she.ObjectMetadata) error {
	return s.AddObject(context.Background(), clientID, she.SlotRAMKey, k, meta)
}

// Seed directly installs an object, bypassing the authenticated LOAD_KEY
// flow, for setting up reserved slots.
func (s *Store) Seed(clientID uint32, slot she.SlotNumber, k [she.KeySize]byte, meta she.ObjectMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key{clientID, slot}] = object{key: k, meta: meta}
}
