package she

import (
	"context"
	"sync"
)

// memStore is a minimal in-process KeyStore for pkg/she's own unit tests,
// independent of internal/memstore so this package has no import cycle
// risk and no dependency on the rest of the module.
type memStore struct {
	mu      sync.Mutex
	objects map[memKey]memObject
}

type memKey struct {
	clientID uint32
	slot     SlotNumber
}

type memObject struct {
	key  [KeySize]byte
	meta ObjectMetadata
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[memKey]memObject)}
}

func (s *memStore) ReadKey(_ context.Context, clientID uint32, slot SlotNumber) ([KeySize]byte, ObjectMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[memKey{clientID, slot}]
	if !ok {
		return [KeySize]byte{}, ObjectMetadata{}, ErrNotFound
	}
	return obj.key, obj.meta, nil
}

func (s *memStore) AddObject(_ context.Context, clientID uint32, slot SlotNumber, key [KeySize]byte, meta ObjectMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[memKey{clientID, slot}] = memObject{key: key, meta: meta}
	return nil
}

func (s *memStore) CacheRAMKey(_ context.Context, clientID uint32, key [KeySize]byte, meta ObjectMetadata) error {
	return s.AddObject(context.Background(), clientID, SlotRAMKey, key, meta)
}

func (s *memStore) seed(clientID uint32, slot SlotNumber, key [KeySize]byte, meta ObjectMetadata) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[memKey{clientID, slot}] = memObject{key: key, meta: meta}
}

func keyOf(b byte) [KeySize]byte {
	var k [KeySize]byte
	for i := range k {
		k[i] = b
	}
	return k
}
