package she

import (
	"context"
	"errors"
)

// SlotNumber identifies a reserved or general-purpose SHE key slot within a
// client's key space. Reserved numbers are named below; general key slots
// occupy the remaining 4-bit ID space (0..15 minus the reserved ones).
type SlotNumber byte

const (
	SlotSecretKey  SlotNumber = 0x0
	SlotBootMacKey SlotNumber = 0x1
	SlotBootMac    SlotNumber = 0x2
	SlotPRNGSeed   SlotNumber = 0x3
	SlotRAMKey     SlotNumber = 0xE
)

// Flag bits carried in ObjectMetadata.Flags.
const (
	FlagWriteProtect uint16 = 1 << 0
	FlagWildcard     uint16 = 1 << 1
)

// ObjectMetadata is the metadata half of a persistent SHE key object:
// flags and a monotone 28-bit counter.
type ObjectMetadata struct {
	Flags   uint16
	Counter uint32 // low 28 bits significant; stored top-justified on the wire
}

// ErrNotFound is returned by KeyStore.ReadKey when no object exists for the
// requested slot.
var ErrNotFound = errors.New("she: key object not found")

// KeyStore is the abstract facade over NVM and the RAM key cache. The
// dispatcher never reads or writes key material through any other path.
type KeyStore interface {
	// ReadKey returns the 16-byte key and metadata stored for (clientID,
	// slot), or ErrNotFound.
	ReadKey(ctx context.Context, clientID uint32, slot SlotNumber) ([KeySize]byte, ObjectMetadata, error)

	// AddObject overwrites (or creates) the NVM object for (clientID, slot)
	// with key and meta. Never used for SlotRAMKey.
	AddObject(ctx context.Context, clientID uint32, slot SlotNumber, key [KeySize]byte, meta ObjectMetadata) error

	// CacheRAMKey stores key as the volatile RAM_KEY slot for clientID,
	// bypassing NVM entirely.
	CacheRAMKey(ctx context.Context, clientID uint32, key [KeySize]byte, meta ObjectMetadata) error
}

// IsRAMSlot reports whether slot is the volatile RAM key slot.
func IsRAMSlot(slot SlotNumber) bool {
	return slot == SlotRAMKey
}
