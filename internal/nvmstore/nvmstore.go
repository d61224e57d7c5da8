// Package nvmstore implements she.KeyStore on top of gorm, giving SHE key
// objects a real persistent home. sqlite is the default backend; postgres is
// supported behind the same constructor by DSN scheme.
package nvmstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/barnettlynn/she-hsm/pkg/she"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// KeyRow is the gorm model backing a single SHE key object. Identity is
// (ClientID, SlotNumber), enforced by a composite unique index.
type KeyRow struct {
	ID         uint `gorm:"primaryKey"`
	ClientID   uint32 `gorm:"uniqueIndex:idx_client_slot"`
	SlotNumber uint8  `gorm:"uniqueIndex:idx_client_slot"`
	Key        []byte `gorm:"type:blob"`
	Flags      uint16
	Counter    uint32
}

func (KeyRow) TableName() string { return "she_key_objects" }

// Store is a gorm-backed she.KeyStore. Writes are additionally serialized
// by a process-local mutex: gorm's own connection pool allows concurrent
// reads, but the counter-rollback check (read-then-write) must not race
// across two sessions updating the same slot.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// Open connects to dsn. A dsn beginning with "postgres://" or
// "postgresql://" selects the postgres driver; anything else is treated as a sqlite file path (":memory:"
// included).
func Open(dsn string) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("nvmstore: open %q: %w", dsn, err)
	}
	if err := db.AutoMigrate(&KeyRow{}); err != nil {
		return nil, fmt.Errorf("nvmstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) ReadKey(ctx context.Context, clientID uint32, slot she.SlotNumber) ([she.KeySize]byte, she.ObjectMetadata, error) {
	var row KeyRow
	err := s.db.WithContext(ctx).
		Where("client_id = ? AND slot_number = ?", clientID, uint8(slot)).
		First(&row).Error
	if err != nil {
		return [she.KeySize]byte{}, she.ObjectMetadata{}, she.ErrNotFound
	}
	var key [she.KeySize]byte
	copy(key[:], row.Key)
	return key, she.ObjectMetadata{Flags: row.Flags, Counter: row.Counter}, nil
}

func (s *Store) AddObject(ctx context.Context, clientID uint32, slot she.SlotNumber, key [she.KeySize]byte, meta she.ObjectMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := KeyRow{
		ClientID:   clientID,
		SlotNumber: uint8(slot),
		Key:        append([]byte{}, key[:]...),
		Flags:      meta.Flags,
		Counter:    meta.Counter,
	}
	return s.db.WithContext(ctx).
		Where("client_id = ? AND slot_number = ?", clientID, uint8(slot)).
		Assign(row).
		FirstOrCreate(&KeyRow{}).Error
}

func (s *Store) CacheRAMKey(ctx context.Context, clientID uint32, key [she.KeySize]byte, meta she.ObjectMetadata) error {
	return s.AddObject(ctx, clientID, she.SlotRAMKey, key, meta)
}

// Provision seeds a reserved slot directly, bypassing LOAD_KEY's
// authentication — used only by cmd/she-provision at manufacturing time,
// before any host UID exists.
func (s *Store) Provision(ctx context.Context, clientID uint32, slot she.SlotNumber, key [she.KeySize]byte, flags uint16) error {
	return s.AddObject(ctx, clientID, slot, key, she.ObjectMetadata{Flags: flags})
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
