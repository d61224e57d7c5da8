package she

import (
	"bytes"
	"context"
)

const (
	m1Size = 15 + 1 // UID(15) || (ID<<4|AUTHID)(1)
	m2Size = 32      // counter/flags(4) || reserved(12) || key(16)
	m3Size = KeySize
	m4Size = m1Size
	m5Size = KeySize
	loadKeyReqSize = m1Size + m2Size + m3Size
)

// loadKey implements LOAD_KEY, the authenticated update of any SHE key
// slot. payload is M1 || M2 || M3; the reply is M4 || M5.
func (d *Dispatcher) loadKey(ctx context.Context, s *Session, payload []byte) ([]byte, error) {
	if len(payload) != loadKeyReqSize {
		return nil, sheErr(ErcGeneralError, nil)
	}
	m1 := append([]byte{}, payload[:m1Size]...)
	m2 := append([]byte{}, payload[m1Size:m1Size+m2Size]...)
	m3 := payload[m1Size+m2Size:]

	authID := popAuthID(m1)
	id := popID(m1)

	// 1. Read AUTH key.
	auth, _, err := d.store.ReadKey(ctx, s.ClientID, authID)
	if err != nil {
		return nil, sheErr(ErcKeyNotAvailable, err)
	}
	defer zeroize(auth[:])

	// 2. K2 = AES-MP(AUTH || KEY_UPDATE_MAC_C).
	k2, err := deriveKey(auth[:], KeyUpdateMacC)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	defer zeroize(k2[:])

	// 3. Verify M3 == CMAC(K2, M1 || M2).
	mac, err := aesCMAC(k2[:], append(append([]byte{}, m1...), m2...))
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	if !constantTimeEqual(mac, m3) {
		return nil, sheErr(ErcKeyUpdateError, nil)
	}

	// 4. K1 = AES-MP(AUTH || KEY_UPDATE_ENC_C).
	k1, err := deriveKey(auth[:], KeyUpdateEncC)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	defer zeroize(k1[:])

	// 5. Decrypt M2 in place.
	plainM2, err := aesCBCDecrypt(k1[:], zeroIV, m2)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	copy(m2, plainM2)

	// 6. Read existing target slot.
	existing, existingMeta, readErr := d.store.ReadKey(ctx, s.ClientID, id)
	targetExists := readErr == nil
	if targetExists && existingMeta.Flags&FlagWriteProtect != 0 {
		return nil, sheErr(ErcWriteProtected, nil)
	}
	defer zeroize(existing[:])

	// 7. UID check. A not-yet-existing slot has zero-value metadata, so its
	// wildcard flag reads as unset.
	if isAllZero(m1[:15]) {
		if existingMeta.Flags&FlagWildcard == 0 {
			return nil, sheErr(ErcKeyUpdateError, nil)
		}
	} else if !bytes.Equal(m1[:15], s.uid[:]) {
		return nil, sheErr(ErcKeyUpdateError, nil)
	}

	// 8. Counter strictly increasing.
	presentedCounter := popCounter28(m2)
	if targetExists && presentedCounter <= existingMeta.Counter {
		return nil, sheErr(ErcKeyUpdateError, nil)
	}

	var newKey [KeySize]byte
	copy(newKey[:], m2[16:32])
	newMeta := ObjectMetadata{Flags: popFlags(m2), Counter: presentedCounter}

	// 9. Write new key; re-read to learn the effective stored counter.
	var storedCounter uint32
	if IsRAMSlot(id) {
		if err := d.store.CacheRAMKey(ctx, s.ClientID, newKey, newMeta); err != nil {
			return nil, sheErr(ErcKeyUpdateError, err)
		}
		storedCounter = newMeta.Counter
	} else {
		if err := d.store.AddObject(ctx, s.ClientID, id, newKey, newMeta); err != nil {
			return nil, sheErr(ErcKeyUpdateError, err)
		}
		_, persisted, err := d.store.ReadKey(ctx, s.ClientID, id)
		if err != nil {
			return nil, sheErr(ErcKeyUpdateError, err)
		}
		storedCounter = persisted.Counter
	}

	// 10. M4 = UID || (ID<<4|AUTHID) || AES-ECB(K3, counter').
	k3, err := deriveKey(newKey[:], KeyUpdateEncC)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	defer zeroize(k3[:])

	counterBlock := make([]byte, KeySize)
	pokeCounter28(counterBlock, storedCounter)
	encCounter, err := aesECBEncryptBlock(k3[:], counterBlock)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}

	m4 := make([]byte, m4Size)
	copy(m4[:15], s.uid[:])
	m4[15] = makeIDByte(id, authID)

	reply := make([]byte, m4Size+m5Size+KeySize)
	copy(reply[:m4Size], m4)
	copy(reply[m4Size:m4Size+KeySize], encCounter)

	// 11. M5 = CMAC(K4, M4), M4 being the identity header plus encCounter.
	k4, err := deriveKey(newKey[:], KeyUpdateMacC)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	defer zeroize(k4[:])

	m5, err := aesCMAC(k4[:], reply[:m4Size+KeySize])
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	copy(reply[m4Size+KeySize:], m5)

	if IsRAMSlot(id) {
		s.ramKeyPlain = true
	}
	zeroize(newKey[:])
	return reply, nil
}

// loadPlainKey implements LOAD_PLAIN_KEY: caches a 16-byte key directly
// into RAM_KEY with no authentication.
func (d *Dispatcher) loadPlainKey(ctx context.Context, s *Session, payload []byte) error {
	if len(payload) != KeySize {
		return sheErr(ErcGeneralError, nil)
	}
	var k [KeySize]byte
	copy(k[:], payload)
	if err := d.store.CacheRAMKey(ctx, s.ClientID, k, ObjectMetadata{}); err != nil {
		return sheErr(ErcKeyUpdateError, err)
	}
	s.ramKeyPlain = true
	return nil
}

// exportRAMKey implements EXPORT_RAM_KEY: the inverse flow, authenticated
// by SECRET_KEY, producing an M1..M5 bundle another SHE module could
// replay as LOAD_KEY (its first M1||M2||M3 bytes are a valid LOAD_KEY
// payload).
func (d *Dispatcher) exportRAMKey(ctx context.Context, s *Session, _ []byte) ([]byte, error) {
	if !s.ramKeyPlain {
		return nil, sheErr(ErcKeyInvalid, nil)
	}

	secret, _, err := d.store.ReadKey(ctx, s.ClientID, SlotSecretKey)
	if err != nil {
		return nil, sheErr(ErcKeyNotAvailable, err)
	}
	defer zeroize(secret[:])

	ramKey, _, err := d.store.ReadKey(ctx, s.ClientID, SlotRAMKey)
	if err != nil {
		return nil, sheErr(ErcKeyNotAvailable, err)
	}

	m1 := make([]byte, m1Size)
	copy(m1[:15], s.uid[:])
	m1[15] = makeIDByte(SlotRAMKey, SlotSecretKey)

	k1, err := deriveKey(secret[:], KeyUpdateEncC)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	defer zeroize(k1[:])

	m2 := make([]byte, m2Size)
	pokeCounter28(m2, 1)
	copy(m2[16:32], ramKey[:])

	encM2, err := aesCBCEncrypt(k1[:], zeroIV, m2)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}

	k2, err := deriveKey(secret[:], KeyUpdateMacC)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	defer zeroize(k2[:])

	m3, err := aesCMAC(k2[:], append(append([]byte{}, m1...), encM2...))
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}

	k3, err := deriveKey(ramKey[:], KeyUpdateEncC)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	defer zeroize(k3[:])

	m4 := make([]byte, m4Size)
	copy(m4[:15], s.uid[:])
	m4[15] = makeIDByte(SlotRAMKey, SlotSecretKey)
	counterBlock := make([]byte, KeySize)
	pokeCounter28(counterBlock, 1)
	encCounter, err := aesECBEncryptBlock(k3[:], counterBlock)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}

	k4, err := deriveKey(ramKey[:], KeyUpdateMacC)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	defer zeroize(k4[:])

	m5, err := aesCMAC(k4[:], append(append([]byte{}, m4...), encCounter...))
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}

	reply := make([]byte, 0, m1Size+len(encM2)+m3Size+m4Size+KeySize+m5Size)
	reply = append(reply, m1...)
	reply = append(reply, encM2...)
	reply = append(reply, m3...)
	reply = append(reply, m4...)
	reply = append(reply, encCounter...)
	reply = append(reply, m5...)
	return reply, nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
