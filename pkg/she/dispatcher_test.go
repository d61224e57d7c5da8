package she

import (
	"context"
	"testing"
)

func newTestDispatcher() (*Dispatcher, *memStore) {
	store := newMemStore()
	return NewDispatcher(store, nil), store
}

func setUID(t *testing.T, d *Dispatcher, s *Session, uid byte) {
	t.Helper()
	rc, _, err := d.Handle(context.Background(), s, CmdSetUID, keyUID(uid))
	if err != nil || rc != ErcNoError {
		t.Fatalf("SET_UID failed: rc=%v err=%v", rc, err)
	}
}

// skipSecureBoot runs SB_INIT with no BOOT_MAC_KEY provisioned, which moves
// the session straight to SBSuccess so non-SB commands pass the gate.
func skipSecureBoot(t *testing.T, d *Dispatcher, s *Session) {
	t.Helper()
	rc, _, err := d.Handle(context.Background(), s, CmdSecureBootInit, []byte{0, 0, 0, 0})
	if err != nil || rc != ErcNoSecureBoot {
		t.Fatalf("SB_INIT skip failed: rc=%v err=%v", rc, err)
	}
}

func keyUID(b byte) []byte {
	u := make([]byte, 15)
	for i := range u {
		u[i] = b
	}
	return u
}

func TestHandleRejectsNilSessionOrPayload(t *testing.T) {
	d, _ := newTestDispatcher()
	if _, _, err := d.Handle(context.Background(), nil, CmdGetStatus, []byte{}); err != ErrBadArgs {
		t.Fatalf("expected ErrBadArgs for nil session, got %v", err)
	}
	s := NewSession(1)
	if _, _, err := d.Handle(context.Background(), s, CmdGetStatus, nil); err != ErrBadArgs {
		t.Fatalf("expected ErrBadArgs for nil payload, got %v", err)
	}
}

func TestGateRejectsEverythingBeforeSetUID(t *testing.T) {
	d, _ := newTestDispatcher()
	s := NewSession(1)
	rc, _, _ := d.Handle(context.Background(), s, CmdInitRND, []byte{})
	if rc != ErcSequenceError {
		t.Fatalf("expected SEQUENCE_ERROR before SET_UID, got %v", rc)
	}
	// GET_STATUS is itself gated by UID too, per spec.
	rc, _, _ = d.Handle(context.Background(), s, CmdGetStatus, []byte{})
	if rc != ErcSequenceError {
		t.Fatalf("expected SEQUENCE_ERROR for GET_STATUS before SET_UID, got %v", rc)
	}
}

func TestSetUIDRejectsDuplicate(t *testing.T) {
	d, _ := newTestDispatcher()
	s := NewSession(1)
	setUID(t, d, s, 0xAA)
	rc, _, _ := d.Handle(context.Background(), s, CmdSetUID, keyUID(0xBB))
	if rc != ErcSequenceError {
		t.Fatalf("expected SEQUENCE_ERROR for duplicate SET_UID, got %v", rc)
	}
}

func TestGateAllowsOnlySBAndStatusBeforeBootSuccess(t *testing.T) {
	d, store := newTestDispatcher()
	s := NewSession(1)
	setUID(t, d, s, 0xAA)
	rc, _, _ := d.Handle(context.Background(), s, CmdInitRND, []byte{})
	if rc != ErcSequenceError {
		t.Fatalf("expected SEQUENCE_ERROR for INIT_RND before secure boot, got %v", rc)
	}
	// No BOOT_MAC_KEY provisioned: SB_INIT itself resolves to SBSuccess
	// with NO_SECURE_BOOT, so INIT_RND should work right after.
	rc, _, _ = d.Handle(context.Background(), s, CmdSecureBootInit, []byte{0, 0, 0, 0})
	if rc != ErcNoSecureBoot {
		t.Fatalf("expected NO_SECURE_BOOT, got %v", rc)
	}
	if s.sbState != SBSuccess {
		t.Fatalf("expected sbState SUCCESS after skip, got %v", s.sbState)
	}

	store.seed(1, SlotSecretKey, keyOf(0x01), ObjectMetadata{})
	store.seed(1, SlotPRNGSeed, keyOf(0x02), ObjectMetadata{})
	rc, _, err := d.Handle(context.Background(), s, CmdInitRND, []byte{})
	if err != nil || rc != ErcNoError {
		t.Fatalf("INIT_RND after SB skip failed: rc=%v err=%v", rc, err)
	}
}

func TestGetStatusReflectsSessionState(t *testing.T) {
	d, store := newTestDispatcher()
	s := NewSession(1)
	setUID(t, d, s, 0xAA)

	store.seed(1, SlotBootMacKey, keyOf(0x01), ObjectMetadata{})
	store.seed(1, SlotBootMac, mustCMAC(t, keyOf(0x01), sbExpectedInput(0)), ObjectMetadata{})

	if _, _, err := d.Handle(context.Background(), s, CmdSecureBootInit, []byte{0, 0, 0, 0}); err != nil {
		t.Fatalf("SB_INIT: %v", err)
	}
	// An empty SB_UPDATE completes the zero-length image and moves the FSM
	// to FINISH.
	if rc, _, err := d.Handle(context.Background(), s, CmdSecureBootUpdate, []byte{}); err != nil || rc != ErcNoError {
		t.Fatalf("SB_UPDATE failed: rc=%v err=%v", rc, err)
	}
	rc, _, err := d.Handle(context.Background(), s, CmdSecureBootFinish, []byte{})
	if err != nil || rc != ErcNoError {
		t.Fatalf("SB_FINISH failed: rc=%v err=%v", rc, err)
	}

	rc, reply, err := d.Handle(context.Background(), s, CmdGetStatus, []byte{})
	if err != nil || rc != ErcNoError {
		t.Fatalf("GET_STATUS failed: rc=%v err=%v", rc, err)
	}
	sreg := reply[0]
	if sreg&SregSecureBoot == 0 || sreg&SregBootFinished == 0 || sreg&SregBootOK == 0 {
		t.Fatalf("expected secure boot success bits set, got %08b", sreg)
	}
}

func sbExpectedInput(size uint32) []byte {
	buf := make([]byte, 16)
	// 12 zero bytes || bl_size big-endian, matching secureBootInit.
	buf[12] = byte(size >> 24)
	buf[13] = byte(size >> 16)
	buf[14] = byte(size >> 8)
	buf[15] = byte(size)
	return buf
}

func mustCMAC(t *testing.T, key [KeySize]byte, msg []byte) [KeySize]byte {
	t.Helper()
	tag, err := aesCMAC(key[:], msg)
	if err != nil {
		t.Fatalf("aesCMAC: %v", err)
	}
	var out [KeySize]byte
	copy(out[:], tag)
	return out
}
