package she

import "context"

// truncateToBlock silently drops any trailing bytes below a full AES block.
func truncateToBlock(n int) int {
	return n - (n % KeySize)
}

func (d *Dispatcher) loadSlotKey(ctx context.Context, s *Session, slot SlotNumber) ([KeySize]byte, error) {
	key, _, err := d.store.ReadKey(ctx, s.ClientID, slot)
	if err != nil {
		return [KeySize]byte{}, sheErr(ErcKeyNotAvailable, err)
	}
	return key, nil
}

// encECB implements ENC_ECB. payload = keyId(1) || data.
func (d *Dispatcher) encECB(ctx context.Context, s *Session, payload []byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, sheErr(ErcGeneralError, nil)
	}
	key, err := d.loadSlotKey(ctx, s, SlotNumber(payload[0]))
	if err != nil {
		return nil, err
	}
	defer zeroize(key[:])
	n := truncateToBlock(len(payload) - 1)
	out, err := aesECBEncrypt(key[:], payload[1:1+n])
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	return out, nil
}

// decECB implements DEC_ECB. payload = keyId(1) || data.
func (d *Dispatcher) decECB(ctx context.Context, s *Session, payload []byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, sheErr(ErcGeneralError, nil)
	}
	key, err := d.loadSlotKey(ctx, s, SlotNumber(payload[0]))
	if err != nil {
		return nil, err
	}
	defer zeroize(key[:])
	n := truncateToBlock(len(payload) - 1)
	out, err := aesECBDecrypt(key[:], payload[1:1+n])
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	return out, nil
}

// encCBC implements ENC_CBC. payload = keyId(1) || iv(16) || data.
func (d *Dispatcher) encCBC(ctx context.Context, s *Session, payload []byte) ([]byte, error) {
	if len(payload) < 1+KeySize {
		return nil, sheErr(ErcGeneralError, nil)
	}
	key, err := d.loadSlotKey(ctx, s, SlotNumber(payload[0]))
	if err != nil {
		return nil, err
	}
	defer zeroize(key[:])
	iv := payload[1 : 1+KeySize]
	data := payload[1+KeySize:]
	n := truncateToBlock(len(data))
	out, err := aesCBCEncrypt(key[:], iv, data[:n])
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	return out, nil
}

// decCBC implements DEC_CBC. payload = keyId(1) || iv(16) || data.
func (d *Dispatcher) decCBC(ctx context.Context, s *Session, payload []byte) ([]byte, error) {
	if len(payload) < 1+KeySize {
		return nil, sheErr(ErcGeneralError, nil)
	}
	key, err := d.loadSlotKey(ctx, s, SlotNumber(payload[0]))
	if err != nil {
		return nil, err
	}
	defer zeroize(key[:])
	iv := payload[1 : 1+KeySize]
	data := payload[1+KeySize:]
	n := truncateToBlock(len(data))
	out, err := aesCBCDecrypt(key[:], iv, data[:n])
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	return out, nil
}

// genMAC implements GEN_MAC. payload = keyId(1) || message.
func (d *Dispatcher) genMAC(ctx context.Context, s *Session, payload []byte) ([]byte, error) {
	if len(payload) < 1 {
		return nil, sheErr(ErcGeneralError, nil)
	}
	key, err := d.loadSlotKey(ctx, s, SlotNumber(payload[0]))
	if err != nil {
		return nil, err
	}
	defer zeroize(key[:])
	mac, err := aesCMAC(key[:], payload[1:])
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	return mac, nil
}

// verifyMAC implements VERIFY_MAC. payload = keyId(1) || macLen(1) ||
// messageLen(2, big-endian) || message || mac(macLen). Reply is a single
// status byte: 0 valid, 1 invalid.
func (d *Dispatcher) verifyMAC(ctx context.Context, s *Session, payload []byte) ([]byte, error) {
	if len(payload) < 4 {
		return nil, sheErr(ErcGeneralError, nil)
	}
	keyID := SlotNumber(payload[0])
	macLen := int(payload[1])
	msgLen := int(payload[2])<<8 | int(payload[3])
	if len(payload) < 4+msgLen+macLen {
		return nil, sheErr(ErcGeneralError, nil)
	}
	message := payload[4 : 4+msgLen]
	mac := payload[4+msgLen : 4+msgLen+macLen]

	key, err := d.loadSlotKey(ctx, s, keyID)
	if err != nil {
		return nil, err
	}
	defer zeroize(key[:])

	full, err := aesCMAC(key[:], message)
	if err != nil {
		return nil, sheErr(ErcGeneralError, err)
	}
	status := byte(1)
	if macLen <= len(full) && constantTimeEqual(full[:macLen], mac) {
		status = 0
	}
	return []byte{status}, nil
}
