package she

import "testing"

func TestECBRoundTrip(t *testing.T) {
	key := keyOf(0x42)
	k1, k2 := keyOf(0x01), keyOf(0x02)
	data := append(k1[:], k2[:]...)

	enc, err := aesECBEncrypt(key[:], data)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	dec, err := aesECBDecrypt(key[:], enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(dec) != string(data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCBCRoundTrip(t *testing.T) {
	key := keyOf(0x42)
	iv := make([]byte, KeySize)
	k1, k2 := keyOf(0x01), keyOf(0x02)
	data := append(k1[:], k2[:]...)

	enc, err := aesCBCEncrypt(key[:], iv, data)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	dec, err := aesCBCDecrypt(key[:], iv, enc)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(dec) != string(data) {
		t.Fatalf("round trip mismatch")
	}
}

func TestCBCRejectsUnalignedData(t *testing.T) {
	key := keyOf(0x42)
	iv := make([]byte, KeySize)
	if _, err := aesCBCEncrypt(key[:], iv, make([]byte, 17)); err == nil {
		t.Fatalf("expected error for unaligned data")
	}
}

// AES-128 CMAC test vector from NIST SP 800-38B / RFC 4493, example 4
// (128-bit key, 64-byte message).
func TestAesCMACKnownVector(t *testing.T) {
	key := []byte{
		0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6,
		0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c,
	}
	msg := []byte{
		0x6b, 0xc1, 0xbe, 0xe2, 0x2e, 0x40, 0x9f, 0x96,
		0xe9, 0x3d, 0x7e, 0x11, 0x73, 0x93, 0x17, 0x2a,
		0xae, 0x2d, 0x8a, 0x57, 0x1e, 0x03, 0xac, 0x9c,
		0x9e, 0xb7, 0x6f, 0xac, 0x45, 0xaf, 0x8e, 0x51,
		0x30, 0xc8, 0x1c, 0x46, 0xa3, 0x5c, 0xe4, 0x11,
		0xe5, 0xfb, 0xc1, 0x19, 0x1a, 0x0a, 0x52, 0xef,
		0xf6, 0x9f, 0x24, 0x45, 0xdf, 0x4f, 0x9b, 0x17,
		0xad, 0x2b, 0x41, 0x7b, 0xe6, 0x6c, 0x37, 0x10,
	}
	want := []byte{
		0x51, 0xf0, 0xbe, 0xbf, 0x7e, 0x3b, 0x9d, 0x92,
		0xfc, 0x49, 0x74, 0x17, 0x79, 0x36, 0x3c, 0xfe,
	}
	got, err := aesCMAC(key, msg)
	if err != nil {
		t.Fatalf("aesCMAC: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("CMAC mismatch: got %x want %x", got, want)
	}
}

func TestAesCMACEmptyMessageKnownVector(t *testing.T) {
	key := []byte{
		0x2b, 0x7e, 0x15, 0x16, 0x28, 0xae, 0xd2, 0xa6,
		0xab, 0xf7, 0x15, 0x88, 0x09, 0xcf, 0x4f, 0x3c,
	}
	want := []byte{
		0xbb, 0x1d, 0x69, 0x29, 0xe9, 0x59, 0x37, 0x28,
		0x7f, 0xa3, 0x7d, 0x12, 0x9b, 0x75, 0x67, 0x46,
	}
	got, err := aesCMAC(key, nil)
	if err != nil {
		t.Fatalf("aesCMAC: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("CMAC mismatch: got %x want %x", got, want)
	}
}

func TestConstantTimeEqual(t *testing.T) {
	a := []byte{1, 2, 3}
	b := []byte{1, 2, 3}
	c := []byte{1, 2, 4}
	if !constantTimeEqual(a, b) {
		t.Fatalf("expected equal")
	}
	if constantTimeEqual(a, c) {
		t.Fatalf("expected unequal")
	}
	if constantTimeEqual(a, []byte{1, 2}) {
		t.Fatalf("expected unequal for differing lengths")
	}
}
