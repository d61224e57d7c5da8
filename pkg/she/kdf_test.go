package she

import "testing"

func TestAesMP16Deterministic(t *testing.T) {
	k1, k2 := keyOf(0x11), keyOf(0x22)
	in := append(k1[:], k2[:]...)
	h1, err := aesMP16(in)
	if err != nil {
		t.Fatalf("aesMP16: %v", err)
	}
	h2, err := aesMP16(in)
	if err != nil {
		t.Fatalf("aesMP16: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("aesMP16 not deterministic: %x != %x", h1, h2)
	}
}

func TestAesMP16RejectsEmptyInput(t *testing.T) {
	if _, err := aesMP16(nil); err == nil {
		t.Fatalf("expected error for empty input")
	}
}

func TestDeriveKeyVariesByConstant(t *testing.T) {
	base := keyOf(0xAB)
	k1, err := deriveKey(base[:], KeyUpdateEncC)
	if err != nil {
		t.Fatalf("deriveKey enc: %v", err)
	}
	k2, err := deriveKey(base[:], KeyUpdateMacC)
	if err != nil {
		t.Fatalf("deriveKey mac: %v", err)
	}
	if k1 == k2 {
		t.Fatalf("derived keys for distinct constants collided")
	}
}

func TestDeriveKeyVariesByBase(t *testing.T) {
	b1 := keyOf(0x01)
	b2 := keyOf(0x02)
	k1, _ := deriveKey(b1[:], PrngKeyC)
	k2, _ := deriveKey(b2[:], PrngKeyC)
	if k1 == k2 {
		t.Fatalf("derived keys for distinct bases collided")
	}
}
