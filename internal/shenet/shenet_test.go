package shenet

import (
	"bytes"
	"testing"

	"github.com/barnettlynn/she-hsm/pkg/she"
)

func TestRequestReplyFraming(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte{0x01, 0x02, 0x03}
	if err := writeReply(&buf, she.ErcBusy, payload); err != nil {
		t.Fatalf("writeReply: %v", err)
	}

	header := buf.Bytes()[:3]
	if she.ErrorCode(header[0]) != she.ErcBusy {
		t.Fatalf("expected rc BUSY in header, got %d", header[0])
	}

	cmd, decoded, err := readRequest(bytes.NewReader(append([]byte{byte(she.CmdGetStatus), 0, 3}, payload...)))
	if err != nil {
		t.Fatalf("readRequest: %v", err)
	}
	if cmd != she.CmdGetStatus {
		t.Fatalf("expected CmdGetStatus, got %v", cmd)
	}
	if !bytes.Equal(decoded, payload) {
		t.Fatalf("payload mismatch: got %x want %x", decoded, payload)
	}
}

func TestReadRequestZeroLengthPayload(t *testing.T) {
	cmd, payload, err := readRequest(bytes.NewReader([]byte{byte(she.CmdRND), 0, 0}))
	if err != nil {
		t.Fatalf("readRequest: %v", err)
	}
	if cmd != she.CmdRND || len(payload) != 0 {
		t.Fatalf("unexpected decode: cmd=%v payload=%v", cmd, payload)
	}
}
