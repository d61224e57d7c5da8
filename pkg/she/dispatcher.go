// Package she implements the SHE (Secure Hardware Extension) command
// dispatcher: session gating, the authenticated LOAD_KEY/EXPORT_RAM_KEY
// key-update protocol, the PRNG lifecycle, the secure-boot measurement FSM,
// and the plain AES/CMAC services.
package she

import (
	"context"
	"log/slog"
)

// gatedCommands may run before secure boot has reached SBSuccess.
var gatedCommands = map[Command]bool{
	CmdSetUID:            true,
	CmdSecureBootInit:    true,
	CmdSecureBootUpdate:  true,
	CmdSecureBootFinish:  true,
	CmdGetStatus:         true,
}

// Dispatcher binds a KeyStore to the SHE command set. It holds no
// per-session state itself — callers supply a *Session per client and may
// share one Dispatcher across many concurrent sessions, since KeyStore
// implementations are responsible for their own internal synchronization.
type Dispatcher struct {
	store KeyStore
	log   *slog.Logger
}

// NewDispatcher returns a Dispatcher backed by store. A nil logger falls
// back to slog.Default().
func NewDispatcher(store KeyStore, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: store, log: log}
}

// Handle runs one SHE command against s and returns the reply's error code
// plus any command-specific reply payload. It never returns a non-nil error
// except for BAD_ARGS (nil session or payload) — every other failure is
// encoded in rc.
func (d *Dispatcher) Handle(ctx context.Context, s *Session, cmd Command, payload []byte) (ErrorCode, []byte, error) {
	if s == nil || payload == nil {
		return 0, nil, ErrBadArgs
	}

	if err := d.gate(s, cmd); err != nil {
		return coerce(err), nil, nil
	}

	reply, err := d.dispatch(ctx, s, cmd, payload)
	rc := coerce(err)

	if isSecureBootCmd(cmd) && err != nil {
		if sheE, ok := err.(*Error); !ok || sheE.Code != ErcNoSecureBoot {
			s.resetSecureBoot()
		}
	}

	return rc, reply, nil
}

func isSecureBootCmd(cmd Command) bool {
	return cmd == CmdSecureBootInit || cmd == CmdSecureBootUpdate || cmd == CmdSecureBootFinish
}

// gate enforces command ordering: before SET_UID, nothing else succeeds;
// before secure boot succeeds, only {SET_UID, SB_*, GET_STATUS} are
// accepted.
func (d *Dispatcher) gate(s *Session, cmd Command) error {
	if !s.uidSet && cmd != CmdSetUID {
		return sheErr(ErcSequenceError, nil)
	}
	if s.sbState != SBSuccess && !gatedCommands[cmd] {
		return sheErr(ErcSequenceError, nil)
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, s *Session, cmd Command, payload []byte) ([]byte, error) {
	switch cmd {
	case CmdSetUID:
		return nil, d.setUID(s, payload)
	case CmdSecureBootInit:
		if len(payload) != 4 {
			return nil, sheErr(ErcGeneralError, nil)
		}
		return nil, d.secureBootInit(ctx, s, beUint32(payload))
	case CmdSecureBootUpdate:
		return nil, d.secureBootUpdate(ctx, s, payload)
	case CmdSecureBootFinish:
		return nil, d.secureBootFinish(ctx, s)
	case CmdGetStatus:
		return []byte{d.getStatus(s)}, nil
	case CmdLoadKey:
		return d.loadKey(ctx, s, payload)
	case CmdLoadPlainKey:
		return nil, d.loadPlainKey(ctx, s, payload)
	case CmdExportRAMKey:
		return d.exportRAMKey(ctx, s, payload)
	case CmdInitRND:
		return nil, d.initRND(ctx, s)
	case CmdRND:
		out, err := d.rnd(ctx, s)
		if err != nil {
			return nil, err
		}
		return out[:], nil
	case CmdExtendSeed:
		if len(payload) != KeySize {
			return nil, sheErr(ErcGeneralError, nil)
		}
		var entropy [KeySize]byte
		copy(entropy[:], payload)
		return nil, d.extendSeed(ctx, s, entropy)
	case CmdEncECB:
		return d.encECB(ctx, s, payload)
	case CmdEncCBC:
		return d.encCBC(ctx, s, payload)
	case CmdDecECB:
		return d.decECB(ctx, s, payload)
	case CmdDecCBC:
		return d.decCBC(ctx, s, payload)
	case CmdGenMAC:
		return d.genMAC(ctx, s, payload)
	case CmdVerifyMAC:
		return d.verifyMAC(ctx, s, payload)
	default:
		return nil, sheErr(ErcGeneralError, nil)
	}
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// setUID implements SET_UID: bind the 15-byte session identity once.
func (d *Dispatcher) setUID(s *Session, payload []byte) error {
	if s.uidSet {
		return sheErr(ErcSequenceError, nil)
	}
	if len(payload) != 15 {
		return sheErr(ErcGeneralError, nil)
	}
	copy(s.uid[:], payload)
	s.uidSet = true
	return nil
}

// getStatus implements GET_STATUS's SREG byte.
func (d *Dispatcher) getStatus(s *Session) byte {
	var sreg byte
	if s.cmacKeyFound {
		sreg |= SregSecureBoot
	}
	if s.sbState == SBSuccess || s.sbState == SBFailure {
		sreg |= SregBootFinished
	}
	if s.sbState == SBSuccess {
		sreg |= SregBootOK
	}
	if s.rndInited {
		sreg |= SregRndInit
	}
	return sreg
}
