package she

import "context"

var zeroIV = make([]byte, KeySize)

// initRND implements INIT_RND: derives PRNG_SEED_KEY and PRNG_KEY from
// SECRET_KEY, rolls PRNG_SEED forward by one CBC encryption, and seeds
// prng_state from the new seed.
func (d *Dispatcher) initRND(ctx context.Context, s *Session) error {
	if s.rndInited {
		return sheErr(ErcSequenceError, nil)
	}

	secret, _, err := d.store.ReadKey(ctx, s.ClientID, SlotSecretKey)
	if err != nil {
		return sheErr(ErcKeyNotAvailable, err)
	}
	defer zeroize(secret[:])

	seedKey, err := deriveKey(secret[:], PrngSeedKeyC)
	if err != nil {
		return sheErr(ErcGeneralError, err)
	}
	defer zeroize(seedKey[:])

	priorSeed, _, err := d.store.ReadKey(ctx, s.ClientID, SlotPRNGSeed)
	if err != nil {
		return sheErr(ErcKeyNotAvailable, err)
	}

	newSeed, err := aesCBCEncrypt(seedKey[:], zeroIV, priorSeed[:])
	if err != nil {
		return sheErr(ErcGeneralError, err)
	}

	var newSeedArr [KeySize]byte
	copy(newSeedArr[:], newSeed)
	if err := d.store.AddObject(ctx, s.ClientID, SlotPRNGSeed, newSeedArr, ObjectMetadata{}); err != nil {
		// A persist failure here is a key-update failure, not a generic
		// crypto failure: PRNG_SEED is the key object that failed to write.
		return sheErr(ErcKeyUpdateError, err)
	}

	s.prngState = newSeedArr

	prngKey, err := deriveKey(secret[:], PrngKeyC)
	if err != nil {
		return sheErr(ErcGeneralError, err)
	}
	s.prngKey = prngKey
	s.rndInited = true
	return nil
}

// rnd implements RND: advance prng_state by one CBC encryption under
// prng_key and return the new state.
func (d *Dispatcher) rnd(_ context.Context, s *Session) ([KeySize]byte, error) {
	if !s.rndInited {
		return [KeySize]byte{}, sheErr(ErcRngSeed, nil)
	}
	next, err := aesCBCEncrypt(s.prngKey[:], zeroIV, s.prngState[:])
	if err != nil {
		return [KeySize]byte{}, sheErr(ErcGeneralError, err)
	}
	copy(s.prngState[:], next)
	return s.prngState, nil
}

// extendSeed implements EXTEND_SEED: fold caller-supplied entropy into both
// the live prng_state and the persisted PRNG_SEED via AES-MP16.
func (d *Dispatcher) extendSeed(ctx context.Context, s *Session, entropy [KeySize]byte) error {
	if !s.rndInited {
		return sheErr(ErcRngSeed, nil)
	}

	newState, err := deriveKey(s.prngState[:], entropy)
	if err != nil {
		return sheErr(ErcGeneralError, err)
	}
	s.prngState = newState

	seed, _, err := d.store.ReadKey(ctx, s.ClientID, SlotPRNGSeed)
	if err != nil {
		return sheErr(ErcKeyNotAvailable, err)
	}

	newSeed, err := deriveKey(seed[:], entropy)
	if err != nil {
		return sheErr(ErcGeneralError, err)
	}
	if err := d.store.AddObject(ctx, s.ClientID, SlotPRNGSeed, newSeed, ObjectMetadata{}); err != nil {
		return sheErr(ErcKeyUpdateError, err)
	}
	return nil
}
