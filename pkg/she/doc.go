/*
Package she implements the server side of the SHE (Secure Hardware
Extension) protocol subset of a hardware security module: a command
dispatcher, per-client session state, the authenticated LOAD_KEY /
EXPORT_RAM_KEY key-update protocol, a deterministic AES-based PRNG, and a
secure-boot CMAC measurement state machine.

The package depends only on the abstract KeyStore interface for persistence
and on Go's crypto/aes for AES primitives — it never talks to a concrete
storage backend or transport directly. See internal/nvmstore and
internal/memstore for KeyStore implementations, and internal/shenet for a
reference transport.

Callers construct one Dispatcher per KeyStore and one *Session per client
connection, then call Dispatcher.Handle once per inbound command.
*/
package she
