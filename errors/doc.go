// Package errors provides the error taxonomy shared by the supervisor and its
// participants.
//
// # Codes
//
//   - CONFIG: configuration unreadable or malformed; fatal before any spawn
//   - STORE_CONNECT: store unreachable at startup; fatal
//   - STORE_WRITE: an append failed; fatal only for the startup acknowledgement
//   - CHILD_SPAWN: a child could not be started; fatal only for the store
//   - CHILD_CRASH: a child exited on its own; triggers shutdown only for the store
//   - SHUTDOWN_TIMEOUT: a graceful stop expired and the forceful step was used
//
// Whether a code is fatal depends on where it happens, so callers decide;
// this package only classifies.
//
// # Usage
//
//	err := errors.StoreConnect("connect to mongod", cause)
//	if errors.Is(err, errors.ErrCodeStoreConnect) { ... }
//
//	wrapped := errors.Wrap(err, "stage store")
//	errors.Code(wrapped) // STORE_CONNECT
package errors
