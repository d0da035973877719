// Package keystore defines the capability the agent needs from a key store
// and the ordered list of stores it searches.
//
// # Stores
//
// A Store owns private keys the agent can never see. It exposes:
//
//   - Identities(ctx): the public halves, in the store's own order
//   - Sign(ctx, identity, data, flags): a signature, or one of
//     ErrUserDenied, ErrHardwareError, ErrTimeout
//   - RequiresAuthentication(identity): whether signing will prompt the user
//
// Hardware stores (secure element, smart card) live outside this module and
// implement Store. FileStore is a software implementation over OpenSSH key
// files, used for development and tests.
//
// # List
//
// List holds stores in priority order. Identity listings are concatenated in
// that order, and a key blob resolves to the first store that lists it.
// Reload asks every store implementing Reloader to re-read its keys and then
// tells subscribers, so collaborators that mirror public keys elsewhere can
// refresh.
package keystore
