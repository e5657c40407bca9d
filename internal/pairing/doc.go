// Package pairing implements the handshake that associates a headless
// device with the account without the device ever seeing a password.
//
// The flow has two unrelated actors coordinating only through the store:
// the device registers a client-generated identity and polls for its
// status, and a human operator, authenticated in a browser, confirms the
// pairing. Confirmation issues a 256-bit bearer token exactly once per
// record; the device picks it up on its next poll and presents it on all
// subsequent requests.
//
// The state machine is pending → active (confirm) and {pending,active} →
// revoked, with revoked terminal. The single correctness-critical operation
// is the confirm transition, which the store executes as one conditional
// update so that concurrent confirms cannot double-issue a token.
package pairing
