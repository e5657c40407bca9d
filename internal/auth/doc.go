// Package auth provides authentication for pulse-gateway's operator surface.
//
// # Authentication Methods
//
// Two providers implement the Authenticator interface:
//
//   - Browser sessions: operators log in with username/password and get a
//     cookie-backed session (see the websession package).
//
//   - JWT bearer tokens: scripts and the admin CLI authenticate with HS256
//     tokens signed with the configured jwt_secret, issued by the
//     bootstrap command.
//
// Multi chains providers so an endpoint accepts either. Device bearer
// tokens are deliberately not part of this package: a device token
// identifies a paired device, not an operator, and is resolved by the
// pairing service instead.
package auth
