// Package session manages the backend token behind each local login.
//
// A request moves through these states:
//
//	Unauthenticated -> (Login) -> Valid
//	Valid -> verify 401 -> Expired -> Refreshing -> Valid
//	Refreshing -> refresh refused -> Invalid -> forced logout
//
// Verify and refresh fail open: when the backend cannot be reached or
// answers 5xx, the request continues with the token it already has. Only an
// explicit rejection ends the session.
//
// Tokens are written with compare-and-swap against the stale value, and
// concurrent refreshes of the same token share a single backend call.
package session
