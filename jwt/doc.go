// Package jwt signs and verifies the tokens of the local development
// authority and lets the client read the expiry of tokens it holds.
//
// The client never trusts a token's claims: [Inspect] skips signature
// verification and is used only to decide when to refresh.
package jwt
