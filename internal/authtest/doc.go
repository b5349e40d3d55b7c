// Package authtest is an in-memory identity authority for tests and local
// development.
//
// It serves the REST contract the credential client speaks: registration,
// password and wallet login, Google sign-in, emailed codes with expiry and
// resend cooldown, TOTP enrollment with recovery codes, re-verification
// escalations, refresh rotation and revocation. Failed logins are throttled
// per account and answered with 429 and retry_after. Tokens are signed by
// the jwt package and authenticated routes sit behind
// middleware.RequireStrict.
//
// Peek helpers (EmailCode, MFACode, ResetToken, RecoveryCodes) expose what a
// real authority would deliver out of band.
package authtest
