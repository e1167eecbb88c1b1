// Package auth verifies the bearer tokens kiosk clients present when they
// open a session.
//
// HS256 tokens are checked against a shared secret and RS256 tokens against
// a PEM public key. Tokens must carry sub and exp. The verified claims ride
// on the request context so the audit trail can name the user.
package auth
