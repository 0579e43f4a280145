// Package jwt issues and verifies the access/refresh token pairs handed out
// after a successful passcode verification. Signing is HS256 or Ed25519;
// validation is strict about algorithm, issuer, and token type.
package jwt
