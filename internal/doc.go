// Package internal holds the shared primitives of the mailotp module:
// passcode generation and hashing. Nothing in here is policy; policy lives
// in the root package.
package internal
