// Package mailotp provides a passwordless authentication engine built around
// one-time email passcodes: code issuance, at-most-once verification, layered
// Redis-backed rate limiting with automatic lockout, JWT issuance on success,
// and asynchronous audit/delivery dispatch.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from any number of goroutines once initialized through
// [Builder.Build]. The Engine itself holds no cross-request mutable state;
// every counter, lock window, and live passcode lives in Redis, whose atomic
// primitives (INCR, WATCH/MULTI/EXEC) carry the correctness guarantees.
//
// # Architecture boundaries
//
// mailotp is the public surface. It exposes [Engine], [Builder], [Config],
// the collaborator interfaces ([UserStore], [TokenIssuer], [Notifier],
// [AuditSink]), and value types. Fixed-window rate limiting lives under
// internal/ and is never exported.
//
// # What this package must NOT do
//
//   - Own an HTTP transport. Hosts mount the Engine behind their own
//     handlers; examples/http-demo shows one wiring.
//   - Block RequestOTP or VerifyOTP on email delivery or audit persistence.
//     Both are dispatched fire-and-forget and retried inside their
//     dispatchers.
//   - Fail open. If Redis is unreachable the current request is refused
//     with [ErrStoreUnavailable]; a limit is never bypassed because the
//     counter backing it could not be read.
package mailotp
