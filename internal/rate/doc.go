// Package rate provides the fixed-window Redis counters behind OTP request
// throttling and failed-verification lockout.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on the first hit. A
// refused call has already incremented, and the counter is never decremented
// or reset on refusal: bursting against a closed window cannot extend or
// restart it. Key suffixes under the engine prefix:
//   - :req:  — OTP requests per identity
//   - :ip:   — OTP requests per origin address
//   - :fail: — failed verifications per identity (lockout source)
//
// # What this package must NOT do
//
//   - Decide lifecycle policy (which windows guard which operation lives in
//     the engine).
//   - Be imported outside the mailotp module.
package rate
