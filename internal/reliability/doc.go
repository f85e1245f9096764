// Package reliability provides the retry and restart discipline used by svcbus.
//
//   - Retry policies: FixedDelay (connection attempts) and ExponentialBackoff (restarts)
//   - Retry: runs a function until it succeeds, the policy gives up or the context ends
//   - Supervisor: keeps a long-running function alive, restarting it after fatal
//     errors with bounded exponential backoff and counting the restarts
//
// Errors can opt out of retrying by implementing IsRetryable() bool; Permanent
// wraps an error that way.
package reliability
