// Package types contains the shared error taxonomy of the CoreData layer.
//
// Errors are categorized by ErrorCode rather than by message text:
// connection errors are recoverable via retry/backoff at the caller's
// discretion, query errors surface unchanged and are never retried
// automatically, cache errors are always absorbed internally, and
// migration errors distinguish backup failures (abort before mutating),
// apply failures (abort, backup retained) and verification mismatches
// (operator intervention required).
package types
