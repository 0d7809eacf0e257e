// Package errors provides standardized error handling patterns for the mesh.
//
// # Overview
//
// The errors package implements a three-class error classification system:
// Transient (temporary, retryable), Invalid (bad input, non-retryable), and
// Fatal (unrecoverable, stop processing).
//
// Classification lets components make retry decisions without string matching:
// the registry retries lock contention, the connection pool rebuilds failed
// sockets, and the routing engine reports terminal failures.
//
// # Error Taxonomy
//
// The mesh-wide failure taxonomy is expressed as sentinel variables:
//
//   - ErrPortConflict: a registration names a port owned by another specialist
//   - ErrLockTimeout: registry lock contention exceeded the retry budget
//   - ErrConnectionFailed: socket connect/write/read error
//   - ErrTimeout: an explicit deadline expired
//   - ErrInvalidResponse: malformed or error-typed wire payload
//   - ErrNoSpecialistAvailable: routing exhausted every strategy
//
// Low-level I/O and parse errors are caught at the connection pool boundary
// and converted into failure Result values, never propagated as errors past
// that layer. Registry and routing operations return wrapped errors carrying
// component context.
//
// # Error Wrapping Pattern
//
// All error wrapping follows the standardized format:
//
//	"component.method: action failed: %w"
//
// Three wrapper functions provide classification-aware wrapping:
//
//	errors.WrapTransient(err, "Registry", "Register", "acquire lock")
//	errors.WrapInvalid(err, "Registry", "Register", "port conflict")
//	errors.WrapFatal(err, "Registry", "load", "parse registry file")
//
// All error types support errors.Is, errors.As and error wrapping chains.
package errors
