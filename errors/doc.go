// Package errors provides the structured error taxonomy for mcpscout.
// Every failure in the client degrades to "no result" for the caller;
// the error carried alongside says which kind of no-result it was.
//
// # Error Categories
//
// Errors are classified into three categories:
//
//   - Transient: Temporary failures where retry may succeed (timeouts, network issues)
//   - Permanent: Failures where retry will not help (rejected request, invalid input)
//   - Internal: Unexpected errors indicating bugs or system failures
//
// # Error Codes
//
// Each error has a specific code that identifies the type of failure:
//
//   - TIMEOUT: No response arrived before the deadline
//   - NO_SESSION: No session token has been captured from the stream
//   - REJECTED: The side channel refused the request (non-2xx status)
//   - NETWORK_ERR: Network connectivity issue
//   - And more...
//
// # Usage
//
// Create a new error:
//
//	err := errors.Timeout("no response for tools/list")
//
// Wrap an existing error with context:
//
//	wrapped := errors.Wrap(err, "posting request")
//
// Check a code anywhere in the chain:
//
//	if errors.Is(err, errors.ErrCodeTimeout) {
//	    // response may still arrive on the stream later
//	}
package errors
