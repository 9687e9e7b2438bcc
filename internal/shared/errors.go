package shared

import "errors"

// Sentinel errors. Wrap them with fmt.Errorf("%w: ...") and test with [errors.Is];
// cmd maps ErrCancelled to exit status 130.
var ErrNotImplemented = errors.New("not implemented")

// Configuration and credentials.
var (
	ErrMissingConfig      = errors.New("configuration not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrMissingCredentials = errors.New("missing API key")
)

// Emby requests. ErrAPIRequest means the request never got a response;
// ErrServerResponse carries the status of a non-2xx reply.
var (
	ErrAPIRequest         = errors.New("API request failed")
	ErrServerResponse     = errors.New("Error from Server")
	ErrInvalidResponse    = errors.New("Invalid Response from Server")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("request timed out")
)

// Reconciliation.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserNotSynced = errors.New("user does not exist on both servers")
	ErrNoCounterpart = errors.New("media has no counterpart on the other server")
	ErrCancelled     = errors.New("sync cancelled")
	ErrBusy          = errors.New("another operation is running")
)

// Command line input.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingArgument = errors.New("missing required argument")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidFlag     = errors.New("invalid flag value")
)
