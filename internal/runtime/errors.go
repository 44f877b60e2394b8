package runtime

import (
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
)

// ErrNoCredential is returned by a CredentialSource that has nothing usable
// to offer; the manager moves on to the next source.
var ErrNoCredential = errors.New("no usable credential")

// AuthenticationError means no valid or renewable credential could be
// obtained. It is fatal at startup.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return "authentication: " + e.Reason
	}
	return fmt.Sprintf("authentication: %s: %v", e.Reason, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RemoteServiceError wraps a failed Gmail or Sheets call.
type RemoteServiceError struct {
	Service string // "gmail" or "sheets"
	Op      string // API method, e.g. "messages.list"
	Code    int    // HTTP status when the API reported one
	Err     error
}

func (e *RemoteServiceError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s %s (HTTP %d): %v", e.Service, e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Service, e.Op, e.Err)
}

func (e *RemoteServiceError) Unwrap() error { return e.Err }

func remoteError(service, op string, err error) error {
	if err == nil {
		return nil
	}
	re := &RemoteServiceError{Service: service, Op: op, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		re.Code = gerr.Code
	}
	return re
}
