package upload

import "errors"

// Error codes for upload session operations
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	// ErrCodeValidation: malformed or out-of-range input, client-correctable.
	ErrCodeValidation
	// ErrCodeNotFound: unknown session.
	ErrCodeNotFound
	// ErrCodeUpload: domain-rule violation (wrong state, incomplete, missing chunks).
	ErrCodeUpload
	// ErrCodeConflict: session id collision.
	ErrCodeConflict
	// ErrCodeInternal: storage failure, wrapped so internal paths never
	// reach the caller.
	ErrCodeInternal
)

// Error represents an upload service error with an error code
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from err, or ErrCodeInternal for
// unrecognized errors.
func CodeOf(err error) ErrorCode {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ErrCodeInternal
}

func validationErr(msg string) *Error {
	return &Error{Code: ErrCodeValidation, Message: msg}
}

func notFoundErr(msg string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: msg}
}

func uploadErr(msg string) *Error {
	return &Error{Code: ErrCodeUpload, Message: msg}
}

func conflictErr(msg string) *Error {
	return &Error{Code: ErrCodeConflict, Message: msg}
}

func internalErr(msg string, err error) *Error {
	return &Error{Code: ErrCodeInternal, Message: msg, Err: err}
}
