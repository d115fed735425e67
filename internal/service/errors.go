package service

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuth
)

// Error is the only error type the auth service returns. Message is safe to
// show a client; Err keeps the cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

const (
	msgInvalidCredentials = "invalid credentials"
	msgInternal           = "internal server error"
)

func validationError(err error) *Error {
	return &Error{Kind: KindValidation, Message: err.Error(), Err: err}
}

func conflictError(err error) *Error {
	return &Error{Kind: KindConflict, Message: err.Error(), Err: err}
}

func authError() *Error {
	return &Error{Kind: KindAuth, Message: msgInvalidCredentials}
}

func internalError(err error) *Error {
	return &Error{Kind: KindInternal, Message: msgInternal, Err: err}
}
