package token

import "errors"

// ErrInvalidToken is the umbrella error for every token failure. All other
// token errors wrap it, so callers that only care about "bad token" can use
// errors.Is(err, ErrInvalidToken).
var ErrInvalidToken = errors.New("invalid token")

var (
	ErrMalformedToken  = &tokenError{msg: "malformed token"}
	ErrSignature       = &tokenError{msg: "token signature mismatch"}
	ErrExpired         = &tokenError{msg: "token expired"}
	ErrWrongKind       = &tokenError{msg: "unexpected token kind"}
	ErrSubjectMismatch = &tokenError{msg: "token subject mismatch"}

	// ErrSigningKey signals misconfiguration and is not a per-request failure.
	ErrSigningKey = errors.New("token signing key is not configured")
)

type tokenError struct {
	msg string
}

func (e *tokenError) Error() string { return e.msg }

func (e *tokenError) Unwrap() error { return ErrInvalidToken }
