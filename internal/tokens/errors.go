package tokens

import "errors"

var (
	// ErrInvalidToken is returned when a token does not resolve to a live
	// record for the requested purpose.
	ErrInvalidToken = errors.New("token is invalid")

	// ErrTokenAlreadyUsed is returned when a token was already consumed.
	ErrTokenAlreadyUsed = errors.New("token already used")
)
