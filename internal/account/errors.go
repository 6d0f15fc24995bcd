package account

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("account: not found")
	ErrInvalidInput       = errors.New("account: invalid input")
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	ErrAccountDisabled    = errors.New("account: account disabled")
	ErrInternal           = errors.New("account: internal error")

	// ErrDuplicateIdentifier is the base kind for both uniqueness failures;
	// callers that only care about "taken vs not" match on this one.
	ErrDuplicateIdentifier = errors.New("account: identifier already in use")

	ErrEmailTaken    = fmt.Errorf("%w: email", ErrDuplicateIdentifier)
	ErrUsernameTaken = fmt.Errorf("%w: username", ErrDuplicateIdentifier)
)
