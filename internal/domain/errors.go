package domain

import "errors"

var (
	ErrUsernameTooLong = errors.New("username too long")
	ErrUsernameEmpty   = errors.New("username empty")
	ErrInvalidUser     = errors.New("invalid user id")

	ErrCircleNotFound  = errors.New("circle not found")
	ErrCircleNameEmpty = errors.New("circle name empty")
	ErrNotMember       = errors.New("not a circle member")
	ErrAlreadyMember   = errors.New("already a circle member")
	ErrForbidden       = errors.New("forbidden")

	ErrNotJoined     = errors.New("session has not joined a circle")
	ErrEmptyMessage  = errors.New("message content cannot be empty")
	ErrMessageTooBig = errors.New("message content too long")
	ErrRateLimited   = errors.New("rate limit exceeded")
)
