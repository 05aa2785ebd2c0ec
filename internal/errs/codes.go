// Package errs defines MerkleKV's stable error-code taxonomy (spec §7),
// paralleling the teacher's plain gin.H{"error": ...} responses but with a
// fixed numeric code attached so clients can branch on it instead of
// string-matching a message.
package errs

// Code is one of the stable error codes from spec §7.
type Code int

const (
	InvalidRequest  Code = 100
	Timeout         Code = 101
	NotFound        Code = 102
	PayloadTooLarge Code = 103
	RangeOverflow   Code = 104
	InvalidType     Code = 105
	IdempotentReplay Code = 110
	InternalError   Code = 199
)

// Error pairs a Code with a human-readable message.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// New constructs an *Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}
