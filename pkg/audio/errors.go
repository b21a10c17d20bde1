// ABOUTME: Coded error type carrying a domain, numeric code and reason
// ABOUTME: Used where callers need the numeric status, e.g. the codec bridge
package audio

import "fmt"

// Error is an error with a numeric code inside a named domain
type Error struct {
	Domain string
	Code   int
	Reason string
}

func (e *Error) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: code %d", e.Domain, e.Code)
	}
	return fmt.Sprintf("%s: %s (code %d)", e.Domain, e.Reason, e.Code)
}

// Is matches another *Error with the same domain and code
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Domain == e.Domain && t.Code == e.Code
}

// NewError builds a coded error
func NewError(domain string, code int, reason string) *Error {
	return &Error{Domain: domain, Code: code, Reason: reason}
}
