package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAgentNotFound         = errors.New("agent not found")
	ErrDuplicateItem         = errors.New("content item already exists")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrQuotaExhausted        = errors.New("request quota exhausted")
	ErrUnsupportedPlatform   = errors.New("unsupported platform")
	ErrManuallyEdited        = errors.New("content item was edited by hand")
)

// NetworkError is a fetch failure after the client gave up.
type NetworkError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempts: %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError is a malformed feed body.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ModerationServiceError is an infrastructure failure of an AI classifier,
// as opposed to an unsafe verdict.
type ModerationServiceError struct {
	Stage string
	Err   error
}

func (e *ModerationServiceError) Error() string {
	return fmt.Sprintf("moderation %s: %v", e.Stage, e.Err)
}

func (e *ModerationServiceError) Unwrap() error { return e.Err }

// IsFeedFailure reports whether err aborts a whole agent sync.
func IsFeedFailure(err error) bool {
	var netErr *NetworkError
	var parseErr *ParseError
	return errors.As(err, &netErr) || errors.As(err, &parseErr) || errors.Is(err, ErrQuotaExhausted)
}
