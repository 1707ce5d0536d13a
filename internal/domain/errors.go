package domain

import "errors"

var (
	// ErrCancelled means a refresh was aborted by the operator; it is not
	// surfaced as a failure to readers.
	ErrCancelled = errors.New("refresh cancelled")
	// ErrUpstreamUnavailable means both marketplaces returned zero items.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrRateLimited is a transient 429; clients absorb it with retries.
	ErrRateLimited = errors.New("rate limited")
	// ErrAuthFailed is a 401/403 that survived the single credential retry.
	ErrAuthFailed = errors.New("authentication failed")
	// ErrValidation marks a rejected configuration or credential update.
	ErrValidation = errors.New("validation failed")
	// ErrPersist marks an I/O failure writing the credential or key-cache file.
	ErrPersist = errors.New("persist failed")
	// ErrAlreadyRunning means a refresh was requested while one is in flight.
	ErrAlreadyRunning = errors.New("refresh already running")
)
