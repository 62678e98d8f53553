package engine

import "errors"

var (
	// ErrStopped is returned for requests submitted to, or still queued
	// in, an engine whose loop has ended.
	ErrStopped = errors.New("engine: stopped")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("engine: already running")
)
