package model

import "errors"

// Sentinel errors shared across packages so callers can branch with
// errors.Is instead of matching message text.
var (
	// ErrBusy rejects a batch submission while another batch is running.
	ErrBusy = errors.New("batch already running, submission rejected")

	// ErrNoWorkers signals that no healthy worker could be made
	// available within the caller's timeout.
	ErrNoWorkers = errors.New("no workers available")

	// ErrPoolClosed signals a request against a pool that has been
	// shut down.
	ErrPoolClosed = errors.New("worker pool is shut down")
)
