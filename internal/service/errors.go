package service

import "errors"

var (
	// ErrSetupFailed aborts setup for good; nothing is registered.
	ErrSetupFailed = errors.New("setup failed")
	// ErrNotReady means the cloud could not be reached; setup may be retried.
	ErrNotReady = errors.New("setup not ready")
	// ErrUnknownWebhook is returned for a webhook id that is not ours.
	ErrUnknownWebhook = errors.New("unknown webhook id")
	ErrNotLoaded      = errors.New("entry not loaded")
)
