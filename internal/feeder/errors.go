package feeder

import "errors"

var (
	// ErrBusy is returned by Feed while another job is running.
	ErrBusy = errors.New("feeder: a feeding job is already running")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("feeder: service closed")

	// ErrNoLoader is returned by Reload when the service has no config loader.
	ErrNoLoader = errors.New("feeder: reload not configured")
)
