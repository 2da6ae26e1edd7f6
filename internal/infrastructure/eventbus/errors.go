package eventbus

import "errors"

var (
	// ErrBusClosed is returned by Subscribe after Close.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrTooManySubscribers is returned when the subscriber cap is reached.
	ErrTooManySubscribers = errors.New("subscriber limit reached")
)
