package watchbus

import "errors"

var (
	// ErrEventChannelFull is returned when the bus's internal broadcast
	// queue is saturated and an event had to be dropped.
	ErrEventChannelFull = errors.New("watchbus: event channel full")

	// ErrSubscriberClosed is returned by Send on an already-closed subscriber.
	ErrSubscriberClosed = errors.New("watchbus: subscriber closed")
)
