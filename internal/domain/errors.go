package domain

import "errors"

// OpError records which store operation failed.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrOptionNotFound = errors.New("option not found")
	ErrPollNotFound   = errors.New("poll not found")

	ErrUnknownTopic       = errors.New("unknown topic")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrSlowSubscriber     = errors.New("subscriber too slow, disconnected")
)
