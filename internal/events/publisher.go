package events

import (
	"fmt"

	"github.com/behzadon/livepoll/internal/domain"
)

// Publisher is what the poll store needs from the hub.
type Publisher interface {
	Publish(event domain.Event) error
}

type OverflowPolicy string

const (
	// DropOldest evicts the oldest undelivered event to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// DropNewest discards the event being published for that subscriber only.
	DropNewest OverflowPolicy = "drop_newest"
	// Disconnect tears the slow subscription down.
	Disconnect OverflowPolicy = "disconnect"
)

func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch p := OverflowPolicy(s); p {
	case DropOldest, DropNewest, Disconnect:
		return p, nil
	case "":
		return DropOldest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

type Options struct {
	// BufferSize bounds each subscription's queue of undelivered events.
	BufferSize int
	Overflow   OverflowPolicy
}

const DefaultBufferSize = 256

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Overflow == "" {
		o.Overflow = DropOldest
	}
	return o
}
