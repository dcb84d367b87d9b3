package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/behzadon/livepoll/internal/domain"
)

var errMalformed = errors.New("malformed envelope")

// Envelope is the broker wire format for a relayed event.
type Envelope struct {
	Type      domain.Topic `json:"type"`
	Timestamp string       `json:"timestamp"`
	Sequence  uint64       `json:"sequence"`
	Data      domain.Poll  `json:"data"`
}

func Encode(ev domain.Event) ([]byte, error) {
	data, err := json.Marshal(Envelope{
		Type:      ev.Topic,
		Timestamp: ev.OccurredAt.UTC().Format(time.RFC3339Nano),
		Sequence:  ev.Sequence,
		Data:      ev.Poll,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

func Decode(body []byte) (domain.Event, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.Event{}, fmt.Errorf("%w: %v", errMalformed, err)
	}
	if !env.Type.Valid() {
		return domain.Event{}, fmt.Errorf("%w: %w %q", errMalformed, domain.ErrUnknownTopic, env.Type)
	}

	ev := domain.Event{
		Topic:    env.Type,
		Sequence: env.Sequence,
		Poll:     env.Data,
	}
	if env.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, env.Timestamp)
		if err != nil {
			return domain.Event{}, fmt.Errorf("%w: timestamp: %v", errMalformed, err)
		}
		ev.OccurredAt = ts
	}
	return ev, nil
}
