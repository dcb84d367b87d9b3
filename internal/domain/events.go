package domain

import "time"

// Topic names an event category. The values double as routing keys when
// events are relayed to an external broker.
type Topic string

const (
	TopicPollCreated Topic = "poll.created"
	TopicVoteCast    Topic = "poll.voted"
)

var Topics = []Topic{TopicPollCreated, TopicVoteCast}

func (t Topic) Valid() bool {
	switch t {
	case TopicPollCreated, TopicVoteCast:
		return true
	}
	return false
}

func (t Topic) String() string {
	return string(t)
}

// Event is an immutable notification carrying the full post-mutation
// snapshot of the affected poll. Sequence and OccurredAt are stamped by the
// hub at publish time; Sequence is strictly increasing per topic.
type Event struct {
	Topic      Topic     `json:"type"`
	Sequence   uint64    `json:"sequence"`
	OccurredAt time.Time `json:"timestamp"`
	Poll       Poll      `json:"data"`
}

func NewPollCreated(p Poll) Event {
	return Event{Topic: TopicPollCreated, Poll: p.Clone()}
}

func NewVoteCast(p Poll) Event {
	return Event{Topic: TopicVoteCast, Poll: p.Clone()}
}
