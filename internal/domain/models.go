package domain

import "time"

type Option struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	VoteCount int64  `json:"voteCount"`
}

type Poll struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Options   []Option  `json:"options"`
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy so callers never share the options slice with the store.
func (p Poll) Clone() Poll {
	out := p
	out.Options = make([]Option, len(p.Options))
	copy(out.Options, p.Options)
	return out
}

// TotalVotes sums the vote counts of every option.
func (p Poll) TotalVotes() int64 {
	var total int64
	for _, o := range p.Options {
		total += o.VoteCount
	}
	return total
}

type CreatePollRequest struct {
	Title   string   `json:"title" binding:"required"`
	Options []string `json:"options" binding:"required,min=1"`
}

type VoteRequest struct {
	OptionID string `json:"optionId" binding:"required"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
