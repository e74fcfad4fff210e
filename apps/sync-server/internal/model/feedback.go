package model

import (
	"sort"
	"time"
)

// Priority is the derived urgency of a feedback message
type Priority string

// Priorities
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether the priority belongs to the closed set
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// FeedbackStatus is the moderation status of a feedback message
type FeedbackStatus string

// Feedback statuses, in forward order
const (
	FeedbackPending      FeedbackStatus = "pending"
	FeedbackAcknowledged FeedbackStatus = "acknowledged"
	FeedbackResolved     FeedbackStatus = "resolved"
)

var statusRank = map[FeedbackStatus]int{
	FeedbackPending:      1,
	FeedbackAcknowledged: 2,
	FeedbackResolved:     3,
}

// Valid reports whether the status belongs to the closed set
func (s FeedbackStatus) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Rank orders statuses pending < acknowledged < resolved
func (s FeedbackStatus) Rank() int {
	return statusRank[s]
}

// CanTransition reports whether moving from s to next is allowed.
// Only single forward steps are allowed, plus pending -> resolved.
func (s FeedbackStatus) CanTransition(next FeedbackStatus) bool {
	switch s {
	case FeedbackPending:
		return next == FeedbackAcknowledged || next == FeedbackResolved
	case FeedbackAcknowledged:
		return next == FeedbackResolved
	}
	return false
}

// FeedbackMessage is a moderator annotation tied to a playback index
type FeedbackMessage struct {
	ID               string         `json:"id"`
	Author           string         `json:"author"`
	Role             Role           `json:"role"`
	Timestamp        time.Time      `json:"timestamp"`
	Message          string         `json:"message"`
	LinkedStateIndex int            `json:"linkedStateIndex"`
	Priority         Priority       `json:"priority"`
	Status           FeedbackStatus `json:"status"`
	Tags             []string       `json:"tags"`
}

// HasTag reports whether the message carries the tag
func (f *FeedbackMessage) HasTag(tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// FeedbackFilter narrows feedback listings
type FeedbackFilter struct {
	Status   FeedbackStatus
	Priority Priority
	Tag      string
	Author   string
	Limit    int
}

// Matches reports whether the message passes the filter
func (f FeedbackFilter) Matches(m *FeedbackMessage) bool {
	if f.Status != "" && m.Status != f.Status {
		return false
	}
	if f.Priority != "" && m.Priority != f.Priority {
		return false
	}
	if f.Author != "" && m.Author != f.Author {
		return false
	}
	if f.Tag != "" && !m.HasTag(f.Tag) {
		return false
	}
	return true
}

// Clone returns a deep copy
func (f *FeedbackMessage) Clone() *FeedbackMessage {
	c := *f
	if f.Tags != nil {
		c.Tags = make([]string, len(f.Tags))
		copy(c.Tags, f.Tags)
	}
	return &c
}

// SortFeedback orders messages by timestamp, then id
func SortFeedback(msgs []*FeedbackMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp.Equal(msgs[j].Timestamp) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
}
