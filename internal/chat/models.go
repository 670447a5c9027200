package chat

import (
	"slices"
	"time"
)

type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusError   Status = "error"
)

// Terminal reports whether s is a final state for a message id.
func (s Status) Terminal() bool { return s == StatusSent || s == StatusError }

type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeAudio MessageType = "audio"
)

type Metadata struct {
	ModelID          string   `json:"modelId,omitempty"`
	ReasoningContent string   `json:"reasoning_content,omitempty"`
	ReasonCompleted  bool     `json:"reasonCompleted,omitempty"`
	ImageURLs        []string `json:"imageUrls,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Message is one turn of a conversation.
type Message struct {
	ID        string      `json:"id"`
	Text      string      `json:"text"`
	IsAI      bool        `json:"isAi"`
	Timestamp time.Time   `json:"timestamp"`
	Status    Status      `json:"status"`
	Type      MessageType `json:"type"`
	Metadata  Metadata    `json:"metadata"`
}

func (m Message) clone() Message {
	m.Metadata.ImageURLs = slices.Clone(m.Metadata.ImageURLs)
	return m
}

// Topic is a conversation thread persisted by the backend.
type Topic struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	LastActiveAt time.Time `json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	IsArchived   bool      `json:"is_archived"`
}

// TopicFilter narrows a topic listing. A nil Archived returns every topic.
type TopicFilter struct {
	Archived *bool
}

func (f TopicFilter) Match(t Topic) bool {
	return f.Archived == nil || *f.Archived == t.IsArchived
}

// SortTopics orders topics by last activity, newest first. Ties keep the
// most recently created first, then id order, so the result is stable.
func SortTopics(topics []Topic) {
	slices.SortStableFunc(topics, func(a, b Topic) int {
		if c := b.LastActiveAt.Compare(a.LastActiveAt); c != 0 {
			return c
		}
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

// PartitionTopics splits topics into active and archived groups, each sorted
// for display.
func PartitionTopics(topics []Topic) (active, archived []Topic) {
	for _, t := range topics {
		if t.IsArchived {
			archived = append(archived, t)
		} else {
			active = append(active, t)
		}
	}
	SortTopics(active)
	SortTopics(archived)
	return active, archived
}

type ReasoningEffort string

const (
	EffortLow    ReasoningEffort = "low"
	EffortMedium ReasoningEffort = "medium"
	EffortHigh   ReasoningEffort = "high"
)

func (e ReasoningEffort) Valid() bool {
	switch e {
	case EffortLow, EffortMedium, EffortHigh:
		return true
	}
	return false
}
