package chat

import (
	"context"
	"time"
)

// TurnEvent describes an assistant turn that reached a final status. It is
// published for out-of-process consumers such as the archive worker.
type TurnEvent struct {
	MessageID  string    `json:"message_id"`
	TopicID    string    `json:"topic_id,omitempty"`
	ModelID    string    `json:"model_id"`
	Status     Status    `json:"status"`
	UserText   string    `json:"user_text"`
	Text       string    `json:"text"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempts   int       `json:"attempts"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type TurnPublisher interface {
	PublishTurn(ctx context.Context, ev TurnEvent) error
}

// ArchivedTurn is the archive worker's row for one TurnEvent. MessageID is
// unique so a redelivered event is stored once.
type ArchivedTurn struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageID  string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"message_id"`
	TopicID    string    `gorm:"type:varchar(64);index" json:"topic_id,omitempty"`
	ModelID    string    `gorm:"type:varchar(64);not null" json:"model_id"`
	Status     Status    `gorm:"type:varchar(16);index;not null" json:"status"`
	UserText   string    `gorm:"type:text;not null" json:"user_text"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	Reasoning  string    `gorm:"type:text" json:"reasoning,omitempty"`
	Error      *string   `gorm:"type:text" json:"error,omitempty"`
	Attempts   int       `gorm:"not null" json:"attempts"`
	StartedAt  time.Time `gorm:"not null" json:"started_at"`
	FinishedAt time.Time `gorm:"index;not null" json:"finished_at"`
	CreatedAt  time.Time `json:"created_at"`
}

func (ArchivedTurn) TableName() string { return "chat_turn_archive" }

func NewArchivedTurn(ev TurnEvent) *ArchivedTurn {
	a := &ArchivedTurn{
		MessageID:  ev.MessageID,
		TopicID:    ev.TopicID,
		ModelID:    ev.ModelID,
		Status:     ev.Status,
		UserText:   ev.UserText,
		Text:       ev.Text,
		Reasoning:  ev.Reasoning,
		Attempts:   ev.Attempts,
		StartedAt:  ev.StartedAt,
		FinishedAt: ev.FinishedAt,
	}
	if ev.Error != "" {
		a.Error = &ev.Error
	}
	return a
}
