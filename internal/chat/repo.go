package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// persistLimit is how many of the newest messages are written.
	persistLimit = PageSize * 3
	// rehydrateLimit is how many of those are loaded back.
	rehydrateLimit = PageSize * 2
)

type storedMessage struct {
	Seq       uint64                       `gorm:"primaryKey;autoIncrement"`
	MessageID string                       `gorm:"type:varchar(32);uniqueIndex;not null"`
	Text      string                       `gorm:"type:text;not null"`
	IsAI      bool                         `gorm:"not null"`
	Timestamp time.Time                    `gorm:"not null"`
	Status    Status                       `gorm:"type:varchar(16);not null"`
	Type      MessageType                  `gorm:"type:varchar(16);not null"`
	Metadata  datatypes.JSONType[Metadata] `gorm:"not null"`
}

func (storedMessage) TableName() string { return "chat_messages" }

type preferences struct {
	ID              uint            `gorm:"primaryKey"`
	CurrentModel    string          `gorm:"type:varchar(64);not null"`
	ReasoningEffort ReasoningEffort `gorm:"type:varchar(16);not null"`
	UpdatedAt       time.Time
}

func (preferences) TableName() string { return "chat_preferences" }

// Repo persists the store between runs and keeps the turn archive.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&storedMessage{}, &preferences{}, &ArchivedTurn{})
}

// Save replaces the persisted state with snap, keeping only the newest
// messages.
func (r *Repo) Save(ctx context.Context, snap Snapshot) error {
	msgs := snap.Messages
	if len(msgs) > persistLimit {
		msgs = msgs[len(msgs)-persistLimit:]
	}
	rows := make([]storedMessage, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, storedMessage{
			MessageID: m.ID,
			Text:      m.Text,
			IsAI:      m.IsAI,
			Timestamp: m.Timestamp,
			Status:    m.Status,
			Type:      m.Type,
			Metadata:  datatypes.NewJSONType(m.Metadata),
		})
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&storedMessage{}).Error; err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 50).Error; err != nil {
				return err
			}
		}
		prefs := preferences{ID: 1, CurrentModel: snap.CurrentModel, ReasoningEffort: snap.ReasoningEffort}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&prefs).Error
	})
}

// Load reads the persisted state. found is false when nothing was saved yet.
func (r *Repo) Load(ctx context.Context) (snap Snapshot, found bool, err error) {
	var prefs preferences
	err = r.db.WithContext(ctx).First(&prefs, 1).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return Snapshot{}, false, err
	default:
		found = true
		snap.CurrentModel = prefs.CurrentModel
		snap.ReasoningEffort = prefs.ReasoningEffort
	}

	// newest first, then reversed into chronological order
	var rows []storedMessage
	if err := r.db.WithContext(ctx).
		Order("seq DESC").
		Limit(rehydrateLimit).
		Find(&rows).Error; err != nil {
		return Snapshot{}, false, err
	}
	snap.Messages = make([]Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		snap.Messages = append(snap.Messages, Message{
			ID:        row.MessageID,
			Text:      row.Text,
			IsAI:      row.IsAI,
			Timestamp: row.Timestamp,
			Status:    row.Status,
			Type:      row.Type,
			Metadata:  row.Metadata.Data(),
		})
	}
	return snap, found || len(rows) > 0, nil
}

// ArchiveTurn stores t unless a row for the same message exists already. It
// reports whether a new row was written.
func (r *Repo) ArchiveTurn(ctx context.Context, t *ArchivedTurn) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "message_id"}}, DoNothing: true}).
		Create(t)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListArchivedTurns returns archived turns newest first.
func (r *Repo) ListArchivedTurns(ctx context.Context, limit int) ([]ArchivedTurn, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var out []ArchivedTurn
	if err := r.db.WithContext(ctx).
		Order("finished_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
