package chat

import (
	"context"
	"errors"
	"time"

	"github.com/loomchat/loomchat/internal/ai"
	"gorm.io/gorm"
)

// ErrChatExists reports an idempotent-create collision: the chat id is
// already taken (possibly by a concurrent request).
var ErrChatExists = errors.New("chat already exists")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetChat(ctx context.Context, id string) (*Chat, error) {
	var c Chat
	if err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateChat inserts the chat, treating a duplicate id as ErrChatExists
// rather than overwriting. A race between two creators resolves to one
// winner; the loser sees ErrChatExists.
func (r *Repo) CreateChat(ctx context.Context, c *Chat) error {
	err := r.db.WithContext(ctx).Create(c).Error
	if err == nil {
		return nil
	}
	var existing Chat
	if getErr := r.db.WithContext(ctx).First(&existing, "id = ?", c.ID).Error; getErr == nil {
		return ErrChatExists
	}
	return err
}

// AppendMessages persists the batch atomically, preserving caller order.
// It is the sole mutation point for message history. Ownership is the
// caller's responsibility.
func (r *Repo) AppendMessages(ctx context.Context, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range msgs {
			if err := tx.Create(&msgs[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListMessages returns the chat's messages oldest first.
func (r *Repo) ListMessages(ctx context.Context, chatID string) ([]Message, error) {
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("seq ASC").
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

// CountUserMessagesSince counts user-authored messages across all of the
// user's chats created at or after since. Feeds the entitlement gate.
func (r *Repo) CountUserMessagesSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&Message{}).
		Joins("JOIN chats ON chats.id = chat_messages.chat_id").
		Where("chats.user_id = ? AND chat_messages.role = ? AND chat_messages.created_at >= ?",
			userID, RoleUser, since).
		Count(&n).Error
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteChat removes the chat and cascades to its messages and stream
// records in one transaction.
func (r *Repo) DeleteChat(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", id).Delete(&Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("chat_id = ?", id).Delete(&StreamRecord{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Chat{}, "id = ?", id).Error
	})
}

// SetLastUsage overwrites the chat's usage snapshot. Best-effort from the
// caller's point of view; failures must not fail the turn. The struct-form
// update routes the value through the field's JSON serializer.
func (r *Repo) SetLastUsage(ctx context.Context, chatID string, usage *ai.Usage) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Updates(&Chat{LastContext: usage}).Error
}

func (r *Repo) SetTitle(ctx context.Context, chatID, title string) error {
	return r.db.WithContext(ctx).Model(&Chat{}).
		Where("id = ?", chatID).
		Update("title", title).Error
}

func (r *Repo) CreateStreamRecord(ctx context.Context, streamID, chatID string) error {
	return r.db.WithContext(ctx).Create(&StreamRecord{ID: streamID, ChatID: chatID}).Error
}

// LatestStreamID returns the id of the chat's most recent generation turn.
func (r *Repo) LatestStreamID(ctx context.Context, chatID string) (string, error) {
	var rec StreamRecord
	if err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("created_at DESC").
		First(&rec).Error; err != nil {
		return "", err
	}
	return rec.ID, nil
}
