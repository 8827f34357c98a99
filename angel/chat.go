package angel

import (
	"context"
	"fmt"
	"slices"

	openai "github.com/sashabaranov/go-openai"
	"gorm.io/gorm"
)

// chatHistoryRetention is how many messages are kept per user. Older
// messages are pruned when a new exchange is saved.
const chatHistoryRetention = 100

// ChatMessage is one side of an /ask exchange
type ChatMessage struct {
	ModelUintID
	UserID    string `json:"user_id" gorm:"not null;index"`
	Role      string `json:"role" gorm:"not null"`
	Content   string `json:"content" gorm:"type:text"`
	CreatedAt int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
}

// ChatStore persists per-user conversation history
type ChatStore struct {
	db      *gorm.DB
	writeDB DBI
}

func NewChatStore(writeDB DBI) *ChatStore {
	return &ChatStore{db: writeDB.DB(), writeDB: writeDB}
}

// History returns the user's last n messages, oldest first
func (s *ChatStore) History(ctx context.Context, userID string, n int) ([]ChatMessage, error) {
	if n <= 0 {
		return nil, nil
	}
	var messages []ChatMessage
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(n).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("error loading chat history: %w", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

// SaveExchange stores a question and its answer together, so history
// never holds a question without a reply.
func (s *ChatStore) SaveExchange(ctx context.Context, userID, question, answer string) error {
	return s.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			messages := []ChatMessage{
				{UserID: userID, Role: openai.ChatMessageRoleUser, Content: question},
				{UserID: userID, Role: openai.ChatMessageRoleAssistant, Content: answer},
			}
			if err := tx.Create(&messages).Error; err != nil {
				return err
			}
			keep := tx.Model(&ChatMessage{}).
				Select("id").
				Where("user_id = ?", userID).
				Order("id desc").
				Limit(chatHistoryRetention)
			return tx.Where("user_id = ? AND id NOT IN (?)", userID, keep).
				Delete(&ChatMessage{}).Error
		},
	)
}

// Clear removes all of a user's history
func (s *ChatStore) Clear(ctx context.Context, userID string) (int64, error) {
	return s.writeDB.Delete(ctx, &ChatMessage{}, "user_id = ?", userID)
}
