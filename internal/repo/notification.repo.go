package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"orderflow/internal/database"
	"orderflow/internal/domain"
)

type NotificationRepo interface {
	// CreateNotification stores n unless a notification with the same dedupe
	// key exists. created reports whether a row was inserted.
	CreateNotification(ctx context.Context, q database.Querier, n *domain.Notification) (created bool, err error)
}

type ChatRepo interface {
	// EnsureChat returns the chat of the order, creating it on first use.
	EnsureChat(ctx context.Context, q database.Querier, chat *domain.Chat) (*domain.Chat, error)
	AddMessage(ctx context.Context, q database.Querier, msg *domain.ChatMessage) (created bool, err error)
}

type notificationRepo struct{}

func NewNotificationRepo() NotificationRepo {
	return &notificationRepo{}
}

func (r *notificationRepo) CreateNotification(ctx context.Context, q database.Querier, n *domain.Notification) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, order_id, read, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.OrderID, n.Read, n.DedupeKey, n.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert notification for user %s: %w", n.UserID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert notification for user %s: %w", n.UserID, err)
	}
	return affected > 0, nil
}

type chatRepo struct{}

func NewChatRepo() ChatRepo {
	return &chatRepo{}
}

func (r *chatRepo) EnsureChat(ctx context.Context, q database.Querier, chat *domain.Chat) (*domain.Chat, error) {
	_, err := q.ExecContext(ctx, `
		INSERT INTO chats (id, order_id, client_id, freelancer_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING`,
		chat.ID, chat.OrderID, chat.ClientID, chat.FreelancerID, chat.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert chat for order %s: %w", chat.OrderID, err)
	}

	var existing domain.Chat
	err = q.QueryRowContext(ctx,
		"SELECT id, order_id, client_id, freelancer_id, created_at FROM chats WHERE order_id = $1", chat.OrderID,
	).Scan(&existing.ID, &existing.OrderID, &existing.ClientID, &existing.FreelancerID, &existing.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select chat for order %s: %w", chat.OrderID, err)
	}
	return &existing, nil
}

func (r *chatRepo) AddMessage(ctx context.Context, q database.Querier, msg *domain.ChatMessage) (bool, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO chat_messages (id, chat_id, sender_id, type, content, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		msg.ID, msg.ChatID, msg.SenderID, msg.Type, msg.Content, msg.DedupeKey, msg.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert chat message for chat %s: %w", msg.ChatID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert chat message for chat %s: %w", msg.ChatID, err)
	}
	return affected > 0, nil
}
