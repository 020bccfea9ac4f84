package domain

import "time"

type NotificationType string

const (
	NotificationPayment NotificationType = "payment"
	NotificationOrder   NotificationType = "order"
	NotificationRefund  NotificationType = "refund"
)

type Notification struct {
	ID        string
	UserID    string
	Type      NotificationType
	Title     string
	Message   string
	OrderID   string
	Read      bool
	DedupeKey string
	CreatedAt time.Time
}

type Chat struct {
	ID           string
	OrderID      string
	ClientID     string
	FreelancerID string
	CreatedAt    time.Time
}

const ChatMessageOrderNotification = "order_notification"

type ChatMessage struct {
	ID        string
	ChatID    string
	SenderID  string
	Type      string
	Content   string
	DedupeKey string
	CreatedAt time.Time
}
